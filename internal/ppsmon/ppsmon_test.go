package ppsmon

import (
	"math"
	"testing"
	"time"
)

func TestSummarize(t *testing.T) {
	// 1 Hz pulse with a little jitter.
	stamps := []time.Duration{
		0,
		time.Second + 20*time.Microsecond,
		2*time.Second - 10*time.Microsecond,
		3 * time.Second,
	}
	r, err := summarize(stamps)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if r.Edges != 4 {
		t.Fatalf("Edges = %d", r.Edges)
	}
	if r.Mean != time.Second {
		t.Fatalf("Mean = %v, want 1s", r.Mean)
	}
	if r.Min >= r.Max {
		t.Fatalf("Min %v, Max %v", r.Min, r.Max)
	}
	if math.Abs(r.Freq-1.0) > 1e-6 {
		t.Fatalf("Freq = %g, want ~1", r.Freq)
	}
}

func TestSummarizeRejects(t *testing.T) {
	if _, err := summarize([]time.Duration{time.Second}); err == nil {
		t.Errorf("single edge accepted")
	}
	if _, err := summarize([]time.Duration{2 * time.Second, time.Second}); err == nil {
		t.Errorf("non-monotonic timestamps accepted")
	}
	if _, err := summarize([]time.Duration{time.Second, time.Second}); err == nil {
		t.Errorf("duplicate timestamps accepted")
	}
}

func TestConfigValidate(t *testing.T) {
	good := Config{Chip: "gpiochip0", Line: 4, Edges: 5}
	if err := good.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cases := []Config{
		{Line: 4, Edges: 5},
		{Chip: "gpiochip0", Line: -1, Edges: 5},
		{Chip: "gpiochip0", Line: 4, Edges: 1},
	}
	for i, c := range cases {
		if err := c.validate(); err == nil {
			t.Errorf("case %d: bad config accepted", i)
		}
	}
}
