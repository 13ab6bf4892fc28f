package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gpsfreak/internal/rational"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	ref, err := cfg.ReferenceFreq()
	if err != nil {
		t.Fatalf("ReferenceFreq() error: %v", err)
	}
	if !ref.Equal(rational.FromInt(8_844_582)) {
		t.Fatalf("reference=%s want 8844582 Hz", ref.FormatHz())
	}
	p, err := cfg.RefDivParams()
	if err != nil {
		t.Fatalf("RefDivParams() error: %v", err)
	}
	if !p.Base.Equal(rational.FromInt(48_000_000)) {
		t.Fatalf("base=%s want 48 MHz", p.Base.FormatHz())
	}
	if len(p.Avoid) != 2 {
		t.Fatalf("avoid=%v want the XO and the BAW", p.Avoid)
	}
	tenth, _ := rational.New(1, 10)
	if !p.Margin.Equal(tenth) {
		t.Fatalf("margin=%s want 1/10", p.Margin)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "device:\n  path: /dev/ttyACM1\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Device.Path != "/dev/ttyACM1" {
		t.Fatalf("device.path=%q", cfg.Device.Path)
	}
	if cfg.Device.Baud != 115200 {
		t.Fatalf("baud=%d want 115200", cfg.Device.Baud)
	}
	if cfg.Reference != "8844582Hz" {
		t.Fatalf("reference=%q", cfg.Reference)
	}
	if cfg.PPS.Edges != 5 || cfg.PPS.Timeout != 30*time.Second {
		t.Fatalf("pps defaults not applied: %+v", cfg.PPS)
	}
}

func TestLoad_Overrides(t *testing.T) {
	body := `device:
  path: /dev/serial0
  baud: 230400
reference: 10MHz
refdiv:
  base_clock: 52MHz
  band_low: 1Hz
  band_high: 1Hz
  avoid: ["26MHz"]
  margin: 1/8
pps:
  chip: gpiochip4
  line: 7
  edges: 10
  timeout: 5s
`
	cfg, err := Load(writeTempConfig(t, body))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	ref, err := cfg.ReferenceFreq()
	if err != nil || !ref.Equal(rational.FromInt(10_000_000)) {
		t.Fatalf("reference=%s, %v", ref.FormatHz(), err)
	}
	p, err := cfg.RefDivParams()
	if err != nil {
		t.Fatalf("RefDivParams() error: %v", err)
	}
	if !p.Base.Equal(rational.FromInt(52_000_000)) || len(p.Avoid) != 1 {
		t.Fatalf("refdiv not overridden: %+v", p)
	}
	if cfg.PPS.Chip != "gpiochip4" || cfg.PPS.Line != 7 || cfg.PPS.Edges != 10 || cfg.PPS.Timeout != 5*time.Second {
		t.Fatalf("pps not overridden: %+v", cfg.PPS)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty device path", "device:\n  path: \"\"\n"},
		{"bad reference", "reference: ten million\n"},
		{"negative reference", "reference: -10MHz\n"},
		{"bad avoid clock", "refdiv:\n  avoid: [\"zebra\"]\n"},
		{"bad margin", "refdiv:\n  margin: soon\n"},
		{"not yaml", ": : :\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeTempConfig(t, tc.body)); err == nil {
				t.Fatalf("Load() accepted %q", tc.body)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("Load() of a missing file succeeded")
	}
}
