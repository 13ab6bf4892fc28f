// Package ppsmon measures the GPS receiver's time-pulse output using kernel
// edge timestamps from the GPIO character device.
//
// It answers the bring-up question "is the time pulse there, and at the rate
// the planner chose" without an oscilloscope. The kernel timestamps are good
// to microseconds; this is a sanity check, not a frequency counter.
package ppsmon

import (
	"time"

	"github.com/pkg/errors"
)

// Config selects the GPIO line carrying the time pulse and how long to watch.
type Config struct {
	// Chip is the gpiochip name or path, e.g. "gpiochip0".
	Chip string
	// Line is the line offset on the chip.
	Line int
	// Edges is how many rising edges to collect; intervals between them are
	// averaged. Minimum 2.
	Edges int
	// Timeout bounds the whole measurement.
	Timeout time.Duration
}

func (c Config) validate() error {
	if c.Chip == "" {
		return errors.New("ppsmon: gpio chip not set")
	}
	if c.Line < 0 {
		return errors.New("ppsmon: bad gpio line")
	}
	if c.Edges < 2 {
		return errors.New("ppsmon: need at least 2 edges")
	}
	return nil
}

// Result summarizes the observed edge train.
type Result struct {
	Edges    int
	Elapsed  time.Duration
	Mean     time.Duration
	Min, Max time.Duration
	// Freq is the mean pulse rate in Hz. Display only.
	Freq float64
}

// summarize reduces monotonic edge timestamps to interval statistics.
func summarize(stamps []time.Duration) (Result, error) {
	if len(stamps) < 2 {
		return Result{}, errors.New("ppsmon: not enough edges")
	}
	r := Result{Edges: len(stamps), Elapsed: stamps[len(stamps)-1] - stamps[0]}
	if r.Elapsed <= 0 {
		return Result{}, errors.New("ppsmon: non-monotonic edge timestamps")
	}
	for i := 1; i < len(stamps); i++ {
		iv := stamps[i] - stamps[i-1]
		if iv <= 0 {
			return Result{}, errors.New("ppsmon: non-monotonic edge timestamps")
		}
		if r.Min == 0 || iv < r.Min {
			r.Min = iv
		}
		if iv > r.Max {
			r.Max = iv
		}
	}
	r.Mean = r.Elapsed / time.Duration(len(stamps)-1)
	r.Freq = float64(len(stamps)-1) / r.Elapsed.Seconds()
	return r, nil
}
