//go:build !linux

package ppsmon

import (
	"context"

	"github.com/pkg/errors"
)

// Monitor watches the configured line until Edges rising edges arrived and
// returns interval statistics over their kernel timestamps.
func Monitor(ctx context.Context, cfg Config) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}
	return Result{}, errors.New("ppsmon: time-pulse monitoring requires linux")
}
