//go:build linux

package ppsmon

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// Monitor watches the configured line until Edges rising edges arrived and
// returns interval statistics over their kernel timestamps.
func Monitor(ctx context.Context, cfg Config) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	edges := make(chan time.Duration, cfg.Edges)
	handler := func(ev gpiocdev.LineEvent) {
		select {
		case edges <- ev.Timestamp:
		default: // collector finished, drop the event
		}
	}
	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line,
		gpiocdev.AsInput,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(handler),
		gpiocdev.WithConsumer("gpsfreak-pps"))
	if err != nil {
		return Result{}, errors.Wrap(err, "ppsmon: request line")
	}
	defer line.Close()

	stamps := make([]time.Duration, 0, cfg.Edges)
	for len(stamps) < cfg.Edges {
		select {
		case ts := <-edges:
			stamps = append(stamps, ts)
		case <-ctx.Done():
			return Result{}, errors.Wrapf(ctx.Err(), "ppsmon: %d of %d edges seen", len(stamps), cfg.Edges)
		}
	}
	return summarize(stamps)
}
