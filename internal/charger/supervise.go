package charger

import (
	"context"
	"time"

	"github.com/sweeney/li-charger/internal/hal"
)

// Supervise keeps a controller running on h until ctx is done. After a
// fatal error it calls reset to return the board to its power-on state,
// reports the error to fault, waits delay and starts a new controller from
// cleared flags. The HAL is built once by the caller and reused.
func Supervise(ctx context.Context, h hal.HAL, cfg Config, reset func(), fault func(error), delay time.Duration) error {
	for {
		c, err := New(h, cfg)
		if err != nil {
			return err
		}
		c.Start()
		err = c.Run(ctx)

		if reset != nil {
			reset()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fault != nil {
			fault(err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
