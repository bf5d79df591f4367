//go:build !tinygo

package hal

import (
	"context"
	"fmt"
	"os"
	"time"
)

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	Enabled    bool
	Hz         int
	Ticks      uint64
	StepBudget int
}

// RunHeadless runs the OS without opening a window. newApp builds the system
// on the HAL and returns its per-frame step and a shutdown function.
func RunHeadless(ctx context.Context, newApp func(HAL) (func() error, func(), error), cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}
	if cfg.StepBudget <= 0 {
		cfg.StepBudget = 1
	}

	h := newHost(os.Stdout)
	step, stop, err := newApp(h)
	if err != nil {
		return err
	}
	defer func() {
		h.t.close()
		if stop != nil {
			stop()
		}
	}()

	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}
	t := time.NewTicker(d)
	defer t.Stop()

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			h.t.step(uint64(cfg.StepBudget))
			if step != nil {
				if err := step(); err != nil {
					return err
				}
			}
			tick++
			if cfg.Ticks > 0 && tick >= cfg.Ticks {
				return nil
			}
		}
	}
}
