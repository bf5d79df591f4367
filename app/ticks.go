package app

import (
	"github.com/samber/do"

	"nanokern/hal"
	"nanokern/kernel/task"
)

// tickFeed turns the HAL's millisecond ticks into timer interrupts at the
// kernel's timer frequency.
type tickFeed struct {
	k    *task.Kernel
	stop chan struct{}
	done chan struct{}
}

func newTickFeed(i *do.Injector) (*tickFeed, error) {
	h := do.MustInvoke[hal.HAL](i)
	k := do.MustInvoke[*task.Kernel](i)
	f := &tickFeed{k: k, stop: make(chan struct{}), done: make(chan struct{})}

	var ch <-chan uint64
	if t := h.Time(); t != nil {
		ch = t.Ticks()
	}
	if ch == nil {
		close(f.done)
		return f, nil
	}
	perTick := uint64(1000 / k.Config().TimerFrequency)
	if perTick == 0 {
		perTick = 1
	}
	go f.run(ch, perTick)
	return f, nil
}

func (f *tickFeed) run(ch <-chan uint64, perTick uint64) {
	defer close(f.done)
	var ms uint64
	for {
		select {
		case <-f.stop:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			ms++
			if ms%perTick == 0 {
				f.k.Timer().Tick()
			}
		}
	}
}

// Shutdown stops the feed.
func (f *tickFeed) Shutdown() error {
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	<-f.done
	return nil
}
