package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goeverbridge/logger"
)

// TickFunc is one iteration of a polling loop. done stops the loop, an error
// is logged and the loop polls again.
type TickFunc func(ctx context.Context) (done bool, err error)

// Updater runs one polling loop with a single outstanding timer. Iterations
// never overlap, the next one is scheduled only after the previous returned.
type Updater struct {
	name     string
	interval time.Duration
	lggr     logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wake    chan struct{}
	running sync.WaitGroup
}

func NewUpdater(name string, interval time.Duration, lggr logger.Logger) *Updater {
	return &Updater{
		name:     name,
		interval: interval,
		lggr:     lggr.With("loop", name),
	}
}

// Start runs tick immediately and then every interval until it reports done,
// Stop is called or ctx is cancelled. It is a no-op while the loop is running,
// including a stopped loop still finishing its last iteration.
func (u *Updater) Start(ctx context.Context, tick TickFunc) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil || ctx.Err() != nil {
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	wake := make(chan struct{}, 1)
	u.cancel = cancel
	u.wake = wake
	u.running.Add(1)

	go func() {
		defer u.running.Done()
		defer u.finish()
		defer cancel()

		for {
			if u.runTick(loopCtx, tick) {
				u.lggr.Debugw("Loop finished")
				return
			}
			timer := time.NewTimer(u.interval)
			select {
			case <-loopCtx.Done():
				timer.Stop()
				return
			case <-wake:
				timer.Stop()
			case <-timer.C:
			}
		}
	}()
	return true
}

func (u *Updater) runTick(ctx context.Context, tick TickFunc) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			u.lggr.Errorw("Loop iteration panicked", "err", fmt.Errorf("panic: %v", r))
			done = false
		}
	}()
	if ctx.Err() != nil {
		return true
	}
	done, err := tick(ctx)
	if err != nil {
		if ctx.Err() == nil {
			u.lggr.Warnw("Loop iteration failed", "err", err)
		}
		return false
	}
	return done
}

func (u *Updater) finish() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cancel = nil
	u.wake = nil
}

// Poke runs the next iteration now instead of waiting for the timer.
func (u *Updater) Poke() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.wake == nil {
		return
	}
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

// Stop cancels the loop. Safe to call when stopped, never blocks.
func (u *Updater) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		u.cancel()
	}
}

func (u *Updater) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cancel != nil
}

// Wait blocks until every loop started by u has returned.
func (u *Updater) Wait() {
	u.running.Wait()
}
