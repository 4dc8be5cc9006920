package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// job runs fn every interval until stopped. A receive on trigger runs it out of band.
type job struct {
	clock    clock.Clock
	interval time.Duration
	trigger  <-chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func newJob(clk clock.Clock, interval time.Duration, trigger <-chan struct{}) *job {
	if clk == nil {
		clk = clock.New()
	}
	return &job{
		clock:    clk,
		interval: interval,
		trigger:  trigger,
		stopCh:   make(chan struct{}),
	}
}

// start launches the loop. A non-positive interval keeps only the manual trigger.
func (j *job) start(ctx context.Context, fn func(context.Context)) {
	var tick <-chan time.Time
	var ticker *clock.Ticker
	if j.interval > 0 {
		ticker = j.clock.Ticker(j.interval)
		tick = ticker.C
	}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		if ticker != nil {
			defer ticker.Stop()
		}
		for {
			select {
			case <-tick:
				fn(ctx)
			case <-j.trigger:
				fn(ctx)
			case <-j.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// stop ends the loop and waits for a running fn to return. Idempotent.
func (j *job) stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}
