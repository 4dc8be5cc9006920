package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
)

func validOptions() ConnectOptions {
	return ConnectOptions{
		Addr:           "127.0.0.1:1",
		DialTimeout:    50 * time.Millisecond,
		ConnectTimeout: 300 * time.Millisecond,
		RetryInterval:  20 * time.Millisecond,
		MaxWait:        50 * time.Millisecond,
		PingTimeout:    50 * time.Millisecond,
		WarnThreshold:  1,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*ConnectOptions)
		wantErrs int
	}{
		{"valid", func(*ConnectOptions) {}, 0},
		{"zero connect timeout", func(o *ConnectOptions) { o.ConnectTimeout = 0 }, 1},
		{"zero retry interval", func(o *ConnectOptions) { o.RetryInterval = 0 }, 1},
		{"zero max wait", func(o *ConnectOptions) { o.MaxWait = 0 }, 1},
		{"zero ping timeout", func(o *ConnectOptions) { o.PingTimeout = 0 }, 1},
		{"negative warn threshold", func(o *ConnectOptions) { o.WarnThreshold = -1 }, 1},
		{"missing addr", func(o *ConnectOptions) { o.Addr = "" }, 1},
		{"everything at once", func(o *ConnectOptions) { *o = ConnectOptions{WarnThreshold: -1} }, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.mutate(&opts)
			if got := len(multierr.Errors(opts.validate())); got != tt.wantErrs {
				t.Errorf("validate() reported %d errors, want %d", got, tt.wantErrs)
			}
		})
	}
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := backoff{next: time.Second, max: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := b.wait(); got != w {
			t.Errorf("wait #%d = %v, want %v", i, got, w)
		}
	}
}

type flakyPinger struct {
	failures int32
	calls    atomic.Int32
}

func (p *flakyPinger) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "ping")
	if p.calls.Add(1) <= p.failures {
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	cmd.SetVal("PONG")
	return cmd
}

func TestWaitReadyRetries(t *testing.T) {
	p := &flakyPinger{failures: 2}
	opts := validOptions()
	opts.Clock = clock.New()

	if err := waitReady(context.Background(), p, opts, logger.NewNop()); err != nil {
		t.Fatalf("waitReady() = %v", err)
	}
	if got := p.calls.Load(); got != 3 {
		t.Errorf("ping calls = %d, want 3", got)
	}
}

func TestNewGivesUpAfterTimeout(t *testing.T) {
	start := time.Now()
	client, err := New(context.Background(), validOptions(), logger.NewNop())
	if err == nil {
		t.Fatal("New() expected an error for an unreachable address")
	}
	if client != nil {
		t.Error("New() returned a client alongside an error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("New() took %v, want it bounded by ConnectTimeout", elapsed)
	}
}

func TestNewStopsOnCancel(t *testing.T) {
	opts := validOptions()
	opts.ConnectTimeout = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := New(ctx, opts, logger.NewNop()); err == nil {
		t.Fatal("New() expected an error after cancellation")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("New() took %v after cancellation", elapsed)
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	opts := validOptions()
	opts.PingTimeout = 0
	if _, err := New(context.Background(), opts, logger.NewNop()); err == nil {
		t.Fatal("New() accepted invalid options")
	}
}
