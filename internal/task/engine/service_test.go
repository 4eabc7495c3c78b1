package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "postbot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{})
	var ran atomic.Bool
	if err := s.Enqueue(Task{Name: "hello", Run: func(ctx context.Context) error { ran.Store(true); return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, ran.Load)
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	tests := []struct {
		name string
		task Task
	}{
		{name: "nil run", task: Task{Name: "x"}},
		{name: "blank name", task: Task{Name: "  ", Run: func(context.Context) error { return nil }}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Enqueue(tt.task); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if err := s.Enqueue(Task{Name: "ok", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue before Start = %v, want ErrStopped", err)
	}
}

func TestNoRetryStopsAttempts(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Retries: 3, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond})
	var calls atomic.Int32
	_ = s.Enqueue(Task{Name: "permanent", Run: func(context.Context) error {
		calls.Add(1)
		return NoRetry(errors.New("gone"))
	}})
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if h := s.Snapshot().History[0]; h.Error != "gone" {
		t.Fatalf("history error = %q", h.Error)
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Retries: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond})
	var calls atomic.Int32
	_ = s.Enqueue(Task{Name: "flaky", Run: func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}})
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	h := s.Snapshot().History[0]
	if h.Error != "" || h.Attempts != 3 {
		t.Fatalf("history = %+v", h)
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{})
	_ = s.Enqueue(Task{Name: "panics", Run: func(context.Context) error { panic("oops") }})
	waitFor(t, func() bool { return s.Snapshot().Failed == 1 })
}

func TestBackoffDelayBounded(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: time.Second, RetryMaxDelay: 4 * time.Second}.withDefaults()
	cfg.RetryJitter = 0
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 4 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(cfg, tt.retry, nil); got != tt.want {
			t.Fatalf("backoffDelay(%d) = %s, want %s", tt.retry, got, tt.want)
		}
	}
	if got := backoffDelayWithHint(cfg, 1, RetryAfter(errors.New("flood"), time.Minute), nil); got != 4*time.Second {
		t.Fatalf("retry-after hint not capped: %s", got)
	}
}
