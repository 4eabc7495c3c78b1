package timer

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "postbot/pkg/logx"
)

// DefaultPollInterval is used when Start receives a non-positive interval.
const DefaultPollInterval = 30 * time.Second

// Timer is a pending one-shot timer.
type Timer struct {
	ID  string
	Tag string
	At  time.Time
}

// FireFunc runs when a timer becomes due. It must not block for long;
// publisher callbacks hand off to the task engine.
type FireFunc func(t Timer)

type entry struct {
	Timer
	fire FireFunc
}

type Wheel struct {
	mu     sync.Mutex
	timers map[string]*entry
	seq    uint64

	clock func() time.Time
	log   logx.Logger

	c     *cron.Cron
	polls atomic.Uint64
	fired atomic.Uint64
	last  atomic.Int64
}

type Option func(*Wheel)

// WithClock overrides time.Now, mainly for tests.
func WithClock(fn func() time.Time) Option {
	return func(w *Wheel) {
		if fn != nil {
			w.clock = fn
		}
	}
}

func New(log logx.Logger, opts ...Option) *Wheel {
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &Wheel{
		timers: map[string]*entry{},
		clock:  time.Now,
		log:    log.With(logx.String("comp", "timer")),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Schedule registers fn to run at or after at. An empty id gets a generated one.
// Scheduling an existing id replaces the previous timer.
func (w *Wheel) Schedule(id, tag string, at time.Time, fn FireFunc) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id == "" {
		w.seq++
		id = fmt.Sprintf("tmr-%d", w.seq)
	}
	w.timers[id] = &entry{Timer: Timer{ID: id, Tag: tag, At: at}, fire: fn}
	return id
}

// Cancel removes the timer. It reports whether the timer was still pending.
func (w *Wheel) Cancel(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.timers[id]; !ok {
		return false
	}
	delete(w.timers, id)
	return true
}

// CancelTag removes every pending timer carrying tag and returns how many were removed.
func (w *Wheel) CancelTag(tag string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for id, e := range w.timers {
		if e.Tag == tag {
			delete(w.timers, id)
			n++
		}
	}
	return n
}

// Pending returns the pending timers ordered by due time.
func (w *Wheel) Pending() []Timer {
	w.mu.Lock()
	out := make([]Timer, 0, len(w.timers))
	for _, e := range w.timers {
		out = append(out, e.Timer)
	}
	w.mu.Unlock()
	sortTimers(out)
	return out
}

func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}

// Poll fires every timer due at now, earliest first, and returns how many fired.
// Concurrent Poll calls never fire the same timer twice.
func (w *Wheel) Poll(now time.Time) int {
	w.polls.Add(1)
	w.last.Store(now.UnixNano())

	w.mu.Lock()
	var due []*entry
	for id, e := range w.timers {
		if !e.At.After(now) {
			due = append(due, e)
			delete(w.timers, id)
		}
	}
	w.mu.Unlock()

	slices.SortStableFunc(due, func(a, b *entry) int {
		if c := a.At.Compare(b.At); c != 0 {
			return c
		}
		return compareString(a.ID, b.ID)
	})
	for _, e := range due {
		w.log.Debug("timer due", logx.String("id", e.ID), logx.String("tag", e.Tag), logx.Time("at", e.At))
		if e.fire != nil {
			e.fire(e.Timer)
		}
	}
	w.fired.Add(uint64(len(due)))
	return len(due)
}

// Tick polls with the wheel clock. The keep-alive endpoint calls it.
func (w *Wheel) Tick() int { return w.Poll(w.clock()) }

// Start runs Tick on a cron interval until ctx is done or Stop is called.
// Intervals below one second are rounded up by cron.
func (w *Wheel) Start(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = DefaultPollInterval
	}
	w.mu.Lock()
	if w.c != nil {
		w.mu.Unlock()
		return
	}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(cron.Every(every), cron.FuncJob(func() { w.Tick() }))
	w.c = c
	w.mu.Unlock()

	c.Start()
	w.log.Info("timer poll started", logx.Duration("every", every))

	if ctx != nil {
		go func() {
			<-ctx.Done()
			w.Stop(context.Background())
		}()
	}
}

// Stop halts the poll loop. Pending timers stay registered.
func (w *Wheel) Stop(ctx context.Context) {
	w.mu.Lock()
	c := w.c
	w.c = nil
	w.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	w.log.Info("timer poll stopped")
}

// Stats is a diagnostics view.
type Stats struct {
	Pending  int       `json:"pending"`
	Polls    uint64    `json:"polls"`
	Fired    uint64    `json:"fired"`
	LastPoll time.Time `json:"last_poll"`
}

func (w *Wheel) Stats() Stats {
	st := Stats{Pending: w.Len(), Polls: w.polls.Load(), Fired: w.fired.Load()}
	if n := w.last.Load(); n != 0 {
		st.LastPoll = time.Unix(0, n).UTC()
	}
	return st
}

func sortTimers(ts []Timer) {
	slices.SortStableFunc(ts, func(a, b Timer) int {
		if c := a.At.Compare(b.At); c != 0 {
			return c
		}
		return compareString(a.ID, b.ID)
	})
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
