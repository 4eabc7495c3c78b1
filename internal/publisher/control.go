package publisher

import (
	"context"
	"fmt"
	"time"

	"postbot/internal/task/timer"
	logx "postbot/pkg/logx"
)

// Result reports counts back to the control surface.
type Result struct {
	Loaded  int
	Planned int
	Removed int
}

// Start begins polling the timer wheel until ctx is done.
func (s *Service) Start(ctx context.Context, pollEvery time.Duration) {
	if err := s.store.EnsureDirs(); err != nil {
		s.log.Warn("cannot create folders", logx.Err(err))
	}
	s.wheel.Start(ctx, pollEvery)
}

// Reload tears the plan down, reloads the queue from disk and plans it again.
func (s *Service) Reload(_ context.Context) Result {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.teardown()
	s.mu.Lock()
	s.queue.Clear()
	s.mu.Unlock()
	s.loadAndPromote()
	planned := s.rebuild()
	return Result{Loaded: s.queueLen(), Planned: planned}
}

// Stop tears the plan down and empties the queue. Files stay where they are.
func (s *Service) Stop(_ context.Context) Result {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return Result{Removed: s.stopLocked()}
}

// Clear is Stop under the name the operator keyboard uses.
func (s *Service) Clear(ctx context.Context) Result { return s.Stop(ctx) }

func (s *Service) stopLocked() int {
	s.teardown()
	s.mu.Lock()
	n := s.queue.Len()
	s.queue.Clear()
	s.state = StateIdle
	s.mu.Unlock()
	s.log.Info("publisher stopped", logx.Int("dropped", n))
	return n
}

// Pause cancels every timer but keeps the queue.
func (s *Service) Pause(_ context.Context) Result {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.teardown()
	s.mu.Lock()
	s.state = StatePaused
	n := s.queue.Len()
	s.mu.Unlock()
	s.log.Info("publisher paused", logx.Int("queued", n))
	return Result{Loaded: n}
}

// Resume plans the queue again, loading from disk first if it is empty.
func (s *Service) Resume(_ context.Context) Result {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.resumeLocked()
}

func (s *Service) resumeLocked() Result {
	if s.queueLen() == 0 {
		s.loadAndPromote()
	}
	planned := s.rebuild()
	return Result{Loaded: s.queueLen(), Planned: planned}
}

// ResumeIfIdle resumes only when nothing is planned or paused and the queue
// is empty. The incoming-folder watcher uses it.
func (s *Service) ResumeIfIdle(_ context.Context) (Result, bool) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	idle := s.state == StateIdle && s.queue.Len() == 0
	s.mu.Unlock()
	if !idle {
		return Result{}, false
	}
	return s.resumeLocked(), true
}

// FullPurge tears down, empties the queue and deletes every file in the
// incoming and queue folders. The archive is kept.
func (s *Service) FullPurge(_ context.Context) Result {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stopLocked()
	removed := s.store.Purge()
	s.log.Warn("full purge", logx.Int("files_removed", removed))
	return Result{Removed: removed}
}

// SetFrequency changes publications per day and replans from disk. The whole
// sequence runs under one critical section.
func (s *Service) SetFrequency(_ context.Context, n int) (Result, error) {
	if n < 1 {
		s.log.Warn("frequency rejected", logx.Kind(KindConfiguration), logx.Int("frequency", n))
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidFrequency, n)
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.teardown()
	s.mu.Lock()
	prev := s.frequency
	s.frequency = n
	s.queue.Clear()
	s.mu.Unlock()

	s.loadAndPromote()
	planned := s.rebuild()
	s.log.Info("frequency changed", logx.Int("from", prev), logx.Int("to", n), logx.Int("planned", planned))
	return Result{Loaded: s.queueLen(), Planned: planned}, nil
}

// TestRun describes an armed ad-hoc delivery.
type TestRun struct {
	ID   string
	Pair Pair
	At   time.Time
}

// RunTest arms one extra timer for the first queued pair, independent of the plan.
func (s *Service) RunTest(_ context.Context, delay time.Duration) (TestRun, error) {
	if delay < 0 {
		delay = 0
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	p, ok := s.queue.First()
	epoch := s.epoch
	s.taskSeq++
	id := fmt.Sprintf("test-%d-%d", epoch, s.taskSeq)
	s.mu.Unlock()
	if !ok {
		return TestRun{}, ErrQueueEmpty
	}

	at := s.clock().Add(delay).UTC()
	s.arm(descriptor{TaskID: id, Pair: p, Index: 0, FireAt: at, Epoch: epoch, Test: true}, tagTest)
	s.log.Info("test publication armed", logx.String("stem", describePair(p)), logx.Duration("delay", delay))
	return TestRun{ID: id, Pair: p, At: at}, nil
}

// Stats is a point-in-time view for the control surface and /health.
type Stats struct {
	State     State       `json:"state"`
	Frequency int         `json:"frequency"`
	Queued    int         `json:"queued"`
	Planned   int         `json:"planned"`
	Pending   int         `json:"pending_timers"`
	Delivered uint64      `json:"delivered"`
	Failed    uint64      `json:"failed"`
	LastSent  time.Time   `json:"last_sent,omitempty"`
	LastError string      `json:"last_error,omitempty"`
	Epoch     uint64      `json:"epoch"`
	Next      *time.Time  `json:"next,omitempty"`
	Incoming  FolderStats `json:"incoming"`
	Waiting   FolderStats `json:"waiting"`
	Archived  FolderStats `json:"archived"`
	Timer     timer.Stats `json:"timer"`
}

// Stats refreshes the queue, then reports counters and folder sizes.
func (s *Service) Stats() Stats {
	s.Refresh()

	dirs := s.store.Dirs()
	st := Stats{
		Incoming: s.store.folderStats(dirs.Incoming),
		Waiting:  s.store.folderStats(dirs.Queue),
		Archived: s.store.folderStats(dirs.Archive),
		Timer:    s.wheel.Stats(),
	}

	s.mu.Lock()
	st.State = s.state
	st.Frequency = s.frequency
	st.Queued = s.queue.Len()
	for _, t := range s.tasks {
		if !t.Delivered {
			st.Planned++
		}
	}
	st.Delivered = s.delivered
	st.Failed = s.failed
	st.LastSent = s.lastSent
	st.LastError = s.lastError
	st.Epoch = s.epoch
	s.mu.Unlock()

	st.Pending = st.Timer.Pending
	if up := s.Upcoming(1); len(up) > 0 {
		next := up[0].RunAt
		st.Next = &next
	}
	return st
}

func (s *Service) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}
