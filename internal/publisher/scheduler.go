package publisher

import (
	"fmt"
	"slices"
	"time"

	"postbot/internal/task/timer"
	logx "postbot/pkg/logx"
)

// ScheduledTask is one planned delivery. Pair is a snapshot taken at
// planning time; Index is the queue position it was planned from.
type ScheduledTask struct {
	ID        string    `json:"id"`
	RunAt     time.Time `json:"run_at"`
	Window    string    `json:"window"`
	Index     int       `json:"index"`
	Pair      Pair      `json:"pair"`
	Delivered bool      `json:"delivered"`
}

// descriptor is what a timer hands to dispatch.
type descriptor struct {
	TaskID string
	Pair   Pair
	Index  int
	FireAt time.Time
	Epoch  uint64
	Test   bool
}

// loadAndPromote replaces the queue with the pairs found on disk.
// Callers hold opMu.
func (s *Service) loadAndPromote() LoadReport {
	pairs, rep := s.store.Load(nil)
	pairs = s.shuffle(pairs)

	s.mu.Lock()
	s.queue.Replace(pairs)
	n := s.queue.Len()
	s.mu.Unlock()

	s.log.Info("materials loaded",
		logx.String("source", rep.Source),
		logx.Int("queued", n),
		logx.Int("promoted", rep.Promoted),
		logx.Int("failed", rep.Failed),
	)
	return rep
}

// refresh drops queued pairs whose files are gone. It never touches the disk.
func (s *Service) refresh() int {
	s.mu.Lock()
	items := s.queue.Items()
	s.mu.Unlock()

	gone := make(map[Pair]bool)
	for _, p := range items {
		if !s.store.Exists(p) {
			gone[p] = true
			s.log.Warn("stale pair dropped", logx.Kind(KindFileMissing), logx.String("image", p.Image), logx.String("caption", p.Caption))
		}
	}
	if len(gone) == 0 {
		return 0
	}

	s.mu.Lock()
	removed := s.queue.Retain(func(p Pair) bool { return !gone[p] })
	left := s.queue.Len()
	s.idleIfDrainedLocked()
	s.mu.Unlock()
	s.log.Info("queue refreshed", logx.Int("removed", removed), logx.Int("left", left))
	return removed
}

// Refresh drops queued pairs whose files vanished and returns how many were dropped.
func (s *Service) Refresh() int {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.refresh()
}

// teardown cancels every plan and test timer and starts a new epoch.
// Once it returns no timer of the old epoch can deliver.
func (s *Service) teardown() {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.tasks = nil
	if s.state == StatePlanned {
		s.state = StateIdle
	}
	s.mu.Unlock()

	plan := s.wheel.CancelTag(tagPlan)
	test := s.wheel.CancelTag(tagTest)
	s.log.Debug("teardown", logx.Uint64("epoch", epoch), logx.Int("plan_timers", plan), logx.Int("test_timers", test))
	s.publish("publisher.torn_down", map[string]any{"epoch": epoch, "timers": plan + test})
}

// rebuild plans one task per queued pair, in queue order, on freshly generated slots.
func (s *Service) rebuild() int {
	s.teardown()

	now := s.now()
	s.mu.Lock()
	pairs := s.queue.Items()
	freq := s.frequency
	s.mu.Unlock()
	if len(pairs) == 0 {
		s.log.Info("nothing to plan")
		return 0
	}

	slots := s.slots(len(pairs), freq, now)

	s.mu.Lock()
	epoch := s.epoch
	tasks := make([]ScheduledTask, 0, len(pairs))
	descs := make([]descriptor, 0, len(pairs))
	for i, p := range pairs {
		s.taskSeq++
		id := fmt.Sprintf("post-%d-%d", epoch, s.taskSeq)
		at := slots[i].At.UTC()
		tasks = append(tasks, ScheduledTask{ID: id, RunAt: at, Window: slots[i].Window, Index: i, Pair: p})
		descs = append(descs, descriptor{TaskID: id, Pair: p, Index: i, FireAt: at, Epoch: epoch})
	}
	slices.SortStableFunc(tasks, func(a, b ScheduledTask) int { return a.RunAt.Compare(b.RunAt) })
	s.tasks = tasks
	s.state = StatePlanned
	s.mu.Unlock()

	for _, d := range descs {
		s.arm(d, tagPlan)
	}
	for _, t := range tasks {
		s.log.Debug("publication planned",
			logx.Int("index", t.Index),
			logx.String("stem", describePair(t.Pair)),
			logx.String("at", t.RunAt.In(s.cfg.Location).Format("2006-01-02 15:04")),
			logx.String("window", t.Window),
		)
	}
	s.log.Info("publications planned", logx.Int("count", len(tasks)), logx.Int("frequency", freq), logx.Uint64("epoch", epoch))
	s.publish("publisher.planned", map[string]any{"count": len(tasks), "frequency": freq, "epoch": epoch})
	return len(tasks)
}

// arm registers a one-shot timer that hands d to the delivery lane.
func (s *Service) arm(d descriptor, tag string) {
	s.wheel.Schedule(d.TaskID, tag, d.FireAt, func(tm timer.Timer) { s.enqueue(d, tm.Tag) })
}

// Upcoming returns planned tasks still in the future, ascending, capped at limit
// (limit <= 0 means all). Equal timestamps keep planning order.
func (s *Service) Upcoming(limit int) []ScheduledTask {
	now := s.now()
	s.mu.Lock()
	tasks := append([]ScheduledTask(nil), s.tasks...)
	s.mu.Unlock()

	slices.SortStableFunc(tasks, func(a, b ScheduledTask) int { return a.RunAt.Compare(b.RunAt) })
	out := tasks[:0]
	for _, t := range tasks {
		if !t.RunAt.After(now) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Tasks returns every task of the current epoch, ascending by run time.
func (s *Service) Tasks() []ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ScheduledTask(nil), s.tasks...)
}
