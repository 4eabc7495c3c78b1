package publisher

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"postbot/internal/storage"
	"postbot/internal/task/engine"
	"postbot/internal/transport"
	logx "postbot/pkg/logx"
)

// enqueue hands a fired descriptor to the delivery lane. It never blocks the poll loop.
// When the lane is full the timer is armed again and retried on the next poll.
func (s *Service) enqueue(d descriptor, tag string) {
	err := s.engine.Enqueue(engine.Task{
		ID:      d.TaskID,
		Name:    "publisher.dispatch",
		Timeout: s.cfg.DeliveryTimeout,
		Run:     func(ctx context.Context) error { return s.dispatch(ctx, d) },
	})
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrQueueFull) && !s.stale(d) {
		s.log.Debug("delivery lane full, timer re-armed", logx.String("task", d.TaskID))
		s.arm(d, tag)
		return
	}
	s.log.Warn("dispatch not enqueued", logx.Kind(KindDeliveryFailure), logx.String("task", d.TaskID), logx.String("stem", describePair(d.Pair)), logx.Err(err))
}

func (s *Service) stale(d descriptor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return d.Epoch != s.epoch
}

// dispatch delivers one pair. On success the task is marked delivered and the
// pair completes its lifecycle. On failure queue and tasks stay as they are.
// The send runs without opMu; only the completion is serialized with control
// operations.
func (s *Service) dispatch(ctx context.Context, d descriptor) error {
	if s.stale(d) {
		s.log.Debug("stale dispatch dropped", logx.String("task", d.TaskID), logx.Uint64("epoch", d.Epoch))
		return nil
	}

	start := time.Now()
	log := s.log.With(logx.String("task", d.TaskID), logx.String("stem", describePair(d.Pair)), logx.Int("index", d.Index))

	if err := s.deliver(ctx, d); err != nil {
		kind := KindDeliveryFailure
		if errors.Is(err, ErrFileMissing) {
			kind = KindFileMissing
		}
		log.Warn("delivery skipped", logx.Kind(kind), logx.Err(err))

		s.mu.Lock()
		s.failed++
		s.lastError = err.Error()
		s.mu.Unlock()

		s.audit(storage.AuditEntry{Action: storage.ActionFailed, Target: describePair(d.Pair), Fail: 1, Error: err.Error(), TookMS: time.Since(start).Milliseconds()})
		s.publish("publisher.failed", map[string]any{"task": d.TaskID, "stem": describePair(d.Pair), "kind": kind, "error": err.Error()})
		if kind == KindFileMissing {
			return engine.NoRetry(err)
		}
		return err
	}

	// The photo is out, so the pair completes even if the plan changed meanwhile.
	s.opMu.Lock()
	s.completeDelivery(d)
	s.opMu.Unlock()
	log.Info("publication sent", logx.Bool("test", d.Test), logx.Duration("took", time.Since(start)))
	s.audit(storage.AuditEntry{Action: storage.ActionDelivered, ChatID: s.cfg.Target.ChatID, Target: describePair(d.Pair), OK: 1, TookMS: time.Since(start).Milliseconds()})
	s.publish("publisher.sent", map[string]any{"task": d.TaskID, "stem": describePair(d.Pair), "test": d.Test})
	return nil
}

func (s *Service) deliver(ctx context.Context, d descriptor) error {
	if s.sender == nil {
		return errors.New("no sender configured")
	}
	caption, err := s.store.Caption(d.Pair)
	if err != nil {
		return err
	}
	img, err := s.store.OpenImage(d.Pair)
	if err != nil {
		return err
	}
	defer img.Close()

	_, err = s.sender.SendPhoto(ctx, s.cfg.Target, transport.Photo{
		Name:    filepath.Base(d.Pair.Image),
		Reader:  img,
		Caption: caption,
	}, &transport.SendOptions{Silent: true, ParseMode: s.cfg.CaptionParseMode})
	return err
}

// completeDelivery marks tasks for the pair delivered, disarms any other
// timer still aimed at it, then archives or deletes the files and drops the
// pair from the queue.
func (s *Service) completeDelivery(d descriptor) {
	var disarm []string
	s.mu.Lock()
	for i := range s.tasks {
		if s.tasks[i].Pair != d.Pair {
			continue
		}
		s.tasks[i].Delivered = true
		if s.tasks[i].ID != d.TaskID {
			disarm = append(disarm, s.tasks[i].ID)
		}
	}
	s.delivered++
	s.lastSent = s.clock()
	s.mu.Unlock()

	for _, id := range disarm {
		s.wheel.Cancel(id)
	}
	s.CompleteDelivery(d.Pair)
}

// CompleteDelivery archives or deletes the pair's files according to the
// completion policy and removes the pair from the queue. A pair that is not
// queued leaves the queue unchanged. A plan whose queue drains goes back to
// idle so new incoming pairs can be picked up.
func (s *Service) CompleteDelivery(p Pair) bool {
	s.store.Complete(p, s.cfg.Completion)
	s.mu.Lock()
	removed := s.queue.Remove(p)
	drained := s.idleIfDrainedLocked()
	s.mu.Unlock()
	if drained {
		s.log.Info("queue drained, publisher idle")
		s.publish("publisher.drained", nil)
	}
	return removed
}

// idleIfDrainedLocked moves a planned publisher with an empty queue to idle.
// Callers hold mu.
func (s *Service) idleIfDrainedLocked() bool {
	if s.state != StatePlanned || s.queue.Len() > 0 {
		return false
	}
	s.state = StateIdle
	return true
}

func (s *Service) audit(e storage.AuditEntry) {
	if s.journal == nil {
		return
	}
	e.At = s.clock()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.journal.AppendAudit(ctx, e); err != nil {
		s.log.Debug("journal append failed", logx.Err(err))
	}
}
