package publisher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "postbot/pkg/logx"
)

// Watcher observes the incoming folder and calls trigger, debounced, after
// image or caption files appear there.
type Watcher struct {
	dir      string
	debounce time.Duration
	trigger  func(ctx context.Context)
	log      logx.Logger
}

func NewWatcher(dir string, debounce time.Duration, trigger func(ctx context.Context), log logx.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{dir: dir, debounce: debounce, trigger: trigger, log: log.With(logx.String("comp", "publisher.watch"))}
}

// Run blocks until ctx is done. It returns an error when the watcher breaks so
// a supervisor can restart it.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}
	w.log.Info("watching incoming folder", logx.String("dir", w.dir))

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			if ctx.Err() == nil && w.trigger != nil {
				w.trigger(ctx)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher events closed")
			}
			if relevantEvent(ev) {
				w.log.Debug("incoming change", logx.String("name", filepath.Base(ev.Name)), logx.String("op", ev.Op.String()))
				schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher errors closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.log.Warn("incoming watch overflow", logx.Err(err))
				schedule()
				continue
			}
			w.log.Warn("incoming watch error", logx.Err(err))
		}
	}
}

func relevantEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(ev.Name)
	return isImage(name) || isCaption(name)
}

// WatchIncoming runs a Watcher on the incoming folder that resumes planning
// when the publisher sits idle with an empty queue.
func (s *Service) WatchIncoming(ctx context.Context, debounce time.Duration) error {
	w := NewWatcher(s.store.Dirs().Incoming, debounce, func(ctx context.Context) {
		if res, ok := s.ResumeIfIdle(ctx); ok {
			s.log.Info("new materials picked up", logx.Int("queued", res.Loaded), logx.Int("planned", res.Planned))
		}
	}, s.log)
	return w.Run(ctx)
}
