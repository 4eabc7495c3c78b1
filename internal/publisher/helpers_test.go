package publisher

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"postbot/internal/task/engine"
	"postbot/internal/task/timer"
	"postbot/internal/transport"
	logx "postbot/pkg/logx"
)

var testDirs = Dirs{Incoming: "/data/materials", Queue: "/data/wait", Archive: "/data/arch"}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type sentPhoto struct {
	To      transport.ChatTarget
	Name    string
	Caption string
	Body    string
	Silent  bool
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentPhoto
	err  error

	// entered, when set, is signalled as a send starts; release, when set,
	// holds every send until it is closed.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeSender) SendPhoto(ctx context.Context, to transport.ChatTarget, p transport.Photo, opt *transport.SendOptions) (transport.MessageRef, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return transport.MessageRef{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return transport.MessageRef{}, f.err
	}
	body, err := io.ReadAll(p.Reader)
	if err != nil {
		return transport.MessageRef{}, err
	}
	f.sent = append(f.sent, sentPhoto{To: to, Name: p.Name, Caption: p.Caption, Body: string(body), Silent: opt != nil && opt.Silent})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) Sent() []sentPhoto {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentPhoto(nil), f.sent...)
}

var errNetwork = errors.New("network down")

func writePair(t *testing.T, fs afero.Fs, dir, stem, ext, caption string) Pair {
	t.Helper()
	p := Pair{Image: filepath.Join(dir, stem+ext), Caption: filepath.Join(dir, stem+".txt")}
	if err := afero.WriteFile(fs, p.Image, []byte("img:"+stem), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, p.Caption, []byte(caption), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func fileExists(t *testing.T, fs afero.Fs, path string) bool {
	t.Helper()
	ok, err := afero.Exists(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

type fixture struct {
	fs     afero.Fs
	clock  *fakeClock
	sender *fakeSender
	wheel  *timer.Wheel
	engine *engine.Service
	store  *Store
	svc    *Service
}

func newFixture(t *testing.T, freq int, now time.Time) *fixture {
	t.Helper()
	return newFixtureWithEngine(t, freq, now, engine.Config{Workers: 1})
}

func newFixtureWithEngine(t *testing.T, freq int, now time.Time, ecfg engine.Config) *fixture {
	t.Helper()
	f := &fixture{
		fs:     afero.NewMemMapFs(),
		clock:  newFakeClock(now),
		sender: &fakeSender{},
	}
	f.wheel = timer.New(logx.Nop(), timer.WithClock(f.clock.Now))
	f.engine = engine.New(ecfg, logx.Nop(), nil)
	f.engine.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		f.engine.Stop(ctx)
	})
	f.store = NewStore(f.fs, testDirs, logx.Nop())
	if err := f.store.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	f.svc = New(Config{
		Dirs:       testDirs,
		Completion: CompletionArchive,
		Frequency:  freq,
		Location:   now.Location(),
		Target:     transport.ChatTarget{ChatID: -100123},
	}, Deps{
		Store:  f.store,
		Wheel:  f.wheel,
		Engine: f.engine,
		Sender: f.sender,
	}, WithClock(f.clock.Now), WithRand(rand.New(rand.NewSource(42))))
	return f
}

// fireAll advances the clock past every pending timer and waits until the
// delivery lane has executed want more tasks.
func (f *fixture) fireAll(t *testing.T, want uint64) {
	t.Helper()
	before := f.engine.Snapshot().Executed
	var last time.Time
	for _, tm := range f.wheel.Pending() {
		if tm.At.After(last) {
			last = tm.At
		}
	}
	if !last.IsZero() {
		f.clock.Set(last.Add(time.Minute))
	}
	f.svc.Tick()
	f.waitExecuted(t, before, want)
}

// waitExecuted waits until the delivery lane has executed want tasks since before.
func (f *fixture) waitExecuted(t *testing.T, before, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.engine.Snapshot().Executed-before >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("delivery lane executed %d tasks, want %d", f.engine.Snapshot().Executed-before, want)
}
