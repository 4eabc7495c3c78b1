package publisher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"postbot/internal/task/engine"
)

var jan1 = time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)

func TestReloadPlansIntoDayWindows(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	writePair(t, f.fs, testDirs.Incoming, "photo1", ".jpg", "first")
	writePair(t, f.fs, testDirs.Incoming, "photo2", ".png", "second")

	res := f.svc.Reload(context.Background())
	if res.Loaded != 2 || res.Planned != 2 {
		t.Fatalf("Reload = %+v, want 2 loaded and 2 planned", res)
	}
	tasks := f.svc.Tasks()
	if len(tasks) != 2 || f.wheel.Len() != 2 {
		t.Fatalf("tasks=%d timers=%d, want 2 and 2", len(tasks), f.wheel.Len())
	}
	morning, evening := tasks[0].RunAt, tasks[1].RunAt
	if y, m, d := morning.Date(); y != 2024 || m != time.January || d != 1 {
		t.Fatalf("morning slot on %s", morning)
	}
	if y, m, d := evening.Date(); y != 2024 || m != time.January || d != 1 {
		t.Fatalf("evening slot on %s", evening)
	}
	if h := morning.Hour(); h < 8 || h >= 11 || tasks[0].Window != "morning" {
		t.Fatalf("first slot %s (%s) outside [08:00,11:00)", morning, tasks[0].Window)
	}
	if h := evening.Hour(); h < 18 || h >= 21 || tasks[1].Window != "evening" {
		t.Fatalf("second slot %s (%s) outside [18:00,21:00)", evening, tasks[1].Window)
	}
	if f.svc.State() != StatePlanned {
		t.Fatalf("state = %s, want planned", f.svc.State())
	}
	for _, p := range f.svc.QueueItems(0) {
		if filepath.Dir(p.Image) != testDirs.Queue {
			t.Fatalf("queued pair not in queue folder: %+v", p)
		}
	}
}

func TestPauseTearsDownAndResumeReplans(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3, jan1)
	for _, stem := range []string{"a", "b", "c", "d"} {
		writePair(t, f.fs, testDirs.Queue, stem, ".jpg", stem)
	}
	f.svc.Reload(context.Background())
	if f.wheel.Len() != 4 {
		t.Fatalf("timers = %d, want 4", f.wheel.Len())
	}

	f.svc.Pause(context.Background())
	if f.wheel.Len() != 0 {
		t.Fatalf("timers after pause = %d, want 0", f.wheel.Len())
	}
	if f.svc.State() != StatePaused || len(f.svc.QueueItems(0)) != 4 {
		t.Fatalf("pause changed queue or state: %s %d", f.svc.State(), len(f.svc.QueueItems(0)))
	}

	res := f.svc.Resume(context.Background())
	if res.Planned != 4 || f.wheel.Len() != 4 {
		t.Fatalf("Resume = %+v timers=%d", res, f.wheel.Len())
	}
}

func TestStopClearsQueueButKeepsFiles(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	p := writePair(t, f.fs, testDirs.Queue, "keep", ".jpg", "k")
	f.svc.Reload(context.Background())

	res := f.svc.Stop(context.Background())
	if res.Removed != 1 || f.wheel.Len() != 0 || len(f.svc.QueueItems(0)) != 0 {
		t.Fatalf("Stop = %+v timers=%d", res, f.wheel.Len())
	}
	if !f.store.Exists(p) {
		t.Fatal("Stop must not touch files")
	}
	if f.svc.State() != StateIdle {
		t.Fatalf("state = %s", f.svc.State())
	}
}

func TestResumeLoadsWhenQueueEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1, jan1)
	writePair(t, f.fs, testDirs.Incoming, "late", ".gif", "l")

	res := f.svc.Resume(context.Background())
	if res.Loaded != 1 || res.Planned != 1 {
		t.Fatalf("Resume = %+v", res)
	}
}

func TestSetFrequencyReloadsFromDisk(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	writePair(t, f.fs, testDirs.Queue, "one", ".jpg", "1")
	f.svc.Reload(context.Background())
	if got := len(f.svc.QueueItems(0)); got != 1 {
		t.Fatalf("queue = %d, want 1", got)
	}

	writePair(t, f.fs, testDirs.Queue, "two", ".jpg", "2")
	writePair(t, f.fs, testDirs.Queue, "three", ".png", "3")

	res, err := f.svc.SetFrequency(context.Background(), 4)
	if err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	if res.Loaded != 3 || res.Planned != 3 || f.wheel.Len() != 3 {
		t.Fatalf("SetFrequency = %+v timers=%d, want 3 planned from disk", res, f.wheel.Len())
	}
	if f.svc.Frequency() != 4 {
		t.Fatalf("frequency = %d", f.svc.Frequency())
	}
	windows := WindowsFor(4)
	for _, task := range f.svc.Tasks() {
		local := task.RunAt.In(time.UTC)
		ok := false
		for _, w := range windows {
			if w.Contains(local) && w.Label == task.Window {
				ok = true
			}
		}
		if !ok {
			t.Fatalf("task %s (%s) not in the four-window layout", local, task.Window)
		}
	}
}

func TestSetFrequencyRejectsInvalid(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	writePair(t, f.fs, testDirs.Queue, "x", ".jpg", "x")
	f.svc.Reload(context.Background())

	for _, n := range []int{0, -3} {
		if _, err := f.svc.SetFrequency(context.Background(), n); !errors.Is(err, ErrInvalidFrequency) {
			t.Fatalf("SetFrequency(%d) err = %v", n, err)
		}
	}
	if f.svc.Frequency() != 2 || f.wheel.Len() != 1 || f.svc.State() != StatePlanned {
		t.Fatal("rejected frequency changed state")
	}
}

func TestDispatchDeliversAndArchives(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	p := writePair(t, f.fs, testDirs.Queue, "sunrise", ".jpg", "  Good morning!\n")
	f.svc.Reload(context.Background())

	f.fireAll(t, 1)

	sent := f.sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d photos, want 1", len(sent))
	}
	if sent[0].Caption != "Good morning!" || sent[0].Body != "img:sunrise" || !sent[0].Silent || sent[0].To.ChatID != -100123 {
		t.Fatalf("sent = %+v", sent[0])
	}
	if len(f.svc.QueueItems(0)) != 0 {
		t.Fatal("delivered pair still queued")
	}
	if tasks := f.svc.Tasks(); len(tasks) != 1 || !tasks[0].Delivered {
		t.Fatalf("tasks = %+v", tasks)
	}
	if f.store.Exists(p) {
		t.Fatal("queue files not moved")
	}
	if !fileExists(t, f.fs, filepath.Join(testDirs.Archive, "sunrise.jpg")) {
		t.Fatal("image not archived")
	}
	if st := f.svc.Stats(); st.Delivered != 1 || st.Archived.Pairs != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDispatchMissingCaptionLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	p := writePair(t, f.fs, testDirs.Queue, "ghost", ".jpg", "boo")
	f.svc.Reload(context.Background())
	before := f.svc.Tasks()

	if err := f.fs.Remove(p.Caption); err != nil {
		t.Fatal(err)
	}
	f.fireAll(t, 1)

	if len(f.sender.Sent()) != 0 {
		t.Fatal("nothing should be sent for a missing caption")
	}
	after := f.svc.Tasks()
	if len(after) != len(before) || after[0] != before[0] {
		t.Fatalf("tasks changed: %+v -> %+v", before, after)
	}
	if items := f.svc.QueueItems(0); len(items) != 1 || items[0] != p {
		t.Fatalf("queue changed: %+v", items)
	}
	if !fileExists(t, f.fs, p.Image) {
		t.Fatal("image must stay in place")
	}
}

func TestDispatchSendFailureIsStuckNotRetried(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	f.sender.err = errNetwork
	p := writePair(t, f.fs, testDirs.Queue, "net", ".png", "n")
	f.svc.Reload(context.Background())

	f.fireAll(t, 1)
	if items := f.svc.QueueItems(0); len(items) != 1 || items[0] != p {
		t.Fatalf("queue changed after failure: %+v", items)
	}
	if st := f.svc.Stats(); st.Failed != 1 || st.Delivered != 0 || st.Pending != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if tasks := f.svc.Tasks(); tasks[0].Delivered {
		t.Fatal("failed task marked delivered")
	}
}

func TestTeardownDropsEnqueuedWork(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	writePair(t, f.fs, testDirs.Queue, "a", ".jpg", "a")
	f.svc.Reload(context.Background())

	// Capture the descriptor the timer would hand over, then tear down.
	task := f.svc.Tasks()[0]
	d := descriptor{TaskID: task.ID, Pair: task.Pair, Index: task.Index, FireAt: task.RunAt, Epoch: f.svc.epoch}
	f.svc.Pause(context.Background())

	if err := f.svc.dispatch(context.Background(), d); err != nil {
		t.Fatalf("stale dispatch returned %v", err)
	}
	if len(f.sender.Sent()) != 0 {
		t.Fatal("stale descriptor was delivered")
	}
}

func TestRunTest(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	if _, err := f.svc.RunTest(context.Background(), 10*time.Second); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("RunTest(empty) err = %v", err)
	}

	writePair(t, f.fs, testDirs.Queue, "t1", ".jpg", "test")
	f.svc.Reload(context.Background())
	run, err := f.svc.RunTest(context.Background(), 10*time.Second)
	if err != nil {
		t.Fatalf("RunTest: %v", err)
	}
	if !run.At.Equal(jan1.Add(10 * time.Second)) {
		t.Fatalf("test fires at %s", run.At)
	}
	if f.wheel.Len() != 2 {
		t.Fatalf("timers = %d, want plan + test", f.wheel.Len())
	}

	f.clock.Set(jan1.Add(11 * time.Second))
	f.svc.Tick()
	deadline := time.Now().Add(2 * time.Second)
	for len(f.sender.Sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(f.sender.Sent()) != 1 {
		t.Fatal("test publication not sent")
	}
	// The plan timer for the same pair is disarmed once the test delivery succeeded.
	deadline = time.Now().Add(2 * time.Second)
	for f.wheel.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.wheel.Len() != 0 {
		t.Fatalf("timers left = %d", f.wheel.Len())
	}
}

func TestPauseCancelsTestTimer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	writePair(t, f.fs, testDirs.Queue, "t1", ".jpg", "test")
	f.svc.Reload(context.Background())
	if _, err := f.svc.RunTest(context.Background(), time.Second); err != nil {
		t.Fatal(err)
	}
	f.svc.Pause(context.Background())
	f.clock.Set(jan1.Add(time.Hour))
	if n := f.svc.Tick(); n != 0 {
		t.Fatalf("Tick fired %d timers after pause", n)
	}
}

func TestFullPurge(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	writePair(t, f.fs, testDirs.Queue, "a", ".jpg", "a")
	writePair(t, f.fs, testDirs.Incoming, "b", ".jpg", "b")
	f.svc.Reload(context.Background())

	res := f.svc.FullPurge(context.Background())
	if res.Removed != 4 || f.wheel.Len() != 0 || len(f.svc.QueueItems(0)) != 0 {
		t.Fatalf("FullPurge = %+v timers=%d", res, f.wheel.Len())
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	gone := writePair(t, f.fs, testDirs.Queue, "gone", ".jpg", "g")
	writePair(t, f.fs, testDirs.Queue, "stay", ".jpg", "s")
	f.svc.Reload(context.Background())
	_ = f.fs.Remove(gone.Image)

	if n := f.svc.Refresh(); n != 1 {
		t.Fatalf("first Refresh removed %d, want 1", n)
	}
	first := f.svc.QueueItems(0)
	if n := f.svc.Refresh(); n != 0 {
		t.Fatalf("second Refresh removed %d, want 0", n)
	}
	second := f.svc.QueueItems(0)
	if len(first) != 1 || len(second) != 1 || first[0] != second[0] {
		t.Fatalf("refresh not idempotent: %+v vs %+v", first, second)
	}
}

func TestCompleteDeliveryUnknownPair(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	writePair(t, f.fs, testDirs.Queue, "a", ".jpg", "a")
	f.svc.Reload(context.Background())

	if f.svc.CompleteDelivery(Pair{Image: "/nowhere/x.jpg", Caption: "/nowhere/x.txt"}) {
		t.Fatal("unknown pair reported as removed")
	}
	if len(f.svc.QueueItems(0)) != 1 {
		t.Fatal("queue size changed")
	}
	p := f.svc.QueueItems(0)[0]
	if !f.svc.CompleteDelivery(p) || len(f.svc.QueueItems(0)) != 0 {
		t.Fatal("known pair not removed")
	}
}

func TestUpcomingSortedAndCapped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 4, jan1)
	for _, stem := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		writePair(t, f.fs, testDirs.Queue, stem, ".jpg", stem)
	}
	f.svc.Reload(context.Background())

	up := f.svc.Upcoming(5)
	if len(up) != 5 {
		t.Fatalf("Upcoming(5) = %d entries", len(up))
	}
	for i := 1; i < len(up); i++ {
		if up[i].RunAt.Before(up[i-1].RunAt) {
			t.Fatal("Upcoming not ascending")
		}
	}
	if all := f.svc.Upcoming(0); len(all) != 7 {
		t.Fatalf("Upcoming(0) = %d, want 7", len(all))
	}

	f.clock.Set(up[2].RunAt)
	if later := f.svc.Upcoming(0); len(later) != 4 {
		t.Fatalf("Upcoming after clock move = %d, want 4", len(later))
	}
}

func TestResumeIfIdle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	writePair(t, f.fs, testDirs.Incoming, "new", ".jpg", "n")

	res, ok := f.svc.ResumeIfIdle(context.Background())
	if !ok || res.Planned != 1 {
		t.Fatalf("ResumeIfIdle = %+v %v", res, ok)
	}
	f.svc.Pause(context.Background())
	if _, ok := f.svc.ResumeIfIdle(context.Background()); ok {
		t.Fatal("paused publisher must not auto-resume")
	}
}

func TestResumeIfIdleAfterQueueDrains(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	writePair(t, f.fs, testDirs.Queue, "first", ".jpg", "1")
	f.svc.Reload(context.Background())

	f.fireAll(t, 1)
	if f.svc.State() != StateIdle || len(f.svc.QueueItems(0)) != 0 {
		t.Fatalf("after drain: state=%s queued=%d", f.svc.State(), len(f.svc.QueueItems(0)))
	}

	writePair(t, f.fs, testDirs.Incoming, "second", ".jpg", "2")
	res, ok := f.svc.ResumeIfIdle(context.Background())
	if !ok || res.Planned != 1 {
		t.Fatalf("ResumeIfIdle = %+v %v", res, ok)
	}
	if items := f.svc.QueueItems(0); len(items) != 1 || items[0].Stem() != "second" {
		t.Fatalf("queue = %+v", items)
	}
}

func TestControlsAnswerDuringDelivery(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, jan1)
	f.sender.entered = make(chan struct{}, 1)
	f.sender.release = make(chan struct{})
	p := writePair(t, f.fs, testDirs.Queue, "slow", ".jpg", "s")
	f.svc.Reload(context.Background())

	before := f.engine.Snapshot().Executed
	f.clock.Set(jan1.Add(24 * time.Hour))
	f.svc.Tick()
	select {
	case <-f.sender.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never started")
	}

	done := make(chan Stats, 1)
	go func() { done <- f.svc.Stats() }()
	select {
	case st := <-done:
		if st.Queued != 1 {
			t.Fatalf("stats during delivery = %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stats blocked while a delivery was in flight")
	}
	f.svc.Pause(context.Background())

	close(f.sender.release)
	f.waitExecuted(t, before, 1)
	if len(f.sender.Sent()) != 1 || len(f.svc.QueueItems(0)) != 0 {
		t.Fatalf("sent=%d queued=%d", len(f.sender.Sent()), len(f.svc.QueueItems(0)))
	}
	if f.store.Exists(p) || f.svc.State() != StatePaused {
		t.Fatalf("pair not completed or state changed: %s", f.svc.State())
	}
}

func TestFullDeliveryLaneRearmsTimers(t *testing.T) {
	t.Parallel()
	f := newFixtureWithEngine(t, 2, jan1, engine.Config{Workers: 1, QueueSize: 1})
	f.sender.release = make(chan struct{})
	for _, stem := range []string{"a", "b", "c"} {
		writePair(t, f.fs, testDirs.Queue, stem, ".jpg", stem)
	}
	f.svc.Reload(context.Background())

	before := f.engine.Snapshot().Executed
	f.clock.Set(jan1.Add(72 * time.Hour))
	f.svc.Tick()
	if f.wheel.Len() == 0 {
		t.Fatal("work rejected by a full lane was not re-armed")
	}

	close(f.sender.release)
	deadline := time.Now().Add(2 * time.Second)
	for len(f.sender.Sent()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("sent %d photos, want 3", len(f.sender.Sent()))
		}
		f.svc.Tick()
		time.Sleep(5 * time.Millisecond)
	}
	f.waitExecuted(t, before, 3)
	if f.wheel.Len() != 0 || len(f.svc.QueueItems(0)) != 0 {
		t.Fatalf("timers=%d queued=%d", f.wheel.Len(), len(f.svc.QueueItems(0)))
	}
}
