package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"postbot/internal/publisher"
	"postbot/internal/storage"
	"postbot/internal/transport/telegram/router"
	logx "postbot/pkg/logx"
	"postbot/pkg/tgui"
)

// Reply keyboard labels. Each one runs the command it sits next to.
const (
	lblStats    = "📊 Stats"
	lblSchedule = "🗓 Schedule"
	lblNext     = "⏭ Next"
	lblReload   = "🔄 Reload"
	lblStop     = "⏹ Stop"
	lblPause    = "⏸ Pause"
	lblResume   = "▶️ Resume"
	lblClear    = "🧹 Clear queue"
	lblPurge    = "🗑 Full purge"
	lblFreq     = "⚙️ Frequency"
	lblTest     = "🧪 Test"
	lblHistory  = "📜 History"
)

// Callback scopes and actions.
const (
	scopePurge = "purge"
	scopeFreq  = "freq"
	scopeTest  = "test"
	actionSet  = "set"
	actionRun  = "run"
)

// controls maps operator commands onto the publisher.
type controls struct {
	pub       *publisher.Service
	journal   storage.Store
	testDelay time.Duration
	log       logx.Logger
	now       func() time.Time
}

func newControls(pub *publisher.Service, journal storage.Store, testDelay time.Duration, log logx.Logger) *controls {
	if log.IsZero() {
		log = logx.Nop()
	}
	if testDelay < 0 {
		testDelay = 0
	}
	return &controls{pub: pub, journal: journal, testDelay: testDelay, log: log, now: time.Now}
}

func replyKeyboard() [][]string {
	return [][]string{
		{lblStats, lblSchedule, lblNext},
		{lblReload, lblPause, lblResume},
		{lblStop, lblClear, lblPurge},
		{lblFreq, lblTest, lblHistory},
	}
}

func (c *controls) commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "show the keyboard", Access: router.AccessEveryone, Handle: c.handleStart},
		{Name: "stats", Labels: []string{lblStats}, Description: "counters and folders", Handle: c.handleStats},
		{Name: "schedule", Labels: []string{lblSchedule}, Description: "queue and planned slots", Handle: c.handleSchedule},
		{Name: "next", Labels: []string{lblNext}, Description: "next publications", Handle: c.handleNext},
		{Name: "reload", Labels: []string{lblReload}, Description: "reload folders and replan", Handle: c.handleReload},
		{Name: "stop", Labels: []string{lblStop}, Description: "cancel the plan and empty the queue", Handle: c.handleStop},
		{Name: "pause", Labels: []string{lblPause}, Description: "cancel the plan, keep the queue", Handle: c.handlePause},
		{Name: "resume", Labels: []string{lblResume}, Description: "plan the queue again", Handle: c.handleResume},
		{Name: "clear", Labels: []string{lblClear}, Description: "empty the queue, keep files", Handle: c.handleClear},
		{Name: "purge", Labels: []string{lblPurge}, Description: "delete incoming and queued files", Handle: c.handlePurge},
		{Name: "freq", Aliases: []string{"frequency"}, Labels: []string{lblFreq}, Usage: "/freq [n]", Description: "publications per day", Handle: c.handleFreq},
		{Name: "test", Labels: []string{lblTest}, Usage: "/test [seconds]", Description: "publish the first queued pair soon", Handle: c.handleTest},
		{Name: "history", Labels: []string{lblHistory}, Description: "recent journal entries", Handle: c.handleHistory},
	}
}

func (c *controls) callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Scope: scopePurge, Action: "yes", Handle: c.cbPurgeYes},
		{Scope: scopePurge, Action: "no", Handle: c.cbPurgeNo},
		{Scope: scopeFreq, Action: actionSet, Handle: c.cbFreqSet},
		{Scope: scopeTest, Action: actionRun, Handle: c.cbTestRun},
	}
}

func (c *controls) handleStart(ctx context.Context, req *router.Request) error {
	return req.Send(ctx, tgui.New().Title("👋", "Postbot").
		Line("Scheduled publishing to the channel.").
		Line("Use the keyboard below or /help.").
		Markup(tgui.ReplyKeyboard(replyKeyboard()...)).
		Build())
}

func (c *controls) handleStats(ctx context.Context, req *router.Request) error {
	st := c.pub.Stats()
	return req.Send(ctx, renderStats(st, c.pub.Upcoming(1), c.pub.Location(), c.now()))
}

func (c *controls) handleSchedule(ctx context.Context, req *router.Request) error {
	c.pub.Refresh()
	return req.Send(ctx, renderSchedule(c.pub.QueueItems(0), c.pub.Upcoming(scheduleUpcomingLimit), c.pub.Location()))
}

func (c *controls) handleNext(ctx context.Context, req *router.Request) error {
	return req.Send(ctx, renderNext(c.pub.Upcoming(nextLimit), c.pub.Location(), c.now()))
}

func (c *controls) handleReload(ctx context.Context, req *router.Request) error {
	res := c.pub.Reload(ctx)
	c.audit(ctx, req, storage.AuditEntry{Action: storage.ActionReload, OK: res.Planned})
	return req.Reply(ctx, fmt.Sprintf("🔄 Reloaded: %d queued, %d planned.", res.Loaded, res.Planned))
}

func (c *controls) handleStop(ctx context.Context, req *router.Request) error {
	res := c.pub.Stop(ctx)
	c.audit(ctx, req, storage.AuditEntry{Action: storage.ActionStop, OK: res.Removed})
	return req.Reply(ctx, fmt.Sprintf("⏹ Stopped. %d dropped from the queue, files untouched.", res.Removed))
}

func (c *controls) handlePause(ctx context.Context, req *router.Request) error {
	res := c.pub.Pause(ctx)
	c.audit(ctx, req, storage.AuditEntry{Action: storage.ActionPause, OK: res.Loaded})
	return req.Reply(ctx, fmt.Sprintf("⏸ Paused. %d pairs stay queued.", res.Loaded))
}

func (c *controls) handleResume(ctx context.Context, req *router.Request) error {
	res := c.pub.Resume(ctx)
	c.audit(ctx, req, storage.AuditEntry{Action: storage.ActionResume, OK: res.Planned})
	if res.Loaded == 0 {
		return req.Reply(ctx, "Nothing to plan: the queue and the incoming folder are empty.")
	}
	return req.Reply(ctx, fmt.Sprintf("▶️ Resumed: %d queued, %d planned.", res.Loaded, res.Planned))
}

func (c *controls) handleClear(ctx context.Context, req *router.Request) error {
	res := c.pub.Clear(ctx)
	c.audit(ctx, req, storage.AuditEntry{Action: storage.ActionClear, OK: res.Removed})
	return req.Reply(ctx, fmt.Sprintf("🧹 Queue cleared, %d removed. Files untouched.", res.Removed))
}

func (c *controls) handlePurge(ctx context.Context, req *router.Request) error {
	return req.Send(ctx, tgui.New().Title("🗑", "Full purge").
		Line("Delete every file in the incoming and queue folders? The archive is kept.").
		Inline(tgui.Confirm(scopePurge, "Yes, purge", "Cancel")).
		Build())
}

func (c *controls) cbPurgeYes(ctx context.Context, req *router.Request, _ string) error {
	res := c.pub.FullPurge(ctx)
	c.audit(ctx, req, storage.AuditEntry{Action: storage.ActionPurge, OK: res.Removed})
	return req.Edit(ctx, tgui.New().Line(fmt.Sprintf("🗑 Purged %d files.", res.Removed)).Build())
}

func (c *controls) cbPurgeNo(ctx context.Context, req *router.Request, _ string) error {
	return req.Edit(ctx, tgui.New().Line("Purge cancelled.").Build())
}

func (c *controls) handleFreq(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return req.Send(ctx, renderFrequency(c.pub.Frequency()))
	}
	return c.setFrequency(ctx, req, req.Args[0], req.Reply)
}

func (c *controls) cbFreqSet(ctx context.Context, req *router.Request, payload string) error {
	return c.setFrequency(ctx, req, payload, func(ctx context.Context, text string) error {
		return req.Edit(ctx, tgui.New().Line(text).Build())
	})
}

// setFrequency reports a malformed value back to the operator and leaves
// the plan untouched.
func (c *controls) setFrequency(ctx context.Context, req *router.Request, raw string, reply func(context.Context, string) error) error {
	raw = strings.TrimSpace(raw)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		c.log.Warn("frequency rejected", logx.Kind(publisher.KindConfiguration), logx.String("value", raw))
		return reply(ctx, fmt.Sprintf("⚠️ Frequency must be a positive integer, got %q.", raw))
	}
	res, err := c.pub.SetFrequency(ctx, n)
	if err != nil {
		return reply(ctx, "⚠️ "+err.Error())
	}
	c.audit(ctx, req, storage.AuditEntry{Action: storage.ActionFrequency, Target: strconv.Itoa(n), OK: res.Planned})
	return reply(ctx, fmt.Sprintf("⚙️ Frequency set to %d per day: %d queued, %d planned.", n, res.Loaded, res.Planned))
}

func (c *controls) handleTest(ctx context.Context, req *router.Request) error {
	delay := c.testDelay
	if len(req.Args) > 0 {
		secs, err := strconv.Atoi(strings.TrimSpace(req.Args[0]))
		if err != nil || secs < 0 {
			return req.Reply(ctx, "⚠️ Delay must be a non-negative number of seconds.")
		}
		delay = time.Duration(secs) * time.Second
	}
	return c.runTest(ctx, req, delay)
}

func (c *controls) cbTestRun(ctx context.Context, req *router.Request, payload string) error {
	secs, err := strconv.Atoi(payload)
	if err != nil || secs < 0 {
		return nil
	}
	return c.runTest(ctx, req, time.Duration(secs)*time.Second)
}

func (c *controls) runTest(ctx context.Context, req *router.Request, delay time.Duration) error {
	run, err := c.pub.RunTest(ctx, delay)
	if errors.Is(err, publisher.ErrQueueEmpty) {
		return req.Reply(ctx, "The queue is empty, nothing to test. Try Reload first.")
	}
	if err != nil {
		c.log.Warn("test publication failed", logx.Err(err))
		return req.Reply(ctx, "Test publication could not be armed.")
	}
	c.audit(ctx, req, storage.AuditEntry{Action: storage.ActionTest, Target: run.Pair.Stem(), MetaJSON: fmt.Sprintf(`{"delay_s":%d}`, int(delay/time.Second))})
	return req.Send(ctx, renderTestArmed(run, c.pub.Location(), c.now()))
}

func (c *controls) handleHistory(ctx context.Context, req *router.Request) error {
	if c.journal == nil {
		return req.Reply(ctx, "The journal is disabled. Set storage.driver to file or sqlite.")
	}
	entries, err := c.journal.RecentAudit(ctx, "", historyLimit)
	if err != nil {
		c.log.Warn("journal read failed", logx.Err(err))
		return req.Reply(ctx, "Could not read the journal.")
	}
	return req.Send(ctx, renderHistory(entries, c.pub.Location()))
}

// audit records an operator action. Journal failures are logged only.
func (c *controls) audit(ctx context.Context, req *router.Request, e storage.AuditEntry) {
	if c.journal == nil {
		return
	}
	e.At = c.now().UTC()
	if req != nil {
		e.ActorID = req.FromID
		e.ChatID = req.Chat.ChatID
		if m := req.Update.Message; m != nil {
			e.ActorUsername = m.FromUsername
		}
	}
	if err := c.journal.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		c.log.Warn("journal append failed", logx.String("action", e.Action), logx.Err(err))
	}
}
