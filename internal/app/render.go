package app

import (
	"fmt"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"postbot/internal/publisher"
	"postbot/internal/storage"
	"postbot/pkg/tgui"
)

const (
	scheduleQueueLimit    = 15
	scheduleUpcomingLimit = 50
	nextLimit             = 5
	historyLimit          = 15
)

var stateLabels = map[publisher.State]string{
	publisher.StateIdle:    "idle",
	publisher.StatePlanned: "planned",
	publisher.StatePaused:  "paused",
}

func renderStats(st publisher.Stats, next []publisher.ScheduledTask, loc *time.Location, now time.Time) tgui.Message {
	b := tgui.New().Title("📊", "Statistics").
		KV("State", stateLabels[st.State]).
		KV("Frequency", fmt.Sprintf("%d per day", st.Frequency)).
		KV("Queue", strconv.Itoa(st.Queued)).
		KV("Planned", fmt.Sprintf("%d (timers %d)", st.Planned, st.Pending))
	if len(next) > 0 {
		b.KV("Next", publisher.FormatSlot(next[0], loc)+", "+publisher.FormatRelative(next[0], now))
	}
	b.KV("Delivered", strconv.FormatUint(st.Delivered, 10)).
		KV("Failed", strconv.FormatUint(st.Failed, 10))
	if !st.LastSent.IsZero() {
		b.KV("Last sent", st.LastSent.In(loc).Format("02.01.2006 15:04"))
	}
	if st.LastError != "" {
		b.KV("Last error", tgui.TruncRunes(st.LastError, 200))
	}
	return b.Blank().
		Title("📁", "Folders").
		KV("Incoming", publisher.FormatFolder(st.Incoming)).
		KV("Waiting", publisher.FormatFolder(st.Waiting)).
		KV("Archive", publisher.FormatFolder(st.Archived)).
		Build()
}

func renderSchedule(queue []publisher.Pair, upcoming []publisher.ScheduledTask, loc *time.Location) tgui.Message {
	b := tgui.New().Title("🗓", "Schedule")
	if len(queue) == 0 {
		return b.Line("The queue is empty.").Build()
	}
	b.Line(fmt.Sprintf("Queue (%d):", len(queue)))
	shown := queue[:min(len(queue), scheduleQueueLimit)]
	for i, p := range shown {
		b.Line(fmt.Sprintf("%d. %s", i+1, p.Stem()))
	}
	if rest := len(queue) - len(shown); rest > 0 {
		b.Line(fmt.Sprintf("… and %d more", rest))
	}
	b.Blank()
	if len(upcoming) == 0 {
		return b.Line("Nothing is planned.").Build()
	}
	b.Line("Upcoming:")
	for _, t := range upcoming {
		b.RawLine(tgui.JoinH(" ", tgui.Code(publisher.FormatSlot(t, loc)), tgui.Esc(t.Pair.Stem()+sentMark(t))))
	}
	return b.Build()
}

func renderNext(upcoming []publisher.ScheduledTask, loc *time.Location, now time.Time) tgui.Message {
	b := tgui.New().Title("⏭", "Next publications")
	if len(upcoming) == 0 {
		return b.Line("Nothing is planned.").Build()
	}
	for i, t := range upcoming {
		b.Line(fmt.Sprintf("%d. %s, %s: %s%s", i+1, publisher.FormatSlot(t, loc), publisher.FormatRelative(t, now), t.Pair.Stem(), sentMark(t)))
	}
	return b.Build()
}

// sentMark flags a planned task whose pair already went out, e.g. via /test.
func sentMark(t publisher.ScheduledTask) string {
	if t.Delivered {
		return " ✅ sent"
	}
	return ""
}

func renderHistory(entries []storage.AuditEntry, loc *time.Location) tgui.Message {
	b := tgui.New().Title("📜", "History")
	if len(entries) == 0 {
		return b.Line("The journal is empty.").Build()
	}
	for _, e := range entries {
		line := e.At.In(loc).Format("02.01 15:04") + " " + e.Action
		if e.Target != "" {
			line += " " + e.Target
		}
		if e.Error != "" {
			line += ": " + tgui.TruncRunes(e.Error, 80)
		}
		b.Bullets(line)
	}
	return b.Build()
}

func renderFrequency(current int) tgui.Message {
	kb := tgui.NewInline()
	for _, row := range [][]int{{1, 2, 3}, {4, 5, 6}} {
		btns := make([]tele.Btn, 0, len(row))
		for _, n := range row {
			data, _ := tgui.Data(scopeFreq, actionSet, strconv.Itoa(n))
			btns = append(btns, tgui.Btn(strconv.Itoa(n), data))
		}
		kb.Row(btns...)
	}
	return tgui.New().Title("⚙️", "Frequency").
		KV("Current", fmt.Sprintf("%d per day", current)).
		Line("Pick a new value or send /freq <n>.").
		Inline(kb).
		Build()
}

func renderTestArmed(run publisher.TestRun, loc *time.Location, now time.Time) tgui.Message {
	again, _ := tgui.Data(scopeTest, actionRun, "10")
	later, _ := tgui.Data(scopeTest, actionRun, "60")
	wait := run.At.Sub(now).Round(time.Second)
	return tgui.New().Title("🧪", "Test publication").
		KV("Pair", run.Pair.Stem()).
		KV("At", fmt.Sprintf("%s (in %s)", run.At.In(loc).Format("15:04:05"), wait)).
		Inline(tgui.NewInline().Row(tgui.Btn("Again in 10s", again), tgui.Btn("In 1 min", later))).
		Build()
}
