package publisher

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatSlot renders a task as "dd.mm.yyyy HH:MM (label)" in loc.
func FormatSlot(t ScheduledTask, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return fmt.Sprintf("%s (%s)", t.RunAt.In(loc).Format("02.01.2006 15:04"), t.Window)
}

// FormatRelative renders when t runs relative to now, e.g. "3 hours from now".
func FormatRelative(t ScheduledTask, now time.Time) string {
	return humanize.RelTime(t.RunAt, now, "ago", "from now")
}

// FormatFolder renders folder counters, e.g. "3 pairs (6 files, 1.2 MB)".
func FormatFolder(st FolderStats) string {
	return fmt.Sprintf("%d pairs (%d files, %s)", st.Pairs, st.Files, humanize.Bytes(uint64(max(st.Bytes, 0))))
}
