package app

import (
	"strings"
	"testing"
	"time"

	"postbot/internal/publisher"
)

func TestRenderMarksDeliveredTasks(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 16, 6, 0, 0, 0, time.UTC)
	tasks := []publisher.ScheduledTask{
		{RunAt: now.Add(3 * time.Hour), Window: "morning", Pair: publisher.Pair{Image: "/w/early.jpg", Caption: "/w/early.txt"}, Delivered: true},
		{RunAt: now.Add(12 * time.Hour), Window: "evening", Pair: publisher.Pair{Image: "/w/late.jpg", Caption: "/w/late.txt"}},
	}
	queue := []publisher.Pair{tasks[1].Pair}

	tests := []struct {
		name string
		text string
	}{
		{"schedule", renderSchedule(queue, tasks, time.UTC).Text},
		{"next", renderNext(tasks, time.UTC, now).Text},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var early, late string
			for _, line := range strings.Split(tt.text, "\n") {
				switch {
				case strings.Contains(line, "early"):
					early = line
				case strings.Contains(line, "late") && strings.Contains(line, "16.10.2026"):
					late = line
				}
			}
			if !strings.HasSuffix(early, "early ✅ sent") {
				t.Fatalf("delivered line = %q in %q", early, tt.text)
			}
			if late == "" || strings.Contains(late, "✅") {
				t.Fatalf("pending line = %q in %q", late, tt.text)
			}
		})
	}
}
