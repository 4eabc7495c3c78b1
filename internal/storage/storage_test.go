package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "postbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should fail")
	}
}

func TestJournalDrivers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		driver string
		file   string
	}{
		{name: "file", driver: "file", file: "journal.json"},
		{name: "sqlite", driver: "sqlite", file: "journal.db"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "data", tt.file)
			st, err := Open(Config{Driver: tt.driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })

			ctx := context.Background()
			base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
			entries := []AuditEntry{
				{At: base, Action: ActionReload, OK: 3},
				{At: base.Add(time.Hour), Action: ActionDelivered, Target: "photo1", OK: 1},
				{At: base.Add(2 * time.Hour), Action: ActionFailed, Target: "photo2", Fail: 1, Error: "network"},
				{At: base.Add(3 * time.Hour), Action: ActionDelivered, Target: "photo3", OK: 1},
			}
			for _, e := range entries {
				if err := st.AppendAudit(ctx, e); err != nil {
					t.Fatalf("AppendAudit: %v", err)
				}
			}

			got, err := st.RecentAudit(ctx, ActionDelivered, 10)
			if err != nil {
				t.Fatalf("RecentAudit: %v", err)
			}
			if len(got) != 2 || got[0].Target != "photo3" || got[1].Target != "photo1" {
				t.Fatalf("RecentAudit(delivered) = %+v", got)
			}
			if !got[0].At.Equal(base.Add(3 * time.Hour)) {
				t.Fatalf("At = %s", got[0].At)
			}

			all, err := st.RecentAudit(ctx, "", 2)
			if err != nil {
				t.Fatalf("RecentAudit(all): %v", err)
			}
			if len(all) != 2 || all[0].Target != "photo3" || all[1].Error != "network" {
				t.Fatalf("RecentAudit(all, 2) = %+v", all)
			}
		})
	}
}
