package adapter

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name      string
		in        string
		limit     int
		parseMode string
		want      []string
	}{
		{"short", "hello", 10, "", []string{"hello"}},
		{"hard cut", "abcdefghij", 4, "", []string{"abcd", "efgh", "ij"}},
		{"newline preferred", "aaaa\nbbbbbb", 8, "", []string{"aaaa", "bbbbbb"}},
		{"html tag kept whole", "aaaaaa<br>", 8, "HTML", []string{"aaaaaa", "<br>"}},
		{"multibyte", "ääää", 2, "", []string{"ää", "ää"}},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := splitText(tc.in, tc.limit, tc.parseMode)
			if strings.Join(got, "|") != strings.Join(tc.want, "|") {
				t.Fatalf("splitText = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMessageUpdate(t *testing.T) {
	t.Parallel()

	up, ok := messageUpdate(&tele.Message{
		ID:       7,
		Text:     "/stats",
		ThreadID: 3,
		Chat:     &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Sender:   &tele.User{ID: 42, Username: "owner"},
	})
	if !ok || up.Kind != kit.UpdateMessage {
		t.Fatalf("update = %+v ok = %v", up, ok)
	}
	m := up.Message
	if m.ID != 7 || m.ChatID != -100 || m.ThreadID != 3 || m.FromID != 42 || m.FromUsername != "owner" || !m.IsGroup || m.Text != "/stats" {
		t.Fatalf("message = %+v", m)
	}

	if _, ok := messageUpdate(&tele.Message{Text: "no chat"}); ok {
		t.Fatal("message without chat accepted")
	}
}

func TestCallbackUpdate(t *testing.T) {
	t.Parallel()

	up, ok := callbackUpdate(&tele.Callback{
		ID:      "cb1",
		Data:    "purge:yes",
		Sender:  &tele.User{ID: 5},
		Message: &tele.Message{ID: 9, Chat: &tele.Chat{ID: 11}},
	})
	if !ok || up.Kind != kit.UpdateCallback {
		t.Fatalf("update = %+v ok = %v", up, ok)
	}
	c := up.Callback
	if c.ID != "cb1" || c.Data != "purge:yes" || c.FromID != 5 || c.ChatID != 11 || c.MessageID != 9 {
		t.Fatalf("callback = %+v", c)
	}
	if _, ok := callbackUpdate(&tele.Callback{ID: "x"}); ok {
		t.Fatal("callback without message accepted")
	}
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()

	got := menuCommands([]kit.BotCommand{
		{Command: "/stats", Description: "Show stats"},
		{Command: " ", Description: "skipped"},
		{Command: "next"},
		{Command: "long", Description: strings.Repeat("x", 300)},
	})
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Text != "stats" || got[1].Description != "next" || len(got[2].Description) != 256 {
		t.Fatalf("commands = %+v", got)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("empty token accepted")
	}
	if _, err := New(Config{Token: "1:x", Mode: ModeWebhook, Offline: true}, logx.Nop()); err == nil {
		t.Fatal("webhook without url accepted")
	}
}

func TestWebhookHandlerInactive(t *testing.T) {
	t.Parallel()

	a, err := New(Config{Token: "1:x", Offline: true}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := httptest.NewRecorder()
	a.WebhookHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
