package router

import (
	"context"
	"time"

	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
	"postbot/pkg/tgui"
)

type Access int

const (
	AccessOwnerOnly Access = iota
	AccessEveryone
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Command is a slash command. Labels are reply-keyboard button texts that
// invoke the same handler.
type Command struct {
	Name        string
	Aliases     []string
	Labels      []string
	Description string
	Usage       string
	Access      Access
	// Hidden commands stay out of /help and the bot menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline button data "scope:action[:payload]".
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Payload string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends plain text to the requesting chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// Send sends a rendered message to the requesting chat.
func (r *Request) Send(ctx context.Context, m tgui.Message) error {
	_, err := m.Send(ctx, r.Adapter, r.Chat)
	return err
}

// Edit replaces the message an inline button was pressed on.
func (r *Request) Edit(ctx context.Context, m tgui.Message) error {
	cb := r.Update.Callback
	if cb == nil {
		return r.Send(ctx, m)
	}
	return m.Edit(ctx, r.Adapter, kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID})
}
