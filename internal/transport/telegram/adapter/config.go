package adapter

import "time"

const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Config configures the telegram adapter.
type Config struct {
	Token       string
	PollTimeout time.Duration

	// Mode is ModePolling (default) or ModeWebhook. In webhook mode updates
	// arrive through WebhookHandler, mounted on the host HTTP server.
	Mode          string
	WebhookURL    string
	WebhookSecret string

	// Offline skips the getMe call on construction.
	Offline bool
}

// allowedUpdates limits what telegram delivers to the kinds the bot handles.
var allowedUpdates = []string{"message", "callback_query"}
