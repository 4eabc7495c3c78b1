// Package tgui holds small Telegram UI helpers: HTML-safe text, message
// cards, inline and reply keyboards, and scoped callback data.
package tgui
