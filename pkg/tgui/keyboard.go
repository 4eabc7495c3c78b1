package tgui

import tele "gopkg.in/telebot.v4"

// Inline builds an inline keyboard.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline { return &Inline{rm: &tele.ReplyMarkup{}} }

// Row appends a row of buttons.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn is a callback button carrying raw callback_data.
func Btn(text, data string) tele.Btn { return tele.Btn{Text: text, Data: data} }

// Confirm builds a yes/no keyboard for scope. The buttons carry
// "scope:yes" and "scope:no".
func Confirm(scope, yes, no string) *Inline {
	y, _ := Data(scope, "yes", "")
	n, _ := Data(scope, "no", "")
	return NewInline().Row(Btn(yes, y), Btn(no, n))
}

// ReplyKeyboard builds a persistent resized reply keyboard, one row per
// slice of labels.
func ReplyKeyboard(rows ...[]string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	out := make([]tele.Row, 0, len(rows))
	for _, labels := range rows {
		btns := make([]tele.Btn, 0, len(labels))
		for _, l := range labels {
			btns = append(btns, rm.Text(l))
		}
		out = append(out, rm.Row(btns...))
	}
	rm.Reply(out...)
	return rm
}
