// Package tgui builds Telegram HTML replies: escaped text lines, key/value
// rows, and inline keyboards, rendered into text plus send options.
package tgui

import kit "nova/internal/transport"

// Inline collects inline keyboard rows.
type Inline struct {
	rows [][]kit.Button
}

func NewInline() *Inline { return &Inline{} }

// Row appends one row. Empty rows are ignored.
func (i *Inline) Row(btn ...kit.Button) *Inline {
	if len(btn) > 0 {
		i.rows = append(i.rows, append([]kit.Button(nil), btn...))
	}
	return i
}

func (i *Inline) Rows() [][]kit.Button {
	if i == nil {
		return nil
	}
	return i.rows
}

// Btn is a callback button; data is sent back verbatim.
func Btn(text, data string) kit.Button {
	return kit.Button{Text: text, Data: data}
}
