package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const historyLimit = 50

// Composer is the input line for messages and slash commands. Up and Down
// walk back through lines submitted earlier.
type Composer struct {
	*tview.InputField
	onSend  func(text string)
	history []string
	cursor  int
}

// NewComposer creates a new message composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetPlaceholder("message, or /new <user>, /retry, /reconnect").
		SetFieldWidth(0)

	c := &Composer{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			c.submit()
		}
	})
	input.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch ev.Key() {
		case tcell.KeyUp:
			c.recall(-1)
			return nil
		case tcell.KeyDown:
			c.recall(1)
			return nil
		}
		return ev
	})

	return c
}

// SetOnSend sets the callback for a submitted line.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// History returns submitted lines, oldest first.
func (c *Composer) History() []string {
	return c.history
}

func (c *Composer) submit() {
	text := c.GetText()
	if text == "" || c.onSend == nil {
		return
	}
	c.onSend(text)
	c.SetText("")

	c.history = append(c.history, text)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
	c.cursor = len(c.history)
}

// recall moves through history; stepping past the newest entry clears the line.
func (c *Composer) recall(step int) {
	next := c.cursor + step
	if next < 0 || next > len(c.history) {
		return
	}
	c.cursor = next
	if next == len(c.history) {
		c.SetText("")
		return
	}
	c.SetText(c.history[next])
}
