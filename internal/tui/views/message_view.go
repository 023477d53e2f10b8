package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// PendingMark tags a bubble that has not been delivered yet.
const PendingMark = "(pending)"

// MessageView displays the merged thread of the open conversation.
type MessageView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewMessageView creates a new message view.
func NewMessageView(theme *ui.Theme) *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ").SetBorderColor(theme.Border)
	return &MessageView{TextView: tv, theme: theme}
}

// SetChatName updates the title with the conversation name.
func (mv *MessageView) SetChatName(name string) {
	mv.SetTitle(fmt.Sprintf(" %s ", sanitizeForTerminal(name)))
}

// Update redraws the thread. Messages arrive oldest first.
func (mv *MessageView) Update(msgs []chat.DisplayMessage, localUserID string) {
	mv.Clear()
	_, _ = fmt.Fprint(mv, RenderThread(msgs, localUserID, mv.theme))
	mv.ScrollToEnd()
}

// RenderThread formats msgs as tview markup.
func RenderThread(msgs []chat.DisplayMessage, localUserID string, theme *ui.Theme) string {
	var b strings.Builder
	for _, m := range msgs {
		sender, color := m.SenderID, theme.OtherMessage
		if m.SenderID == localUserID || m.Pending {
			sender, color = "You", theme.OwnMessage
		}
		meta := ""
		if m.Pending {
			meta = ui.Tag(theme.Pending) + PendingMark + "[-]"
		} else if !m.CreatedAt.IsZero() {
			meta = "[::d]" + m.CreatedAt.Local().Format("15:04") + "[-:-:-]"
		}
		body := tview.Escape(sanitizeForTerminal(m.Content))
		fmt.Fprintf(&b, "%s[::b]%s[-:-:-] %s\n%s\n\n", ui.Tag(color), tview.Escape(sender), meta, body)
	}
	return b.String()
}
