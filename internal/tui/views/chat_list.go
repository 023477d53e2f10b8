package views

import (
	"fmt"

	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// ChatList is the conversation list (K9s-inspired table).
type ChatList struct {
	*tview.Table
	theme     *ui.Theme
	summaries []chat.ChatSummary
}

// NewChatList creates a new chat list table.
func NewChatList(theme *ui.Theme) *ChatList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Chats ").SetBorderColor(theme.Border)
	return &ChatList{Table: table, theme: theme}
}

// Update redraws the list, keeping the cursor on the same conversation
// when it is still present.
func (cl *ChatList) Update(summaries []chat.ChatSummary) {
	selected := cl.SelectedChat()
	cl.summaries = summaries
	cl.Clear()

	for col, title := range []string{" Name", " Role", " Last Message", " Time", " "} {
		cl.SetCell(0, col, tview.NewTableCell(title).
			SetSelectable(false).
			SetTextColor(cl.theme.Header))
	}

	cursor := 1
	for i, s := range summaries {
		row := i + 1
		name := sanitizeForTerminal(s.Name)
		if s.Online {
			name = "● " + name
		}
		cl.SetCell(row, 0, tview.NewTableCell(" "+name).SetMaxWidth(28).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+s.Role).SetMaxWidth(18).SetTextColor(cl.theme.Role))
		cl.SetCell(row, 2, tview.NewTableCell(" "+sanitizeForTerminal(s.LastMessage)).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 3, tview.NewTableCell(" "+s.LastMessageTime).SetMaxWidth(14))
		cl.SetCell(row, 4, tview.NewTableCell(UnreadBadge(s.UnreadCount)).SetTextColor(cl.theme.Unread))
		if s.ID == selected {
			cursor = row
		}
	}
	if len(summaries) > 0 {
		cl.Select(cursor, 0)
	}
}

// SelectedChat returns the id of the conversation under the cursor.
func (cl *ChatList) SelectedChat() string {
	row, _ := cl.GetSelection()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.summaries) {
		return cl.summaries[idx].ID
	}
	return ""
}

// UnreadBadge renders an unread count; zero renders nothing.
func UnreadBadge(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > 99:
		return " (99+)"
	default:
		return fmt.Sprintf(" (%d)", n)
	}
}
