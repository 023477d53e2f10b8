package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/convsync/internal/api"
	"github.com/matheus3301/convsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// StatusBar shows the profile, channel state, queue depth and notices.
type StatusBar struct {
	*tview.TextView
	theme   *ui.Theme
	profile string
	status  api.StatusResponse
	flash   string
	hints   []string
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.StatusBarBg)
	return &StatusBar{TextView: tv, theme: theme}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetStatus updates connectivity and queue state.
func (sb *StatusBar) SetStatus(st api.StatusResponse) {
	sb.status = st
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

// SetHints sets the key hints shown at the right.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s", sb.profile, StatusLine(sb.status, sb.theme))
	if sb.flash != "" {
		line += " | " + ui.Tag(sb.theme.Flash) + tview.Escape(sb.flash) + "[-]"
	}
	if len(sb.hints) > 0 {
		line += " | [::d]" + strings.Join(sb.hints, " ") + "[-:-:-]"
	}
	_, _ = fmt.Fprint(sb, line)
}

// StatusLine summarizes the channel and the queue.
func StatusLine(st api.StatusResponse, theme *ui.Theme) string {
	var parts []string
	if st.Connected {
		parts = append(parts, ui.Tag(theme.Online)+"online[-]")
	} else {
		parts = append(parts, ui.Tag(theme.Offline)+"offline[-] "+strings.ToLower(st.State))
	}
	if st.PendingCount > 0 {
		parts = append(parts, fmt.Sprintf("%d pending", st.PendingCount))
		if !st.Connected {
			parts = append(parts, "will send when back online")
		}
	}
	if n := len(st.Failed); n > 0 {
		parts = append(parts, ui.Tag(theme.Failed)+fmt.Sprintf("%d failed (/retry)", n)+"[-]")
	}
	return strings.Join(parts, " | ")
}
