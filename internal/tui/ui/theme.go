package ui

import "github.com/gdamore/tcell/v2"

// Theme holds the colors the views render with.
type Theme struct {
	Border       tcell.Color
	Header       tcell.Color
	Unread       tcell.Color
	Pending      tcell.Color
	Failed       tcell.Color
	Online       tcell.Color
	Offline      tcell.Color
	Flash        tcell.Color
	StatusBarBg  tcell.Color
	Role         tcell.Color
	OwnMessage   tcell.Color
	OtherMessage tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		Border:       tcell.ColorDodgerBlue,
		Header:       tcell.ColorWhite,
		Unread:       tcell.ColorOrange,
		Pending:      tcell.ColorGray,
		Failed:       tcell.ColorOrangeRed,
		Online:       tcell.ColorGreen,
		Offline:      tcell.ColorYellow,
		Flash:        tcell.ColorNavajoWhite,
		StatusBarBg:  tcell.ColorNavy,
		Role:         tcell.ColorCadetBlue,
		OwnMessage:   tcell.ColorAqua,
		OtherMessage: tcell.ColorFuchsia,
	}
}

// Tag formats c as a tview color tag.
func Tag(c tcell.Color) string {
	return "[" + c.String() + "]"
}
