package chatlist

import (
	"testing"
	"time"
)

func TestFormatTimeBoundaries(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	iso := func(d time.Duration) string { return now.Add(-d).Format(time.RFC3339) }

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"invalid", "not-a-date", ""},
		{"empty", "", ""},
		{"just now", iso(0), "12:00"},
		{"23h59m old", iso(23*time.Hour + 59*time.Minute), "12:01"},
		{"24h01m old", iso(24*time.Hour + time.Minute), Yesterday},
		{"47h59m old", iso(47*time.Hour + 59*time.Minute), Yesterday},
		{"48h01m old", iso(48*time.Hour + time.Minute), "May 8, 2024"},
		{"future", now.Add(time.Hour).Format(time.RFC3339), "13:00"},
		{"naive timestamp", "2024-05-10T09:30:00", "09:30"},
		{"old date", "2023-01-15T08:00:00Z", "Jan 15, 2023"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatTime(tt.in, now, time.UTC, DefaultLayouts); got != tt.want {
				t.Errorf("FormatTime(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatTimeLocation(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	loc := time.FixedZone("UTC-3", -3*60*60)

	got := FormatTime("2024-05-10T11:00:00Z", now, loc, DefaultLayouts)
	if got != "08:00" {
		t.Errorf("FormatTime in UTC-3 = %q, want 08:00", got)
	}
}

func TestFormatTimeCustomLayouts(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	l := Layouts{Time: "3:04PM", Date: "02/01/2006"}

	if got := FormatTime("2024-05-10T13:15:00Z", now.Add(2*time.Hour), time.UTC, l); got != "1:15PM" {
		t.Errorf("time layout = %q, want 1:15PM", got)
	}
	if got := FormatTime("2024-04-01T00:00:00Z", now, time.UTC, l); got != "01/04/2024" {
		t.Errorf("date layout = %q, want 01/04/2024", got)
	}
}
