package domain

import (
	"fmt"
	"strings"
	"time"
)

// Window is the time span a leaderboard aggregates over.
type Window string

const (
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
	WindowAll   Window = "all-time"
)

func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case WindowDay, WindowWeek, WindowMonth, WindowAll:
		return w, nil
	case "", "all", "alltime":
		return WindowAll, nil
	default:
		return "", fmt.Errorf("unknown window %q", s)
	}
}

// Since returns the start of the window ending at now. The zero time is returned for WindowAll.
func (w Window) Since(now time.Time) time.Time {
	switch w {
	case WindowDay:
		return now.Add(-24 * time.Hour)
	case WindowWeek:
		return now.Add(-7 * 24 * time.Hour)
	case WindowMonth:
		return now.Add(-30 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}
