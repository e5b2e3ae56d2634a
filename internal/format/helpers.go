package format

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Confidence formats a [0,1] confidence with two decimals.
func Confidence(c float64) string {
	return fmt.Sprintf("%.2f", c)
}

// Percent formats a [0,1] ratio as "42.0%".
func Percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// Timestamp formats t in UTC to the minute. The zero time renders as "-".
func Timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04Z")
}

// FmtDuration formats a duration as "Xm Ys", "Ys" or "Nms".
func FmtDuration(d time.Duration) string {
	if d > 0 && d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	s := int(d.Seconds())
	if s >= 60 {
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	}
	return fmt.Sprintf("%ds", s)
}

// Truncate shortens s to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// BoolMark returns "✓" for true and "✗" for false.
func BoolMark(v bool) string {
	if v {
		return "✓"
	}
	return "✗"
}

// OrDash returns "-" for an empty string.
func OrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
