package format_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nneupane1/telemetry-agent/internal/format"
)

func TestNewTable_Modes(t *testing.T) {
	tests := []struct {
		name     string
		mode     format.Mode
		want     []string
		mustMiss string
	}{
		{"ascii", format.ASCII, []string{"HI-1001", "Boost pressure", "0.95", "───"}, "| ---"},
		{"markdown", format.Markdown, []string{"| Code", "---", "HI-2102", "0.88"}, "───"},
		{"unknown falls back to ascii", format.Mode("html"), []string{"───"}, "| ---"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tb := format.NewTable(tc.mode)
			tb.Header("Code", "Label", "Confidence")
			tb.Row("HI-1001", "Boost pressure", 0.95)
			tb.Row("HI-2102", "Battery voltage", 0.88)
			out := tb.String()
			for _, w := range tc.want {
				if !strings.Contains(out, w) {
					t.Errorf("missing %q in:\n%s", w, out)
				}
			}
			if strings.Contains(out, tc.mustMiss) {
				t.Errorf("unexpected %q in:\n%s", tc.mustMiss, out)
			}
		})
	}
}

func TestFooterIsNotARow(t *testing.T) {
	tb := format.NewTable(format.Markdown)
	tb.Header("Source", "Rows")
	tb.Row("MH", 3)
	tb.Row("FIM", 1)
	tb.Footer("Total", 4)
	if tb.Len() != 2 {
		t.Errorf("Len = %d, want 2", tb.Len())
	}
	if out := tb.String(); !strings.Contains(strings.ToLower(out), "total") {
		t.Errorf("footer missing:\n%s", out)
	}
}

func TestColumns_LaterCallWins(t *testing.T) {
	tb := format.NewTable(format.ASCII)
	tb.Header("Cohort", "VINs")
	tb.Row("EURO6-DIESEL", 1240)
	tb.Row("BEV-2024", 7)
	tb.Columns(format.ColumnConfig{Number: 2, Align: format.AlignLeft})
	tb.Columns(format.ColumnConfig{Number: 2, Align: format.AlignRight}, format.ColumnConfig{Number: 0})

	var line string
	for _, l := range strings.Split(tb.String(), "\n") {
		if strings.Contains(l, "BEV-2024") {
			line = l
		}
	}
	if !strings.Contains(line, "    7 │") {
		t.Errorf("VIN count not right-aligned: %q", line)
	}
}

func TestTitleAndLen(t *testing.T) {
	tb := format.NewTable(format.ASCII)
	tb.Title("Rows 100%")
	tb.Header("A")
	tb.Row("x")
	tb.Row("y")
	tb.Footer("z")
	if tb.Len() != 2 {
		t.Errorf("Len = %d, want 2", tb.Len())
	}
	if out := tb.String(); !strings.Contains(strings.ToLower(out), "rows 100%") {
		t.Errorf("expected title in output:\n%s", out)
	}
}

func TestTitle_WiderThanTable(t *testing.T) {
	tests := []struct {
		mode format.Mode
		want string
	}{
		{format.ASCII, "Rejected rows"},
		{format.Markdown, "**Rejected rows**"},
	}
	for _, tc := range tests {
		t.Run(tc.mode.String(), func(t *testing.T) {
			tb := format.NewTable(tc.mode)
			tb.Title("Rejected rows")
			tb.Header("#")
			tb.Row(1)
			lines := strings.Split(tb.String(), "\n")
			if diff := cmp.Diff(tc.want, lines[0]); diff != "" {
				t.Errorf("first line (-want +got):\n%s", diff)
			}
			if n := strings.Count(tb.String(), "Rejected rows"); n != 1 {
				t.Errorf("title appears %d times, want once", n)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    format.Mode
		wantErr bool
	}{
		{"", format.ASCII, false},
		{"ascii", format.ASCII, false},
		{"TABLE", format.ASCII, false},
		{"markdown", format.Markdown, false},
		{" md ", format.Markdown, false},
		{"json", format.ASCII, true},
	}
	for _, tc := range tests {
		got, err := format.ParseMode(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestConfidenceAndPercent(t *testing.T) {
	if got := format.Confidence(0.5); got != "0.50" {
		t.Errorf("Confidence = %q", got)
	}
	if got := format.Confidence(1); got != "1.00" {
		t.Errorf("Confidence = %q", got)
	}
	if got := format.Percent(0.425); got != "42.5%" {
		t.Errorf("Percent = %q", got)
	}
}

func TestTimestamp(t *testing.T) {
	if got := format.Timestamp(time.Time{}); got != "-" {
		t.Errorf("zero Timestamp = %q", got)
	}
	at := time.Date(2026, 2, 20, 13, 4, 59, 0, time.FixedZone("CET", 3600))
	if got := format.Timestamp(at); got != "2026-02-20 12:04Z" {
		t.Errorf("Timestamp = %q", got)
	}
}

func TestFmtDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{250 * time.Millisecond, "250ms"},
		{30 * time.Second, "30s"},
		{60 * time.Second, "1m 0s"},
		{5*time.Minute + 15*time.Second, "5m 15s"},
	}
	for _, tc := range tests {
		got := format.FmtDuration(tc.in)
		if got != tc.want {
			t.Errorf("FmtDuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 8, "hello..."},
		{"ab", 3, "ab"},
		{"abcdef", 3, "abc"},
		{"überprüfung", 6, "übe..."},
	}
	for _, tc := range tests {
		got := format.Truncate(tc.in, tc.maxLen)
		if got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.maxLen, got, tc.want)
		}
	}
}

func TestBoolMarkAndOrDash(t *testing.T) {
	if format.BoolMark(true) != "✓" || format.BoolMark(false) != "✗" {
		t.Error("BoolMark marks are wrong")
	}
	if format.OrDash("") != "-" || format.OrDash("x") != "x" {
		t.Error("OrDash is wrong")
	}
}
