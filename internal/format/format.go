// Package format renders interpreter results for terminals and Markdown
// reports. Tables go through TableBuilder so callers never touch go-pretty.
package format

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Mode selects how a table is rendered.
type Mode string

const (
	ASCII    Mode = "ascii"    // box-drawn terminal tables
	Markdown Mode = "markdown" // GitHub-flavoured pipe tables
)

// ParseMode maps a --format flag value to a Mode. JSON output is handled by
// callers and is not a table Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ascii", "table", "text":
		return ASCII, nil
	case "markdown", "md":
		return Markdown, nil
	}
	return ASCII, fmt.Errorf("format: unknown output mode %q", s)
}

func (m Mode) String() string { return string(m) }

// ColumnAlign specifies the horizontal alignment for a column.
type ColumnAlign int

const (
	AlignDefault ColumnAlign = iota
	AlignLeft
	AlignCenter
	AlignRight
)

var textAlign = [...]text.Align{
	AlignDefault: text.AlignDefault,
	AlignLeft:    text.AlignLeft,
	AlignCenter:  text.AlignCenter,
	AlignRight:   text.AlignRight,
}

// ColumnConfig controls per-column formatting.
type ColumnConfig struct {
	Number   int // 1-based column index
	Align    ColumnAlign
	MaxWidth int // wrap beyond this width; 0 means unlimited
}

// TableBuilder collects a table and renders it in the Mode chosen at
// creation. Calls may come in any order; nothing is laid out until String.
type TableBuilder interface {
	Header(cols ...string)
	// Row appends a data row; values are printed with fmt.Sprint.
	Row(vals ...any)
	// Footer appends a totals row.
	Footer(vals ...any)
	Columns(cfgs ...ColumnConfig)
	// Title sets a caption rendered on its own line above the table.
	Title(title string)
	// Len is the number of data rows, footers excluded.
	Len() int
	String() string
}

// NewTable returns an empty TableBuilder for the given Mode. An unknown
// Mode renders as ASCII.
func NewTable(m Mode) TableBuilder {
	if m != Markdown {
		m = ASCII
	}
	return &builder{mode: m}
}

type builder struct {
	mode    Mode
	title   string
	header  table.Row
	rows    []table.Row
	footers []table.Row
	cols    map[int]ColumnConfig
}

func (b *builder) Header(cols ...string) {
	b.header = make(table.Row, len(cols))
	for i, c := range cols {
		b.header[i] = c
	}
}

func (b *builder) Row(vals ...any)    { b.rows = append(b.rows, table.Row(vals)) }
func (b *builder) Footer(vals ...any) { b.footers = append(b.footers, table.Row(vals)) }
func (b *builder) Title(title string) { b.title = title }
func (b *builder) Len() int           { return len(b.rows) }

// Columns merges into earlier settings, so a later call for the same
// column number wins.
func (b *builder) Columns(cfgs ...ColumnConfig) {
	if b.cols == nil {
		b.cols = make(map[int]ColumnConfig, len(cfgs))
	}
	for _, c := range cfgs {
		if c.Number > 0 {
			b.cols[c.Number] = c
		}
	}
}

func (b *builder) String() string {
	w := table.NewWriter()
	if b.mode == ASCII {
		w.SetStyle(table.StyleLight)
	}
	if b.header != nil {
		w.AppendHeader(b.header)
	}
	w.AppendRows(b.rows)
	for _, f := range b.footers {
		w.AppendFooter(f)
	}
	if len(b.cols) > 0 {
		cfgs := make([]table.ColumnConfig, 0, len(b.cols))
		for n, c := range b.cols {
			cfgs = append(cfgs, table.ColumnConfig{Number: n, Align: textAlign[c.Align], WidthMax: c.MaxWidth})
		}
		w.SetColumnConfigs(cfgs)
	}
	if b.mode == Markdown {
		return caption(b.title, "**%s**\n\n") + w.RenderMarkdown()
	}
	return caption(b.title, "%s\n") + w.Render()
}

// caption sits on its own line above the table. go-pretty wraps titles to
// the table width, which breaks captions over narrow tables.
func caption(title, layout string) string {
	if title == "" {
		return ""
	}
	return fmt.Sprintf(layout, title)
}
