// Package report renders the run report of an analysis context.
package report

// KV is one summary line of a page.
type KV struct {
	Key   string
	Value string
}

// Table is a rectangular block of text cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Page is one section of the report. Analysis operations contribute extra
// pages next to the summary built from the context.
type Page struct {
	Title   string
	Summary []KV
	Table   *Table
}

// AddSummary appends a key/value line.
func (p *Page) AddSummary(key, value string) {
	p.Summary = append(p.Summary, KV{Key: key, Value: value})
}
