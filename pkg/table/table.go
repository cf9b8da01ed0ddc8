// Package table defines the tabular data model that sheetqa validates and
// corrects: ordered named columns of text cells, addressed by zero-based
// row index and column name.
package table

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrUnknownColumn   = errors.New("unknown column")
	ErrRowOutOfRange   = errors.New("row out of range")
	ErrDuplicateColumn = errors.New("duplicate column name")
	ErrRowTooWide      = errors.New("row has more cells than columns")
)

// Table is read access to a loaded table.
type Table interface {
	Columns() []string
	Len() int
	Cell(row int, column string) (string, bool)
}

// Mutable is a Table whose cells can be rewritten. Only history commands
// write through this interface.
type Mutable interface {
	Table
	SetCell(row int, column, value string) error
}

// Meta carries loader metadata alongside the table. The core never
// interprets it beyond display.
type Meta struct {
	Source    string `json:"source,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	Delimiter string `json:"delimiter,omitempty"`
	HeaderRow int    `json:"header_row"`
}

// Grid is the in-memory Mutable implementation.
type Grid struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

// NewGrid builds a grid. Short rows are padded with empty cells; column names
// must be unique.
func NewGrid(columns []string, rows [][]string) (*Grid, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c)
		}
		index[c] = i
	}

	data := make([][]string, len(rows))
	for i, r := range rows {
		if len(r) > len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrRowTooWide, i, len(r), len(columns))
		}
		row := make([]string, len(columns))
		copy(row, r)
		data[i] = row
	}

	return &Grid{
		columns: append([]string(nil), columns...),
		index:   index,
		rows:    data,
	}, nil
}

// Columns returns the column names in table order.
func (g *Grid) Columns() []string {
	return append([]string(nil), g.columns...)
}

// Len returns the number of data rows.
func (g *Grid) Len() int { return len(g.rows) }

// Cell returns the value at (row, column).
func (g *Grid) Cell(row int, column string) (string, bool) {
	i, ok := g.index[column]
	if !ok || row < 0 || row >= len(g.rows) {
		return "", false
	}
	return g.rows[row][i], true
}

// SetCell rewrites the value at (row, column).
func (g *Grid) SetCell(row int, column, value string) error {
	i, ok := g.index[column]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	if row < 0 || row >= len(g.rows) {
		return fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
	}
	g.rows[row][i] = value
	return nil
}

// Row returns a copy of one row in column order.
func (g *Grid) Row(row int) []string {
	if row < 0 || row >= len(g.rows) {
		return nil
	}
	return append([]string(nil), g.rows[row]...)
}

// Rows returns a deep copy of every row.
func (g *Grid) Rows() [][]string {
	out := make([][]string, len(g.rows))
	for i, r := range g.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// Clone returns an independent copy of the grid.
func (g *Grid) Clone() *Grid {
	c, _ := NewGrid(g.columns, g.rows)
	return c
}

// Snapshot copies any Table into a Grid. Background validation reads a
// snapshot so later edits cannot race with rule reads.
func Snapshot(t Table) *Grid {
	if g, ok := t.(*Grid); ok {
		return g.Clone()
	}
	cols := t.Columns()
	rows := make([][]string, t.Len())
	for r := range rows {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i], _ = t.Cell(r, c)
		}
		rows[r] = row
	}
	g, _ := NewGrid(cols, rows)
	return g
}

// HasColumn reports whether t has a column with the given name.
func HasColumn(t Table, column string) bool {
	for _, c := range t.Columns() {
		if c == column {
			return true
		}
	}
	return false
}

// ColumnValues returns every value of one column in row order.
func ColumnValues(t Table, column string) ([]string, bool) {
	if !HasColumn(t, column) {
		return nil, false
	}
	out := make([]string, t.Len())
	for r := range out {
		out[r], _ = t.Cell(r, column)
	}
	return out, true
}

// RowValues returns one row's values in column order.
func RowValues(t Table, row int) []string {
	cols := t.Columns()
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i], _ = t.Cell(row, c)
	}
	return out
}

// RowKey is a stable digest of a full row tuple, used to detect duplicates.
func RowKey(values []string) string {
	data, _ := json.Marshal(values)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
