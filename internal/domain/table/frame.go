// Package table provides the in-memory tabular value passed between pipeline
// stages, together with the tolerant CSV codec used to ingest and export it.
//
// A Frame is an ordered list of named columns and a list of rows. A cell is
// nil (missing), an int, a float64 or a string. Frames are treated as
// immutable values: every transforming method returns a new Frame.
package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/turtacn/VigorCast/pkg/errors"
)

var (
	// ErrMissingColumn is returned when a required column is absent.
	ErrMissingColumn = errors.New(errors.ErrCodeMissingColumn, "required column missing")
	// ErrColumnType is returned when a cell cannot be read as the requested type.
	ErrColumnType = errors.New(errors.ErrCodeColumnType, "column has wrong type")
	// ErrDuplicateColumn is returned when a header repeats a column name.
	ErrDuplicateColumn = errors.New(errors.ErrCodeDuplicateColumn, "duplicate column name")
	// ErrRowWidth is returned when a row's width differs from the header.
	ErrRowWidth = errors.New(errors.ErrCodeRowWidth, "row width does not match header")
)

// Frame is a column-named table.
type Frame struct {
	columns []string
	index   map[string]int
	rows    [][]interface{}
}

// New returns an empty Frame with the given columns.
func New(columns ...string) (*Frame, error) {
	f := &Frame{
		columns: append([]string(nil), columns...),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if _, dup := f.index[c]; dup {
			return nil, ErrDuplicateColumn.WithDetailf("column=%s", c)
		}
		f.index[c] = i
	}
	return f, nil
}

// MustNew is New for column lists known at compile time.
func MustNew(columns ...string) *Frame {
	f, err := New(columns...)
	if err != nil {
		panic(err)
	}
	return f
}

// Columns returns a copy of the column names in order.
func (f *Frame) Columns() []string {
	return append([]string(nil), f.columns...)
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.rows) }

// Has reports whether the frame carries column.
func (f *Frame) Has(column string) bool {
	_, ok := f.index[column]
	return ok
}

// Require returns ErrMissingColumn naming the first absent column.
func (f *Frame) Require(columns ...string) error {
	for _, c := range columns {
		if !f.Has(c) {
			return ErrMissingColumn.WithDetailf("column=%s available=%s", c, strings.Join(f.columns, ","))
		}
	}
	return nil
}

// Append adds a row. The number of cells must match the column count.
func (f *Frame) Append(cells ...interface{}) error {
	if len(cells) != len(f.columns) {
		return ErrRowWidth.WithDetailf("want %d cells, got %d", len(f.columns), len(cells))
	}
	row := make([]interface{}, len(cells))
	for i, c := range cells {
		row[i] = normalize(c)
	}
	f.rows = append(f.rows, row)
	return nil
}

// Row returns a copy of row i.
func (f *Frame) Row(i int) []interface{} {
	return append([]interface{}(nil), f.rows[i]...)
}

// Cell returns the raw cell at (row, column).
func (f *Frame) Cell(row int, column string) (interface{}, error) {
	j, ok := f.index[column]
	if !ok {
		return nil, ErrMissingColumn.WithDetailf("column=%s", column)
	}
	return f.rows[row][j], nil
}

// Float reads a cell as float64. Missing cells read as NaN.
func (f *Frame) Float(row int, column string) (float64, error) {
	c, err := f.Cell(row, column)
	if err != nil {
		return 0, err
	}
	switch v := c.(type) {
	case nil:
		return math.NaN(), nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		x, perr := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if perr != nil {
			return 0, ErrColumnType.WithDetailf("column=%s row=%d value=%q want number", column, row, v)
		}
		return x, nil
	}
	return 0, ErrColumnType.WithDetailf("column=%s row=%d", column, row)
}

// Int reads a cell as int. Floats must be integral; missing cells are an error.
func (f *Frame) Int(row int, column string) (int, error) {
	c, err := f.Cell(row, column)
	if err != nil {
		return 0, err
	}
	switch v := c.(type) {
	case int:
		return v, nil
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return int(v), nil
		}
	case string:
		if n, perr := strconv.Atoi(strings.TrimSpace(v)); perr == nil {
			return n, nil
		}
	}
	return 0, ErrColumnType.WithDetailf("column=%s row=%d value=%v want integer", column, row, c)
}

// Text reads a cell as string. Numbers are rendered without exponent where
// possible; missing cells read as "".
func (f *Frame) Text(row int, column string) (string, error) {
	c, err := f.Cell(row, column)
	if err != nil {
		return "", err
	}
	return FormatCell(c), nil
}

// FormatCell renders a cell the way the CSV writer does.
func FormatCell(c interface{}) string {
	switch v := c.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		if math.IsNaN(v) {
			return ""
		}
		return strconv.FormatFloat(v, 'g', 10, 64)
	}
	return ""
}

// Drop returns a copy without the named columns. Unknown names are ignored.
func (f *Frame) Drop(columns ...string) *Frame {
	drop := make(map[string]bool, len(columns))
	for _, c := range columns {
		drop[c] = true
	}
	keep := make([]string, 0, len(f.columns))
	for _, c := range f.columns {
		if !drop[c] {
			keep = append(keep, c)
		}
	}
	out, _ := f.Select(keep...)
	return out
}

// Select returns a copy holding only the named columns, in the given order.
func (f *Frame) Select(columns ...string) (*Frame, error) {
	if err := f.Require(columns...); err != nil {
		return nil, err
	}
	out, err := New(columns...)
	if err != nil {
		return nil, err
	}
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = f.index[c]
	}
	out.rows = make([][]interface{}, len(f.rows))
	for r, row := range f.rows {
		nr := make([]interface{}, len(idx))
		for i, j := range idx {
			nr[i] = row[j]
		}
		out.rows[r] = nr
	}
	return out, nil
}

// Filter returns a copy holding the rows for which keep returns true.
func (f *Frame) Filter(keep func(row int) bool) *Frame {
	out := &Frame{columns: f.Columns(), index: f.index}
	for i, row := range f.rows {
		if keep(i) {
			out.rows = append(out.rows, append([]interface{}(nil), row...))
		}
	}
	return out
}

// WithColumn returns a copy with column appended (or replaced) using value
// to compute each row's cell.
func (f *Frame) WithColumn(column string, value func(row int) interface{}) *Frame {
	cols := f.Columns()
	j, exists := f.index[column]
	if !exists {
		cols = append(cols, column)
		j = len(cols) - 1
	}
	out := MustNew(cols...)
	out.rows = make([][]interface{}, len(f.rows))
	for i, row := range f.rows {
		nr := make([]interface{}, len(cols))
		copy(nr, row)
		nr[j] = normalize(value(i))
		out.rows[i] = nr
	}
	return out
}

// Overlap returns the columns present in both frames, in f's order,
// excluding the names in except.
func (f *Frame) Overlap(other *Frame, except ...string) []string {
	skip := make(map[string]bool, len(except))
	for _, e := range except {
		skip[e] = true
	}
	var out []string
	for _, c := range f.columns {
		if !skip[c] && other.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// LeftJoin joins right onto f by key. Every row of f appears at least once;
// a row matching k rows of right appears k times, in right's order. Rows
// without a match carry nil for right's columns. Non-key columns must not
// overlap.
func (f *Frame) LeftJoin(right *Frame, key string) (*Frame, error) {
	if err := f.Require(key); err != nil {
		return nil, err
	}
	if err := right.Require(key); err != nil {
		return nil, err
	}
	if clash := f.Overlap(right, key); len(clash) > 0 {
		return nil, ErrDuplicateColumn.WithDetailf("join on %s would duplicate %s", key, strings.Join(clash, ","))
	}

	rightCols := make([]string, 0, len(right.columns)-1)
	for _, c := range right.columns {
		if c != key {
			rightCols = append(rightCols, c)
		}
	}
	out, err := New(append(f.Columns(), rightCols...)...)
	if err != nil {
		return nil, err
	}

	rk := right.index[key]
	matches := make(map[string][]int)
	for i, row := range right.rows {
		k := cellKey(row[rk])
		matches[k] = append(matches[k], i)
	}

	lk := f.index[key]
	for _, row := range f.rows {
		hits := matches[cellKey(row[lk])]
		if len(hits) == 0 {
			nr := make([]interface{}, len(out.columns))
			copy(nr, row)
			out.rows = append(out.rows, nr)
			continue
		}
		for _, h := range hits {
			nr := make([]interface{}, 0, len(out.columns))
			nr = append(nr, row...)
			for j, c := range right.columns {
				if c != key {
					nr = append(nr, right.rows[h][j])
				}
			}
			out.rows = append(out.rows, nr)
		}
	}
	return out, nil
}

// DropDuplicates keeps the first row for every distinct combination of keys
// and returns the number of rows removed.
func (f *Frame) DropDuplicates(keys ...string) (*Frame, int, error) {
	if err := f.Require(keys...); err != nil {
		return nil, 0, err
	}
	idx := make([]int, len(keys))
	for i, k := range keys {
		idx[i] = f.index[k]
	}
	seen := make(map[string]struct{}, len(f.rows))
	out := &Frame{columns: f.Columns(), index: f.index}
	removed := 0
	for _, row := range f.rows {
		parts := make([]string, len(idx))
		for i, j := range idx {
			parts[i] = cellKey(row[j])
		}
		k := strings.Join(parts, "\x1f")
		if _, dup := seen[k]; dup {
			removed++
			continue
		}
		seen[k] = struct{}{}
		out.rows = append(out.rows, append([]interface{}(nil), row...))
	}
	return out, removed, nil
}

// cellKey renders a cell for equality comparison. Integral floats compare
// equal to the matching int.
func cellKey(c interface{}) string {
	switch v := c.(type) {
	case nil:
		return "\x00"
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	case string:
		return v
	}
	return ""
}

func normalize(c interface{}) interface{} {
	switch v := c.(type) {
	case nil, string, int:
		return v
	case float64:
		if math.IsNaN(v) {
			return nil
		}
		return v
	case float32:
		return normalize(float64(v))
	case int64:
		return int(v)
	case int32:
		return int(v)
	}
	return fmt.Sprint(c)
}
