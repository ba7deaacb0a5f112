package table

import (
	"strings"

	"github.com/turtacn/VigorCast/pkg/errors"
)

// ErrColumnInference is returned when no column matches an inference rule.
var ErrColumnInference = errors.New(errors.ErrCodeColumnInference, "could not infer column")

// YearColumnNames are matched case-insensitively by InferYearColumn.
var YearColumnNames = []string{"year", "annee", "année", "yr"}

// sniffRows bounds how many non-missing cells decide whether a column is numeric.
const sniffRows = 5

// InferYearColumn returns the first column named like a year, falling back
// to the first integer-valued column.
func InferYearColumn(f *Frame) (string, error) {
	for _, c := range f.columns {
		name := strings.ToLower(strings.TrimSpace(c))
		for _, y := range YearColumnNames {
			if name == y {
				return c, nil
			}
		}
	}
	for _, c := range f.columns {
		if f.isIntegerColumn(c) {
			return c, nil
		}
	}
	return "", ErrColumnInference.WithDetailf("no year column among %s", strings.Join(f.columns, ","))
}

// InferValueColumn returns the first column whose name contains hint
// (case-insensitive), skipping the names in exclude. Without a match it
// falls back to the first numeric column not excluded.
func InferValueColumn(f *Frame, hint string, exclude ...string) (string, error) {
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	h := strings.ToLower(hint)
	if h != "" {
		for _, c := range f.columns {
			if !skip[c] && strings.Contains(strings.ToLower(c), h) {
				return c, nil
			}
		}
	}
	for _, c := range f.columns {
		if !skip[c] && f.IsNumericColumn(c) {
			return c, nil
		}
	}
	return "", ErrColumnInference.WithDetailf("no column matching %q among %s", hint, strings.Join(f.columns, ","))
}

// NumericColumns returns the numeric columns in order, skipping exclude.
func (f *Frame) NumericColumns(exclude ...string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	var out []string
	for _, c := range f.columns {
		if !skip[c] && f.IsNumericColumn(c) {
			out = append(out, c)
		}
	}
	return out
}

// IsNumericColumn reports whether the first non-missing cells of column are
// all numbers. An all-missing column is not numeric.
func (f *Frame) IsNumericColumn(column string) bool {
	return f.sniff(column, func(c interface{}) bool {
		switch c.(type) {
		case int, float64:
			return true
		}
		return false
	})
}

func (f *Frame) isIntegerColumn(column string) bool {
	return f.sniff(column, func(c interface{}) bool {
		_, ok := c.(int)
		return ok
	})
}

func (f *Frame) sniff(column string, accept func(interface{}) bool) bool {
	j, ok := f.index[column]
	if !ok {
		return false
	}
	seen := 0
	for _, row := range f.rows {
		if row[j] == nil {
			continue
		}
		if !accept(row[j]) {
			return false
		}
		seen++
		if seen == sniffRows {
			break
		}
	}
	return seen > 0
}
