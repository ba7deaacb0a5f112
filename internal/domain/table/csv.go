package table

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/turtacn/VigorCast/pkg/errors"
)

// ErrParse is returned when no delimiter strategy could read the input.
var ErrParse = errors.New(errors.ErrCodeFileUnreadable, "input file unreadable")

// Strategy is one attempt at reading delimited text. A zero Delimiter means
// the delimiter is sniffed from the header line.
type Strategy struct {
	Name      string
	Delimiter rune
}

// DefaultStrategies is tried in order; the first strategy that yields a
// rectangular table with at least two columns wins.
var DefaultStrategies = []Strategy{
	{Name: "auto"},
	{Name: "comma", Delimiter: ','},
	{Name: "semicolon", Delimiter: ';'},
	{Name: "tab", Delimiter: '\t'},
}

// DefaultMissingTokens are read as missing cells (case-insensitive).
var DefaultMissingTokens = []string{"", "na", "nan", "null", "n/a", "none"}

type readOptions struct {
	strategies []Strategy
	text       map[string]bool
	missing    map[string]bool
}

// ReadOption customises Read.
type ReadOption func(*readOptions)

// WithStrategies replaces the strategy list.
func WithStrategies(s ...Strategy) ReadOption {
	return func(o *readOptions) { o.strategies = s }
}

// WithTextColumns keeps the named columns as strings even when they parse as
// numbers (region codes such as "007").
func WithTextColumns(columns ...string) ReadOption {
	return func(o *readOptions) {
		for _, c := range columns {
			o.text[c] = true
		}
	}
}

// WithMissingTokens replaces the tokens read as missing.
func WithMissingTokens(tokens ...string) ReadOption {
	return func(o *readOptions) {
		o.missing = make(map[string]bool, len(tokens))
		for _, t := range tokens {
			o.missing[strings.ToLower(t)] = true
		}
	}
}

// ReadFile opens path and reads it with Read.
func ReadFile(path string, opts ...ReadOption) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrParse.WithDetailf("path=%s", path).WithCause(err)
	}
	f, err := Parse(data, opts...)
	if err != nil {
		var ae *errors.AppError
		if errors.As(err, &ae) {
			return nil, ae.WithDetailf("path=%s %s", path, ae.Detail)
		}
		return nil, err
	}
	return f, nil
}

// Read consumes r and parses it with the configured strategies.
func Read(r io.Reader, opts ...ReadOption) (*Frame, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ErrParse.WithCause(err)
	}
	return Parse(data, opts...)
}

// Parse tries each strategy in order and returns the first success. On
// failure the error lists every attempted strategy with its reason.
func Parse(data []byte, opts ...ReadOption) (*Frame, error) {
	o := &readOptions{strategies: DefaultStrategies, text: map[string]bool{}}
	WithMissingTokens(DefaultMissingTokens...)(o)
	for _, opt := range opts {
		opt(o)
	}

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	attempts := make([]string, 0, len(o.strategies))
	for _, s := range o.strategies {
		f, err := parseWith(data, s, o)
		if err == nil {
			return f, nil
		}
		attempts = append(attempts, fmt.Sprintf("%s: %v", s.Name, err))
	}
	return nil, ErrParse.WithDetailf("tried %s", strings.Join(attempts, "; "))
}

func parseWith(data []byte, s Strategy, o *readOptions) (*Frame, error) {
	delim := s.Delimiter
	if delim == 0 {
		var ok bool
		if delim, ok = sniffDelimiter(data); !ok {
			return nil, fmt.Errorf("no delimiter found in header")
		}
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	header := records[0]
	if len(header) < 2 {
		return nil, fmt.Errorf("header has a single column")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	f, err := New(header...)
	if err != nil {
		return nil, err
	}
	f.rows = make([][]interface{}, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		row := make([]interface{}, len(header))
		for j, raw := range rec {
			row[j] = o.parseCell(header[j], raw)
		}
		f.rows = append(f.rows, row)
	}
	return f, nil
}

func (o *readOptions) parseCell(column, raw string) interface{} {
	v := strings.TrimSpace(raw)
	if o.missing[strings.ToLower(v)] {
		return nil
	}
	if o.text[column] {
		return v
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if x, err := strconv.ParseFloat(v, 64); err == nil {
		return normalize(x)
	}
	return v
}

// sniffDelimiter picks the candidate that occurs most often in the first
// non-empty line.
func sniffDelimiter(data []byte) (rune, bool) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		best, bestCount := rune(0), 0
		for _, c := range []rune{',', ';', '\t', '|'} {
			if n := strings.Count(line, string(c)); n > bestCount {
				best, bestCount = c, n
			}
		}
		return best, bestCount > 0
	}
	return 0, false
}

// Write renders f as comma-separated text with a header row. Floats use ten
// significant digits; missing cells are empty.
func Write(w io.Writer, f *Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.columns); err != nil {
		return errors.Wrap(err, errors.ErrCodeTableWriteFailed, "write header")
	}
	rec := make([]string, len(f.columns))
	for _, row := range f.rows {
		for j, c := range row {
			rec[j] = FormatCell(c)
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, errors.ErrCodeTableWriteFailed, "write row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.ErrCodeTableWriteFailed, "flush")
	}
	return nil
}

// Encode is Write into a byte slice.
func Encode(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
