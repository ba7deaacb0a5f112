package cli

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/turtacn/VigorCast/internal/domain/table"
)

// FrameOutput prints a Frame as CSV text, an aligned table, or a JSON array
// of row objects.
type FrameOutput struct {
	Name  string
	Frame *table.Frame
}

func (o FrameOutput) TableHeaders() []string { return o.Frame.Columns() }

func (o FrameOutput) TableRows() [][]string {
	rows := make([][]string, o.Frame.Len())
	for i := range rows {
		raw := o.Frame.Row(i)
		cells := make([]string, len(raw))
		for j, c := range raw {
			cells[j] = table.FormatCell(c)
		}
		rows[i] = cells
	}
	return rows
}

func (o FrameOutput) String() string {
	data, err := table.Encode(o.Frame)
	if err != nil {
		return fmt.Sprintf("# %s: %v\n", o.Name, err)
	}
	if o.Name == "" {
		return string(data)
	}
	return "# " + o.Name + "\n" + string(data)
}

func (o FrameOutput) MarshalJSON() ([]byte, error) {
	cols := o.Frame.Columns()
	rows := make([]map[string]interface{}, o.Frame.Len())
	for i := range rows {
		raw := o.Frame.Row(i)
		m := make(map[string]interface{}, len(cols))
		for j, c := range cols {
			m[c] = jsonCell(raw[j])
		}
		rows[i] = m
	}
	return json.Marshal(rows)
}

// jsonCell maps NaN and infinities to null.
func jsonCell(c interface{}) interface{} {
	if f, ok := c.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil
	}
	return c
}

// FrameSet prints several frames one after another.
type FrameSet []FrameOutput

func (s FrameSet) String() string {
	parts := make([]string, len(s))
	for i, o := range s {
		parts[i] = o.String()
	}
	return strings.Join(parts, "\n")
}

func (s FrameSet) MarshalJSON() ([]byte, error) {
	m := make(map[string]FrameOutput, len(s))
	for _, o := range s {
		m[o.Name] = o
	}
	return json.Marshal(m)
}
