package table

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/VigorCast/pkg/errors"
)

func mustAppend(t *testing.T, f *Frame, cells ...interface{}) {
	t.Helper()
	require.NoError(t, f.Append(cells...))
}

func TestNew_DuplicateColumn(t *testing.T) {
	_, err := New("Region", "Year", "Region")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateColumn))
}

func TestAppend_WidthChecked(t *testing.T) {
	f := MustNew("a", "b")
	err := f.Append(1)
	assert.True(t, errors.Is(err, ErrRowWidth))
	assert.Equal(t, 0, f.Len())
}

func TestAccessors(t *testing.T) {
	f := MustNew("Region", "Year", "Value")
	mustAppend(t, f, "R1", 2010, 0.5)
	mustAppend(t, f, "R2", 2011.0, nil)
	mustAppend(t, f, "R3", "2012", math.NaN())

	v, err := f.Float(0, "Value")
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	v, err = f.Float(1, "Value")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v))

	v, err = f.Float(2, "Value")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v), "NaN is stored as missing")

	for i, want := range []int{2010, 2011, 2012} {
		y, err := f.Int(i, "Year")
		require.NoError(t, err)
		assert.Equal(t, want, y)
	}

	_, err = f.Int(0, "Value")
	assert.True(t, errors.Is(err, ErrColumnType))

	_, err = f.Float(0, "Nope")
	assert.True(t, errors.Is(err, ErrMissingColumn))

	s, err := f.Text(0, "Year")
	require.NoError(t, err)
	assert.Equal(t, "2010", s)
}

func TestRequire_NamesColumn(t *testing.T) {
	f := MustNew("Region", "Year")
	err := f.Require("Region", "K")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeMissingColumn))
	assert.Contains(t, err.Error(), "column=K")
}

func TestDropSelectFilter(t *testing.T) {
	f := MustNew("a", "b", "c")
	mustAppend(t, f, 1, 2, 3)
	mustAppend(t, f, 4, 5, 6)

	d := f.Drop("b", "zzz")
	assert.Equal(t, []string{"a", "c"}, d.Columns())
	assert.Equal(t, []interface{}{4, 6}, d.Row(1))
	assert.Equal(t, []string{"a", "b", "c"}, f.Columns(), "source untouched")

	s, err := f.Select("c", "a")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{3, 1}, s.Row(0))

	flt := f.Filter(func(i int) bool { return i == 1 })
	require.Equal(t, 1, flt.Len())
	assert.Equal(t, []interface{}{4, 5, 6}, flt.Row(0))
}

func TestWithColumn(t *testing.T) {
	f := MustNew("x")
	mustAppend(t, f, 1)
	mustAppend(t, f, 2)

	g := f.WithColumn("double", func(i int) interface{} {
		v, _ := f.Int(i, "x")
		return float64(2 * v)
	})
	assert.Equal(t, []string{"x", "double"}, g.Columns())
	v, _ := g.Float(1, "double")
	assert.Equal(t, 4.0, v)
	assert.False(t, f.Has("double"))
}

func TestLeftJoin_MultiplesAndMisses(t *testing.T) {
	left := MustNew("Region", "Year")
	mustAppend(t, left, "A", 2020)
	mustAppend(t, left, "B", 2020)
	mustAppend(t, left, "C", 2020)

	right := MustNew("Region", "K")
	mustAppend(t, right, "A", 0.8)
	mustAppend(t, right, "A", 0.9)
	mustAppend(t, right, "B", 0.7)

	out, err := left.LeftJoin(right, "Region")
	require.NoError(t, err)
	assert.Equal(t, []string{"Region", "Year", "K"}, out.Columns())
	require.Equal(t, 4, out.Len())
	assert.Equal(t, []interface{}{"A", 2020, 0.8}, out.Row(0))
	assert.Equal(t, []interface{}{"A", 2020, 0.9}, out.Row(1))
	assert.Equal(t, []interface{}{"B", 2020, 0.7}, out.Row(2))
	assert.Equal(t, []interface{}{"C", 2020, nil}, out.Row(3))
}

func TestLeftJoin_RejectsOverlap(t *testing.T) {
	left := MustNew("Region", "Year")
	right := MustNew("Region", "Year", "K")
	_, err := left.LeftJoin(right, "Region")
	assert.True(t, errors.Is(err, ErrDuplicateColumn))
}

func TestDropDuplicates_FirstWins(t *testing.T) {
	f := MustNew("Region", "Year", "v")
	mustAppend(t, f, "A", 2020, 1)
	mustAppend(t, f, "A", 2020.0, 2)
	mustAppend(t, f, "A", 2021, 3)
	mustAppend(t, f, "B", 2020, 4)
	mustAppend(t, f, "B", 2020, 5)

	out, removed, err := f.DropDuplicates("Region", "Year")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	require.Equal(t, 3, out.Len())
	assert.Equal(t, 1, out.Row(0)[2])
	assert.Equal(t, 3, out.Row(1)[2])
	assert.Equal(t, 4, out.Row(2)[2])
}

func TestOverlap(t *testing.T) {
	a := MustNew("Region", "Year", "r", "K")
	b := MustNew("Region", "K", "Year")
	assert.Equal(t, []string{"Year", "K"}, a.Overlap(b, "Region"))
}
