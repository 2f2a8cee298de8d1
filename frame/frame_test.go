package frame

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityflow/vehown/errs"
)

func mustRead(t *testing.T, text string, opts ReadOptions) *Frame {
	t.Helper()
	f, err := Read(strings.NewReader(text), "test.csv", opts)
	require.NoError(t, err)
	return f
}

func TestReadTypesAndKeys(t *testing.T) {
	f := mustRead(t, "taz,emp,label\n1.0,100,\n2,,7\n", ReadOptions{Keys: []string{"taz"}})

	keys, err := f.Keys("taz")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, keys)

	emp, err := f.Floats("emp")
	require.NoError(t, err)
	assert.Equal(t, 100.0, emp[0])
	assert.True(t, math.IsNaN(emp[1]))

	label, err := f.Floats("label")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(label[0]))
	assert.Equal(t, 7.0, label[1])
}

func TestReadWhereFiltersBeforeStoring(t *testing.T) {
	text := "person_num,block_id,persons\n1,10,3\n2,10,3\n1,11,1\n3,11,1\n"
	f := mustRead(t, text, ReadOptions{
		Keys:    []string{"block_id"},
		Columns: []string{"block_id", "persons"},
		Where: func(r Record) bool {
			v, ok := r.Float("person_num")
			return ok && v == 1
		},
	})
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, []string{"block_id", "persons"}, f.Columns())
}

func TestReadPositionalColumns(t *testing.T) {
	f := mustRead(t, "TAZ,Tot_Emp,Retail\n1,10,2\n", ReadOptions{
		FirstN: 2,
		Names:  []string{"taz", "emp"},
		Keys:   []string{"taz"},
	})
	assert.Equal(t, []string{"taz", "emp"}, f.Columns())
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		opts   ReadOptions
		column string
	}{
		{"missing column", "a,b\n1,2\n", ReadOptions{Columns: []string{"c"}}, "c"},
		{"bad number", "a,b\n1,x\n", ReadOptions{}, "b"},
		{"empty file", "", ReadOptions{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.text), "bad.csv", tt.opts)
			var fe *errs.InputFileError
			require.True(t, errors.As(err, &fe), "got %v", err)
			assert.Equal(t, "bad.csv", fe.Path)
			assert.Equal(t, tt.column, fe.Column)
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := map[string]string{
		"12.0":   "12",
		"12.000": "12",
		"12.5":   "12.5",
		"06001":  "06001",
		"abc.0":  "abc.0",
		"":       "",
	}
	for in, want := range tests {
		if got := NormalizeKey(in); got != want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteRoundTrip(t *testing.T) {
	f := New("mem")
	require.NoError(t, f.SetKeys("taz", []string{"1", "2"}))
	require.NoError(t, f.SetFloats("share", []float64{0.25, math.NaN()}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	assert.Equal(t, "taz,share\n1,0.25\n2,\n", buf.String())
}

func TestSetColumnLengthMismatch(t *testing.T) {
	f := New("mem")
	require.NoError(t, f.SetFloats("a", []float64{1, 2}))
	assert.Error(t, f.SetFloats("b", []float64{1}))
}

func TestRename(t *testing.T) {
	f := mustRead(t, "GEOID10,intden\n1,2\n", ReadOptions{Keys: []string{"GEOID10"}})
	require.NoError(t, f.Rename("GEOID10", "blockgroup_id"))
	assert.True(t, f.Has("blockgroup_id"))
	assert.False(t, f.Has("GEOID10"))
	assert.Error(t, f.Rename("nope", "x"))
}

func TestJoin(t *testing.T) {
	left := mustRead(t, "hh,taz\na,1\nb,2\nc,9\n", ReadOptions{Keys: []string{"hh", "taz"}})
	right := mustRead(t, "ID,pct\n1,0.5\n2,0.25\n3,0.75\n", ReadOptions{Keys: []string{"ID"}})

	tests := []struct {
		how     How
		wantHH  []string
		wantTAZ []string
		wantPct []float64
	}{
		{Left, []string{"a", "b", "c"}, []string{"1", "2", "9"}, []float64{0.5, 0.25, math.NaN()}},
		{Inner, []string{"a", "b"}, []string{"1", "2"}, []float64{0.5, 0.25}},
		{Right, []string{"a", "b", ""}, []string{"1", "2", "3"}, []float64{0.5, 0.25, 0.75}},
		{Outer, []string{"a", "b", "c", ""}, []string{"1", "2", "9", "3"}, []float64{0.5, 0.25, math.NaN(), 0.75}},
	}
	for _, tt := range tests {
		t.Run(tt.how.String(), func(t *testing.T) {
			out, err := Join(left, right, "taz", "ID", tt.how)
			require.NoError(t, err)
			assert.Equal(t, []string{"hh", "taz", "pct"}, out.Columns())
			hh, _ := out.Keys("hh")
			taz, _ := out.Keys("taz")
			pct, _ := out.Floats("pct")
			if diff := cmp.Diff(tt.wantHH, hh); diff != "" {
				t.Errorf("hh mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantTAZ, taz); diff != "" {
				t.Errorf("taz mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantPct, pct, cmp.Comparer(func(a, b float64) bool {
				return a == b || (math.IsNaN(a) && math.IsNaN(b))
			})); diff != "" {
				t.Errorf("pct mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestJoinRepeatsLeftRowsPerMatch(t *testing.T) {
	hh := mustRead(t, "block_id,veh\nb1,2\nb2,1\n", ReadOptions{Keys: []string{"block_id"}})
	fct := mustRead(t, "block_id,taz,area_fct\nb1,1,0.4\nb1,2,0.6\nb2,2,1\n", ReadOptions{Keys: []string{"block_id", "taz"}})
	out, err := Join(hh, fct, "block_id", "block_id", Inner)
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())
	taz, _ := out.Keys("taz")
	assert.Equal(t, []string{"1", "2", "2"}, taz)
}

func TestJoinColumnClash(t *testing.T) {
	left := mustRead(t, "k,v\n1,2\n", ReadOptions{Keys: []string{"k"}})
	right := mustRead(t, "k,v\n1,3\n", ReadOptions{Keys: []string{"k"}})
	_, err := Join(left, right, "k", "k", Left)
	var je *errs.JoinIntegrityError
	assert.True(t, errors.As(err, &je))
}

func TestJoinEmptyKeysNeverMatch(t *testing.T) {
	left := mustRead(t, "hh,taz\na,\nb,1\n", ReadOptions{Keys: []string{"hh", "taz"}})
	right := mustRead(t, "ID,pct\n,0.5\n1,0.25\n", ReadOptions{Keys: []string{"ID"}})

	inner, err := Join(left, right, "taz", "ID", Inner)
	require.NoError(t, err)
	hh, _ := inner.Keys("hh")
	assert.Equal(t, []string{"b"}, hh)

	lj, err := Join(left, right, "taz", "ID", Left)
	require.NoError(t, err)
	taz, _ := lj.Keys("taz")
	pct, _ := lj.Floats("pct")
	assert.Equal(t, []string{"", "1"}, taz)
	assert.True(t, math.IsNaN(pct[0]))
	assert.Equal(t, 0.25, pct[1])
}

func TestGroupSum(t *testing.T) {
	f := mustRead(t, "taz,veh_0,veh_1\n10,0.5,1\n2,1,\n10,0.25,2\n", ReadOptions{Keys: []string{"taz"}})
	out, err := GroupSum(f, "taz", []string{"veh_0", "veh_1"})
	require.NoError(t, err)

	taz, _ := out.Keys("taz")
	v0, _ := out.Floats("veh_0")
	v1, _ := out.Floats("veh_1")
	assert.Equal(t, []string{"2", "10"}, taz)
	assert.Equal(t, []float64{1, 0.75}, v0)
	assert.Equal(t, []float64{0, 3}, v1)

	none, err := GroupSum(f.Filter(func(int) bool { return false }), "taz", []string{"veh_0"})
	require.NoError(t, err)
	assert.Equal(t, 0, none.Len())
}

func TestFilterAndFillNaN(t *testing.T) {
	f := mustRead(t, "a,b\n1,\n2,5\n3,\n", ReadOptions{})
	f.FillNaN(0)
	b, _ := f.Floats("b")
	assert.Equal(t, []float64{0, 5, 0}, b)

	a, _ := f.Floats("a")
	odd := f.Filter(func(i int) bool { return int(a[i])%2 == 1 })
	assert.Equal(t, 2, odd.Len())
}
