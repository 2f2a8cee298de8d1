package assemble

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityflow/vehown/config"
	"cityflow/vehown/covariate"
	"cityflow/vehown/errs"
	"cityflow/vehown/frame"
)

func read(t *testing.T, text string, keys ...string) *frame.Frame {
	t.Helper()
	f, err := frame.Read(strings.NewReader(text), "inline.csv", frame.ReadOptions{Keys: keys})
	require.NoError(t, err)
	return f
}

func TestBucketFlags(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		n      int
		start  float64
		want   [][]float64
	}{
		{
			name:   "household size from one",
			values: []float64{1, 2, 3, 7},
			n:      3, start: 1,
			want: [][]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 1}},
		},
		{
			name:   "workers from zero",
			values: []float64{0, 1, 4},
			n:      3, start: 0,
			want: [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		},
		{
			name:   "no match still yields columns",
			values: []float64{1, 1},
			n:      3, start: 1,
			want: [][]float64{{1, 1}, {0, 0}, {0, 0}},
		},
		{
			name:   "missing and below range",
			values: []float64{math.NaN(), 0},
			n:      2, start: 1,
			want: [][]float64{{0, 0}, {0, 0}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BucketFlags(tt.values, tt.n, tt.start)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("BucketFlags mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type fixture struct {
	heads, lookup, intDen, access, actDen *frame.Frame
}

func newFixture(t *testing.T) fixture {
	return fixture{
		heads: read(t, `household_id,block_id,blockgroup_id,persons,workers,income
h1,b1,g1,1,0,20000
h2,b2,g1,3,1,35000
h3,b9,g2,2,2,90000
`, "household_id", "block_id", "blockgroup_id"),
		lookup: read(t, "block_id,taz\nb1,1\nb2,2\n", "block_id", "taz"),
		intDen: read(t, "blockgroup_id,intden,pct4way\ng1,15,8\n", "blockgroup_id"),
		access: read(t, "taz,sov_pct30\n1,0.5\n2,0.25\n3,0.75\n", "taz"),
		actDen: read(t, "taz,act_den,job_pop_bal\n1,0.1,0.9\n2,0.2,0.8\n3,0.3,0.7\n", "taz"),
	}
}

func opts(keep bool) Options {
	return Options{
		HHSizeFields:       []string{"hh_1", "hh_2", "hh_3p"},
		WorkerFields:       []string{"wrk_0", "wrk_1", "wrk_2p"},
		LowIncomeThreshold: 35000,
		AccessKey:          "taz",
		KeepUnmatchedZones: keep,
	}
}

func TestAssemble(t *testing.T) {
	fx := newFixture(t)
	out, err := Assemble(fx.heads, fx.lookup, fx.intDen, fx.access, fx.actDen, opts(false))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"household_id", "block_id", "blockgroup_id", "persons", "workers", "income",
		"taz", "hh_1", "hh_2", "hh_3p", "wrk_0", "wrk_1", "wrk_2p", "low_inc",
		"intden", "pct4way", "sov_pct30", "act_den", "job_pop_bal",
	}, out.Columns())
	require.Equal(t, 3, out.Len())

	taz, _ := out.Keys("taz")
	// b9 has no zone and keeps an empty one.
	assert.Equal(t, []string{"1", "2", ""}, taz)

	low, _ := out.Floats(config.ColLowIncome)
	// The threshold itself is not low income.
	assert.Equal(t, []float64{1, 0, 0}, low)

	hh3, _ := out.Floats("hh_3p")
	assert.Equal(t, []float64{0, 1, 0}, hh3)
	wrk2, _ := out.Floats("wrk_2p")
	assert.Equal(t, []float64{0, 0, 1}, wrk2)

	intden, _ := out.Floats("intden")
	assert.Equal(t, 15.0, intden[1])
	assert.True(t, math.IsNaN(intden[2]))

	sov, _ := out.Floats("sov_pct30")
	assert.Equal(t, 0.25, sov[1])
}

func TestAssembleKeepUnmatchedZones(t *testing.T) {
	fx := newFixture(t)
	out, err := Assemble(fx.heads, fx.lookup, fx.intDen, fx.access, fx.actDen, opts(true))
	require.NoError(t, err)

	taz, _ := out.Keys("taz")
	ids, _ := out.Keys("household_id")
	// The household without a zone is dropped and zone 3 appears without one.
	assert.Equal(t, []string{"1", "2", "3"}, taz)
	assert.Equal(t, []string{"h1", "h2", ""}, ids)
	actDen, _ := out.Floats("act_den")
	assert.Equal(t, 0.3, actDen[2])
}

func TestAssembleDuplicateBlock(t *testing.T) {
	fx := newFixture(t)
	fx.lookup = read(t, "block_id,taz\nb1,1\nb1,2\n", "block_id", "taz")
	_, err := Assemble(fx.heads, fx.lookup, fx.intDen, fx.access, fx.actDen, opts(false))
	var je *errs.JoinIntegrityError
	require.True(t, errors.As(err, &je), "got %v", err)
	assert.Equal(t, config.ColBlock, je.Key)
}

func TestAssemblerCheckFields(t *testing.T) {
	cfg := &config.Preprocess{File: "va_setup.yml", HHFields: []string{"household_id", "block_id", "persons"}}
	_, err := NewAssembler(cfg, nil).Run()
	var ce *errs.ConfigError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, []string{"hh_fields.blockgroup_id", "hh_fields.workers", "hh_fields.income"}, ce.Fields)
}

func TestAssemblerRun(t *testing.T) {
	cfg, err := config.LoadPreprocess(filepath.Join("..", "testdata", "va_setup.yml"))
	require.NoError(t, err)
	cfg.InFolder, err = filepath.Abs(filepath.Join("..", "testdata", "inputs"))
	require.NoError(t, err)
	cfg.OutFolder = t.TempDir()

	b := covariate.NewBuilder(cfg, nil)
	_, err = b.EmpAccessibility()
	require.NoError(t, err)
	_, err = b.ActivityDensity()
	require.NoError(t, err)
	_, err = b.IntDenByBG()
	require.NoError(t, err)

	out, err := NewAssembler(cfg, nil).Run()
	require.NoError(t, err)
	assert.Equal(t, 4, out.Len())
	assert.FileExists(t, cfg.Out(cfg.ModelInputFile))

	written, err := frame.ReadCSV(cfg.Out(cfg.ModelInputFile), frame.ReadOptions{Keys: []string{"household_id", "block_id", "blockgroup_id", "taz"}})
	require.NoError(t, err)
	bg, _ := written.Keys("blockgroup_id")
	assert.Equal(t, "250010001001", bg[0])
	intden, _ := written.Floats("intden")
	assert.Equal(t, []float64{15, 15, 3, 3}, intden)
}
