package covariate

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityflow/vehown/config"
	"cityflow/vehown/errs"
	"cityflow/vehown/frame"
)

func read(t *testing.T, text string, keys ...string) *frame.Frame {
	t.Helper()
	f, err := frame.Read(strings.NewReader(text), "inline.csv", frame.ReadOptions{Keys: keys})
	require.NoError(t, err)
	return f
}

func TestJobPopBalance(t *testing.T) {
	tests := []struct {
		name             string
		emp, hhPop, gqPp float64
		want             float64
	}{
		{"perfect balance", 1, 5, 0, 1},
		{"balance with group quarters", 2, 5, 5, 1},
		{"no jobs", 0, 10, 0, 0},
		{"no residents", 50, 0, 0, 0},
		{"empty zone", 0, 0, 0, 0},
		{"half way", 3, 5, 0, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JobPopBalance(tt.emp, tt.hhPop, tt.gqPp)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestActivityDensity(t *testing.T) {
	heads := read(t, "block_id,persons\nb1,2\nb2,4\n", "block_id")
	blkFct := read(t, "block_id,taz,area_fct\nb1,1,1\nb2,1,0.5\nb2,2,0.5\n", "block_id", "taz")
	gq := read(t, "taz,gq_pop\n1,1\n2,0\n3,5\n", "taz")
	emp := read(t, "taz,emp\n1,3\n2,0\n3,9\n", "taz")
	area := read(t, "taz,land_area\n1,0.5\n2,2\n3,1\n", "taz")

	out, err := ActivityDensity(heads, blkFct, gq, emp, area)
	require.NoError(t, err)

	assert.Equal(t, []string{"taz", ColHHPop, ColGQPop, ColEmp, ColLandArea, ColActDen, ColJobPopBal}, out.Columns())
	zones, _ := out.Keys("taz")
	// Zone 3 has no households and drops out.
	assert.Equal(t, []string{"1", "2"}, zones)

	hhPop, _ := out.Floats(ColHHPop)
	actDen, _ := out.Floats(ColActDen)
	jpb, _ := out.Floats(ColJobPopBal)
	assert.Equal(t, []float64{4, 2}, hhPop)
	assert.InDelta(t, 0.016, actDen[0], 1e-12)
	assert.InDelta(t, 0.001, actDen[1], 1e-12)
	assert.InDelta(t, 0.5, jpb[0], 1e-12)
	assert.InDelta(t, 0, jpb[1], 1e-12)
}

func TestActivityDensityZeroLandArea(t *testing.T) {
	heads := read(t, "block_id,persons\nb1,2\n", "block_id")
	blkFct := read(t, "block_id,taz,area_fct\nb1,1,1\n", "block_id", "taz")
	gq := read(t, "taz,gq_pop\n1,0\n", "taz")
	emp := read(t, "taz,emp\n1,3\n", "taz")
	area := read(t, "taz,land_area\n1,0\n", "taz")

	_, err := ActivityDensity(heads, blkFct, gq, emp, area)
	var ne *errs.NumericDomainError
	require.True(t, errors.As(err, &ne), "got %v", err)
	assert.Equal(t, ColActDen, ne.Quantity)
}

func TestIntersectionDensity(t *testing.T) {
	sld := read(t, "GEOID10,SFIPS,D3bao,D3bmm3,D3bmm4,D3bpo3,D3bpo4\n250010001001,25,1,2,3,4,5\n250010002001,25,0.5,0.5,1,0,1\n", "GEOID10")
	out, err := IntersectionDensity(sld)
	require.NoError(t, err)

	assert.Equal(t, []string{config.ColBlockGroup, ColIntDen, ColPct4Way}, out.Columns())
	bg, _ := out.Keys(config.ColBlockGroup)
	intden, _ := out.Floats(ColIntDen)
	pct4, _ := out.Floats(ColPct4Way)
	assert.Equal(t, []string{"250010001001", "250010002001"}, bg)
	assert.Equal(t, []float64{15, 3}, intden)
	assert.Equal(t, []float64{8, 2}, pct4)
}

func TestIntersectionDensityMissingMetric(t *testing.T) {
	sld := read(t, "GEOID10,SFIPS,D3bao\n1,25,1\n", "GEOID10")
	_, err := IntersectionDensity(sld)
	var fe *errs.InputFileError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "D3bmm3", fe.Column)
}

func testPreprocess(t *testing.T) *config.Preprocess {
	t.Helper()
	cfg, err := config.LoadPreprocess(filepath.Join("..", "testdata", "va_setup.yml"))
	require.NoError(t, err)
	in, err := filepath.Abs(filepath.Join("..", "testdata", "inputs"))
	require.NoError(t, err)
	cfg.InFolder = in
	cfg.OutFolder = t.TempDir()
	return cfg
}

func TestBuilderWritesCovariateTables(t *testing.T) {
	cfg := testPreprocess(t)
	b := NewBuilder(cfg, nil)

	access, err := b.EmpAccessibility()
	require.NoError(t, err)
	assert.Equal(t, 3, access.Len())

	written, err := frame.ReadCSV(cfg.Out(cfg.EmpAccessFile), frame.ReadOptions{Keys: []string{cfg.SkimIndex}})
	require.NoError(t, err)
	assert.Equal(t, []string{"taz", "sov_pct10", "sov_pct30", "sov_pct60", "transit_pct30", "transit_pct60"}, written.Columns())
	sov30, _ := written.Floats("sov_pct30")
	assert.InDelta(t, 200.0/600, sov30[0], 1e-12)

	den, err := b.ActivityDensity()
	require.NoError(t, err)
	zones, _ := den.Keys("taz")
	assert.Equal(t, []string{"1", "2", "3"}, zones)
	hhPop, _ := den.Floats(ColHHPop)
	assert.Equal(t, []float64{2.5, 3.5, 4}, hhPop)
	actDen, _ := den.Floats(ColActDen)
	assert.InDelta(t, 0.2135, actDen[1], 1e-12)
	assert.FileExists(t, cfg.Out(cfg.ActDenFile))

	ints, err := b.IntDenByBG()
	require.NoError(t, err)
	// The block group outside the configured state is filtered out.
	assert.Equal(t, 2, ints.Len())
	assert.FileExists(t, cfg.Out(cfg.IntDenFile))
}

func TestReadHouseholdHeadsKeepsPersonOne(t *testing.T) {
	path, err := filepath.Abs(filepath.Join("..", "testdata", "inputs", "households.csv"))
	require.NoError(t, err)

	heads, err := ReadHouseholdHeads(path, []string{"household_id", "block_id", "persons"}, []string{"household_id"})
	require.NoError(t, err)
	assert.Equal(t, []string{"household_id", "block_id", "persons"}, heads.Columns())
	ids, _ := heads.Keys("household_id")
	assert.Equal(t, []string{"h1", "h2", "h3", "h4"}, ids)
	persons, _ := heads.Floats("persons")
	for _, p := range persons {
		assert.False(t, math.IsNaN(p))
	}
}
