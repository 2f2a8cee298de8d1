// Package assemble joins household microdata with the zone and block group
// covariates into the single table scored by the vehicle ownership model.
package assemble

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"cityflow/vehown/config"
	"cityflow/vehown/covariate"
	"cityflow/vehown/errs"
	"cityflow/vehown/frame"
)

const colHousehold = "household_id"

// Options carries the assembly settings that do not name files.
type Options struct {
	HHSizeFields       []string
	WorkerFields       []string
	LowIncomeThreshold float64
	// AccessKey is the zone column of the accessibility table.
	AccessKey string
	// KeepUnmatchedZones keeps accessibility zones that have no households.
	KeepUnmatchedZones bool
}

// BucketFlags one-hot encodes counts into len(names) buckets. Bucket k holds
// rows whose value equals start+k; the last bucket holds every value at or
// above its own. Every bucket yields a column, all zero when nothing matches.
func BucketFlags(values []float64, n int, start float64) [][]float64 {
	flags := make([][]float64, n)
	for k := range flags {
		flags[k] = make([]float64, len(values))
	}
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		for k := 0; k < n; k++ {
			b := start + float64(k)
			if v == b || (k == n-1 && v >= b) {
				flags[k][i] = 1
				break
			}
		}
	}
	return flags
}

// Assemble builds the model input from household heads (already projected),
// a one-to-one block to zone lookup, and the three covariate tables.
func Assemble(heads, lookup, intDen, access, actDen *frame.Frame, opts Options) (*frame.Frame, error) {
	blocks, err := lookup.Keys(config.ColBlock)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		if seen[b] {
			return nil, &errs.JoinIntegrityError{Key: config.ColBlock, Detail: fmt.Sprintf("block %s mapped to more than one zone in %s", b, lookup.Source())}
		}
		seen[b] = true
	}
	hh, err := frame.Join(heads, lookup, config.ColBlock, config.ColBlock, frame.Left)
	if err != nil {
		return nil, err
	}

	if err := addBuckets(hh, config.ColPersons, opts.HHSizeFields, 1); err != nil {
		return nil, err
	}
	if err := addBuckets(hh, config.ColWorkers, opts.WorkerFields, 0); err != nil {
		return nil, err
	}

	income, err := hh.Floats(config.ColIncome)
	if err != nil {
		return nil, err
	}
	low := make([]float64, len(income))
	for i, v := range income {
		if v < opts.LowIncomeThreshold {
			low[i] = 1
		}
	}
	if err := hh.SetFloats(config.ColLowIncome, low); err != nil {
		return nil, err
	}

	if hh, err = frame.Join(hh, intDen, config.ColBlockGroup, config.ColBlockGroup, frame.Left); err != nil {
		return nil, err
	}
	how := frame.Left
	if opts.KeepUnmatchedZones {
		how = frame.Right
	}
	if hh, err = frame.Join(hh, access, config.ColTAZ, opts.AccessKey, how); err != nil {
		return nil, err
	}
	return frame.Join(hh, actDen, config.ColTAZ, config.ColTAZ, frame.Left)
}

func addBuckets(f *frame.Frame, col string, names []string, start float64) error {
	vals, err := f.Floats(col)
	if err != nil {
		return err
	}
	for k, flags := range BucketFlags(vals, len(names), start) {
		if err := f.SetFloats(names[k], flags); err != nil {
			return err
		}
	}
	return nil
}

// Assembler runs the assembly stage against the files of a preprocessing
// setup, reading the covariate tables the builder wrote.
type Assembler struct {
	cfg *config.Preprocess
	log *zap.Logger
}

func NewAssembler(cfg *config.Preprocess, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{cfg: cfg, log: logger}
}

// Run assembles and persists the model input table.
func (a *Assembler) Run() (*frame.Frame, error) {
	if err := a.checkFields(); err != nil {
		return nil, err
	}
	heads, err := covariate.ReadHouseholdHeads(a.cfg.In(a.cfg.UrbansimFile), a.cfg.HHFields, []string{colHousehold})
	if err != nil {
		return nil, fmt.Errorf("reading urbansim households: %w", err)
	}
	lookup, err := frame.ReadCSV(a.cfg.In(a.cfg.BlkTAZFile), frame.ReadOptions{
		Columns: []string{config.ColBlock, config.ColTAZ},
		Keys:    []string{config.ColBlock, config.ColTAZ},
	})
	if err != nil {
		return nil, fmt.Errorf("reading block to zone lookup: %w", err)
	}
	intDen, err := frame.ReadCSV(a.cfg.Out(a.cfg.IntDenFile), frame.ReadOptions{Keys: []string{config.ColBlockGroup}})
	if err != nil {
		return nil, fmt.Errorf("reading intersection density: %w", err)
	}
	access, err := frame.ReadCSV(a.cfg.Out(a.cfg.EmpAccessFile), frame.ReadOptions{Keys: []string{a.cfg.SkimIndex}})
	if err != nil {
		return nil, fmt.Errorf("reading employment accessibility: %w", err)
	}
	actDen, err := frame.ReadCSV(a.cfg.Out(a.cfg.ActDenFile), frame.ReadOptions{Keys: []string{config.ColTAZ}})
	if err != nil {
		return nil, fmt.Errorf("reading activity density: %w", err)
	}

	out, err := Assemble(heads, lookup, intDen, access, actDen, Options{
		HHSizeFields:       a.cfg.HHSizeFields,
		WorkerFields:       a.cfg.WorkerFields,
		LowIncomeThreshold: a.cfg.LowIncomeThreshold,
		AccessKey:          a.cfg.SkimIndex,
		KeepUnmatchedZones: a.cfg.KeepUnmatchedZones,
	})
	if err != nil {
		return nil, err
	}
	path := a.cfg.Out(a.cfg.ModelInputFile)
	if err := out.WriteCSV(path); err != nil {
		return nil, err
	}
	a.log.Info("model inputs written",
		zap.String("file", path),
		zap.Int("households", heads.Len()),
		zap.Int("rows", out.Len()))
	return out, nil
}

func (a *Assembler) checkFields() error {
	have := make(map[string]bool, len(a.cfg.HHFields))
	for _, f := range a.cfg.HHFields {
		have[f] = true
	}
	var missing []string
	for _, f := range []string{config.ColBlock, config.ColBlockGroup, config.ColPersons, config.ColWorkers, config.ColIncome} {
		if !have[f] {
			missing = append(missing, "hh_fields."+f)
		}
	}
	if len(missing) > 0 {
		return &errs.ConfigError{File: a.cfg.File, Fields: missing, Err: errors.New("household field list lacks a required column")}
	}
	return nil
}
