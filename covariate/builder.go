// Package covariate computes the zone and block group covariates of the
// vehicle ownership model: employment accessibility, activity density and
// intersection density.
package covariate

import (
	"fmt"

	"go.uber.org/zap"

	"cityflow/vehown/config"
	"cityflow/vehown/frame"
	"cityflow/vehown/skim"
)

const (
	sovPrefix     = "sov_pct"
	transitPrefix = "transit_pct"
)

// Builder reads the raw inputs named by a preprocessing setup and writes the
// three covariate tables to its output folder.
type Builder struct {
	cfg *config.Preprocess
	log *zap.Logger
}

func NewBuilder(cfg *config.Preprocess, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{cfg: cfg, log: logger}
}

// EmpAccessibility writes the share of regional employment reachable from
// each zone by car and by transit.
func (b *Builder) EmpAccessibility() (*frame.Frame, error) {
	sovPath := b.cfg.In(b.cfg.SOVSkimFile)
	sov, err := skim.ReadFile(sovPath, b.cfg.SOVSkimName)
	if err != nil {
		return nil, fmt.Errorf("reading SOV skim: %w", err)
	}
	transitPath := b.cfg.In(b.cfg.TransitSkimFile)
	transit, err := skim.ReadFile(transitPath, b.cfg.TransitSkimName)
	if err != nil {
		return nil, fmt.Errorf("reading transit skim: %w", err)
	}
	b.log.Debug("skims loaded", zap.Int("zones", sov.Size()))

	zoneCol, empCol := b.cfg.EmpCols[0], b.cfg.EmpCols[1]
	empTable, err := frame.ReadCSV(b.cfg.In(b.cfg.TAZEmpFile), frame.ReadOptions{
		FirstN: 2,
		Names:  b.cfg.EmpCols,
		Keys:   []string{zoneCol},
	})
	if err != nil {
		return nil, fmt.Errorf("reading zone employment: %w", err)
	}
	emp, err := AlignEmployment(sov.Zones, empTable, zoneCol, empCol)
	if err != nil {
		return nil, err
	}

	access, err := EmpAccessibility(b.cfg.SkimIndex, []Mode{
		{Prefix: sovPrefix, Source: sovPath, Matrix: sov, Thresholds: b.cfg.SOVTimes},
		{Prefix: transitPrefix, Source: transitPath, Matrix: transit, Thresholds: b.cfg.TransitTimes},
	}, emp)
	if err != nil {
		return nil, err
	}
	if err := access.WriteCSV(b.cfg.Out(b.cfg.EmpAccessFile)); err != nil {
		return nil, err
	}
	b.log.Info("employment accessibility written",
		zap.String("file", b.cfg.Out(b.cfg.EmpAccessFile)),
		zap.Int("zones", access.Len()))
	return access, nil
}

// ActivityDensity writes population, employment and land-use balance by zone.
func (b *Builder) ActivityDensity() (*frame.Frame, error) {
	heads, err := ReadHouseholdHeads(b.cfg.In(b.cfg.UrbansimFile), []string{config.ColBlock, config.ColPersons}, nil)
	if err != nil {
		return nil, fmt.Errorf("reading urbansim households: %w", err)
	}
	blkFct, err := frame.ReadCSV(b.cfg.In(b.cfg.BlkFctFile), frame.ReadOptions{
		Columns: []string{config.ColBlock, config.ColTAZ, config.ColAreaFct},
		Keys:    []string{config.ColBlock, config.ColTAZ},
	})
	if err != nil {
		return nil, fmt.Errorf("reading block split factors: %w", err)
	}
	gq, err := frame.ReadCSV(b.cfg.In(b.cfg.GQPopFile), frame.ReadOptions{
		Columns: []string{config.ColTAZ, ColGQPop},
		Keys:    []string{config.ColTAZ},
	})
	if err != nil {
		return nil, fmt.Errorf("reading group quarters population: %w", err)
	}
	emp, err := frame.ReadCSV(b.cfg.In(b.cfg.TAZEmpFile), frame.ReadOptions{
		FirstN: 2,
		Names:  []string{config.ColTAZ, ColEmp},
		Keys:   []string{config.ColTAZ},
	})
	if err != nil {
		return nil, fmt.Errorf("reading zone employment: %w", err)
	}
	area, err := frame.ReadCSV(b.cfg.In(b.cfg.LandAreaFile), frame.ReadOptions{
		FirstN: 2,
		Names:  []string{config.ColTAZ, ColLandArea},
		Keys:   []string{config.ColTAZ},
	})
	if err != nil {
		return nil, fmt.Errorf("reading land area: %w", err)
	}

	den, err := ActivityDensity(heads, blkFct, gq, emp, area)
	if err != nil {
		return nil, err
	}
	if err := den.WriteCSV(b.cfg.Out(b.cfg.ActDenFile)); err != nil {
		return nil, err
	}
	b.log.Info("activity density written",
		zap.String("file", b.cfg.Out(b.cfg.ActDenFile)),
		zap.Int("households", heads.Len()),
		zap.Int("zones", den.Len()))
	return den, nil
}

// IntDenByBG writes intersection density for the block groups of the
// configured state.
func (b *Builder) IntDenByBG() (*frame.Frame, error) {
	fips := float64(b.cfg.StateFIPS)
	sld, err := frame.ReadCSV(b.cfg.In(b.cfg.SmartLocFile), frame.ReadOptions{
		Columns: SmartLocColumns(),
		Keys:    []string{ColGeoID},
		Where: func(r frame.Record) bool {
			v, ok := r.Float(ColStateFIPS)
			return ok && v == fips
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reading smart location data: %w", err)
	}
	den, err := IntersectionDensity(sld)
	if err != nil {
		return nil, err
	}
	if err := den.WriteCSV(b.cfg.Out(b.cfg.IntDenFile)); err != nil {
		return nil, err
	}
	b.log.Info("intersection density written",
		zap.String("file", b.cfg.Out(b.cfg.IntDenFile)),
		zap.Int("state_fips", b.cfg.StateFIPS),
		zap.Int("block_groups", den.Len()))
	return den, nil
}

// ReadHouseholdHeads streams an UrbanSim person-level export and keeps one
// row per household, the person numbered 1. columns selects the fields kept;
// block and block group identifiers are always read as keys.
func ReadHouseholdHeads(path string, columns, keys []string) (*frame.Frame, error) {
	keys = append([]string{config.ColBlock, config.ColBlockGroup}, keys...)
	read := []string{config.ColPersonNum}
	for _, c := range columns {
		if c != config.ColPersonNum {
			read = append(read, c)
		}
	}
	heads, err := frame.ReadCSV(path, frame.ReadOptions{
		Columns: read,
		Keys:    keys,
		Where: func(r frame.Record) bool {
			v, ok := r.Float(config.ColPersonNum)
			return ok && v == 1
		},
	})
	if err != nil {
		return nil, err
	}
	return heads.Select(columns...)
}
