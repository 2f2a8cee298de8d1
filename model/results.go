package model

import (
	"fmt"
	"math"

	"cityflow/vehown/config"
	"cityflow/vehown/errs"
	"cityflow/vehown/frame"
)

// ReadSplitFactors loads the block to zone apportionment table named by cfg.
func ReadSplitFactors(cfg *config.Model) (*frame.Frame, error) {
	path := cfg.Path(cfg.BlkFctFile)
	f, err := frame.ReadCSV(path, frame.ReadOptions{
		Columns: []string{config.ColBlock, config.ColTAZ, cfg.SplitFctField},
		Keys:    []string{config.ColBlock, config.ColTAZ},
	})
	if err != nil {
		return nil, fmt.Errorf("reading split factors: %w", err)
	}
	return f, nil
}

// SplitFields are the columns apportioned to zones: the aggregation fields
// after the grouping key, or the vehicle flags when aggregation is off.
func SplitFields(cfg *config.Model) []string {
	if len(cfg.OutputAggFields) > 1 {
		return cfg.OutputAggFields[1:]
	}
	return cfg.VehFields
}

// SplitHHToTAZ apportions block level results to zones. Each scored row is
// paired with every zone its block overlaps, and fields are multiplied by the
// block's factor for that zone. Blocks without a factor are dropped. Columns
// of the scored table that the factor table also carries are replaced by the
// factor table's.
func SplitHHToTAZ(m CountModel, factors *frame.Frame, factorCol string, fields []string) (*frame.Frame, error) {
	data, err := m.Results()
	if err != nil {
		return nil, err
	}
	var clash []string
	for _, c := range factors.Columns() {
		if c != config.ColBlock && data.Has(c) {
			clash = append(clash, c)
		}
	}
	split, err := frame.Join(data.Drop(clash...), factors, config.ColBlock, config.ColBlock, frame.Inner)
	if err != nil {
		return nil, err
	}
	fct, err := split.Floats(factorCol)
	if err != nil {
		return nil, err
	}
	for _, name := range fields {
		vals, err := split.Floats(name)
		if err != nil {
			return nil, err
		}
		for i := range vals {
			vals[i] *= fct[i]
		}
		if err := split.SetFloats(name, vals); err != nil {
			return nil, err
		}
	}
	return split, nil
}

// SaveResults writes the disaggregate table.
func SaveResults(data *frame.Frame, path string) error {
	if data == nil {
		return &errs.SequencingError{Op: "SaveResults", Requires: "RunModel"}
	}
	return data.WriteCSV(path)
}

// AggregateResults sums fields[1:] by the geography in fields[0] and rounds
// each sum half to even.
func AggregateResults(data *frame.Frame, fields []string) (*frame.Frame, error) {
	if data == nil {
		return nil, &errs.SequencingError{Op: "AggregateResults", Requires: "SplitHHToTAZ"}
	}
	if len(fields) < 2 {
		return nil, &errs.ConfigError{Fields: []string{"output_agg_fields"}, Err: fmt.Errorf("need a grouping field and at least one summed field, got %v", fields)}
	}
	sel, err := data.Select(fields...)
	if err != nil {
		return nil, err
	}
	agg, err := frame.GroupSum(sel, fields[0], fields[1:])
	if err != nil {
		return nil, err
	}
	for _, name := range fields[1:] {
		vals, err := agg.Floats(name)
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			vals[i] = math.RoundToEven(v)
		}
		if err := agg.SetFloats(name, vals); err != nil {
			return nil, err
		}
	}
	return agg, nil
}
