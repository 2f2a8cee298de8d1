package covariate

import (
	"cityflow/vehown/config"
	"cityflow/vehown/frame"
)

// Smart location database columns.
const (
	ColStateFIPS = "SFIPS"
	ColGeoID     = "GEOID10"
	ColIntDen    = "intden"
	ColPct4Way   = "pct4way"
)

// Intersection density sub-metrics summed into intden; the four-way subset
// is also summed into pct4way.
var (
	intDenParts = []string{"D3bao", "D3bmm3", "D3bmm4", "D3bpo3", "D3bpo4"}
	fourWay     = []string{"D3bmm4", "D3bpo4"}
)

// SmartLocColumns lists the columns IntersectionDensity needs.
func SmartLocColumns() []string {
	return append([]string{ColStateFIPS, ColGeoID}, intDenParts...)
}

// IntersectionDensity derives intden and pct4way for each block group of an
// already filtered smart location table, keyed by blockgroup_id.
func IntersectionDensity(sld *frame.Frame) (*frame.Frame, error) {
	intden, err := sumColumns(sld, intDenParts)
	if err != nil {
		return nil, err
	}
	pct4, err := sumColumns(sld, fourWay)
	if err != nil {
		return nil, err
	}
	out, err := sld.Select(ColGeoID)
	if err != nil {
		return nil, err
	}
	if err := out.SetFloats(ColIntDen, intden); err != nil {
		return nil, err
	}
	if err := out.SetFloats(ColPct4Way, pct4); err != nil {
		return nil, err
	}
	if err := out.Rename(ColGeoID, config.ColBlockGroup); err != nil {
		return nil, err
	}
	return out, nil
}

func sumColumns(f *frame.Frame, names []string) ([]float64, error) {
	sum := make([]float64, f.Len())
	for _, name := range names {
		vals, err := f.Floats(name)
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			sum[i] += v
		}
	}
	return sum, nil
}
