package covariate

import (
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"cityflow/vehown/errs"
	"cityflow/vehown/frame"
	"cityflow/vehown/skim"
)

// Mode is one travel mode evaluated for employment accessibility.
type Mode struct {
	// Prefix starts each output column name, e.g. "sov_pct".
	Prefix     string
	Source     string
	Matrix     *skim.Matrix
	Thresholds []float64
}

// ThresholdColumn names the accessibility column for one time threshold.
func ThresholdColumn(prefix string, tau float64) string {
	return prefix + strconv.FormatFloat(tau, 'f', -1, 64)
}

// AlignEmployment returns employment per zone in zone-index order. Zones
// missing from the employment table count as zero.
func AlignEmployment(zones []string, emp *frame.Frame, zoneCol, empCol string) ([]float64, error) {
	keys, err := emp.Keys(zoneCol)
	if err != nil {
		return nil, err
	}
	vals, err := emp.Floats(empCol)
	if err != nil {
		return nil, err
	}
	byZone := make(map[string]float64, len(keys))
	for i, k := range keys {
		if _, dup := byZone[k]; dup {
			return nil, &errs.JoinIntegrityError{Key: zoneCol, Detail: fmt.Sprintf("zone %s listed twice in %s", k, emp.Source())}
		}
		v := vals[i]
		if math.IsNaN(v) {
			v = 0
		}
		byZone[k] = v
	}
	out := make([]float64, len(zones))
	for i, z := range zones {
		out[i] = byZone[z]
	}
	return out, nil
}

// ReachableShare returns, for every origin, the share of total employment
// located at destinations within tau minutes. Cells equal to zero are
// unconnected pairs and never count as reachable.
func ReachableShare(times *mat.Dense, emp *mat.VecDense, total, tau float64) []float64 {
	r, c := times.Dims()
	flags := mat.NewDense(r, c, nil)
	flags.Apply(func(_, _ int, t float64) float64 {
		if t != 0 && t <= tau {
			return 1
		}
		return 0
	}, times)

	var reach mat.VecDense
	reach.MulVec(flags, emp)
	share := make([]float64, r)
	for i := range share {
		share[i] = reach.AtVec(i) / total
	}
	return share
}

// EmpAccessibility builds one row per zone and one column per mode and
// threshold, thresholds of the first mode first. key names the zone column.
// Later modes are re-indexed onto the first mode's zones; a different zone
// set is an InputFileError.
func EmpAccessibility(key string, modes []Mode, emp []float64) (*frame.Frame, error) {
	if len(modes) == 0 {
		return nil, fmt.Errorf("no travel modes given")
	}
	base := modes[0].Matrix
	modes = append([]Mode(nil), modes...)
	for k := range modes[1:] {
		m := &modes[k+1]
		aligned, err := m.Matrix.Align(base.Zones)
		if err != nil {
			return nil, &errs.InputFileError{
				Path: m.Source,
				Err:  fmt.Errorf("zone index mismatch with %s: %w", modes[0].Source, err),
			}
		}
		m.Matrix = aligned
	}
	if len(emp) != base.Size() {
		return nil, &errs.JoinIntegrityError{Key: key, Detail: fmt.Sprintf("%d employment values for %d zones", len(emp), base.Size())}
	}

	total := 0.0
	for _, v := range emp {
		total += v
	}
	if total == 0 {
		return nil, &errs.NumericDomainError{Quantity: "employment accessibility", Detail: "total regional employment is zero"}
	}
	empVec := mat.NewVecDense(len(emp), append([]float64(nil), emp...))

	out := frame.New("employment accessibility")
	if err := out.SetKeys(key, append([]string(nil), base.Zones...)); err != nil {
		return nil, err
	}
	for _, m := range modes {
		for _, tau := range m.Thresholds {
			share := ReachableShare(m.Matrix.Time, empVec, total, tau)
			name := ThresholdColumn(m.Prefix, tau)
			for i, v := range share {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, &errs.NumericDomainError{Quantity: name, Detail: "zone " + base.Zones[i]}
				}
			}
			if err := out.SetFloats(name, share); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
