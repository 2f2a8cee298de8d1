// Package model applies fitted household vehicle ownership models and
// post-processes their results.
package model

import (
	"cityflow/vehown/frame"
)

// CountModel is a household vehicle count model. LoadData must succeed
// before RunModel, and RunModel before Results.
type CountModel interface {
	LoadData() error
	RunModel() error
	// Results returns the scored household table.
	Results() (*frame.Frame, error)
}

// Output columns added by scoring.
const (
	ColLogCount = "log_count"
	ColPredVeh  = "pred_veh"
)

// OwnershipFlags one-hot encodes predicted vehicle counts into n flags. Flag
// i is set when the count equals i; the last flag absorbs every count at or
// above its index.
func OwnershipFlags(counts []float64, n int) [][]float64 {
	flags := make([][]float64, n)
	for i := range flags {
		flags[i] = make([]float64, len(counts))
	}
	for r, c := range counts {
		for i := 0; i < n; i++ {
			if c == float64(i) || (i == n-1 && c >= float64(i)) {
				flags[i][r] = 1
				break
			}
		}
	}
	return flags
}
