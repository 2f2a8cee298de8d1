package covariate

import (
	"math"

	"cityflow/vehown/config"
	"cityflow/vehown/errs"
	"cityflow/vehown/frame"
)

// Activity density output columns.
const (
	ColHHPop     = "hh_pop"
	ColGQPop     = "gq_pop"
	ColEmp       = "emp"
	ColLandArea  = "land_area"
	ColActDen    = "act_den"
	ColJobPopBal = "job_pop_bal"
)

// JobPopBalance scores how close a zone is to one job per five residents:
// 1 at perfect balance, falling towards 0 as either side dominates. A zone
// with no jobs and no residents scores 0.
func JobPopBalance(emp, hhPop, gqPop float64) float64 {
	if emp == 0 && hhPop == 0 && gqPop == 0 {
		return 0
	}
	pop := 0.2 * (hhPop + gqPop)
	return 1 - math.Abs(emp-pop)/(emp+pop)
}

// ActivityDensity combines household heads (block_id, persons), block to zone
// area factors (block_id, taz, area_fct) and zone tables of group quarters
// population, employment and land area into one row per zone. A zone missing
// from any zone table is dropped.
func ActivityDensity(heads, blkFct, gq, emp, area *frame.Frame) (*frame.Frame, error) {
	split, err := frame.Join(heads, blkFct, config.ColBlock, config.ColBlock, frame.Inner)
	if err != nil {
		return nil, err
	}
	persons, err := split.Floats(config.ColPersons)
	if err != nil {
		return nil, err
	}
	fct, err := split.Floats(config.ColAreaFct)
	if err != nil {
		return nil, err
	}
	hhPop := make([]float64, len(persons))
	for i := range persons {
		hhPop[i] = persons[i] * fct[i]
	}
	if err := split.SetFloats(ColHHPop, hhPop); err != nil {
		return nil, err
	}
	byZone, err := frame.GroupSum(split, config.ColTAZ, []string{ColHHPop})
	if err != nil {
		return nil, err
	}

	for _, t := range []*frame.Frame{gq, emp, area} {
		if byZone, err = frame.Join(byZone, t, config.ColTAZ, config.ColTAZ, frame.Inner); err != nil {
			return nil, err
		}
	}

	zones, err := byZone.Keys(config.ColTAZ)
	if err != nil {
		return nil, err
	}
	var cols [4][]float64
	for i, name := range []string{ColHHPop, ColGQPop, ColEmp, ColLandArea} {
		if cols[i], err = byZone.Floats(name); err != nil {
			return nil, err
		}
	}
	hh, gqp, jobs, land := cols[0], cols[1], cols[2], cols[3]
	actDen := make([]float64, len(zones))
	jpb := make([]float64, len(zones))
	for i := range zones {
		actDen[i] = (hh[i] + gqp[i] + jobs[i]) / 1000 / land[i]
		if math.IsNaN(actDen[i]) || math.IsInf(actDen[i], 0) {
			return nil, &errs.NumericDomainError{Quantity: ColActDen, Detail: "zone " + zones[i] + " has no usable land area"}
		}
		jpb[i] = JobPopBalance(jobs[i], hh[i], gqp[i])
	}
	if err := byZone.SetFloats(ColActDen, actDen); err != nil {
		return nil, err
	}
	if err := byZone.SetFloats(ColJobPopBal, jpb); err != nil {
		return nil, err
	}
	return byZone.Select(config.ColTAZ, ColHHPop, ColGQPop, ColEmp, ColLandArea, ColActDen, ColJobPopBal)
}
