package config

// Column names fixed by the UrbanSim household export, the block split
// tables and the intermediate files this module writes.
const (
	ColBlock      = "block_id"
	ColBlockGroup = "blockgroup_id"
	ColTAZ        = "taz"
	ColPersonNum  = "person_num"
	ColPersons    = "persons"
	ColWorkers    = "workers"
	ColIncome     = "income"
	ColAreaFct    = "area_fct"
	ColLowIncome  = "low_inc"
)
