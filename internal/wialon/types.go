package wialon

// Raw provider payloads. The remote side is loosely typed: every leaf may be
// missing, so scalar fields that matter are pointers.

// Position is the last known fix of a unit. Note the provider's axes: x is
// longitude, y is latitude.
type Position struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	S *float64 `json:"s"`
	T *int64   `json:"t"`
}

// Param is one raw parameter value keyed by a provider code (io_273, ...).
type Param struct {
	V *float64 `json:"v"`
}

// CalibrationEntry is one breakpoint of a sensor calibration table, sorted by
// ascending X. The decoded value is A*raw + B for the selected breakpoint.
type CalibrationEntry struct {
	X float64 `json:"x"`
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// Sensor describes one configured sensor of a unit.
type Sensor struct {
	ID   int64              `json:"id"`
	Name string             `json:"n"`
	P    string             `json:"p"`
	M    string             `json:"m"`
	Tbl  []CalibrationEntry `json:"tbl"`
}

// Unit is the provider view of a tracked vehicle.
type Unit struct {
	ID   *int64            `json:"id"`
	Name string            `json:"nm"`
	Pos  *Position         `json:"pos"`
	Prms map[string]Param  `json:"prms"`
	Sens map[string]Sensor `json:"sens"`
}

type unitResponse struct {
	Item *Unit `json:"item"`
}

type unitsResponse struct {
	Items      []Unit `json:"items"`
	TotalCount int64  `json:"totalItemsCount"`
}

// SearchSpec selects units in SearchUnits. The zero value is filled with the
// match-everything defaults.
type SearchSpec struct {
	ItemsType     string `json:"itemsType"`
	PropName      string `json:"propName"`
	PropValueMask string `json:"propValueMask"`
	SortType      string `json:"sortType"`
}

func (s SearchSpec) withDefaults() SearchSpec {
	if s.ItemsType == "" {
		s.ItemsType = "avl_unit"
	}
	if s.PropName == "" {
		s.PropName = "sys_name"
	}
	if s.PropValueMask == "" {
		s.PropValueMask = "*"
	}
	if s.SortType == "" {
		s.SortType = "sys_name"
	}
	return s
}
