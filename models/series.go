package models

// SeriesPoint is a chart sample on the local timeline. Time is local epoch
// milliseconds and Duty is a percentage.
type SeriesPoint struct {
	Time         float64 `json:"time"`
	TankPressure float64 `json:"tank_pressure"`
	LinePressure float64 `json:"line_pressure"`
	Duty         float64 `json:"duty"`
}

// Dataset indexes of the chart, in legend order.
const (
	DatasetTankPressure = iota
	DatasetLinePressure
	DatasetDuty
	DatasetCount
)

// DatasetNames are the legend labels, indexed by dataset.
var DatasetNames = [DatasetCount]string{"Tank Pressure", "Line Pressure", "Duty"}
