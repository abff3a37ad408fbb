package models

// SensorScale maps raw ADC readings onto pressure.
type SensorScale struct {
	ValueMin  float64 `json:"value_min"`
	ValueMax  float64 `json:"value_max"`
	SensorMin float64 `json:"sensor_min"`
	SensorMax float64 `json:"sensor_max"`
}

// Settings are the controller's public settings as served by GET /settings.
type Settings struct {
	StartPressure       float64     `json:"start_pressure"`
	StopPressure        float64     `json:"stop_pressure"`
	MinLinePressure     float64     `json:"min_line_pressure"`
	MaxDuty             float64     `json:"max_duty"`
	DutyDuration        float64     `json:"duty_duration"`
	DrainDuration       float64     `json:"drain_duration"`
	RecoveryTime        float64     `json:"recovery_time"`
	DrainDelay          float64     `json:"drain_delay"`
	CompressorOnPowerUp bool        `json:"compressor_on_power_up"`
	AutoStopTime        float64     `json:"auto_stop_time"`
	LogInterval         float64     `json:"log_interval"`
	TankPressureSensor  SensorScale `json:"tank_pressure_sensor"`
	LinePressureSensor  SensorScale `json:"line_pressure_sensor"`
}

// DefaultSettings mirrors the controller's factory defaults.
func DefaultSettings() Settings {
	scale := SensorScale{ValueMin: 0, ValueMax: 150, SensorMin: 0, SensorMax: 65535}
	return Settings{
		StartPressure:       90,
		StopPressure:        125,
		MinLinePressure:     89,
		MaxDuty:             0.6,
		DutyDuration:        10 * 60,
		DrainDuration:       10,
		RecoveryTime:        3 * 60,
		DrainDelay:          5,
		CompressorOnPowerUp: true,
		AutoStopTime:        6 * 60 * 60,
		LogInterval:         10,
		TankPressureSensor:  scale,
		LinePressureSensor:  scale,
	}
}
