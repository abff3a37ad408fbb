package models

import (
	"encoding/json"
	"fmt"
)

// MotorState is the operating mode reported by the compressor controller.
type MotorState string

const (
	MotorRun                 MotorState = "run"
	MotorOff                 MotorState = "off"
	MotorPause               MotorState = "pause"
	MotorOverpressure        MotorState = "overpressure"
	MotorDuty                MotorState = "duty"
	MotorPurge               MotorState = "purge"
	MotorSensorError         MotorState = "sensor_error"
	MotorPressureChangeError MotorState = "pressure_change_error"
)

// StateSample is one /status snapshot. Times are server clock seconds.
type StateSample struct {
	SystemTime          float64    `json:"system_time,omitempty"`
	Time                float64    `json:"time,omitempty"`
	TankPressure        float64    `json:"tank_pressure"`
	LinePressure        float64    `json:"line_pressure"`
	Duty                float64    `json:"duty"`
	MotorState          MotorState `json:"motor_state"`
	CompressorOn        bool       `json:"compressor_on"`
	RunRequest          bool       `json:"run_request"`
	PurgeOpen           bool       `json:"purge_open"`
	PurgePending        bool       `json:"purge_pending"`
	UnloadOpen          bool       `json:"unload_open"`
	TankUnderpressure   *bool      `json:"tank_underpressure,omitempty"`
	LineUnderpressure   bool       `json:"line_underpressure"`
	TankSensorError     bool       `json:"tank_sensor_error"`
	LineSensorError     bool       `json:"line_sensor_error"`
	PressureChangeError bool       `json:"pressure_change_error"`
	PressureChangeTrend *float64   `json:"pressure_change_trend"`
	Shutdown            float64    `json:"shutdown"`
	DutyRecoveryTime    float64    `json:"duty_recovery_time"`
	RecoveryTime        float64    `json:"recovery_time,omitempty"`
	Runtime             float64    `json:"runtime"`
	LogStartTime        float64    `json:"log_start_time,omitempty"`
	MaxDuty             float64    `json:"max_duty,omitempty"`

	// Raw holds every key exactly as received, for projection onto the board.
	Raw map[string]any `json:"-"`
}

// ServerTime returns the snapshot time; controllers report it as
// system_time, older firmware as time.
func (s *StateSample) ServerTime() float64 {
	if s.SystemTime != 0 {
		return s.SystemTime
	}
	return s.Time
}

// TankUnderpressureSignaled reports whether the controller flagged the tank
// as below its start pressure.
func (s *StateSample) TankUnderpressureSignaled() bool {
	return s.TankUnderpressure != nil && *s.TankUnderpressure
}

// ParseStateSample decodes a /status body into both the typed fields and
// Raw.
func ParseStateSample(data []byte) (*StateSample, error) {
	var sample StateSample
	if err := json.Unmarshal(data, &sample); err != nil {
		return nil, fmt.Errorf("failed to decode state sample: %w", err)
	}
	if err := json.Unmarshal(data, &sample.Raw); err != nil {
		return nil, fmt.Errorf("failed to decode state sample keys: %w", err)
	}
	return &sample, nil
}
