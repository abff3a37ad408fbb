package monitor

import (
	"encoding/json"
	"math/rand"
	"time"

	"aircomp/models"
)

// Demo set points drawn on the gauges when no controller is attached.
const (
	demoStartPressure = 90
	demoStopPressure  = 120
	demoAlarmPressure = 80

	demoDuration   = 5 * time.Second
	demoDataPoints = 5
)

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

// DemoState fabricates a plausible /status sample.
func DemoState(now time.Time) *models.StateSample {
	t := epochSeconds(now)
	raw := map[string]any{
		"system_time":           t,
		"tank_pressure":         110 + rand.Float64()*20,
		"line_pressure":         80 + rand.Float64()*20,
		"duty":                  rand.Float64(),
		"runtime":               rand.Float64() * 60 * 60 * 4,
		"log_start_time":        t - 60*60*4,
		"compressor_on":         true,
		"run_request":           false,
		"tank_underpressure":    false,
		"line_underpressure":    false,
		"tank_sensor_error":     false,
		"line_sensor_error":     false,
		"pressure_change_trend": 0.0,
		"motor_state":           string(models.MotorRun),
		"purge_open":            true,
		"purge_pending":         false,
		"shutdown":              t + 60*60*5,
		"duty_recovery_time":    t + 60*2,
		"max_duty":              0.6,
		"recovery_time":         60.0 * 2,
	}

	data, _ := json.Marshal(raw)
	sample, err := models.ParseStateSample(data)
	if err != nil {
		return &models.StateSample{Raw: raw}
	}
	return sample
}

// DemoStateLogs fabricates a /state_logs batch of evenly spaced samples
// over the last few seconds, newest first.
func DemoStateLogs(now time.Time) *models.StateLogBatch {
	t := epochSeconds(now)
	states := make([]models.StateLogEntry, demoDataPoints)
	for i := range states {
		states[i] = models.StateLogEntry{
			Time:         t - demoDuration.Seconds()*float64(i)/demoDataPoints,
			TankPressure: 110 + rand.Float64()*20,
			LinePressure: 80 + rand.Float64()*20,
			Duty:         rand.Float64(),
		}
	}
	return &models.StateLogBatch{Time: t, State: states}
}
