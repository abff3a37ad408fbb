package monitor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"aircomp/clock"
)

// Formatter turns a raw state value into display text. offsetMs is the
// monitor's clock offset, used for timestamps.
type Formatter func(key string, value any, offsetMs float64) string

// FormatValue is the default Formatter.
func FormatValue(key string, value any, offsetMs float64) string {
	switch key {
	case "system_time", "time", "log_start_time":
		if v, ok := value.(float64); ok {
			return localClock(v, offsetMs)
		}
	case "shutdown", "duty_recovery_time":
		if v, ok := value.(float64); ok {
			// zero means the time is not set
			if v == 0 {
				return "never"
			}
			return localClock(v, offsetMs)
		}
	case "runtime":
		if v, ok := value.(float64); ok {
			return FormatDuration(v)
		}
	case "duty":
		if v, ok := value.(float64); ok {
			return strconv.Itoa(int(math.Round(v*100))) + "%"
		}
	case "tank_pressure", "line_pressure":
		if v, ok := value.(float64); ok {
			return strconv.FormatFloat(v, 'f', 2, 64)
		}
	case "pressure_change_trend":
		if value == nil {
			return ""
		}
		if v, ok := value.(float64); ok {
			return strconv.FormatFloat(v, 'f', 3, 64)
		}
	}
	return formatPlain(value)
}

// FormatDuration renders seconds as HH:MM:SS.
func FormatDuration(seconds float64) string {
	total := int(math.Round(seconds))
	if total < 0 {
		total = 0
	}
	hours := total / 3600
	minutes := (total - hours*3600) / 60
	secs := total - hours*3600 - minutes*60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

func localClock(serverSeconds, offsetMs float64) string {
	return clock.Time(clock.LocalMs(serverSeconds, offsetMs)).Format("15:04:05")
}

func formatPlain(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(data)
}
