package monitor

import (
	"sort"
	"strings"
	"sync"
	"time"

	"aircomp/models"
)

// State classes carried by every state-bearing element of the dashboard.
const (
	ClassUndefinedState   = "undefined_state"
	ClassCompressorError  = "compressor_error"
	ClassPauseAvailable   = "pause_command_available"
	ClassRunAvailable     = "run_command_available"
	MotorStateClassPrefix = "motor_state_"
)

// undefinedMotorState names the motor class of a sample without motor_state.
const undefinedMotorState = "undefined"

// BooleanStateClasses are set when the sample key of the same name is truthy.
var BooleanStateClasses = []string{
	"compressor_on",
	"run_request",
	"purge_pending",
	"purge_open",
	"tank_underpressure",
	"line_underpressure",
	"tank_sensor_error",
	"line_sensor_error",
	"pressure_change_error",
}

// Availability derives which commands the operator may issue. An
// underpressure tank overrides the motor state, but only when
// tank_underpressure is true. A key that is present and false does not
// block commands, since controllers send the key on every sample.
func Availability(s *models.StateSample) (pause, run bool) {
	if s.TankUnderpressureSignaled() {
		return false, false
	}
	pause = s.MotorState == models.MotorRun
	switch s.MotorState {
	case models.MotorPause, models.MotorOverpressure, models.MotorDuty:
		run = true
	}
	return pause, run
}

// BoardSnapshot is the projected dashboard at one instant.
type BoardSnapshot struct {
	Values             map[string]string `json:"values"`
	Classes            []string          `json:"classes"`
	LastUpdate         string            `json:"last_update,omitempty"`
	CommunicationError bool              `json:"communication_error"`
}

// Board holds the display strings and state classes projected from the
// most recent sample. Values from earlier samples stay visible until
// overwritten.
type Board struct {
	mu         sync.RWMutex
	values     map[string]string
	classes    map[string]bool
	lastUpdate time.Time
}

func NewBoard() *Board {
	return &Board{
		values:  make(map[string]string),
		classes: map[string]bool{ClassUndefinedState: true},
	}
}

// Apply writes every key of the sample through format and recomputes the
// state classes.
func (b *Board) Apply(s *models.StateSample, format func(key string, value any) string) {
	pause, run := Availability(s)
	motorState := string(s.MotorState)
	if motorState == "" {
		motorState = undefinedMotorState
	}
	motorClass := MotorStateClassPrefix + motorState

	b.mu.Lock()
	defer b.mu.Unlock()

	for key, value := range s.Raw {
		b.values[key] = format(key, value)
	}

	delete(b.classes, ClassUndefinedState)
	for _, name := range BooleanStateClasses {
		b.setClass(name, truthy(s.Raw[name]))
	}
	b.setClass(ClassPauseAvailable, pause)
	b.setClass(ClassRunAvailable, run)

	for name := range b.classes {
		if strings.HasPrefix(name, MotorStateClassPrefix) && name != motorClass {
			delete(b.classes, name)
		}
	}
	b.classes[motorClass] = true
}

// setClass must be called with b.mu held.
func (b *Board) setClass(name string, on bool) {
	if on {
		b.classes[name] = true
	} else {
		delete(b.classes, name)
	}
}

// SetCommunicationError toggles the compressor_error class.
func (b *Board) SetCommunicationError(on bool) {
	b.mu.Lock()
	b.setClass(ClassCompressorError, on)
	b.mu.Unlock()
}

// Touch records the local time of the last successful update.
func (b *Board) Touch(now time.Time) {
	b.mu.Lock()
	b.lastUpdate = now
	b.mu.Unlock()
}

func (b *Board) HasClass(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.classes[name]
}

func (b *Board) Value(key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, ok
}

func (b *Board) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

func (b *Board) Snapshot() BoardSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := BoardSnapshot{
		Values:             make(map[string]string, len(b.values)),
		Classes:            make([]string, 0, len(b.classes)),
		CommunicationError: b.classes[ClassCompressorError],
	}
	for k, v := range b.values {
		snap.Values[k] = v
	}
	for name := range b.classes {
		snap.Classes = append(snap.Classes, name)
	}
	sort.Strings(snap.Classes)
	if !b.lastUpdate.IsZero() {
		snap.LastUpdate = b.lastUpdate.Format("15:04:05")
	}
	return snap
}

// truthy follows the controller's loose JSON flags: false, zero, empty
// and missing all read as off.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	}
	return true
}
