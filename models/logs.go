package models

// Activity event codes.
const (
	EventRunning = "R"
	EventPurge   = "P"
)

// Command codes. Purge ("P") and unknown codes are logged by the controller
// but never drawn.
const (
	CommandOn    = "O"
	CommandOff   = "F"
	CommandRun   = "R"
	CommandPause = "|"
	CommandPurge = "P"
)

// StateLogEntry is one row of the controller's state ring log.
type StateLogEntry struct {
	Time         float64 `json:"time"`
	TankPressure float64 `json:"tank_pressure"`
	LinePressure float64 `json:"line_pressure"`
	Duty         float64 `json:"duty"`
	State        string  `json:"state,omitempty"`
}

// StateLogBatch is the /state_logs reply. State is newest first.
type StateLogBatch struct {
	Time        float64         `json:"time"`
	MaxDuration float64         `json:"maxDuration,omitempty"`
	State       []StateLogEntry `json:"state"`
}

// Activity is an interval during which the motor or purge valve was active.
// Start is its identity; Stop grows while the interval is open.
type Activity struct {
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
	Event string  `json:"event"`
}

// Command is an instant at which the compressor state was changed.
type Command struct {
	Time    float64 `json:"time"`
	Command string  `json:"command"`
}

// ActivityLogBatch is the /activity_logs reply.
type ActivityLogBatch struct {
	Time     float64    `json:"time"`
	Activity []Activity `json:"activity"`
	Commands []Command  `json:"commands"`
}

// CommandResult is the reply to every command endpoint.
type CommandResult struct {
	Result string `json:"result"`
}

// OK reports whether the controller accepted the command.
func (r CommandResult) OK() bool {
	return r.Result == "ok"
}
