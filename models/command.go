package models

// CommandMessage is an operator command received from the message queue.
// Durations are seconds; zero means the controller default.
type CommandMessage struct {
	Command       string            `json:"command"`
	ShutdownIn    float64           `json:"shutdown_in,omitempty"`
	DrainDuration float64           `json:"drain_duration,omitempty"`
	DrainDelay    float64           `json:"drain_delay,omitempty"`
	Settings      map[string]string `json:"settings,omitempty"`
	RequestID     string            `json:"request_id,omitempty"`
}
