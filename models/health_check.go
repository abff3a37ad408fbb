package models

import (
	"time"
)

// LinkStatus represents the communication state between the monitor and the controller
type LinkStatus string

const (
	LinkUnknown   LinkStatus = "unknown"
	LinkHealthy   LinkStatus = "healthy"
	LinkLost      LinkStatus = "lost"
	LinkRecovered LinkStatus = "recovered"
)

// LinkHealth tracks when the controller was last heard from
type LinkHealth struct {
	DeviceURL string
	LastSeen  time.Time
	Status    LinkStatus
	LostAt    time.Time // When communication was lost (if applicable)
	LastError string
}

// LinkEvent is emitted when the link changes between healthy and lost
type LinkEvent struct {
	Status    LinkStatus
	LastSeen  time.Time
	Since     time.Duration // how long the previous status lasted
	LastError string
}
