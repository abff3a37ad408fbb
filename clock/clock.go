// Package clock translates controller timestamps onto the local timeline.
//
// The offset between the two clocks is estimated from the first sample a
// monitor receives and then held for the lifetime of the monitor. Only
// relative placement on a scrolling chart matters, so a single exchange
// is enough. A late first sample skews the offset for the whole session.
package clock

import (
	"sync"
	"time"
)

// Sync holds the offset between the controller clock and the local clock.
type Sync struct {
	mu       sync.RWMutex
	now      func() time.Time
	resync   time.Duration
	offsetMs float64
	set      bool
	setAt    time.Time
}

type Option func(*Sync)

// WithNow replaces the local clock.
func WithNow(now func() time.Time) Option {
	return func(s *Sync) { s.now = now }
}

// WithResync re-estimates the offset on the first sample seen after d has
// elapsed since the last estimate. Zero keeps the first offset forever.
func WithResync(d time.Duration) Option {
	return func(s *Sync) { s.resync = d }
}

func New(opts ...Option) *Sync {
	s := &Sync{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EstimateOffset sets offsetMs = serverSeconds*1000 - localNowMs the first
// time it is called and returns the offset in effect afterwards.
func (s *Sync) EstimateOffset(serverSeconds float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.set && (s.resync <= 0 || now.Sub(s.setAt) < s.resync) {
		return s.offsetMs
	}

	s.offsetMs = serverSeconds*1000 - float64(now.UnixMilli())
	s.set = true
	s.setAt = now
	return s.offsetMs
}

// Offset returns the current offset and whether one has been estimated.
func (s *Sync) Offset() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offsetMs, s.set
}

// ToLocal maps a controller timestamp in seconds to local epoch milliseconds.
// Before the first estimate the offset is zero.
func (s *Sync) ToLocal(serverSeconds float64) float64 {
	offset, _ := s.Offset()
	return LocalMs(serverSeconds, offset)
}

// LocalMs maps controller seconds to local milliseconds for a known offset.
func LocalMs(serverSeconds, offsetMs float64) float64 {
	return serverSeconds*1000 - offsetMs
}

// Time converts local epoch milliseconds to a time.Time.
func Time(localMs float64) time.Time {
	return time.UnixMilli(int64(localMs))
}

// NowMs returns the local clock as epoch milliseconds.
func (s *Sync) NowMs() float64 {
	return float64(s.now().UnixMilli())
}
