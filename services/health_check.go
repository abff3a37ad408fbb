package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"aircomp/config"
	"aircomp/models"
	"aircomp/monitor"

	"go.uber.org/zap"
)

// LinkAlerter is told when the controller link is lost or recovered
type LinkAlerter interface {
	SendLinkLostAlert(event models.LinkEvent) error
	SendLinkRestoredAlert(event models.LinkEvent) error
}

// LinkMonitor watches the state loop and raises alerts when the controller
// stops answering for longer than the link timeout
type LinkMonitor struct {
	config   *config.Config
	alerters []LinkAlerter
	logger   *zap.Logger
	health   models.LinkHealth
	mu       sync.RWMutex
	now      func() time.Time
}

var _ monitor.StateListener = (*LinkMonitor)(nil)

const linkCheckInterval = 5 * time.Second

// NewLinkMonitor creates a link monitor. The timeout clock starts now, so a
// controller that never answers is reported too.
func NewLinkMonitor(cfg *config.Config, logger *zap.Logger, alerters ...LinkAlerter) *LinkMonitor {
	return newLinkMonitor(cfg, logger, time.Now, alerters...)
}

func newLinkMonitor(cfg *config.Config, logger *zap.Logger, now func() time.Time, alerters ...LinkAlerter) *LinkMonitor {
	return &LinkMonitor{
		config:   cfg,
		alerters: alerters,
		logger:   logger,
		now:      now,
		health: models.LinkHealth{
			DeviceURL: cfg.DeviceURL,
			LastSeen:  now(),
			Status:    models.LinkUnknown,
		},
	}
}

// Start runs the timeout checker until ctx is done
func (h *LinkMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(linkCheckInterval)
	defer ticker.Stop()

	h.logger.Info("Link timeout checker started", zap.Duration("timeout", h.config.LinkTimeout))

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Link timeout checker stopped")
			return
		case <-ticker.C:
			h.checkTimeout()
		}
	}
}

// StateUpdated records an answer from the controller
func (h *LinkMonitor) StateUpdated(_ *models.StateSample, _ monitor.BoardSnapshot) {
	now := h.now()

	h.mu.Lock()
	wasLost := h.health.Status == models.LinkLost
	event := models.LinkEvent{
		Status:   models.LinkRecovered,
		LastSeen: now,
		Since:    now.Sub(h.health.LostAt),
	}

	h.health.LastSeen = now
	h.health.LastError = ""
	if wasLost {
		h.health.Status = models.LinkRecovered
	} else {
		h.health.Status = models.LinkHealthy
	}
	h.mu.Unlock()

	if !wasLost {
		return
	}

	h.logger.Info("Controller link recovered", zap.Duration("down_duration", event.Since))
	for _, a := range h.alerters {
		if err := a.SendLinkRestoredAlert(event); err != nil {
			h.logger.Error("Failed to send recovery alert", zap.Error(err))
		}
	}
}

// StateFailed keeps the last error for the alert. The late watchdog is not
// a failure of the link.
func (h *LinkMonitor) StateFailed(err error) {
	if errors.Is(err, monitor.ErrLate) {
		return
	}

	h.mu.Lock()
	h.health.LastError = err.Error()
	h.mu.Unlock()
}

// checkTimeout marks the link lost when nothing was heard within the timeout
func (h *LinkMonitor) checkTimeout() {
	now := h.now()

	h.mu.Lock()
	if h.health.Status == models.LinkLost {
		h.mu.Unlock()
		return
	}

	sinceLastSeen := now.Sub(h.health.LastSeen)
	if sinceLastSeen <= h.config.LinkTimeout {
		h.mu.Unlock()
		return
	}

	neverSeen := h.health.Status == models.LinkUnknown
	lastSeen := h.health.LastSeen
	h.health.Status = models.LinkLost
	h.health.LostAt = now
	event := models.LinkEvent{
		Status:    models.LinkLost,
		Since:     sinceLastSeen,
		LastError: h.health.LastError,
	}
	// A controller never heard from has no last-seen time to report
	if !neverSeen {
		event.LastSeen = lastSeen
	}
	h.mu.Unlock()

	h.logger.Warn("Controller link timeout detected",
		zap.Time("last_seen", lastSeen),
		zap.Duration("time_since_last_seen", sinceLastSeen),
		zap.String("last_error", event.LastError))

	for _, a := range h.alerters {
		if err := a.SendLinkLostAlert(event); err != nil {
			h.logger.Error("Failed to send link lost alert", zap.Error(err))
		}
	}
}

// Health returns a copy of the current link health
func (h *LinkMonitor) Health() models.LinkHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.health
}
