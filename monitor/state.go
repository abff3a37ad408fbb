package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"aircomp/clock"
	"aircomp/config"
	"aircomp/fetchguard"
	"aircomp/gauge"
	"aircomp/metrics"
	"aircomp/models"
)

// StateMonitor polls /status, projects each sample onto the board and
// keeps the gauges pointing at the latest values.
type StateMonitor struct {
	cfg    *config.Config
	device Device
	logger *zap.Logger
	guard  *fetchguard.Guard
	clock  *clock.Sync
	board  *Board
	format Formatter
	now    func() time.Time

	mu          sync.RWMutex
	sample      *models.StateSample
	settings    models.Settings
	hasSettings bool
	tank        gauge.Dial
	line        gauge.Dial
	duty        gauge.Pie
	listeners   []StateListener
}

type StateOption func(*StateMonitor)

// WithFormatter replaces FormatValue for board values.
func WithFormatter(f Formatter) StateOption {
	return func(m *StateMonitor) { m.format = f }
}

// WithStateClock replaces the local clock.
func WithStateClock(now func() time.Time) StateOption {
	return func(m *StateMonitor) { m.now = now }
}

func NewStateMonitor(cfg *config.Config, device Device, logger *zap.Logger, opts ...StateOption) *StateMonitor {
	m := &StateMonitor{
		cfg:    cfg,
		device: device,
		logger: logger,
		board:  NewBoard(),
		format: FormatValue,
		now:    time.Now,
		tank:   gauge.NewDial("Tank Pressure"),
		line:   gauge.NewDial("Line Pressure"),
		duty:   gauge.NewPie("Duty"),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.clock = clock.New(clock.WithNow(m.now), clock.WithResync(cfg.ClockResyncInterval))
	m.guard = fetchguard.New(EndpointStatus, cfg.FetchRecoveryInterval,
		fetchguard.WithNow(m.now),
		fetchguard.WithAbortHandler(m.onAbort),
	)
	return m
}

// Subscribe registers a listener for poll outcomes.
func (m *StateMonitor) Subscribe(l StateListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Start polls immediately and then every StateQueryInterval until ctx is
// done. A zero interval disables the loop.
func (m *StateMonitor) Start(ctx context.Context) {
	interval := m.cfg.StateQueryInterval
	if interval <= 0 {
		m.logger.Info("State polling disabled")
		return
	}

	m.logger.Info("Starting state monitor",
		zap.Duration("interval", interval),
		zap.Duration("late_interval", m.cfg.StateFetchLateInterval),
		zap.Bool("demo_mode", m.cfg.DemoMode))

	if !m.cfg.DemoMode {
		if err := m.LoadSettings(ctx); err != nil {
			m.logger.Warn("Failed to load controller settings", zap.Error(err))
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("State monitor stopped")
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll starts one fetch in the background. It returns false when the
// previous fetch is still outstanding and this cycle is skipped.
func (m *StateMonitor) Poll(ctx context.Context) bool {
	if m.cfg.DemoMode {
		m.ApplyDemoState()
		return true
	}
	lease, ok := m.acquire(ctx)
	if !ok {
		return false
	}
	go m.fetch(lease)
	return true
}

// Refresh fetches and applies one sample synchronously.
func (m *StateMonitor) Refresh(ctx context.Context) error {
	if m.cfg.DemoMode {
		m.ApplyDemoState()
		return nil
	}
	lease, ok := m.acquire(ctx)
	if !ok {
		return ErrBusy
	}
	return m.fetch(lease)
}

func (m *StateMonitor) acquire(ctx context.Context) (*fetchguard.Lease, bool) {
	lease, ok := m.guard.TryAcquire(ctx)
	if !ok {
		metrics.GuardDenials.WithLabelValues(m.guard.Name()).Inc()
		m.logger.Debug("State fetch still pending, skipping poll")
	}
	return lease, ok
}

// lateWatch lets the late watchdog and the response settle the same fetch
// in order. Once done is set the watchdog does nothing.
type lateWatch struct {
	mu   sync.Mutex
	done bool
}

func (w *lateWatch) finish() {
	w.mu.Lock()
	w.done = true
	w.mu.Unlock()
}

func (m *StateMonitor) fetch(lease *fetchguard.Lease) error {
	watch := &lateWatch{}
	var late *time.Timer
	if m.cfg.StateFetchLateInterval > 0 {
		late = time.AfterFunc(m.cfg.StateFetchLateInterval, func() { m.fetchLate(watch) })
	}

	start := time.Now()
	sample, err := m.device.Status(lease.Context())
	if late != nil {
		late.Stop()
	}
	// waits for a watchdog already flagging the error
	watch.finish()
	metrics.PollDuration.WithLabelValues(EndpointStatus).Observe(time.Since(start).Seconds())

	if !lease.Release() {
		metrics.PollsTotal.WithLabelValues(EndpointStatus, metrics.OutcomeStale).Inc()
		m.logger.Warn("Discarding state response received after recovery")
		return ErrStale
	}
	if err != nil {
		metrics.PollsTotal.WithLabelValues(EndpointStatus, metrics.OutcomeError).Inc()
		err = fmt.Errorf("failed to fetch state: %w", err)
		m.fail(err)
		return err
	}

	metrics.PollsTotal.WithLabelValues(EndpointStatus, metrics.OutcomeOK).Inc()
	m.apply(sample)
	return nil
}

func (m *StateMonitor) fetchLate(watch *lateWatch) {
	watch.mu.Lock()
	defer watch.mu.Unlock()
	if watch.done {
		return
	}
	metrics.LateFetches.Inc()
	m.fail(ErrLate)
}

func (m *StateMonitor) onAbort(name string) {
	metrics.GuardAborts.WithLabelValues(name).Inc()
	m.logger.Warn("Aborted stalled request", zap.String("endpoint", name))
}

// ApplyDemoState applies a fabricated sample in place of a fetch.
func (m *StateMonitor) ApplyDemoState() {
	m.apply(DemoState(m.now()))
}

func (m *StateMonitor) apply(sample *models.StateSample) {
	var offset float64
	if t := sample.ServerTime(); t > 0 {
		offset = m.clock.EstimateOffset(t)
	} else {
		offset, _ = m.clock.Offset()
	}

	m.board.SetCommunicationError(false)
	m.board.Touch(m.now())
	m.board.Apply(sample, func(key string, value any) string {
		return m.format(key, value, offset)
	})

	m.mu.Lock()
	m.sample = sample
	m.tank.Value = sample.TankPressure
	m.line.Value = sample.LinePressure
	m.duty.Value = sample.Duty
	if sample.MaxDuty > 0 {
		m.duty.MaxValue = sample.MaxDuty
	}
	m.placeSetPoints()
	listeners := append([]StateListener(nil), m.listeners...)
	m.mu.Unlock()

	metrics.UpdateStateMetrics(sample.TankPressure, sample.LinePressure, sample.Duty)

	snapshot := m.board.Snapshot()
	for _, l := range listeners {
		l.StateUpdated(sample, snapshot)
	}
}

func (m *StateMonitor) fail(err error) {
	m.board.SetCommunicationError(true)
	metrics.CommunicationError.Set(1)
	m.logger.Warn("Communication error", zap.Error(err))

	m.mu.RLock()
	listeners := append([]StateListener(nil), m.listeners...)
	m.mu.RUnlock()
	for _, l := range listeners {
		l.StateFailed(err)
	}
}

// placeSetPoints must be called with m.mu held.
func (m *StateMonitor) placeSetPoints() {
	switch {
	case m.cfg.DemoMode:
		m.tank.StartPressure = demoStartPressure
		m.tank.StopPressure = demoStopPressure
		m.line.AlarmPressure = demoAlarmPressure
	case m.hasSettings:
		m.tank.StartPressure = m.settings.StartPressure
		m.tank.StopPressure = m.settings.StopPressure
		m.line.AlarmPressure = m.settings.MinLinePressure
		if m.sample == nil || m.sample.MaxDuty <= 0 {
			m.duty.MaxValue = m.settings.MaxDuty
		}
	}
}

// LoadSettings fetches the controller settings that place the gauge set
// points.
func (m *StateMonitor) LoadSettings(ctx context.Context) error {
	settings, err := m.device.Settings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	m.mu.Lock()
	m.settings = *settings
	m.hasSettings = true
	m.placeSetPoints()
	m.mu.Unlock()

	m.logger.Info("Loaded controller settings",
		zap.Float64("start_pressure", settings.StartPressure),
		zap.Float64("stop_pressure", settings.StopPressure),
		zap.Float64("min_line_pressure", settings.MinLinePressure))
	return nil
}

func (m *StateMonitor) Board() *Board {
	return m.board
}

func (m *StateMonitor) Clock() *clock.Sync {
	return m.clock
}

// Sample returns the most recently applied sample.
func (m *StateMonitor) Sample() (*models.StateSample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sample, m.sample != nil
}

func (m *StateMonitor) Settings() (models.Settings, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings, m.hasSettings
}

// Gauges returns copies of the gauges as of the last sample.
func (m *StateMonitor) Gauges() (tank, line gauge.Dial, duty gauge.Pie) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tank, m.line, m.duty
}
