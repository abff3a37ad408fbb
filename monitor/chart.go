package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"aircomp/annotation"
	"aircomp/clock"
	"aircomp/config"
	"aircomp/fetchguard"
	"aircomp/metrics"
	"aircomp/models"
	"aircomp/series"
)

// Chart is the drawing collaborator driven by the chart loop. Mutations
// are not visible until Redraw.
type Chart interface {
	AppendPoints(points []models.SeriesPoint)
	SetDomain(minMs, maxMs float64)
	UpsertAnnotation(key string, spec models.Annotation)
	SetAnnotationVisible(keyPrefix string, visible bool)
	SetDatasetVisible(index int, visible bool)
	Redraw() error
}

// ChartMonitor polls the state and activity logs, merges them into the
// series store and annotation ledger and keeps the chart window scrolling.
type ChartMonitor struct {
	cfg           *config.Config
	device        Device
	chart         Chart
	logger        *zap.Logger
	stateGuard    *fetchguard.Guard
	activityGuard *fetchguard.Guard
	clock         *clock.Sync
	store         *series.Store
	ledger        *annotation.Ledger
	now           func() time.Time

	// appendMu keeps the store and the chart receiving batches in one order
	appendMu sync.Mutex

	mu                 sync.Mutex
	lastStateUpdate    float64
	lastActivityUpdate float64
	durationIndex      int
	duration           time.Duration
	activitiesVisible  bool
	commandsVisible    bool
	autoDomain         bool
	listeners          []ChartListener
}

type ChartOption func(*ChartMonitor)

// WithChartClock replaces the local clock.
func WithChartClock(now func() time.Time) ChartOption {
	return func(m *ChartMonitor) { m.now = now }
}

func NewChartMonitor(cfg *config.Config, device Device, chart Chart, logger *zap.Logger, opts ...ChartOption) *ChartMonitor {
	m := &ChartMonitor{
		cfg:               cfg,
		device:            device,
		chart:             chart,
		logger:            logger,
		store:             series.NewStore(),
		ledger:            annotation.NewLedger(),
		now:               time.Now,
		duration:          cfg.ChartDurations[0],
		activitiesVisible: true,
		commandsVisible:   true,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.clock = clock.New(clock.WithNow(m.now), clock.WithResync(cfg.ClockResyncInterval))
	m.stateGuard = fetchguard.New(EndpointStateLogs, cfg.FetchRecoveryInterval,
		fetchguard.WithNow(m.now), fetchguard.WithAbortHandler(m.onAbort))
	m.activityGuard = fetchguard.New(EndpointActivityLogs, cfg.FetchRecoveryInterval,
		fetchguard.WithNow(m.now), fetchguard.WithAbortHandler(m.onAbort))
	return m
}

func (m *ChartMonitor) Subscribe(l ChartListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Start runs the log poll loop and, when ChartDomainUpdateInterval is set,
// the domain scroll loop until ctx is done.
func (m *ChartMonitor) Start(ctx context.Context) {
	var wg sync.WaitGroup

	if interval := m.cfg.ChartDomainUpdateInterval; interval > 0 {
		m.mu.Lock()
		m.autoDomain = true
		m.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runDomainLoop(ctx, interval)
		}()
	}

	if interval := m.cfg.ChartQueryInterval; interval > 0 {
		m.logger.Info("Starting chart monitor",
			zap.Duration("interval", interval),
			zap.String("activity_watermark_policy", m.cfg.ActivityWatermarkPolicy),
			zap.Bool("demo_mode", m.cfg.DemoMode))
		m.runQueryLoop(ctx, interval)
	} else {
		m.logger.Info("Chart polling disabled")
	}

	wg.Wait()
	m.logger.Info("Chart monitor stopped")
}

func (m *ChartMonitor) runQueryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

func (m *ChartMonitor) runDomainLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.ScrollDomain()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ScrollDomain()
		}
	}
}

// Poll starts the state log and activity log fetches in the background,
// each skipped while its previous fetch is outstanding.
func (m *ChartMonitor) Poll(ctx context.Context) {
	if m.cfg.DemoMode {
		m.AppendDemoData()
		return
	}
	if lease, ok := m.acquire(ctx, m.stateGuard); ok {
		go m.fetchStates(lease)
	}
	if lease, ok := m.acquire(ctx, m.activityGuard); ok {
		go m.fetchActivity(lease)
	}
}

// RefreshStates fetches and merges one state log batch synchronously.
func (m *ChartMonitor) RefreshStates(ctx context.Context) error {
	lease, ok := m.acquire(ctx, m.stateGuard)
	if !ok {
		return ErrBusy
	}
	return m.fetchStates(lease)
}

// RefreshActivity fetches and merges one activity log batch synchronously.
func (m *ChartMonitor) RefreshActivity(ctx context.Context) error {
	lease, ok := m.acquire(ctx, m.activityGuard)
	if !ok {
		return ErrBusy
	}
	return m.fetchActivity(lease)
}

func (m *ChartMonitor) acquire(ctx context.Context, g *fetchguard.Guard) (*fetchguard.Lease, bool) {
	lease, ok := g.TryAcquire(ctx)
	if !ok {
		metrics.GuardDenials.WithLabelValues(g.Name()).Inc()
		m.logger.Debug("Chart fetch still pending, skipping poll", zap.String("endpoint", g.Name()))
	}
	return lease, ok
}

func (m *ChartMonitor) fetchStates(lease *fetchguard.Lease) error {
	m.mu.Lock()
	since := m.lastStateUpdate
	m.mu.Unlock()

	start := time.Now()
	batch, err := m.device.StateLogs(lease.Context(), since)
	metrics.PollDuration.WithLabelValues(EndpointStateLogs).Observe(time.Since(start).Seconds())

	if err := m.settle(lease, EndpointStateLogs, err); err != nil {
		return err
	}
	m.ProcessStateBatch(batch)
	return nil
}

func (m *ChartMonitor) fetchActivity(lease *fetchguard.Lease) error {
	m.mu.Lock()
	since := m.lastActivityUpdate
	m.mu.Unlock()

	start := time.Now()
	batch, err := m.device.ActivityLogs(lease.Context(), since)
	metrics.PollDuration.WithLabelValues(EndpointActivityLogs).Observe(time.Since(start).Seconds())

	if err := m.settle(lease, EndpointActivityLogs, err); err != nil {
		return err
	}
	m.ProcessActivityBatch(batch)
	return nil
}

// settle releases the lease and classifies the outcome of a log fetch.
func (m *ChartMonitor) settle(lease *fetchguard.Lease, endpoint string, err error) error {
	if !lease.Release() {
		metrics.PollsTotal.WithLabelValues(endpoint, metrics.OutcomeStale).Inc()
		m.logger.Warn("Discarding log response received after recovery", zap.String("endpoint", endpoint))
		return ErrStale
	}
	if err != nil {
		metrics.PollsTotal.WithLabelValues(endpoint, metrics.OutcomeError).Inc()
		m.logger.Error("Communication error fetching logs",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return fmt.Errorf("failed to fetch %s: %w", endpoint, err)
	}
	metrics.PollsTotal.WithLabelValues(endpoint, metrics.OutcomeOK).Inc()
	return nil
}

func (m *ChartMonitor) onAbort(name string) {
	metrics.GuardAborts.WithLabelValues(name).Inc()
	m.logger.Warn("Aborted stalled request", zap.String("endpoint", name))
}

// ProcessStateBatch merges a state log batch, advances the state
// watermark and, when the domain is not scrolled by timer, moves the
// window to end at the batch time.
func (m *ChartMonitor) ProcessStateBatch(batch *models.StateLogBatch) {
	offset := m.clock.EstimateOffset(batch.Time)

	m.mu.Lock()
	m.lastStateUpdate = batch.Time
	autoDomain := m.autoDomain
	duration := m.duration
	listeners := append([]ChartListener(nil), m.listeners...)
	m.mu.Unlock()

	m.appendMu.Lock()
	appended := m.store.Append(batch.State, offset)
	m.chart.AppendPoints(appended)
	m.appendMu.Unlock()
	metrics.SeriesPoints.Set(float64(m.store.Len()))

	if !autoDomain {
		end := clock.LocalMs(batch.Time, offset)
		m.chart.SetDomain(end-float64(duration.Milliseconds()), end)
	}
	m.redraw()

	m.logger.Debug("Merged state logs",
		zap.Int("received", len(batch.State)),
		zap.Int("appended", len(appended)),
		zap.Float64("max_duration", batch.MaxDuration))

	if len(appended) > 0 {
		for _, l := range listeners {
			l.PointsAppended(appended)
		}
	}
}

// ProcessActivityBatch upserts activities and commands into the ledger and
// the chart, then advances the activity watermark per policy.
func (m *ChartMonitor) ProcessActivityBatch(batch *models.ActivityLogBatch) {
	offset, ok := m.clock.Offset()
	if !ok {
		offset = m.clock.EstimateOffset(batch.Time)
	}

	m.mu.Lock()
	if m.cfg.ActivityWatermarkPolicy == config.ActivityWatermarkRefetchAll {
		m.lastActivityUpdate = 0
	} else {
		m.lastActivityUpdate = batch.Time
	}
	activitiesVisible := m.activitiesVisible
	commandsVisible := m.commandsVisible
	listeners := append([]ChartListener(nil), m.listeners...)
	m.mu.Unlock()

	upserted := make([]models.Annotation, 0, len(batch.Activity)+len(batch.Commands))
	for _, a := range batch.Activity {
		ann := m.ledger.UpsertActivity(a, offset, activitiesVisible)
		m.chart.UpsertAnnotation(ann.Key, ann)
		upserted = append(upserted, ann)
	}
	for _, c := range batch.Commands {
		ann, ok := m.ledger.UpsertCommand(c, offset, commandsVisible)
		if !ok {
			continue
		}
		m.chart.UpsertAnnotation(ann.Key, ann)
		upserted = append(upserted, ann)
	}
	metrics.Annotations.Set(float64(m.ledger.Len()))
	m.redraw()

	if len(upserted) > 0 {
		for _, l := range listeners {
			l.AnnotationsUpserted(upserted)
		}
	}
}

// AppendDemoData merges a fabricated state log batch in place of a fetch.
func (m *ChartMonitor) AppendDemoData() {
	m.ProcessStateBatch(DemoStateLogs(m.now()))
}

// ScrollDomain moves the window to end one query interval in the past,
// so points never appear to pop in at the leading edge.
func (m *ChartMonitor) ScrollDomain() {
	m.updateDomain()
	m.redraw()
}

func (m *ChartMonitor) updateDomain() {
	m.mu.Lock()
	duration := m.duration
	m.mu.Unlock()

	end := float64(m.now().Add(-m.cfg.ChartQueryInterval).UnixMilli())
	m.chart.SetDomain(end-float64(duration.Milliseconds()), end)
}

func (m *ChartMonitor) redraw() {
	if err := m.chart.Redraw(); err != nil {
		m.logger.Error("Failed to redraw chart", zap.Error(err))
	}
}

// SetChartDurationIndex selects one of the configured chart durations.
func (m *ChartMonitor) SetChartDurationIndex(index int) error {
	if index < 0 || index >= len(m.cfg.ChartDurations) {
		return fmt.Errorf("chart duration index %d out of range [0,%d)", index, len(m.cfg.ChartDurations))
	}

	m.mu.Lock()
	changed := m.durationIndex != index
	m.durationIndex = index
	m.duration = m.cfg.ChartDurations[index]
	m.mu.Unlock()

	if changed {
		m.ScrollDomain()
	}
	return nil
}

func (m *ChartMonitor) SetSeriesVisibility(index int, visible bool) error {
	if index < 0 || index >= models.DatasetCount {
		return fmt.Errorf("series index %d out of range [0,%d)", index, models.DatasetCount)
	}
	m.chart.SetDatasetVisible(index, visible)
	m.redraw()
	return nil
}

func (m *ChartMonitor) SetActivityVisibility(visible bool) {
	m.mu.Lock()
	m.activitiesVisible = visible
	m.mu.Unlock()

	m.ledger.SetActivityVisibility(visible)
	m.chart.SetAnnotationVisible(annotation.ActivityPrefix, visible)
	m.redraw()
}

func (m *ChartMonitor) SetCommandVisibility(visible bool) {
	m.mu.Lock()
	m.commandsVisible = visible
	m.mu.Unlock()

	m.ledger.SetCommandVisibility(visible)
	m.chart.SetAnnotationVisible(annotation.CommandPrefix, visible)
	m.redraw()
}

// Watermarks returns the controller times the next log polls start from.
func (m *ChartMonitor) Watermarks() (state, activity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStateUpdate, m.lastActivityUpdate
}

func (m *ChartMonitor) Duration() (int, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.durationIndex, m.duration
}

// Visibility reports whether activities and commands are shown.
func (m *ChartMonitor) Visibility() (activities, commands bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activitiesVisible, m.commandsVisible
}

func (m *ChartMonitor) Store() *series.Store {
	return m.store
}

func (m *ChartMonitor) Ledger() *annotation.Ledger {
	return m.ledger
}

func (m *ChartMonitor) Clock() *clock.Sync {
	return m.clock
}
