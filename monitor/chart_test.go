package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"aircomp/annotation"
	"aircomp/config"
	"aircomp/models"
)

type recordingChart struct {
	mu          sync.Mutex
	points      []models.SeriesPoint
	domainMin   float64
	domainMax   float64
	annotations map[string]models.Annotation
	prefixes    map[string]bool
	datasets    map[int]bool
	redraws     int
}

func newRecordingChart() *recordingChart {
	return &recordingChart{
		annotations: make(map[string]models.Annotation),
		prefixes:    make(map[string]bool),
		datasets:    make(map[int]bool),
	}
}

func (c *recordingChart) AppendPoints(points []models.SeriesPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = append(c.points, points...)
}

func (c *recordingChart) SetDomain(minMs, maxMs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.domainMin, c.domainMax = minMs, maxMs
}

func (c *recordingChart) UpsertAnnotation(key string, spec models.Annotation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.annotations[key] = spec
}

func (c *recordingChart) SetAnnotationVisible(keyPrefix string, visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefixes[keyPrefix] = visible
}

func (c *recordingChart) SetDatasetVisible(index int, visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datasets[index] = visible
}

func (c *recordingChart) Redraw() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redraws++
	return nil
}

func (c *recordingChart) domain() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.domainMin, c.domainMax
}

type recordingChartListener struct {
	mu          sync.Mutex
	points      int
	annotations int
}

func (l *recordingChartListener) PointsAppended(points []models.SeriesPoint) {
	l.mu.Lock()
	l.points += len(points)
	l.mu.Unlock()
}

func (l *recordingChartListener) AnnotationsUpserted(annotations []models.Annotation) {
	l.mu.Lock()
	l.annotations += len(annotations)
	l.mu.Unlock()
}

var nowSeconds = float64(fixedNow.UnixMilli()) / 1000

func stateBatch(at float64, times ...float64) *models.StateLogBatch {
	batch := &models.StateLogBatch{Time: at}
	for _, ts := range times {
		batch.State = append(batch.State, models.StateLogEntry{Time: ts, TankPressure: 100, LinePressure: 80, Duty: 0.5})
	}
	return batch
}

func TestProcessStateBatchMergesAndSetsDomain(t *testing.T) {
	chart := newRecordingChart()
	listener := &recordingChartListener{}
	m := NewChartMonitor(testConfig(), &fakeDevice{}, chart, zap.NewNop(), WithChartClock(fixedClock))
	m.Subscribe(listener)

	// newest first, controller clock equal to local
	m.ProcessStateBatch(stateBatch(nowSeconds, nowSeconds-1, nowSeconds-2, nowSeconds-3))
	m.ProcessStateBatch(stateBatch(nowSeconds+2, nowSeconds+2, nowSeconds+1, nowSeconds-1))

	points := m.Store().Points()
	if len(points) != 5 {
		t.Fatalf("Expected 5 points after overlap removal, got %d", len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].Time <= points[i-1].Time {
			t.Errorf("Expected ascending times, got %v then %v", points[i-1].Time, points[i].Time)
		}
	}
	if points[0].Duty != 50 {
		t.Errorf("Expected duty scaled to 50, got %v", points[0].Duty)
	}
	if len(chart.points) != 5 {
		t.Errorf("Expected chart to receive 5 points, got %d", len(chart.points))
	}
	if listener.points != 5 {
		t.Errorf("Expected listener told of 5 points, got %d", listener.points)
	}

	state, _ := m.Watermarks()
	if state != nowSeconds+2 {
		t.Errorf("Expected state watermark %v, got %v", nowSeconds+2, state)
	}

	lo, hi := chart.domain()
	wantHi := float64(fixedNow.UnixMilli()) + 2000
	if hi != wantHi || lo != wantHi-float64((5*time.Minute).Milliseconds()) {
		t.Errorf("Expected domain ending at the batch time, got [%v, %v]", lo, hi)
	}
	if chart.redraws != 2 {
		t.Errorf("Expected a redraw per batch, got %d", chart.redraws)
	}
}

func TestConcurrentStateBatchesReachChartInOrder(t *testing.T) {
	chart := newRecordingChart()
	m := NewChartMonitor(testConfig(), &fakeDevice{}, chart, zap.NewNop(), WithChartClock(fixedClock))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := nowSeconds + float64(i)
			m.ProcessStateBatch(stateBatch(at, at, at-0.5))
		}(i)
	}
	wg.Wait()

	chart.mu.Lock()
	defer chart.mu.Unlock()
	if len(chart.points) != m.Store().Len() {
		t.Errorf("Expected chart and store to hold the same %d points, got %d", m.Store().Len(), len(chart.points))
	}
	for i := 1; i < len(chart.points); i++ {
		if chart.points[i].Time <= chart.points[i-1].Time {
			t.Fatalf("Expected ascending chart points, got %v then %v", chart.points[i-1].Time, chart.points[i].Time)
		}
	}
}

func TestProcessStateBatchLeavesDomainToTimer(t *testing.T) {
	cfg := testConfig()
	chart := newRecordingChart()
	m := NewChartMonitor(cfg, &fakeDevice{}, chart, zap.NewNop(), WithChartClock(fixedClock))
	m.autoDomain = true

	m.ProcessStateBatch(stateBatch(nowSeconds, nowSeconds))
	if lo, hi := chart.domain(); lo != 0 || hi != 0 {
		t.Errorf("Expected domain untouched while the timer runs, got [%v, %v]", lo, hi)
	}

	m.ScrollDomain()
	_, hi := chart.domain()
	want := float64(fixedNow.Add(-cfg.ChartQueryInterval).UnixMilli())
	if hi != want {
		t.Errorf("Expected domain end one query interval in the past, got %v want %v", hi, want)
	}
}

func TestProcessActivityBatch(t *testing.T) {
	chart := newRecordingChart()
	listener := &recordingChartListener{}
	m := NewChartMonitor(testConfig(), &fakeDevice{}, chart, zap.NewNop(), WithChartClock(fixedClock))
	m.Subscribe(listener)

	m.ProcessActivityBatch(&models.ActivityLogBatch{
		Time:     nowSeconds,
		Activity: []models.Activity{{Start: 5, Stop: 10, Event: models.EventRunning}},
		Commands: []models.Command{{Time: 1, Command: models.CommandOn}, {Time: 2, Command: "X"}},
	})
	m.ProcessActivityBatch(&models.ActivityLogBatch{
		Time:     nowSeconds + 5,
		Activity: []models.Activity{{Start: 5, Stop: 15, Event: models.EventRunning}},
	})

	if m.Ledger().Len() != 2 {
		t.Errorf("Expected one activity and one command, got %d entries", m.Ledger().Len())
	}
	ann, ok := m.Ledger().Get("activity_id_5")
	if !ok {
		t.Fatal("Expected activity_id_5")
	}
	offset, _ := m.Clock().Offset()
	if ann.XMax != 15000-offset {
		t.Errorf("Expected the box extended to stop=15, got %v", ann.XMax)
	}
	if _, ok := chart.annotations["command_id_2"]; ok {
		t.Error("Expected unknown command dropped")
	}
	if listener.annotations != 3 {
		t.Errorf("Expected 3 upserts reported, got %d", listener.annotations)
	}

	_, activity := m.Watermarks()
	if activity != nowSeconds+5 {
		t.Errorf("Expected activity watermark advanced, got %v", activity)
	}
}

func TestActivityWatermarkRefetchAll(t *testing.T) {
	cfg := testConfig()
	cfg.ActivityWatermarkPolicy = config.ActivityWatermarkRefetchAll
	m := NewChartMonitor(cfg, &fakeDevice{}, newRecordingChart(), zap.NewNop())

	m.ProcessActivityBatch(&models.ActivityLogBatch{Time: 1234})

	if _, activity := m.Watermarks(); activity != 0 {
		t.Errorf("Expected watermark held at 0, got %v", activity)
	}
}

func TestRefreshUsesWatermarks(t *testing.T) {
	device := &fakeDevice{
		stateLogs: func(_ context.Context, since float64) (*models.StateLogBatch, error) {
			return stateBatch(since+10, since+10), nil
		},
		activityLogs: func(_ context.Context, since float64) (*models.ActivityLogBatch, error) {
			return &models.ActivityLogBatch{Time: since + 10}, nil
		},
	}
	m := NewChartMonitor(testConfig(), device, newRecordingChart(), zap.NewNop())

	for i := 0; i < 2; i++ {
		if err := m.RefreshStates(context.Background()); err != nil {
			t.Fatalf("Expected state refresh, got %v", err)
		}
		if err := m.RefreshActivity(context.Background()); err != nil {
			t.Fatalf("Expected activity refresh, got %v", err)
		}
	}

	if len(device.stateSinces) != 2 || device.stateSinces[0] != 0 || device.stateSinces[1] != 10 {
		t.Errorf("Expected state polls since 0 then 10, got %v", device.stateSinces)
	}
	if len(device.activitySinces) != 2 || device.activitySinces[1] != 10 {
		t.Errorf("Expected activity polls since 0 then 10, got %v", device.activitySinces)
	}
}

func TestRefreshErrorKeepsWatermark(t *testing.T) {
	device := &fakeDevice{stateLogs: func(context.Context, float64) (*models.StateLogBatch, error) {
		return nil, errors.New("timeout")
	}}
	m := NewChartMonitor(testConfig(), device, newRecordingChart(), zap.NewNop())

	if err := m.RefreshStates(context.Background()); err == nil {
		t.Fatal("Expected error")
	}
	if state, _ := m.Watermarks(); state != 0 {
		t.Errorf("Expected watermark unchanged, got %v", state)
	}
	if err := m.RefreshStates(context.Background()); errors.Is(err, ErrBusy) {
		t.Error("Expected the guard released after an error")
	}
}

func TestChartVisibility(t *testing.T) {
	chart := newRecordingChart()
	m := NewChartMonitor(testConfig(), &fakeDevice{}, chart, zap.NewNop(), WithChartClock(fixedClock))

	m.ProcessActivityBatch(&models.ActivityLogBatch{
		Time:     nowSeconds,
		Activity: []models.Activity{{Start: 1, Stop: 2, Event: models.EventPurge}},
		Commands: []models.Command{{Time: 3, Command: models.CommandPause}},
	})

	m.SetActivityVisibility(false)
	if ann, _ := m.Ledger().Get("activity_id_1"); ann.Display {
		t.Error("Expected activity hidden in the ledger")
	}
	if visible, ok := chart.prefixes[annotation.ActivityPrefix]; !ok || visible {
		t.Error("Expected chart told to hide activities")
	}
	if ann, _ := m.Ledger().Get("command_id_3"); !ann.Display {
		t.Error("Expected commands untouched")
	}

	// new activities arrive hidden
	m.ProcessActivityBatch(&models.ActivityLogBatch{
		Time:     nowSeconds,
		Activity: []models.Activity{{Start: 4, Stop: 5, Event: models.EventRunning}},
	})
	if ann, _ := m.Ledger().Get("activity_id_4"); ann.Display {
		t.Error("Expected new activity hidden")
	}

	m.SetCommandVisibility(false)
	if activities, commands := m.Visibility(); activities || commands {
		t.Error("Expected both hidden")
	}

	if err := m.SetSeriesVisibility(models.DatasetDuty, false); err != nil {
		t.Errorf("Expected valid series index, got %v", err)
	}
	if visible, ok := chart.datasets[models.DatasetDuty]; !ok || visible {
		t.Error("Expected duty dataset hidden")
	}
	if err := m.SetSeriesVisibility(5, true); err == nil {
		t.Error("Expected error for an unknown series")
	}
}

func TestSetChartDurationIndex(t *testing.T) {
	chart := newRecordingChart()
	m := NewChartMonitor(testConfig(), &fakeDevice{}, chart, zap.NewNop(), WithChartClock(fixedClock))

	if err := m.SetChartDurationIndex(2); err != nil {
		t.Fatalf("Expected valid index, got %v", err)
	}
	index, duration := m.Duration()
	if index != 2 || duration != 20*time.Minute {
		t.Errorf("Expected 20 minutes at index 2, got %v at %d", duration, index)
	}
	lo, hi := chart.domain()
	if hi-lo != float64((20 * time.Minute).Milliseconds()) {
		t.Errorf("Expected a 20 minute window, got %v ms", hi-lo)
	}

	redraws := chart.redraws
	_ = m.SetChartDurationIndex(2)
	if chart.redraws != redraws {
		t.Error("Expected no redraw when the index is unchanged")
	}

	if err := m.SetChartDurationIndex(3); err == nil {
		t.Error("Expected error for an out of range index")
	}
}

func TestChartDemoData(t *testing.T) {
	cfg := testConfig()
	cfg.DemoMode = true
	m := NewChartMonitor(cfg, &fakeDevice{}, newRecordingChart(), zap.NewNop(), WithChartClock(fixedClock))

	m.Poll(context.Background())

	if m.Store().Len() != 5 {
		t.Errorf("Expected 5 demo points, got %d", m.Store().Len())
	}
}
