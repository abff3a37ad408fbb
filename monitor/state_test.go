package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"aircomp/models"
)

func TestStateRefreshAppliesSample(t *testing.T) {
	server := float64(fixedNow.UnixMilli())/1000 + 100
	device := &fakeDevice{status: returning(&models.StateSample{
		SystemTime:   server,
		TankPressure: 110,
		LinePressure: 85,
		Duty:         0.3,
		MaxDuty:      0.5,
		MotorState:   models.MotorRun,
		Raw:          map[string]any{"system_time": server, "tank_pressure": 110.0, "motor_state": "run"},
	})}
	listener := &recordingListener{}

	m := NewStateMonitor(testConfig(), device, zap.NewNop(), WithStateClock(fixedClock))
	m.Subscribe(listener)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Expected refresh to succeed, got %v", err)
	}

	if offset, ok := m.Clock().Offset(); !ok || offset != 100000 {
		t.Errorf("Expected offset 100000, got %v (set=%v)", offset, ok)
	}
	if v, _ := m.Board().Value("system_time"); v != fixedNow.Local().Format("15:04:05") {
		t.Errorf("Expected system_time on the local clock, got %s", v)
	}
	if !m.Board().LastUpdate().Equal(fixedNow) {
		t.Errorf("Expected last update %v, got %v", fixedNow, m.Board().LastUpdate())
	}

	tank, line, duty := m.Gauges()
	if tank.Value != 110 || line.Value != 85 || duty.Value != 0.3 || duty.MaxValue != 0.5 {
		t.Errorf("Expected gauges 110/85/0.3 max 0.5, got %v/%v/%v max %v", tank.Value, line.Value, duty.Value, duty.MaxValue)
	}

	if updates, _ := listener.counts(); updates != 1 {
		t.Errorf("Expected 1 update notification, got %d", updates)
	}
}

func TestStateClockOffsetSetOnce(t *testing.T) {
	server := float64(fixedNow.UnixMilli()) / 1000
	device := &fakeDevice{}
	m := NewStateMonitor(testConfig(), device, zap.NewNop(), WithStateClock(fixedClock))

	device.status = returning(&models.StateSample{SystemTime: server + 10, Raw: map[string]any{}})
	_ = m.Refresh(context.Background())
	device.status = returning(&models.StateSample{SystemTime: server + 500, Raw: map[string]any{}})
	_ = m.Refresh(context.Background())

	if offset, _ := m.Clock().Offset(); offset != 10000 {
		t.Errorf("Expected offset frozen at 10000, got %v", offset)
	}
}

func TestStateErrorKeepsValues(t *testing.T) {
	device := &fakeDevice{status: returning(mustSample(t, `{"tank_pressure":100,"motor_state":"run"}`))}
	listener := &recordingListener{}
	m := NewStateMonitor(testConfig(), device, zap.NewNop())
	m.Subscribe(listener)

	_ = m.Refresh(context.Background())

	device.status = func(context.Context) (*models.StateSample, error) {
		return nil, errors.New("connection refused")
	}
	if err := m.Refresh(context.Background()); err == nil {
		t.Fatal("Expected refresh error")
	}

	if !m.Board().HasClass(ClassCompressorError) {
		t.Error("Expected compressor_error after a failed poll")
	}
	if v, _ := m.Board().Value("tank_pressure"); v != "100.00" {
		t.Errorf("Expected stale value kept, got %q", v)
	}
	if _, errs := listener.counts(); len(errs) != 1 {
		t.Errorf("Expected 1 failure notification, got %d", len(errs))
	}

	device.status = returning(mustSample(t, `{"tank_pressure":101,"motor_state":"run"}`))
	_ = m.Refresh(context.Background())
	if m.Board().HasClass(ClassCompressorError) {
		t.Error("Expected compressor_error cleared on success")
	}
}

func TestStatePollSkipsWhilePending(t *testing.T) {
	release := make(chan struct{})
	device := &fakeDevice{status: func(context.Context) (*models.StateSample, error) {
		<-release
		return mustSample(t, `{"motor_state":"run"}`), nil
	}}
	listener := &recordingListener{}
	m := NewStateMonitor(testConfig(), device, zap.NewNop())
	m.Subscribe(listener)

	if !m.Poll(context.Background()) {
		t.Fatal("Expected first poll to start")
	}
	if m.Poll(context.Background()) {
		t.Error("Expected second poll to be skipped")
	}
	if err := m.Refresh(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}

	close(release)
	waitFor(t, func() bool {
		updates, _ := listener.counts()
		return updates == 1
	})
}

func TestStateLateWatchdogFlagsError(t *testing.T) {
	cfg := testConfig()
	cfg.StateFetchLateInterval = 10 * time.Millisecond
	device := &fakeDevice{status: func(context.Context) (*models.StateSample, error) {
		time.Sleep(60 * time.Millisecond)
		return mustSample(t, `{"motor_state":"run"}`), nil
	}}
	listener := &recordingListener{}
	m := NewStateMonitor(cfg, device, zap.NewNop())
	m.Subscribe(listener)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Expected the late response still applied, got %v", err)
	}

	updates, errs := listener.counts()
	if len(errs) != 1 || !errors.Is(errs[0], ErrLate) {
		t.Errorf("Expected one ErrLate notification, got %v", errs)
	}
	if updates != 1 {
		t.Errorf("Expected the response applied after the warning, got %d updates", updates)
	}
	if m.Board().HasClass(ClassCompressorError) {
		t.Error("Expected compressor_error cleared by the late response")
	}
}

// orderedListener records the sequence of notifications.
type orderedListener struct {
	mu     sync.Mutex
	events []string
}

func (l *orderedListener) StateUpdated(*models.StateSample, BoardSnapshot) {
	l.mu.Lock()
	l.events = append(l.events, "updated")
	l.mu.Unlock()
}

func (l *orderedListener) StateFailed(error) {
	l.mu.Lock()
	l.events = append(l.events, "failed")
	l.mu.Unlock()
}

func (l *orderedListener) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return ""
	}
	return l.events[len(l.events)-1]
}

func TestStateResponseRacingWatchdogClearsError(t *testing.T) {
	cfg := testConfig()
	cfg.StateFetchLateInterval = time.Millisecond
	device := &fakeDevice{status: func(context.Context) (*models.StateSample, error) {
		time.Sleep(time.Millisecond)
		return mustSample(t, `{"motor_state":"run"}`), nil
	}}
	listener := &orderedListener{}
	m := NewStateMonitor(cfg, device, zap.NewNop())
	m.Subscribe(listener)

	for i := 0; i < 300; i++ {
		if err := m.Refresh(context.Background()); err != nil {
			t.Fatalf("Expected refresh %d to succeed, got %v", i, err)
		}
		// a watchdog that lost the race must not fire afterwards
		time.Sleep(2 * time.Millisecond)
		if m.Board().HasClass(ClassCompressorError) {
			t.Fatalf("Expected compressor_error cleared after refresh %d", i)
		}
		if got := listener.last(); got != "updated" {
			t.Fatalf("Expected the update notified last after refresh %d, got %s", i, got)
		}
	}
}

func TestStateStalledRequestIsDiscarded(t *testing.T) {
	cfg := testConfig()
	cfg.FetchRecoveryInterval = 20 * time.Millisecond
	device := &fakeDevice{status: func(ctx context.Context) (*models.StateSample, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	listener := &recordingListener{}
	m := NewStateMonitor(cfg, device, zap.NewNop())
	m.Subscribe(listener)

	if err := m.Refresh(context.Background()); !errors.Is(err, ErrStale) {
		t.Errorf("Expected ErrStale, got %v", err)
	}
	if _, ok := m.Sample(); ok {
		t.Error("Expected nothing applied from a stalled request")
	}

	device.status = returning(mustSample(t, `{"motor_state":"run"}`))
	if err := m.Refresh(context.Background()); err != nil {
		t.Errorf("Expected the guard reopened after recovery, got %v", err)
	}
}

func TestStateSetPointsFromSettings(t *testing.T) {
	settings := models.DefaultSettings()
	device := &fakeDevice{
		settings: &settings,
		status:   returning(mustSample(t, `{"tank_pressure":100,"line_pressure":90,"duty":0.2}`)),
	}
	m := NewStateMonitor(testConfig(), device, zap.NewNop())

	if err := m.LoadSettings(context.Background()); err != nil {
		t.Fatalf("Expected settings to load, got %v", err)
	}
	_ = m.Refresh(context.Background())

	tank, line, duty := m.Gauges()
	if tank.StartPressure != 90 || tank.StopPressure != 125 {
		t.Errorf("Expected tank set points 90/125, got %v/%v", tank.StartPressure, tank.StopPressure)
	}
	if line.AlarmPressure != 89 {
		t.Errorf("Expected line alarm 89, got %v", line.AlarmPressure)
	}
	if duty.MaxValue != 0.6 {
		t.Errorf("Expected duty max 0.6 from settings, got %v", duty.MaxValue)
	}
}

func TestStateDemoMode(t *testing.T) {
	cfg := testConfig()
	cfg.DemoMode = true
	m := NewStateMonitor(cfg, &fakeDevice{}, zap.NewNop())

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Expected demo refresh to succeed, got %v", err)
	}

	tank, line, _ := m.Gauges()
	if tank.Value < 110 || tank.Value > 130 {
		t.Errorf("Expected demo tank pressure in [110,130], got %v", tank.Value)
	}
	if tank.StartPressure != 90 || tank.StopPressure != 120 || line.AlarmPressure != 80 {
		t.Errorf("Expected demo set points 90/120/80, got %v/%v/%v", tank.StartPressure, tank.StopPressure, line.AlarmPressure)
	}
	if !m.Board().HasClass(ClassPauseAvailable) {
		t.Error("Expected pause available for a running demo compressor")
	}
	if v, _ := m.Board().Value("shutdown"); v == "never" || v == "" {
		t.Errorf("Expected a demo shutdown time, got %q", v)
	}
}
