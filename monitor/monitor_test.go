package monitor

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"aircomp/config"
	"aircomp/models"
)

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func testConfig() *config.Config {
	return &config.Config{
		StateQueryInterval:        time.Second,
		ChartQueryInterval:        5 * time.Second,
		ChartDomainUpdateInterval: time.Second,
		FetchRecoveryInterval:     5 * time.Second,
		ChartDurations:            []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute},
		ActivityWatermarkPolicy:   config.ActivityWatermarkAdvance,
	}
}

// fakeDevice answers with whatever its function fields return.
type fakeDevice struct {
	mu           sync.Mutex
	status       func(ctx context.Context) (*models.StateSample, error)
	stateLogs    func(ctx context.Context, since float64) (*models.StateLogBatch, error)
	activityLogs func(ctx context.Context, since float64) (*models.ActivityLogBatch, error)
	settings     *models.Settings
	result       string
	commandErr   error

	commands       []string
	params         []url.Values
	bodies         []any
	stateSinces    []float64
	activitySinces []float64
}

func (d *fakeDevice) Status(ctx context.Context) (*models.StateSample, error) {
	if d.status == nil {
		return nil, errors.New("no status")
	}
	return d.status(ctx)
}

func (d *fakeDevice) StateLogs(ctx context.Context, since float64) (*models.StateLogBatch, error) {
	d.mu.Lock()
	d.stateSinces = append(d.stateSinces, since)
	d.mu.Unlock()
	if d.stateLogs == nil {
		return nil, errors.New("no state logs")
	}
	return d.stateLogs(ctx, since)
}

func (d *fakeDevice) ActivityLogs(ctx context.Context, since float64) (*models.ActivityLogBatch, error) {
	d.mu.Lock()
	d.activitySinces = append(d.activitySinces, since)
	d.mu.Unlock()
	if d.activityLogs == nil {
		return nil, errors.New("no activity logs")
	}
	return d.activityLogs(ctx, since)
}

func (d *fakeDevice) Settings(ctx context.Context) (*models.Settings, error) {
	if d.settings == nil {
		return nil, errors.New("no settings")
	}
	s := *d.settings
	return &s, nil
}

func (d *fakeDevice) Command(ctx context.Context, endpoint string, params url.Values, body any) (*models.CommandResult, error) {
	d.mu.Lock()
	d.commands = append(d.commands, endpoint)
	d.params = append(d.params, params)
	d.bodies = append(d.bodies, body)
	d.mu.Unlock()
	if d.commandErr != nil {
		return nil, d.commandErr
	}
	return &models.CommandResult{Result: d.result}, nil
}

func (d *fakeDevice) commandCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.commands)
}

func mustSample(t *testing.T, body string) *models.StateSample {
	t.Helper()
	s, err := models.ParseStateSample([]byte(body))
	if err != nil {
		t.Fatalf("Failed to parse sample: %v", err)
	}
	return s
}

func returning(s *models.StateSample) func(context.Context) (*models.StateSample, error) {
	return func(context.Context) (*models.StateSample, error) { return s, nil }
}

type recordingListener struct {
	mu      sync.Mutex
	updates int
	errs    []error
	last    BoardSnapshot
}

func (l *recordingListener) StateUpdated(_ *models.StateSample, board BoardSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates++
	l.last = board
}

func (l *recordingListener) StateFailed(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *recordingListener) counts() (int, []error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updates, append([]error(nil), l.errs...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}
