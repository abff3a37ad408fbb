// Package monitor runs the poll loops that keep the dashboard model in
// step with the compressor controller, and sends operator commands.
package monitor

import (
	"context"
	"errors"
	"net/url"

	"aircomp/models"
)

// Controller endpoints.
const (
	EndpointStatus       = "/status"
	EndpointStateLogs    = "/state_logs"
	EndpointActivityLogs = "/activity_logs"
	EndpointSettings     = "/settings"
	EndpointOn           = "/on"
	EndpointOff          = "/off"
	EndpointRun          = "/run"
	EndpointPause        = "/pause"
	EndpointPurge        = "/purge"
)

var (
	// ErrBusy is returned when a poll is skipped because the previous one
	// on the same endpoint is still outstanding.
	ErrBusy = errors.New("previous request still outstanding")
	// ErrStale is returned when a response arrived after its guard had
	// already given up on it. The response is discarded.
	ErrStale = errors.New("response arrived after recovery")
	// ErrLate is reported when the state poll misses its late interval.
	ErrLate = errors.New("state fetch overdue")
)

// Device is the compressor controller's HTTP contract.
type Device interface {
	Status(ctx context.Context) (*models.StateSample, error)
	StateLogs(ctx context.Context, since float64) (*models.StateLogBatch, error)
	ActivityLogs(ctx context.Context, since float64) (*models.ActivityLogBatch, error)
	Settings(ctx context.Context) (*models.Settings, error)
	// Command calls a command endpoint. A nil body is sent as a GET.
	Command(ctx context.Context, endpoint string, params url.Values, body any) (*models.CommandResult, error)
}

// StateListener observes the state loop.
type StateListener interface {
	StateUpdated(sample *models.StateSample, board BoardSnapshot)
	StateFailed(err error)
}

// ChartListener observes data merged by the chart loop.
type ChartListener interface {
	PointsAppended(points []models.SeriesPoint)
	AnnotationsUpserted(annotations []models.Annotation)
}
