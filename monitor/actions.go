package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"aircomp/metrics"
)

// ErrRejected is returned when the controller answers a command with
// anything but {"result":"ok"}.
var ErrRejected = errors.New("controller rejected command")

var successMessages = map[string]string{
	EndpointSettings: "Settings Updated",
}

var failureMessages = map[string]string{
	EndpointSettings: "Compressor rejected settings",
	EndpointOn:       "Compressor did not turn on",
	EndpointOff:      "Compressor did not turn off",
	EndpointRun:      "Compressor did not run",
	EndpointPause:    "Compressor did not pause",
	EndpointPurge:    "Compressor did not purge",
}

// ResultHandler is told the endpoint of a finished command and the message
// for it, which may be empty.
type ResultHandler func(endpoint, message string)

// Actions sends operator commands to the controller. Transport failures
// and rejections both go to the failure handlers.
type Actions struct {
	device Device
	state  *StateMonitor
	logger *zap.Logger

	mu        sync.RWMutex
	onSuccess []ResultHandler
	onFailure []ResultHandler
}

// NewActions creates the command sender. state may be nil; when set it is
// refreshed after every accepted command.
func NewActions(device Device, state *StateMonitor, logger *zap.Logger) *Actions {
	return &Actions{
		device: device,
		state:  state,
		logger: logger,
	}
}

func (a *Actions) OnSuccess(h ResultHandler) {
	a.mu.Lock()
	a.onSuccess = append(a.onSuccess, h)
	a.mu.Unlock()
}

func (a *Actions) OnFailure(h ResultHandler) {
	a.mu.Lock()
	a.onFailure = append(a.onFailure, h)
	a.mu.Unlock()
}

func (a *Actions) TurnOn(ctx context.Context) error {
	return a.Command(ctx, EndpointOn, nil)
}

// TurnOnFor turns the compressor on with an automatic shutdown.
func (a *Actions) TurnOnFor(ctx context.Context, shutdownIn time.Duration) error {
	params := url.Values{}
	params.Set("shutdown_in", strconv.Itoa(int(shutdownIn.Seconds())))
	return a.Command(ctx, EndpointOn, params)
}

func (a *Actions) TurnOff(ctx context.Context) error {
	return a.Command(ctx, EndpointOff, nil)
}

func (a *Actions) Run(ctx context.Context) error {
	return a.Command(ctx, EndpointRun, nil)
}

func (a *Actions) Pause(ctx context.Context) error {
	return a.Command(ctx, EndpointPause, nil)
}

func (a *Actions) Purge(ctx context.Context) error {
	return a.Command(ctx, EndpointPurge, nil)
}

// PurgeFor opens the purge valve for drainDuration after drainDelay.
// Zero values leave the controller defaults.
func (a *Actions) PurgeFor(ctx context.Context, drainDuration, drainDelay time.Duration) error {
	params := url.Values{}
	if drainDuration > 0 {
		params.Set("drain_duration", strconv.Itoa(int(drainDuration.Seconds())))
	}
	if drainDelay > 0 {
		params.Set("drain_delay", strconv.Itoa(int(drainDelay.Seconds())))
	}
	return a.Command(ctx, EndpointPurge, params)
}

// Command sends one of the GET command endpoints.
func (a *Actions) Command(ctx context.Context, endpoint string, params url.Values) error {
	if _, ok := failureMessages[endpoint]; !ok || endpoint == EndpointSettings {
		return fmt.Errorf("unknown command endpoint %q", endpoint)
	}
	return a.submit(ctx, endpoint, params, nil)
}

// SubmitSettings posts form fields to /settings. Dotted keys are nested,
// so "tank_pressure_sensor.value_max" becomes
// {"tank_pressure_sensor":{"value_max":...}}.
func (a *Actions) SubmitSettings(ctx context.Context, form map[string]string) error {
	data := make(map[string]any, len(form))
	for key, value := range form {
		AssignKeyPath(data, key, value)
	}
	return a.submit(ctx, EndpointSettings, nil, data)
}

func (a *Actions) submit(ctx context.Context, endpoint string, params url.Values, body any) error {
	result, err := a.device.Command(ctx, endpoint, params, body)
	if err == nil && !result.OK() {
		err = fmt.Errorf("%w: %s replied %q", ErrRejected, endpoint, result.Result)
	}
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(endpoint, metrics.OutcomeError).Inc()
		a.logger.Error("Command failed",
			zap.String("endpoint", endpoint),
			zap.String("message", failureMessages[endpoint]),
			zap.Error(err))
		a.callFailure(endpoint)
		return err
	}

	metrics.CommandsTotal.WithLabelValues(endpoint, metrics.OutcomeOK).Inc()
	a.logger.Info("Command accepted", zap.String("endpoint", endpoint))
	a.callSuccess(ctx, endpoint)
	return nil
}

func (a *Actions) callSuccess(ctx context.Context, endpoint string) {
	a.mu.RLock()
	handlers := append([]ResultHandler(nil), a.onSuccess...)
	a.mu.RUnlock()

	for _, h := range handlers {
		h(endpoint, successMessages[endpoint])
	}

	if a.state == nil {
		return
	}
	// the caller's context may end with its request
	ctx = context.WithoutCancel(ctx)
	if endpoint == EndpointSettings {
		if err := a.state.LoadSettings(ctx); err != nil {
			a.logger.Warn("Failed to reload settings", zap.Error(err))
		}
	}
	a.state.Poll(ctx)
}

func (a *Actions) callFailure(endpoint string) {
	a.mu.RLock()
	handlers := append([]ResultHandler(nil), a.onFailure...)
	a.mu.RUnlock()

	for _, h := range handlers {
		h(endpoint, failureMessages[endpoint])
	}
}

// AssignKeyPath stores value in data under a dotted key path, creating
// nested maps as needed. A non-map found on the path is replaced.
func AssignKeyPath(data map[string]any, keyPath string, value any) {
	parts := strings.Split(keyPath, ".")
	node := data
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
}
