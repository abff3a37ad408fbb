package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"aircomp/config"
	"aircomp/models"
	"aircomp/monitor"

	"go.uber.org/zap"
)

// DeviceClient talks to the compressor controller's HTTP API
type DeviceClient struct {
	logger     *zap.Logger
	baseURL    string
	httpClient *http.Client
}

// NewDeviceClient creates a client for the controller at cfg.DeviceURL
func NewDeviceClient(cfg *config.Config, logger *zap.Logger) *DeviceClient {
	return &DeviceClient{
		logger:  logger,
		baseURL: cfg.DeviceURL,
		httpClient: &http.Client{
			Timeout: cfg.DeviceTimeout,
		},
	}
}

var _ monitor.Device = (*DeviceClient)(nil)

// Status fetches the current state snapshot
func (d *DeviceClient) Status(ctx context.Context) (*models.StateSample, error) {
	body, err := d.get(ctx, monitor.EndpointStatus, nil)
	if err != nil {
		return nil, err
	}
	return models.ParseStateSample(body)
}

// StateLogs fetches state log rows newer than since (server seconds)
func (d *DeviceClient) StateLogs(ctx context.Context, since float64) (*models.StateLogBatch, error) {
	body, err := d.get(ctx, monitor.EndpointStateLogs, sinceQuery(since))
	if err != nil {
		return nil, err
	}

	var batch models.StateLogBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode state logs: %w", err)
	}
	return &batch, nil
}

// ActivityLogs fetches activities and commands newer than since
func (d *DeviceClient) ActivityLogs(ctx context.Context, since float64) (*models.ActivityLogBatch, error) {
	body, err := d.get(ctx, monitor.EndpointActivityLogs, sinceQuery(since))
	if err != nil {
		return nil, err
	}

	var batch models.ActivityLogBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode activity logs: %w", err)
	}
	return &batch, nil
}

// Settings fetches the controller's public settings
func (d *DeviceClient) Settings(ctx context.Context) (*models.Settings, error) {
	body, err := d.get(ctx, monitor.EndpointSettings, nil)
	if err != nil {
		return nil, err
	}

	var settings models.Settings
	if err := json.Unmarshal(body, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &settings, nil
}

// Command calls a command endpoint. The controller answers {"result": ...}
// on success and on rejection alike, so the body is decoded for any status.
func (d *DeviceClient) Command(ctx context.Context, endpoint string, params url.Values, body any) (*models.CommandResult, error) {
	var (
		req *http.Request
		err error
	)
	if body == nil {
		req, err = d.newRequest(ctx, http.MethodGet, endpoint, params, nil)
	} else {
		jsonData, merr := json.Marshal(body)
		if merr != nil {
			return nil, fmt.Errorf("failed to marshal command body: %w", merr)
		}
		req, err = d.newRequest(ctx, http.MethodPost, endpoint, params, bytes.NewReader(jsonData))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}

	var result models.CommandResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unexpected %s response (status %d): %w", endpoint, resp.StatusCode, err)
	}

	d.logger.Debug("Command answered",
		zap.String("endpoint", endpoint),
		zap.Int("status_code", resp.StatusCode),
		zap.String("result", result.Result),
	)

	return &result, nil
}

func (d *DeviceClient) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	req, err := d.newRequest(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logger.Warn("Controller returned non-success status",
			zap.String("endpoint", endpoint),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(body)),
		)
		return nil, fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
	}

	return body, nil
}

func (d *DeviceClient) newRequest(ctx context.Context, method, endpoint string, params url.Values, body io.Reader) (*http.Request, error) {
	target := d.baseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "aircomp-monitor/1.0")
	return req, nil
}

func sinceQuery(since float64) url.Values {
	return url.Values{"since": {strconv.FormatFloat(since, 'f', -1, 64)}}
}
