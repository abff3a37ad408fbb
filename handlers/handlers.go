// Package handlers serves the dashboard HTTP API.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"aircomp/config"
	"aircomp/models"
	"aircomp/monitor"
	"aircomp/render"
)

// maxImageSize bounds the w and h query parameters
const maxImageSize = 4096

// ChartImage is the rendered chart
type ChartImage interface {
	Image() ([]byte, bool)
	Render(w io.Writer, width, height int) error
}

// Handler holds the dependencies of the HTTP handlers
type Handler struct {
	cfg       *config.Config
	state     *monitor.StateMonitor
	chart     *monitor.ChartMonitor
	image     ChartImage
	actions   *monitor.Actions
	link      func() models.LinkHealth
	logger    *zap.Logger
	startTime time.Time
}

// NewHandler creates the handler set
func NewHandler(cfg *config.Config, state *monitor.StateMonitor, chart *monitor.ChartMonitor, image ChartImage, actions *monitor.Actions, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		state:     state,
		chart:     chart,
		image:     image,
		actions:   actions,
		logger:    logger,
		startTime: time.Now(),
	}
}

// SetLinkHealth adds the controller link status to /health
func (h *Handler) SetLinkHealth(fn func() models.LinkHealth) {
	h.link = fn
}

// Router registers every route
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", h.StateHandler).Methods(http.MethodGet)
	api.HandleFunc("/series", h.SeriesHandler).Methods(http.MethodGet)
	api.HandleFunc("/annotations", h.AnnotationsHandler).Methods(http.MethodGet)
	api.HandleFunc("/chart/duration", h.DurationHandler).Methods(http.MethodPost)
	api.HandleFunc("/chart/visibility", h.VisibilityHandler).Methods(http.MethodPost)
	api.HandleFunc("/commands/{name}", h.CommandHandler).Methods(http.MethodPost)
	api.HandleFunc("/settings", h.SettingsHandler).Methods(http.MethodPost)

	router.HandleFunc("/gauges/{name:[a-z]+}.png", h.GaugeHandler).Methods(http.MethodGet)
	router.HandleFunc("/chart.png", h.ChartHandler).Methods(http.MethodGet)
	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	router.Handle("/prometheus", promhttp.Handler())

	router.Use(h.metricsMiddleware)
	router.Use(h.loggingMiddleware)

	return router
}

// StateHandler handles GET /api/state
func (h *Handler) StateHandler(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, h.state.Board().Snapshot(), http.StatusOK)
}

// SeriesHandler handles GET /api/series?since=<local ms>
func (h *Handler) SeriesHandler(w http.ResponseWriter, r *http.Request) {
	points := h.chart.Store().Points()
	if s := r.URL.Query().Get("since"); s != "" {
		since, err := strconv.ParseFloat(s, 64)
		if err != nil {
			h.respondError(w, "Invalid since: "+err.Error(), http.StatusBadRequest)
			return
		}
		points = h.chart.Store().Since(since)
	}
	if points == nil {
		points = []models.SeriesPoint{}
	}
	h.respondJSON(w, points, http.StatusOK)
}

// AnnotationsHandler handles GET /api/annotations
func (h *Handler) AnnotationsHandler(w http.ResponseWriter, r *http.Request) {
	annotations := h.chart.Ledger().Snapshot()
	if annotations == nil {
		annotations = []models.Annotation{}
	}
	h.respondJSON(w, annotations, http.StatusOK)
}

// GaugeHandler handles GET /gauges/{tank|line|duty}.png
func (h *Handler) GaugeHandler(w http.ResponseWriter, r *http.Request) {
	width, height, err := imageSize(r, h.cfg.GaugeSize, h.cfg.GaugeSize)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	tank, line, duty := h.state.Gauges()
	var g render.Drawable
	switch mux.Vars(r)["name"] {
	case "tank":
		g = tank
	case "line":
		g = line
	case "duty":
		g = duty
	default:
		h.respondError(w, "Unknown gauge", http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	if err := render.GaugePNG(&buf, g, width, height); err != nil {
		h.logger.Error("Failed to render gauge", zap.Error(err))
		h.respondError(w, "Failed to render gauge", http.StatusInternalServerError)
		return
	}
	h.respondPNG(w, buf.Bytes())
}

// ChartHandler handles GET /chart.png. Without size parameters it serves
// the image from the last redraw.
func (h *Handler) ChartHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("w") && !q.Has("h") {
		if img, ok := h.image.Image(); ok {
			h.respondPNG(w, img)
			return
		}
	}

	width, height, err := imageSize(r, h.cfg.ChartWidth, h.cfg.ChartHeight)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	if err := h.image.Render(&buf, width, height); err != nil {
		if errors.Is(err, render.ErrNoData) {
			h.respondError(w, "Chart has no data yet", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("Failed to render chart", zap.Error(err))
		h.respondError(w, "Failed to render chart", http.StatusInternalServerError)
		return
	}
	h.respondPNG(w, buf.Bytes())
}

type durationRequest struct {
	Index int `json:"index"`
}

// DurationHandler handles POST /api/chart/duration
func (h *Handler) DurationHandler(w http.ResponseWriter, r *http.Request) {
	var req durationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.chart.SetChartDurationIndex(req.Index); err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	index, duration := h.chart.Duration()
	h.respondJSON(w, map[string]interface{}{
		"index":            index,
		"duration_seconds": duration.Seconds(),
	}, http.StatusOK)
}

type visibilityRequest struct {
	Target  string `json:"target"`
	Index   int    `json:"index"`
	Visible bool   `json:"visible"`
}

// VisibilityHandler handles POST /api/chart/visibility. Target is series
// (with a dataset index), activities or commands.
func (h *Handler) VisibilityHandler(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	switch req.Target {
	case "series":
		if err := h.chart.SetSeriesVisibility(req.Index, req.Visible); err != nil {
			h.respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
	case "activities":
		h.chart.SetActivityVisibility(req.Visible)
	case "commands":
		h.chart.SetCommandVisibility(req.Visible)
	default:
		h.respondError(w, fmt.Sprintf("Unknown target %q", req.Target), http.StatusBadRequest)
		return
	}

	activities, commands := h.chart.Visibility()
	h.respondJSON(w, map[string]interface{}{
		"activities": activities,
		"commands":   commands,
	}, http.StatusOK)
}

// CommandHandler handles POST /api/commands/{on|off|run|pause|purge}.
// on takes shutdown_in, purge takes drain_duration and drain_delay, all in
// seconds as query parameters.
func (h *Handler) CommandHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	var err error
	switch mux.Vars(r)["name"] {
	case "on":
		if q.Has("shutdown_in") {
			var shutdownIn time.Duration
			if shutdownIn, err = secondsParam(q.Get("shutdown_in")); err != nil {
				h.respondError(w, "Invalid shutdown_in", http.StatusBadRequest)
				return
			}
			err = h.actions.TurnOnFor(ctx, shutdownIn)
		} else {
			err = h.actions.TurnOn(ctx)
		}
	case "off":
		err = h.actions.TurnOff(ctx)
	case "run":
		err = h.actions.Run(ctx)
	case "pause":
		err = h.actions.Pause(ctx)
	case "purge":
		var drainDuration, drainDelay time.Duration
		if q.Has("drain_duration") {
			if drainDuration, err = secondsParam(q.Get("drain_duration")); err != nil {
				h.respondError(w, "Invalid drain_duration", http.StatusBadRequest)
				return
			}
		}
		if q.Has("drain_delay") {
			if drainDelay, err = secondsParam(q.Get("drain_delay")); err != nil {
				h.respondError(w, "Invalid drain_delay", http.StatusBadRequest)
				return
			}
		}
		err = h.actions.PurgeFor(ctx, drainDuration, drainDelay)
	default:
		h.respondError(w, "Unknown command", http.StatusNotFound)
		return
	}

	h.respondCommand(w, err)
}

// SettingsHandler handles POST /api/settings with a flat object of dotted
// keys, e.g. {"tank_pressure_sensor.value_max": 150}
func (h *Handler) SettingsHandler(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		h.respondError(w, "No settings given", http.StatusBadRequest)
		return
	}

	form := make(map[string]string, len(body))
	for key, value := range body {
		switch v := value.(type) {
		case string:
			form[key] = v
		case float64:
			form[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			form[key] = strconv.FormatBool(v)
		default:
			h.respondError(w, fmt.Sprintf("Setting %q must be a string, number or boolean", key), http.StatusBadRequest)
			return
		}
	}

	h.respondCommand(w, h.actions.SubmitSettings(r.Context(), form))
}

// HealthHandler handles GET /health
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	board := h.state.Board().Snapshot()

	response := map[string]interface{}{
		"status":              "healthy",
		"timestamp":           time.Now(),
		"uptime":              time.Since(h.startTime).String(),
		"last_update":         board.LastUpdate,
		"communication_error": board.CommunicationError,
		"demo_mode":           h.cfg.DemoMode,
	}
	if h.link != nil {
		link := h.link()
		response["link"] = link.Status
		if !link.LastSeen.IsZero() {
			response["link_last_seen"] = link.LastSeen
		}
	}

	h.respondJSON(w, response, http.StatusOK)
}

func (h *Handler) respondCommand(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		h.respondJSON(w, map[string]string{"result": "ok"}, http.StatusOK)
	case errors.Is(err, monitor.ErrRejected):
		h.respondError(w, err.Error(), http.StatusConflict)
	default:
		h.respondError(w, err.Error(), http.StatusBadGateway)
	}
}

// respondJSON sends a JSON response
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error as JSON
func (h *Handler) respondError(w http.ResponseWriter, message string, status int) {
	h.respondJSON(w, map[string]string{"error": message}, status)
}

func (h *Handler) respondPNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// imageSize reads w and h, falling back to the defaults
func imageSize(r *http.Request, defaultWidth, defaultHeight int) (int, int, error) {
	q := r.URL.Query()
	width, err := intParam(q.Get("w"), defaultWidth)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid w: %w", err)
	}
	height, err := intParam(q.Get("h"), defaultHeight)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid h: %w", err)
	}
	return width, height, nil
}

func intParam(s string, defaultValue int) (int, error) {
	if s == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > maxImageSize {
		return 0, fmt.Errorf("%d out of range 1..%d", n, maxImageSize)
	}
	return n, nil
}

func secondsParam(s string) (time.Duration, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid seconds %q", s)
	}
	return time.Duration(n) * time.Second, nil
}
