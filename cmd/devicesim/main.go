package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"aircomp/models"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

var (
	listenAddr = flag.String("listen", ":8081", "Address to serve the controller API on")
	tickRate   = flag.Duration("tick", time.Second, "Simulation step and state log interval")
	logSize    = flag.Int("log-size", 3600, "Number of state log rows kept")
	consumeCFM = flag.Float64("consumption", 0.4, "Tank pressure lost per tick to air consumption (psi)")
	fillRate   = flag.Float64("fill", 1.5, "Tank pressure gained per tick while the motor runs (psi)")
)

// Simulator is an in-memory compressor controller
type Simulator struct {
	mu       sync.Mutex
	settings models.Settings
	logger   *zap.Logger

	on           bool
	motor        models.MotorState
	tank         float64
	line         float64
	duty         float64
	shutdownAt   float64
	purgeAt      float64
	purgeUntil   float64
	startedAt    float64
	runtime      float64
	stateLog     []models.StateLogEntry
	activities   []models.Activity
	commands     []models.Command
	openActivity map[string]int
}

func NewSimulator(logger *zap.Logger) *Simulator {
	now := epochSeconds(time.Now())
	return &Simulator{
		settings:     models.DefaultSettings(),
		logger:       logger,
		on:           true,
		motor:        models.MotorPause,
		tank:         100,
		line:         88,
		startedAt:    now,
		openActivity: make(map[string]int),
	}
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

// Step advances the simulation to now and appends a state log row
func (s *Simulator) Step(now float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.on && s.shutdownAt > 0 && now >= s.shutdownAt {
		s.logger.Info("Automatic shutdown reached")
		s.turnOffLocked(now)
	}

	running := s.motor == models.MotorRun
	if running {
		s.tank += *fillRate
		s.runtime += tickRate.Seconds()
	}
	s.tank -= *consumeCFM * (0.5 + rand.Float64())
	s.tank = math.Max(0, s.tank)
	s.line = math.Min(s.tank, s.settings.MinLinePressure+2) - rand.Float64()

	// duty is an exponential average of the motor being on
	alpha := tickRate.Seconds() / math.Max(s.settings.DutyDuration, 1)
	target := 0.0
	if running {
		target = 1
	}
	s.duty += alpha * (target - s.duty)

	switch {
	case !s.on:
		s.setMotorLocked(models.MotorOff, now)
	case running && s.tank >= s.settings.StopPressure:
		s.setMotorLocked(models.MotorPause, now)
	case running && s.duty >= s.settings.MaxDuty:
		s.setMotorLocked(models.MotorDuty, now)
	case s.motor == models.MotorDuty && s.duty < s.settings.MaxDuty*0.8:
		s.setMotorLocked(models.MotorPause, now)
	case s.motor == models.MotorPause && s.tank <= s.settings.StartPressure:
		s.setMotorLocked(models.MotorRun, now)
	}

	s.stepPurgeLocked(now)
	s.extendActivityLocked(models.EventRunning, s.motor == models.MotorRun, now)

	s.stateLog = append(s.stateLog, models.StateLogEntry{
		Time:         now,
		TankPressure: round2(s.tank),
		LinePressure: round2(s.line),
		Duty:         round2(s.duty),
		State:        string(s.motor),
	})
	if len(s.stateLog) > *logSize {
		s.stateLog = s.stateLog[len(s.stateLog)-*logSize:]
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *Simulator) setMotorLocked(state models.MotorState, now float64) {
	if s.motor == state {
		return
	}
	s.logger.Debug("Motor state changed",
		zap.String("from", string(s.motor)),
		zap.String("to", string(state)),
		zap.Float64("tank_pressure", s.tank))
	s.motor = state
}

func (s *Simulator) stepPurgeLocked(now float64) {
	open := s.purgeAt > 0 && now >= s.purgeAt && now < s.purgeUntil
	if s.purgeAt > 0 && now >= s.purgeUntil {
		s.purgeAt, s.purgeUntil = 0, 0
	}
	s.extendActivityLocked(models.EventPurge, open, now)
}

// extendActivityLocked opens, grows or closes the interval for event
func (s *Simulator) extendActivityLocked(event string, active bool, now float64) {
	i, open := s.openActivity[event]
	switch {
	case active && !open:
		s.activities = append(s.activities, models.Activity{Start: now, Stop: now, Event: event})
		s.openActivity[event] = len(s.activities) - 1
	case active && open:
		s.activities[i].Stop = now
	case !active && open:
		s.activities[i].Stop = now
		delete(s.openActivity, event)
	}
}

func (s *Simulator) turnOffLocked(now float64) {
	s.on = false
	s.shutdownAt = 0
	s.motor = models.MotorOff
	s.commands = append(s.commands, models.Command{Time: now, Command: models.CommandOff})
}

// Status is the /status body
func (s *Simulator) Status(now float64) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]any{
		"system_time":           now,
		"tank_pressure":         round2(s.tank),
		"line_pressure":         round2(s.line),
		"duty":                  round2(s.duty),
		"max_duty":              s.settings.MaxDuty,
		"motor_state":           string(s.motor),
		"compressor_on":         s.on,
		"run_request":           s.motor == models.MotorRun,
		"purge_open":            s.purgeAt > 0 && now >= s.purgeAt,
		"purge_pending":         s.purgeAt > now,
		"unload_open":           s.motor != models.MotorRun,
		"tank_underpressure":    s.tank < s.settings.StartPressure,
		"line_underpressure":    s.line < s.settings.MinLinePressure,
		"tank_sensor_error":     false,
		"line_sensor_error":     false,
		"pressure_change_error": false,
		"pressure_change_trend": nil,
		"shutdown":              s.shutdownAt,
		"duty_recovery_time":    0.0,
		"recovery_time":         s.settings.RecoveryTime,
		"runtime":               s.runtime,
		"log_start_time":        s.startedAt,
	}
}

// StateLogs returns rows after since, newest first
func (s *Simulator) StateLogs(now, since float64) *models.StateLogBatch {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]models.StateLogEntry, 0)
	for i := len(s.stateLog) - 1; i >= 0 && s.stateLog[i].Time > since; i-- {
		rows = append(rows, s.stateLog[i])
	}
	return &models.StateLogBatch{
		Time:        now,
		MaxDuration: float64(*logSize) * tickRate.Seconds(),
		State:       rows,
	}
}

// ActivityLogs returns the intervals still open at since and commands after it
func (s *Simulator) ActivityLogs(now, since float64) *models.ActivityLogBatch {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := &models.ActivityLogBatch{Time: now, Activity: []models.Activity{}, Commands: []models.Command{}}
	for _, a := range s.activities {
		if a.Stop >= since {
			batch.Activity = append(batch.Activity, a)
		}
	}
	for _, c := range s.commands {
		if c.Time > since {
			batch.Commands = append(batch.Commands, c)
		}
	}
	return batch
}

// Command applies one of the command endpoints
func (s *Simulator) Command(name string, params map[string]float64, now float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch name {
	case "on":
		s.on = true
		if s.motor == models.MotorOff {
			s.motor = models.MotorPause
		}
		s.shutdownAt = 0
		if v, ok := params["shutdown_in"]; ok && v > 0 {
			s.shutdownAt = now + v
		}
		s.commands = append(s.commands, models.Command{Time: now, Command: models.CommandOn})
	case "off":
		s.turnOffLocked(now)
	case "run":
		if s.on {
			s.motor = models.MotorRun
		}
		s.commands = append(s.commands, models.Command{Time: now, Command: models.CommandRun})
	case "pause":
		if s.on {
			s.motor = models.MotorPause
		}
		s.commands = append(s.commands, models.Command{Time: now, Command: models.CommandPause})
	case "purge":
		duration, delay := s.settings.DrainDuration, s.settings.DrainDelay
		if v, ok := params["drain_duration"]; ok {
			duration = v
		}
		if v, ok := params["drain_delay"]; ok {
			delay = v
		}
		s.purgeAt = now + delay
		s.purgeUntil = s.purgeAt + duration
		s.commands = append(s.commands, models.Command{Time: now, Command: models.CommandPurge})
	}
}

// UpdateSettings merges body into the settings. Keys that are not settings
// are rejected and nothing is changed.
func (s *Simulator) UpdateSettings(body map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := settingsMap(s.settings)
	if err != nil {
		return err
	}
	if err := mergeSettings(current, body, ""); err != nil {
		return err
	}

	data, err := json.Marshal(current)
	if err != nil {
		return err
	}
	var updated models.Settings
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("invalid setting value: %w", err)
	}
	s.settings = updated
	return nil
}

func (s *Simulator) Settings() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func settingsMap(settings models.Settings) (map[string]any, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// mergeSettings copies values from body onto current, converting the text
// values forms send into the type of the existing setting
func mergeSettings(current, body map[string]any, prefix string) error {
	for key, value := range body {
		existing, ok := current[key]
		if !ok {
			return fmt.Errorf("unknown key %s%s", prefix, key)
		}

		if nested, ok := existing.(map[string]any); ok {
			child, ok := value.(map[string]any)
			if !ok {
				return fmt.Errorf("%s%s must be an object", prefix, key)
			}
			if err := mergeSettings(nested, child, prefix+key+"."); err != nil {
				return err
			}
			continue
		}

		text, isText := value.(string)
		switch existing.(type) {
		case bool:
			if isText {
				b, err := strconv.ParseBool(text)
				if err != nil {
					return fmt.Errorf("%s%s: %w", prefix, key, err)
				}
				value = b
			}
		case float64:
			if isText {
				f, err := strconv.ParseFloat(text, 64)
				if err != nil {
					return fmt.Errorf("%s%s: %w", prefix, key, err)
				}
				value = f
			}
		}
		current[key] = value
	}
	return nil
}

// server exposes the simulator over the controller's HTTP API
type server struct {
	sim    *Simulator
	logger *zap.Logger
}

var commandParams = map[string][]string{
	"on":    {"shutdown_in"},
	"off":   nil,
	"run":   nil,
	"pause": nil,
	"purge": {"drain_duration", "drain_delay"},
}

func (srv *server) router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/status", srv.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/state_logs", srv.handleStateLogs).Methods(http.MethodGet)
	router.HandleFunc("/activity_logs", srv.handleActivityLogs).Methods(http.MethodGet)
	router.HandleFunc("/settings", srv.handleGetSettings).Methods(http.MethodGet)
	router.HandleFunc("/settings", srv.handlePostSettings).Methods(http.MethodPost)
	router.HandleFunc("/{command:on|off|run|pause|purge}", srv.handleCommand).Methods(http.MethodGet)
	return router
}

func (srv *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, srv.sim.Status(epochSeconds(time.Now())))
}

func (srv *server) handleStateLogs(w http.ResponseWriter, r *http.Request) {
	since, ok := sinceParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, srv.sim.StateLogs(epochSeconds(time.Now()), since))
}

func (srv *server) handleActivityLogs(w http.ResponseWriter, r *http.Request) {
	since, ok := sinceParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, srv.sim.ActivityLogs(epochSeconds(time.Now()), since))
}

func (srv *server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, srv.sim.Settings())
}

func (srv *server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeResult(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := srv.sim.UpdateSettings(body); err != nil {
		srv.logger.Warn("Rejected settings", zap.Error(err))
		writeResult(w, http.StatusBadRequest, err.Error())
		return
	}
	srv.logger.Info("Settings updated", zap.Int("keys", len(body)))
	writeResult(w, http.StatusOK, "ok")
}

func (srv *server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["command"]
	allowed := commandParams[name]

	params := make(map[string]float64)
	for key := range r.URL.Query() {
		if !contains(allowed, key) {
			writeResult(w, http.StatusBadRequest, "unexpected parameters")
			return
		}
		v, err := strconv.ParseFloat(r.URL.Query().Get(key), 64)
		if err != nil || v < 0 {
			writeResult(w, http.StatusBadRequest, "invalid "+key)
			return
		}
		params[key] = v
	}

	srv.sim.Command(name, params, epochSeconds(time.Now()))
	srv.logger.Info("Command received", zap.String("command", name), zap.Any("params", params))
	writeResult(w, http.StatusOK, "ok")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sinceParam(w http.ResponseWriter, r *http.Request) (float64, bool) {
	s := r.URL.Query().Get("since")
	if s == "" {
		return 0, true
	}
	since, err := strconv.ParseFloat(s, 64)
	if err != nil {
		writeResult(w, http.StatusBadRequest, "invalid since")
		return 0, false
	}
	return since, true
}

func writeResult(w http.ResponseWriter, status int, result string) {
	writeJSON(w, status, models.CommandResult{Result: result})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func main() {
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *tickRate <= 0 || *logSize <= 0 {
		logger.Fatal("tick and log-size must be positive")
	}

	sim := NewSimulator(logger)
	srv := &server{sim: sim, logger: logger}

	httpServer := &http.Server{
		Addr:         *listenAddr,
		Handler:      srv.router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping simulator")
		cancel()
	}()

	go func() {
		logger.Info("Compressor simulator listening",
			zap.String("addr", *listenAddr),
			zap.Duration("tick", *tickRate),
			zap.Int("log_size", *logSize))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(*tickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown failed", zap.Error(err))
			}
			done()
			logger.Info("Simulator stopped")
			return
		case t := <-ticker.C:
			sim.Step(epochSeconds(t))
		}
	}
}
