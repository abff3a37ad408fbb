package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"aircomp/config"
	"aircomp/handlers"
	"aircomp/log"
	"aircomp/monitor"
	"aircomp/render"
	"aircomp/services"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	if !log.SetLevel(cfg.LogLevel) {
		logger.Warn("Unknown LOG_LEVEL, keeping info", zap.String("level", cfg.LogLevel))
	}

	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Fatal("Failed to load timezone", zap.String("timezone", cfg.Timezone), zap.Error(err))
		}
		time.Local = loc
	}

	instanceID := uuid.New().String()
	logger = logger.With(zap.String("instance", instanceID))

	// Controller and monitors
	device := services.NewDeviceClient(cfg, logger)

	retention := cfg.ChartDurations[0]
	for _, d := range cfg.ChartDurations {
		if d > retention {
			retention = d
		}
	}
	chartImage := render.NewChart(cfg.ChartWidth, cfg.ChartHeight, retention, logger)

	stateMonitor := monitor.NewStateMonitor(cfg, device, logger)
	chartMonitor := monitor.NewChartMonitor(cfg, device, chartImage, logger)
	actions := monitor.NewActions(device, stateMonitor, logger)

	var alerters []services.LinkAlerter

	// Telegram alerts
	var telegram *services.TelegramNotifier
	if cfg.TelegramEnabled() {
		telegram, err = services.NewTelegramNotifier(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram notifier", zap.Error(err))
		}
		actions.OnFailure(telegram.CommandFailed)
		alerters = append(alerters, telegram)
	}

	// MQTT state publishing
	if cfg.MQTTEnabled() {
		publisher, client, err := services.NewMQTTPublisher(cfg, instanceID, logger)
		if err != nil {
			logger.Fatal("Failed to initialize MQTT publisher", zap.Error(err))
		}
		defer client.Disconnect(250)
		stateMonitor.Subscribe(publisher)
		chartMonitor.Subscribe(publisher)
		alerters = append(alerters, publisher)
	}

	linkMonitor := services.NewLinkMonitor(cfg, logger, alerters...)
	stateMonitor.Subscribe(linkMonitor)

	// Firebase series archive
	var batchWriter *services.BatchWriter
	if cfg.FirebaseEnabled() {
		archive, err := services.NewFirebaseArchive(cfg, instanceID, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Firebase archive", zap.Error(err))
		}
		defer archive.Close()
		batchWriter = services.NewBatchWriter(cfg, archive, logger)
		chartMonitor.Subscribe(batchWriter)
	}

	// RabbitMQ operator commands
	var consumer *services.CommandConsumer
	if cfg.RabbitMQEnabled() {
		consumer, err = services.NewCommandConsumer(cfg, actions, instanceID, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ consumer", zap.Error(err))
		}
		defer consumer.Close()
	}

	// Dashboard API
	handler := handlers.NewHandler(cfg, stateMonitor, chartMonitor, chartImage, actions, logger)
	handler.SetLinkHealth(linkMonitor.Health)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	run(stateMonitor.Start)
	run(chartMonitor.Start)
	run(linkMonitor.Start)
	if batchWriter != nil {
		run(batchWriter.Start)
	}
	if consumer != nil {
		run(func(ctx context.Context) {
			if err := consumer.Consume(ctx); err != nil {
				logger.Error("RabbitMQ consumer stopped", zap.Error(err))
			}
		})
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	if telegram != nil {
		if err := telegram.SendStartupMessage(); err != nil {
			logger.Warn("Failed to send startup message", zap.Error(err))
		}
	}

	logger.Info("Air compressor monitor started",
		zap.String("device_url", cfg.DeviceURL),
		zap.Bool("demo_mode", cfg.DemoMode),
		zap.Duration("state_interval", cfg.StateQueryInterval),
		zap.Duration("chart_interval", cfg.ChartQueryInterval),
		zap.Bool("telegram", cfg.TelegramEnabled()),
		zap.Bool("mqtt", cfg.MQTTEnabled()),
		zap.Bool("rabbitmq", cfg.RabbitMQEnabled()),
		zap.Bool("firebase", cfg.FirebaseEnabled()),
	)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// Cancel context to stop all goroutines
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Cleanup completed successfully")
	case <-time.After(10 * time.Second):
		logger.Warn("Cleanup timeout, forcing exit")
	}

	logger.Info("Air compressor monitor stopped")
}
