package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	"aircomp/config"
	"aircomp/models"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var (
	command       = flag.String("command", "on", "Command to send: on, off, run, pause, purge or settings")
	shutdownIn    = flag.Duration("shutdown-in", 0, "Automatic shutdown for on")
	drainDuration = flag.Duration("drain-duration", 0, "Purge valve open time")
	drainDelay    = flag.Duration("drain-delay", 0, "Delay before the purge valve opens")
	settings      = flag.String("settings", "", "Comma separated key=value settings, e.g. start_pressure=95,tank_pressure_sensor.value_max=150")
	rabbitMQURL   = flag.String("rabbitmq", "", "RabbitMQ URL (default from config)")
)

func parseSettings(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid setting %q", pair)
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out, nil
}

func main() {
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Use provided RabbitMQ URL or default from config
	url := cfg.RabbitMQURL
	if *rabbitMQURL != "" {
		url = *rabbitMQURL
	}
	if url == "" {
		logger.Fatal("RabbitMQ URL is required")
	}

	msg := models.CommandMessage{
		Command:       *command,
		ShutdownIn:    shutdownIn.Seconds(),
		DrainDuration: drainDuration.Seconds(),
		DrainDelay:    drainDelay.Seconds(),
		RequestID:     uuid.New().String(),
	}
	if *command == "settings" {
		if msg.Settings, err = parseSettings(*settings); err != nil {
			logger.Fatal("Failed to parse settings", zap.Error(err))
		}
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		logger.Fatal("Failed to marshal command", zap.Error(err))
	}

	// Connect to RabbitMQ
	conn, err := amqp.Dial(url)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer conn.Close()

	channel, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", zap.Error(err))
	}
	defer channel.Close()

	err = channel.Publish(
		cfg.RabbitMQExchange, // exchange
		cfg.RabbitMQQueue,    // routing key
		false,                // mandatory
		false,                // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			Body:          jsonData,
			DeliveryMode:  amqp.Persistent,
			Timestamp:     time.Now(),
			CorrelationId: msg.RequestID,
		},
	)
	if err != nil {
		logger.Fatal("Failed to publish command", zap.Error(err))
	}

	logger.Info("Command published",
		zap.String("command", msg.Command),
		zap.String("request_id", msg.RequestID),
		zap.String("exchange", cfg.RabbitMQExchange),
		zap.String("routing_key", cfg.RabbitMQQueue),
		zap.ByteString("body", jsonData))
}
