package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"aircomp/config"
	"aircomp/models"
	"aircomp/monitor"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrInvalidCommand marks a queue message that can never succeed
var ErrInvalidCommand = errors.New("invalid command message")

// Commander is the set of operator commands the consumer can issue
type Commander interface {
	TurnOn(ctx context.Context) error
	TurnOnFor(ctx context.Context, shutdownIn time.Duration) error
	TurnOff(ctx context.Context) error
	Run(ctx context.Context) error
	Pause(ctx context.Context) error
	PurgeFor(ctx context.Context, drainDuration, drainDelay time.Duration) error
	SubmitSettings(ctx context.Context, form map[string]string) error
}

var _ Commander = (*monitor.Actions)(nil)

// CommandConsumer takes operator commands off a RabbitMQ queue and sends
// them to the controller
type CommandConsumer struct {
	config      *config.Config
	commander   Commander
	consumerTag string
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *zap.Logger
	reconnect   chan bool
	isClosing   atomic.Bool
}

// NewCommandConsumer connects to RabbitMQ and declares the command queue
func NewCommandConsumer(cfg *config.Config, commander Commander, instanceID string, logger *zap.Logger) (*CommandConsumer, error) {
	c := newCommandConsumer(cfg, commander, instanceID, logger)

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

func newCommandConsumer(cfg *config.Config, commander Commander, instanceID string, logger *zap.Logger) *CommandConsumer {
	return &CommandConsumer{
		config:      cfg,
		commander:   commander,
		consumerTag: fmt.Sprintf("aircomp-%s", instanceID),
		logger:      logger,
		reconnect:   make(chan bool, 1),
	}
}

// connect establishes connection to RabbitMQ and declares exchange and queue
func (r *CommandConsumer) connect() error {
	var err error

	r.logger.Info("Connecting to RabbitMQ", zap.String("exchange", r.config.RabbitMQExchange))

	// Connect to RabbitMQ with retry
	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		r.conn, err = amqp.Dial(r.config.RabbitMQURL)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	r.logger.Info("Connected to RabbitMQ successfully")

	r.channel, err = r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// Commands are sent one at a time
	if err := r.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	err = r.channel.ExchangeDeclare(
		r.config.RabbitMQExchange, // name
		"direct",                  // type
		true,                      // durable
		false,                     // auto-deleted
		false,                     // internal
		false,                     // no-wait
		nil,                       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := r.channel.QueueDeclare(
		r.config.RabbitMQQueue, // name
		true,                   // durable
		false,                  // delete when unused
		false,                  // exclusive
		false,                  // no-wait
		nil,                    // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = r.channel.QueueBind(
		queue.Name,                // queue name
		r.config.RabbitMQQueue,    // routing key (same as queue name)
		r.config.RabbitMQExchange, // exchange
		false,                     // no-wait
		nil,                       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	r.logger.Info("Queue bound to exchange",
		zap.String("queue", queue.Name),
		zap.String("exchange", r.config.RabbitMQExchange))

	// Commands published over MQTT arrive through amq.topic
	if r.config.RabbitMQBindMQTT {
		err = r.channel.QueueBind(queue.Name, r.config.RabbitMQQueue, "amq.topic", false, nil)
		if err != nil {
			return fmt.Errorf("failed to bind queue to MQTT exchange: %w", err)
		}
		r.logger.Info("Queue bound to MQTT exchange", zap.String("queue", queue.Name))
	}

	go r.handleReconnect(r.conn)

	return nil
}

// handleReconnect handles automatic reconnection when connection is lost
func (r *CommandConsumer) handleReconnect(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if r.isClosing.Load() {
		r.logger.Info("RabbitMQ connection closed gracefully")
		return
	}

	r.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

	for {
		r.logger.Info("Attempting to reconnect to RabbitMQ...")
		err := r.connect()
		if err == nil {
			r.logger.Info("Successfully reconnected to RabbitMQ")
			select {
			case r.reconnect <- true:
			default:
			}
			return
		}

		r.logger.Error("Failed to reconnect", zap.Error(err))
		time.Sleep(5 * time.Second)
	}
}

// Consume processes commands until ctx is done
func (r *CommandConsumer) Consume(ctx context.Context) error {
	for {
		msgs, err := r.channel.Consume(
			r.config.RabbitMQQueue, // queue
			r.consumerTag,          // consumer tag
			false,                  // auto-ack
			false,                  // exclusive
			false,                  // no-local
			false,                  // no-wait
			nil,                    // args
		)
		if err != nil {
			return fmt.Errorf("failed to register consumer: %w", err)
		}

		r.logger.Info("Started consuming commands from RabbitMQ",
			zap.String("queue", r.config.RabbitMQQueue),
			zap.String("consumer_tag", r.consumerTag))

	consumeLoop:
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Stopping RabbitMQ consumer")
				return nil

			case <-r.reconnect:
				r.logger.Info("Reconnection detected, restarting consumer")
				break consumeLoop

			case msg, ok := <-msgs:
				if !ok {
					r.logger.Warn("Message channel closed")
					select {
					case <-ctx.Done():
						return nil
					case <-r.reconnect:
					}
					break consumeLoop
				}

				err := r.processMessage(ctx, msg.Body)
				switch {
				case errors.Is(err, ErrInvalidCommand):
					r.logger.Error("Dropping invalid command",
						zap.Error(err),
						zap.String("message_id", msg.MessageId))
					msg.Nack(false, false)
				case err != nil:
					// Already reported through the failure handlers
					r.logger.Warn("Command failed",
						zap.Error(err),
						zap.String("message_id", msg.MessageId))
					msg.Ack(false)
				default:
					msg.Ack(false)
				}
			}
		}
	}
}

// processMessage decodes one command and sends it to the controller
func (r *CommandConsumer) processMessage(ctx context.Context, body []byte) error {
	var cmd models.CommandMessage
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if cmd.ShutdownIn < 0 || cmd.DrainDuration < 0 || cmd.DrainDelay < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidCommand)
	}

	r.logger.Info("Received operator command",
		zap.String("command", cmd.Command),
		zap.String("request_id", cmd.RequestID))

	seconds := func(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }

	switch cmd.Command {
	case "on":
		if cmd.ShutdownIn > 0 {
			return r.commander.TurnOnFor(ctx, seconds(cmd.ShutdownIn))
		}
		return r.commander.TurnOn(ctx)
	case "off":
		return r.commander.TurnOff(ctx)
	case "run":
		return r.commander.Run(ctx)
	case "pause":
		return r.commander.Pause(ctx)
	case "purge":
		return r.commander.PurgeFor(ctx, seconds(cmd.DrainDuration), seconds(cmd.DrainDelay))
	case "settings":
		if len(cmd.Settings) == 0 {
			return fmt.Errorf("%w: settings command without settings", ErrInvalidCommand)
		}
		return r.commander.SubmitSettings(ctx, cmd.Settings)
	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, cmd.Command)
	}
}

// Close gracefully closes RabbitMQ connection
func (r *CommandConsumer) Close() error {
	r.isClosing.Store(true)

	r.logger.Info("Closing RabbitMQ connection")

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}
