package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Watermark policies for the activity log poll.
const (
	ActivityWatermarkAdvance    = "advance"
	ActivityWatermarkRefetchAll = "refetch_all"
)

type Config struct {
	// Compressor controller
	DeviceURL     string
	DeviceTimeout time.Duration
	DemoMode      bool

	// Poll loops
	StateQueryInterval        time.Duration
	StateFetchLateInterval    time.Duration
	ChartQueryInterval        time.Duration
	ChartDomainUpdateInterval time.Duration
	FetchRecoveryInterval     time.Duration
	ChartDurations            []time.Duration
	ClockResyncInterval       time.Duration
	ActivityWatermarkPolicy   string

	// Dashboard HTTP API
	ListenAddr   string
	ChartWidth   int
	ChartHeight  int
	GaugeSize    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	LogLevel string
	Timezone string

	// Telegram alerts (enabled when both are set)
	TelegramBotToken string
	TelegramChatID   string
	AlertThrottle    time.Duration
	LinkTimeout      time.Duration

	// MQTT state publishing (enabled when the broker is set)
	MQTTBroker      string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	// RabbitMQ operator commands (enabled when the URL is set)
	RabbitMQURL      string
	RabbitMQExchange string
	RabbitMQQueue    string
	RabbitMQBindMQTT bool

	// Firebase series archive (enabled when both are set)
	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string
	FirebaseArchivePath        string
	FirebaseBatchSize          int
	FirebaseBatchTimeout       time.Duration
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		DeviceURL:     strings.TrimRight(getEnv("DEVICE_URL", "http://192.168.1.50"), "/"),
		DeviceTimeout: getEnvDuration("DEVICE_TIMEOUT", 10*time.Second),
		DemoMode:      getEnvBool("DEMO_MODE", false),

		StateQueryInterval:        getEnvDuration("STATE_QUERY_INTERVAL", time.Second),
		StateFetchLateInterval:    getEnvDuration("STATE_FETCH_LATE_INTERVAL", 500*time.Millisecond),
		ChartQueryInterval:        getEnvDuration("CHART_QUERY_INTERVAL", 5*time.Second),
		ChartDomainUpdateInterval: getEnvDuration("CHART_DOMAIN_UPDATE_INTERVAL", time.Second),
		FetchRecoveryInterval:     getEnvDuration("FETCH_RECOVERY_INTERVAL", 5*time.Second),
		ChartDurations:            getEnvDurations("CHART_DURATIONS", []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute}),
		ClockResyncInterval:       getEnvDuration("CLOCK_RESYNC_INTERVAL", 0),
		ActivityWatermarkPolicy:   getEnv("ACTIVITY_WATERMARK_POLICY", ActivityWatermarkAdvance),

		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		ChartWidth:   getEnvInt("CHART_WIDTH", 1024),
		ChartHeight:  getEnvInt("CHART_HEIGHT", 400),
		GaugeSize:    getEnvInt("GAUGE_SIZE", 200),
		ReadTimeout:  getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout: getEnvDuration("WRITE_TIMEOUT", 15*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		Timezone: getEnv("TIMEZONE", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertThrottle:    getEnvDuration("ALERT_THROTTLE", 15*time.Second),
		LinkTimeout:      getEnvDuration("LINK_TIMEOUT", 30*time.Second),

		MQTTBroker:      getEnv("MQTT_BROKER", ""),
		MQTTUsername:    getEnv("MQTT_USERNAME", ""),
		MQTTPassword:    getEnv("MQTT_PASSWORD", ""),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "aircomp"),

		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "aircomp"),
		RabbitMQQueue:    getEnv("RABBITMQ_QUEUE", "compressor_commands"),
		RabbitMQBindMQTT: getEnvBool("RABBITMQ_BIND_MQTT", false),

		FirebaseDbUrl:              getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		FirebaseArchivePath:        getEnv("FIREBASE_ARCHIVE_PATH", "compressor-series"),
		FirebaseBatchSize:          getEnvInt("FIREBASE_BATCH_SIZE", 50),
		FirebaseBatchTimeout:       getEnvDuration("FIREBASE_BATCH_TIMEOUT", 30*time.Second),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings the poll loops cannot run with.
func (c *Config) Validate() error {
	if c.DeviceURL == "" && !c.DemoMode {
		return fmt.Errorf("DEVICE_URL is required unless DEMO_MODE is enabled")
	}
	if c.StateQueryInterval < 0 || c.ChartQueryInterval < 0 || c.ChartDomainUpdateInterval < 0 {
		return fmt.Errorf("poll intervals must not be negative")
	}
	if c.FetchRecoveryInterval <= 0 {
		return fmt.Errorf("FETCH_RECOVERY_INTERVAL must be positive, got %s", c.FetchRecoveryInterval)
	}
	if len(c.ChartDurations) == 0 {
		return fmt.Errorf("CHART_DURATIONS must list at least one duration")
	}
	switch c.ActivityWatermarkPolicy {
	case ActivityWatermarkAdvance, ActivityWatermarkRefetchAll:
	default:
		return fmt.Errorf("unknown ACTIVITY_WATERMARK_POLICY %q", c.ActivityWatermarkPolicy)
	}
	if c.LinkTimeout <= 0 {
		return fmt.Errorf("LINK_TIMEOUT must be positive, got %s", c.LinkTimeout)
	}
	if c.FirebaseBatchSize <= 0 {
		return fmt.Errorf("FIREBASE_BATCH_SIZE must be positive, got %d", c.FirebaseBatchSize)
	}
	return nil
}

func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

func (c *Config) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}

func (c *Config) RabbitMQEnabled() bool {
	return c.RabbitMQURL != ""
}

func (c *Config) FirebaseEnabled() bool {
	return c.FirebaseDbUrl != "" && c.FirebaseServiceAccountJSON != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("5s") or bare milliseconds ("5000").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, ok := parseDuration(value); ok {
			return d
		}
	}
	return defaultValue
}

func getEnvDurations(key string, defaultValue []time.Duration) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var durations []time.Duration
	for _, part := range strings.Split(value, ",") {
		d, ok := parseDuration(strings.TrimSpace(part))
		if !ok || d <= 0 {
			return defaultValue
		}
		durations = append(durations, d)
	}
	return durations
}

func parseDuration(s string) (time.Duration, bool) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, true
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}
