package services

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"aircomp/config"
	"aircomp/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// messageSender is the part of tgbotapi.BotAPI the notifier uses
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends compressor alerts to a Telegram chat
type TelegramNotifier struct {
	bot            messageSender
	chatID         int64
	deviceURL      string
	throttle       time.Duration
	lastAlertTimes map[string]time.Time // Track last alert time per endpoint
	mu             sync.Mutex
	now            func() time.Time
	logger         *zap.Logger
}

func NewTelegramNotifier(cfg *config.Config, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	// Test Telegram connection with retry
	if err := testTelegramConnection(bot, logger); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}

	return newTelegramNotifier(bot, chatID, cfg, logger), nil
}

func newTelegramNotifier(bot messageSender, chatID int64, cfg *config.Config, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:            bot,
		chatID:         chatID,
		deviceURL:      cfg.DeviceURL,
		throttle:       cfg.AlertThrottle,
		lastAlertTimes: make(map[string]time.Time),
		now:            time.Now,
		logger:         logger,
	}
}

// testTelegramConnection tests Telegram connection with retry logic
func testTelegramConnection(bot *tgbotapi.BotAPI, logger *zap.Logger) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		logger.Info("Testing Telegram connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		_, err := bot.GetMe()
		if err == nil {
			logger.Info("Telegram connection successful")
			return nil
		}

		logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second) // Exponential backoff
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

// CommandFailed alerts that the controller rejected or never answered a
// command. Alerts for the same endpoint are throttled.
func (ts *TelegramNotifier) CommandFailed(endpoint, message string) {
	if ts.shouldThrottleAlert(endpoint) {
		ts.logger.Debug("Throttling command alert", zap.String("endpoint", endpoint))
		return
	}

	var sb strings.Builder

	sb.WriteString("⚠️ <b>COMPRESSOR COMMAND FAILED</b> ⚠️\n\n")
	sb.WriteString(fmt.Sprintf("🔧 <b>Command:</b> <code>%s</code>\n", endpoint))
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n", ts.now().Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("📡 <b>Controller:</b> %s\n\n", ts.deviceURL))
	sb.WriteString(fmt.Sprintf("❌ %s\n\n", html.EscapeString(message)))
	sb.WriteString("🔴 <b>Status:</b> ATTENTION REQUIRED")

	if err := ts.send(sb.String()); err != nil {
		ts.logger.Error("Failed to send command alert",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return
	}

	ts.mu.Lock()
	ts.lastAlertTimes[endpoint] = ts.now()
	ts.mu.Unlock()

	ts.logger.Info("Sent command failure alert", zap.String("endpoint", endpoint))
}

// shouldThrottleAlert checks if an alert for key was sent within the throttle window
func (ts *TelegramNotifier) shouldThrottleAlert(key string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	lastAlertTime, exists := ts.lastAlertTimes[key]
	if !exists {
		return false // No previous alert, don't throttle
	}

	return ts.now().Sub(lastAlertTime) < ts.throttle
}

// SendLinkLostAlert sends an alert when the controller stops answering
func (ts *TelegramNotifier) SendLinkLostAlert(event models.LinkEvent) error {
	var sb strings.Builder

	sb.WriteString("⚠️ <b>COMPRESSOR CONTROLLER UNREACHABLE</b> ⚠️\n\n")
	sb.WriteString(fmt.Sprintf("📡 <b>Controller:</b> %s\n", ts.deviceURL))
	if !event.LastSeen.IsZero() {
		sb.WriteString(fmt.Sprintf("🕐 <b>Last Seen:</b> %s\n", event.LastSeen.Format("2006-01-02 15:04:05")))
	}
	sb.WriteString(fmt.Sprintf("⏱️ <b>Time Since Last Answer:</b> %s\n\n", formatDuration(event.Since)))

	if event.LastError != "" {
		sb.WriteString(fmt.Sprintf("❌ <b>Last Error:</b> <code>%s</code>\n\n", html.EscapeString(event.LastError)))
	}

	sb.WriteString("💡 <b>Action Required:</b>\n")
	sb.WriteString("The controller may be powered off or off the network. The dashboard is showing stale values.\n\n")
	sb.WriteString("🔴 <b>Status:</b> CONTROLLER OFFLINE")

	if err := ts.send(sb.String()); err != nil {
		return fmt.Errorf("error sending link lost alert: %w", err)
	}

	ts.logger.Info("Sent link lost alert", zap.Duration("time_since_last_seen", event.Since))
	return nil
}

// SendLinkRestoredAlert sends an alert when the controller answers again
func (ts *TelegramNotifier) SendLinkRestoredAlert(event models.LinkEvent) error {
	var sb strings.Builder

	sb.WriteString("✅ <b>COMPRESSOR CONTROLLER RECOVERED</b> ✅\n\n")
	sb.WriteString(fmt.Sprintf("📡 <b>Controller:</b> %s\n", ts.deviceURL))
	sb.WriteString(fmt.Sprintf("🕐 <b>Recovery Time:</b> %s\n", event.LastSeen.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Downtime:</b> %s\n\n", formatDuration(event.Since)))
	sb.WriteString("🟢 <b>Status:</b> CONTROLLER ONLINE")

	if err := ts.send(sb.String()); err != nil {
		return fmt.Errorf("error sending link recovery alert: %w", err)
	}

	ts.logger.Info("Sent link recovery alert", zap.Duration("down_duration", event.Since))
	return nil
}

// SendStartupMessage sends a message when the service starts
func (ts *TelegramNotifier) SendStartupMessage() error {
	message := "🟢 <b>Air Compressor Monitor Started</b>\n\n" +
		fmt.Sprintf("📡 Polling controller at %s\n", ts.deviceURL) +
		"🤖 Telegram notifications active\n\n" +
		"✅ System is ready and operational!"

	return ts.send(message)
}

func (ts *TelegramNotifier) send(text string) error {
	msg := tgbotapi.NewMessage(ts.chatID, text)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	_, err := ts.bot.Send(msg)
	return err
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d days %d hr", days, hours)
}
