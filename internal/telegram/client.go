// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mkrell/staywatch/internal/models"
)

// CommandHandler receives bot commands that control the watch loop.
type CommandHandler interface {
	PauseAll()
	ResumeAll()
	StatusSummary() string
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	handler        CommandHandler
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and
// handles bot commands. handler may be nil, in which case only /ping is
// served. It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, handler CommandHandler) {
	c.handler = handler

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	reply := func(text string) {
		m := tgbotapi.NewMessage(msg.Chat.ID, text)
		c.bot.Send(m) //nolint:errcheck
	}

	switch msg.Command() {
	case "ping":
		reply("Pong")
	case "pause":
		if c.handler == nil {
			return
		}
		c.handler.PauseAll()
		reply("Paused. Countdowns keep their state; no recomputations until /resume.")
	case "resume":
		if c.handler == nil {
			return
		}
		c.handler.ResumeAll()
		reply("Resumed. All stays recompute immediately.")
	case "status":
		if c.handler == nil {
			return
		}
		reply(c.handler.StatusSummary())
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a watch error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(watchErr error) error {
	text := fmt.Sprintf("⚠️ *Watch error*\n`%s`", escapeMarkdownV2(watchErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Watch recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendAlerts sends the alerts detected for one stay in a single message.
func (c *Client) SendAlerts(stayName string, alerts []models.PriceAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	return c.sendMarkdownV2(formatAlerts(stayName, alerts))
}

// SendMismatch warns that the remote pricing service disagrees with the
// local computation beyond tolerance.
func (c *Client) SendMismatch(stayName string, v *models.VerificationState) error {
	return c.sendMarkdownV2(formatMismatch(stayName, v))
}

// formatAlerts formats stay alerts into a Telegram MarkdownV2 message.
func formatAlerts(stayName string, alerts []models.PriceAlert) string {
	message := fmt.Sprintf("🚨 *Price alerts: %s*\n\n", escapeMarkdownV2(stayName))

	dateStr := escapeMarkdownV2(alerts[0].DetectedAt.Format("2006-01-02 15:04:05"))
	message += fmt.Sprintf("📅 Detected: %s\n\n", dateStr)

	for i, alert := range alerts {
		emoji := alertEmoji(alert.Type)
		priceStr := escapeMarkdownV2(fmt.Sprintf("%.0f", alert.Price))
		ratioStr := escapeMarkdownV2(fmt.Sprintf("%.1fx base", alert.Price/alert.BasePrice))

		message += fmt.Sprintf("%d\\. %s *%s*\n", i+1, emoji, escapeMarkdownV2(alert.Message))
		message += fmt.Sprintf("   💰 %s \\(%s\\)\n", priceStr, ratioStr)
	}

	return message
}

// formatMismatch formats a reconciliation mismatch warning.
func formatMismatch(stayName string, v *models.VerificationState) string {
	localStr := escapeMarkdownV2(fmt.Sprintf("%.2f", v.LocalPrice))
	remoteStr := escapeMarkdownV2(fmt.Sprintf("%.2f", v.RemotePrice))
	diffStr := escapeMarkdownV2(fmt.Sprintf("%.2f", v.Difference))

	message := fmt.Sprintf("⚠️ *Pricing mismatch: %s*\n\n", escapeMarkdownV2(stayName))
	message += fmt.Sprintf("   Local: %s\n", localStr)
	message += fmt.Sprintf("   Remote: %s\n", remoteStr)
	message += fmt.Sprintf("   Difference: %s\n", diffStr)
	message += "\nLocal price remains in effect\\."
	return message
}

func alertEmoji(t models.AlertType) string {
	switch t {
	case models.AlertCritical:
		return "🔴"
	case models.AlertMilestone:
		return "🟠"
	case models.AlertDoubling:
		return "📈"
	default:
		return "🔔"
	}
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
