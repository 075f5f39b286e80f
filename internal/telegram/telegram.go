// Package telegram hosts the Telegram client, update routing and the chat
// handlers that sit in front of the access gate.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_ai_gate_bot/internal/config"
	"tg_ai_gate_bot/internal/logging"
)

type botRunner interface {
	Start(ctx context.Context)
	StartWebhook(ctx context.Context)
	WebhookHandler() http.HandlerFunc
	SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error)
	DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"callback_query",
	}

	createBot = func(token string, options ...bot.Option) (botRunner, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot instance and logging dependencies.
type Client struct {
	bot    botRunner
	cfg    config.Config
	logger *logrus.Entry
}

// NewClient initializes the Telegram bot and routes every update to handler.
func NewClient(cfg config.Config, handler *Handler, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	options := []bot.Option{
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(defaultHandler(handler, logger)),
		bot.WithErrorsHandler(errorHandler(logger)),
	}
	if cfg.WebhookSecret != "" {
		options = append(options, bot.WithWebhookSecretToken(cfg.WebhookSecret))
	}

	tgBot, err := createBot(cfg.TelegramToken, options...)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	return &Client{
		bot:    tgBot,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// WebhookHandler returns the HTTP handler Telegram posts updates to. It always
// answers 200 so Telegram does not redeliver.
func (c *Client) WebhookHandler() http.Handler {
	return c.bot.WebhookHandler()
}

// Start receives updates until the context is canceled. In webhook mode the
// webhook is registered first when WEBHOOK_URL is set; in polling mode any
// existing webhook is removed.
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if c.cfg.UsesWebhook() {
		if c.cfg.WebhookURL != "" {
			if _, err := c.bot.SetWebhook(ctx, &bot.SetWebhookParams{
				URL:            webhookEndpoint(c.cfg.WebhookURL, c.cfg.WebhookPath),
				AllowedUpdates: defaultAllowedUpdates,
				SecretToken:    c.cfg.WebhookSecret,
			}); err != nil {
				return fmt.Errorf("set telegram webhook: %w", err)
			}
		}

		c.logger.WithFields(logging.Fields{
			"event":           "telegram_listen",
			"mode":            config.ModeWebhook,
			"path":            c.cfg.WebhookPath,
			"allowed_updates": defaultAllowedUpdates,
		}).Info("starting telegram webhook processing")

		c.bot.StartWebhook(ctx)
		c.logger.WithField("event", "telegram_stopped").Info("telegram webhook processing stopped")
		return nil
	}

	if _, err := c.bot.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
		c.logger.WithField("event", "telegram_error").WithError(err).Warn("failed to delete webhook before polling")
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"mode":            config.ModePolling,
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
	return nil
}

// webhookEndpoint appends path to base unless base already ends with it.
func webhookEndpoint(base, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if path == "" || strings.HasSuffix(base, path) {
		return base
	}
	return base + path
}

type updateMeta struct {
	userID     int64
	chatID     int64
	text       string
	updateType string
}

func defaultHandler(handler *Handler, logger *logrus.Entry) bot.HandlerFunc {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update == nil {
			return
		}

		meta := extractUpdateMeta(update)

		fields := logging.Fields{
			"event":       "telegram_update",
			"update_type": meta.updateType,
		}

		if meta.text != "" {
			fields["text_len"] = len([]rune(meta.text))
		}
		if meta.userID != 0 {
			fields["user_id"] = meta.userID
		}
		if meta.chatID != 0 {
			fields["chat_id"] = meta.chatID
		}

		logger.WithFields(fields).Info("telegram update received")

		if handler != nil && b != nil {
			handler.Handle(ctx, b, update)
		}
	}
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     chatID(&update.Message.Chat),
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
	case update.EditedMessage != nil:
		return updateMeta{
			userID:     userID(update.EditedMessage.From),
			chatID:     chatID(&update.EditedMessage.Chat),
			text:       strings.TrimSpace(update.EditedMessage.Text),
			updateType: "edited_message",
		}
	case update.CallbackQuery != nil:
		return updateMeta{
			userID:     userID(&update.CallbackQuery.From),
			chatID:     messageChatID(update.CallbackQuery.Message),
			text:       strings.TrimSpace(update.CallbackQuery.Data),
			updateType: "callback_query",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram bot error")
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}

func chatID(chat *models.Chat) int64 {
	if chat == nil {
		return 0
	}

	return chat.ID
}

func messageChatID(msg models.MaybeInaccessibleMessage) int64 {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return chatID(&msg.Message.Chat)
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return chatID(&msg.InaccessibleMessage.Chat)
	default:
		return 0
	}
}
