// Package logging provides structured logrus setup shared by the gate, the
// Telegram handlers and the HTTP server.
package logging

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"tg_ai_gate_bot/internal/config"
)

const (
	serviceName = "tg-ai-gate-bot"
	redacted    = "[redacted]"
)

// secretFields never reach the output with their value.
var secretFields = []string{"telegram_token", "gemini_api_key", "openai_api_key", "mongo_uri", "webhook_secret"}

var baseLogger *logrus.Entry

// Context carries the per-update fields the gate and the handlers log with.
// Zero values are omitted.
type Context struct {
	UserID     int64
	ChatID     int64
	Event      string
	UpdateType string
	Command    string
	// Code is logged masked.
	Code    string
	Outcome string
}

// Fields is a shorthand alias for structured log fields.
type Fields = logrus.Fields

// Setup builds the process logger from cfg and makes it the package default.
func Setup(cfg config.Config) (*logrus.Entry, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	baseLogger = newBase(level, cfg.AppEnv)
	return baseLogger, nil
}

// Logger returns the configured base logger, or a default one before Setup.
func Logger() *logrus.Entry {
	return ensureLogger()
}

// WithContext returns the base logger enriched with the non-zero fields of ctx.
func WithContext(ctx Context) *logrus.Entry {
	fields := logrus.Fields{}

	if ctx.UserID != 0 {
		fields["user_id"] = ctx.UserID
	}
	if ctx.ChatID != 0 {
		fields["chat_id"] = ctx.ChatID
	}
	if event := strings.TrimSpace(ctx.Event); event != "" {
		fields["event"] = event
	}
	if ctx.UpdateType != "" {
		fields["update_type"] = ctx.UpdateType
	}
	if ctx.Command != "" {
		fields["command"] = ctx.Command
	}
	if ctx.Code != "" {
		fields["code"] = MaskCode(ctx.Code)
	}
	if ctx.Outcome != "" {
		fields["outcome"] = ctx.Outcome
	}

	return withFields(fields)
}

// MaskCode keeps the first two characters of a promo code so log lines can be
// correlated without making the code redeemable from the logs.
func MaskCode(code string) string {
	code = strings.TrimSpace(code)
	if utf8.RuneCountInString(code) <= 4 {
		return "***"
	}
	runes := []rune(code)
	return string(runes[:2]) + "***"
}

// Debug logs msg tagged with event.
func Debug(event, msg string, fields Fields) {
	withEvent(event, fields).Debug(msg)
}

// Info logs msg tagged with event.
func Info(event, msg string, fields Fields) {
	withEvent(event, fields).Info(msg)
}

// Error logs msg tagged with event.
func Error(event, msg string, fields Fields) {
	withEvent(event, fields).Error(msg)
}

func withEvent(event string, fields Fields) *logrus.Entry {
	entry := withFields(fields)
	if event != "" {
		entry = entry.WithField("event", event)
	}
	return entry
}

func withFields(fields logrus.Fields) *logrus.Entry {
	entry := ensureLogger()
	if len(fields) == 0 {
		return entry
	}

	return entry.WithFields(fields)
}

func ensureLogger() *logrus.Entry {
	if baseLogger == nil {
		baseLogger = newBase(logrus.InfoLevel, config.DefaultAppEnv)
	}
	return baseLogger
}

func newBase(level logrus.Level, appEnv string) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatterForEnv(appEnv))
	logger.AddHook(secretHook{})

	return logger.WithFields(logrus.Fields{
		"service": serviceName,
		"env":     appEnv,
	})
}

// secretHook blanks configuration secrets that end up in log fields.
type secretHook struct{}

func (secretHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (secretHook) Fire(entry *logrus.Entry) error {
	for _, key := range secretFields {
		if _, ok := entry.Data[key]; ok {
			entry.Data[key] = redacted
		}
	}
	return nil
}

func formatterForEnv(appEnv string) logrus.Formatter {
	fieldMap := logrus.FieldMap{
		logrus.FieldKeyTime:  "ts",
		logrus.FieldKeyMsg:   "msg",
		logrus.FieldKeyLevel: "level",
	}

	if appEnv == config.EnvDevelopment {
		return &logrus.TextFormatter{
			FullTimestamp:          true,
			TimestampFormat:        time.RFC3339Nano,
			FieldMap:               fieldMap,
			DisableLevelTruncation: true,
		}
	}

	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap:        fieldMap,
	}
}

func parseLevel(value string) (logrus.Level, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", value, err)
	}

	return level, nil
}
