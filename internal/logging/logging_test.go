package logging

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"tg_ai_gate_bot/internal/config"
)

// useHookLogger swaps the package logger for one backed by a test hook.
func useHookLogger(t *testing.T) *test.Hook {
	t.Helper()

	prev := baseLogger
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	logger.AddHook(secretHook{})
	hook := test.NewLocal(logger)
	baseLogger = logger.WithField("service", serviceName)

	t.Cleanup(func() { baseLogger = prev })
	return hook
}

func TestSetupFormatterPerEnvironment(t *testing.T) {
	prev := baseLogger
	t.Cleanup(func() { baseLogger = prev })

	cases := []struct {
		env  string
		json bool
	}{
		{env: config.EnvProduction, json: true},
		{env: config.EnvDevelopment, json: false},
	}

	for _, tc := range cases {
		entry, err := Setup(config.Config{AppEnv: tc.env, LogLevel: "debug"})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.env, err)
		}

		_, isJSON := entry.Logger.Formatter.(*logrus.JSONFormatter)
		if isJSON != tc.json {
			t.Fatalf("%s: unexpected formatter %T", tc.env, entry.Logger.Formatter)
		}
		if entry.Data["env"] != tc.env || entry.Data["service"] != serviceName {
			t.Fatalf("%s: expected base fields, got %v", tc.env, entry.Data)
		}
		if entry.Logger.GetLevel() != logrus.DebugLevel {
			t.Fatalf("%s: expected debug level, got %s", tc.env, entry.Logger.GetLevel())
		}
	}
}

func TestSetupRejectsInvalidLogLevelAndKeepsPrevious(t *testing.T) {
	prev := baseLogger
	t.Cleanup(func() { baseLogger = prev })

	baseLogger = nil
	if _, err := Setup(config.Config{AppEnv: config.EnvDevelopment, LogLevel: "loud"}); err == nil {
		t.Fatalf("expected error for invalid log level")
	}
	if baseLogger != nil {
		t.Fatalf("base logger should remain unset after failure")
	}

	if Logger().Data["env"] != config.DefaultAppEnv {
		t.Fatalf("expected fallback logger for %s, got %v", config.DefaultAppEnv, Logger().Data)
	}
}

func TestWithContextMasksCodeAndOmitsZeroValues(t *testing.T) {
	hook := useHookLogger(t)

	WithContext(Context{UserID: 7, Event: " code_redeem ", Code: "SPRING2025", Outcome: "granted"}).Info("redeemed")

	last := hook.LastEntry()
	if _, ok := last.Data["chat_id"]; ok {
		t.Fatalf("expected chat_id to be omitted, got %v", last.Data)
	}
	if last.Data["user_id"] != int64(7) || last.Data["event"] != "code_redeem" {
		t.Fatalf("expected user and trimmed event, got %v", last.Data)
	}
	if last.Data["code"] != "SP***" {
		t.Fatalf("expected masked code, got %v", last.Data["code"])
	}
	if last.Data["outcome"] != "granted" {
		t.Fatalf("expected outcome field, got %v", last.Data)
	}
}

func TestMaskCode(t *testing.T) {
	cases := map[string]string{
		"":            "***",
		"ABCD":        "***",
		"ABCDE":       "AB***",
		" PROMO42 ":   "PR***",
		"ключ-доступ": "кл***",
	}

	for in, want := range cases {
		if got := MaskCode(in); got != want {
			t.Fatalf("MaskCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSecretFieldsAreRedacted(t *testing.T) {
	hook := useHookLogger(t)

	Error("config_error", "bad config", Fields{"telegram_token": "123:abc", "openai_api_key": "sk-live", "port": 8080})

	last := hook.LastEntry()
	if last.Data["telegram_token"] != redacted || last.Data["openai_api_key"] != redacted {
		t.Fatalf("expected secrets to be redacted, got %v", last.Data)
	}
	if last.Data["port"] != 8080 || last.Data["event"] != "config_error" {
		t.Fatalf("expected other fields untouched, got %v", last.Data)
	}
}

func TestEventHelpersSetLevels(t *testing.T) {
	hook := useHookLogger(t)

	Debug("registry_memory", "memory registries", nil)
	Info("config_only", "configuration check", nil)
	Error("", "no event", Fields{"error": "fail"})

	entries := hook.AllEntries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(entries))
	}

	want := []logrus.Level{logrus.DebugLevel, logrus.InfoLevel, logrus.ErrorLevel}
	for i, entry := range entries {
		if entry.Level != want[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, want[i], entry.Level)
		}
	}
	if entries[0].Data["event"] != "registry_memory" {
		t.Fatalf("expected event field, got %v", entries[0].Data)
	}
	if _, ok := entries[2].Data["event"]; ok {
		t.Fatalf("expected empty event to be omitted, got %v", entries[2].Data)
	}
}
