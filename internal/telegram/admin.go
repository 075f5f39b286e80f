package telegram

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-telegram/bot/models"

	"tg_ai_gate_bot/internal/access"
	"tg_ai_gate_bot/internal/domain"
	"tg_ai_gate_bot/internal/logging"
)

// handleGenerate serves "/generate CODE [hours]".
func (h *Handler) handleGenerate(ctx context.Context, tr Transport, chatID int64, user domain.UserIdentity, args []string) {
	if !user.IsAdmin {
		h.sendText(ctx, tr, chatID, textAdminOnly, "")
		return
	}
	if len(args) == 0 || len(args) > 2 {
		h.sendText(ctx, tr, chatID, textGenerateUsage, models.ParseModeMarkdownV1)
		return
	}

	var ttl time.Duration
	if len(args) == 2 {
		parsed, ok := parseHours(args[1])
		if !ok {
			h.sendText(ctx, tr, chatID, textGenerateUsage, models.ParseModeMarkdownV1)
			return
		}
		ttl = parsed
	}

	h.issue(ctx, tr, chatID, user, "/generate", args[0], ttl)
}

// handleNewCode serves "/newcode [hours]" with a generated code.
func (h *Handler) handleNewCode(ctx context.Context, tr Transport, chatID int64, user domain.UserIdentity, args []string) {
	if !user.IsAdmin {
		h.sendText(ctx, tr, chatID, textAdminOnly, "")
		return
	}
	if len(args) > 1 {
		h.sendText(ctx, tr, chatID, textNewCodeUsage, models.ParseModeMarkdownV1)
		return
	}

	var ttl time.Duration
	if len(args) == 1 {
		parsed, ok := parseHours(args[0])
		if !ok {
			h.sendText(ctx, tr, chatID, textNewCodeUsage, models.ParseModeMarkdownV1)
			return
		}
		ttl = parsed
	}

	h.issue(ctx, tr, chatID, user, "/newcode", "", ttl)
}

func (h *Handler) issue(ctx context.Context, tr Transport, chatID int64, user domain.UserIdentity, command, code string, ttl time.Duration) {
	entry := logging.WithContext(logging.Context{
		UserID:  user.UserID,
		ChatID:  chatID,
		Event:   "code_issue",
		Command: command,
	}).WithField("role", user.Role())

	issued, err := h.gate.IssueCode(ctx, user.UserID, code, ttl)
	switch {
	case errors.Is(err, access.ErrUnauthorized):
		h.sendText(ctx, tr, chatID, textAdminOnly, "")
		return
	case errors.Is(err, access.ErrDuplicateCode):
		h.sendText(ctx, tr, chatID, textCodeExists, "")
		return
	case errors.Is(err, access.ErrInvalidCode):
		h.sendText(ctx, tr, chatID, textCodeBadChars, "")
		return
	case errors.Is(err, access.ErrCodeGeneration):
		entry.WithError(err).Warn("code generation exhausted")
		h.sendText(ctx, tr, chatID, textCodeGenFailed, "")
		return
	case err != nil:
		entry.WithError(err).Error("failed to issue code")
		h.sendText(ctx, tr, chatID, textInternalError, "")
		return
	}

	entry.WithFields(logging.Fields{
		"code":       logging.MaskCode(issued.Code),
		"expires_at": issued.ExpiresAt,
	}).Info("promo code issued")
	h.sendText(ctx, tr, chatID,
		textCodeIssued(issued.Code, issued.ExpiresAt.Sub(issued.IssuedAt), issued.ExpiresAt),
		models.ParseModeMarkdownV1)
}

func (h *Handler) handleStats(ctx context.Context, tr Transport, chatID int64, user domain.UserIdentity) {
	if !user.IsAdmin {
		h.sendText(ctx, tr, chatID, textAdminOnly, "")
		return
	}

	stats, err := h.gate.Stats(ctx)
	if err != nil {
		logging.WithContext(logging.Context{
			UserID:  user.UserID,
			ChatID:  chatID,
			Event:   "stats_error",
			Command: "/stats",
		}).WithError(err).Error("failed to load stats")
		h.sendText(ctx, tr, chatID, textInternalError, "")
		return
	}

	h.sendText(ctx, tr, chatID, textStats(stats.Codes, stats.Grants), "")
}

// parseHours accepts a positive whole number of hours.
func parseHours(value string) (time.Duration, bool) {
	hours, err := strconv.Atoi(value)
	if err != nil || hours <= 0 {
		return 0, false
	}
	return time.Duration(hours) * time.Hour, true
}
