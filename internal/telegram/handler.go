package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_ai_gate_bot/internal/access"
	"tg_ai_gate_bot/internal/completion"
	"tg_ai_gate_bot/internal/domain"
	"tg_ai_gate_bot/internal/logging"
)

const membershipTimeout = 5 * time.Second

// Transport is the subset of the Telegram Bot API the handler uses. *bot.Bot
// satisfies it.
type Transport interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error)
	SetMessageReaction(ctx context.Context, params *bot.SetMessageReactionParams) (bool, error)
}

// Settings holds the presentation and channel options of the handler.
type Settings struct {
	RequiredChannel string
	WelcomePhotoURL string
	DemoURL         string
}

// Handler routes updates through the access gate to the completion provider.
// Every failure ends as a chat reply or a log entry; nothing is returned to
// the webhook, which always acknowledges.
type Handler struct {
	gate     *access.Gate
	provider completion.Provider
	quota    *access.FreeQuota
	settings Settings
	logger   *logrus.Entry
}

// NewHandler wires the gate, provider and free quota. quota may be nil.
func NewHandler(gate *access.Gate, provider completion.Provider, quota *access.FreeQuota, settings Settings, logger *logrus.Entry) (*Handler, error) {
	if gate == nil {
		return nil, errors.New("access gate is required")
	}
	if provider == nil {
		return nil, errors.New("completion provider is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Handler{
		gate:     gate,
		provider: provider,
		quota:    quota,
		settings: settings,
		logger:   logger,
	}, nil
}

// Handle processes a single update.
func (h *Handler) Handle(ctx context.Context, tr Transport, update *models.Update) {
	if update == nil || tr == nil {
		return
	}

	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, tr, update.CallbackQuery)
	case update.Message != nil:
		h.handleMessage(ctx, tr, update.Message)
	}
}

func (h *Handler) handleMessage(ctx context.Context, tr Transport, msg *models.Message) {
	if msg.From == nil {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	chatID := msg.Chat.ID
	user := domain.NewUserIdentity(msg.From.ID, h.gate.AdminID())

	h.react(ctx, tr, msg)

	command, args := splitCommand(text)
	switch command {
	case "/start":
		h.sendWelcome(ctx, tr, chatID)
		return
	case "/generate":
		h.handleGenerate(ctx, tr, chatID, user, args)
		return
	case "/newcode":
		h.handleNewCode(ctx, tr, chatID, user, args)
		return
	case "/stats":
		h.handleStats(ctx, tr, chatID, user)
		return
	}

	if code, ok := codePayload(text); ok {
		h.redeem(ctx, tr, chatID, user.UserID, code, true)
		return
	}
	if looksLikeCode(text) && h.redeem(ctx, tr, chatID, user.UserID, text, false) {
		return
	}

	h.handleChat(ctx, tr, chatID, user, text)
}

// redeem reports whether text was handled as a code. Implicit attempts fall
// through on no match so ordinary one-word messages still reach the AI.
func (h *Handler) redeem(ctx context.Context, tr Transport, chatID, userID int64, text string, explicit bool) bool {
	entry := logging.WithContext(logging.Context{UserID: userID, ChatID: chatID, Event: "code_redeem", Code: text})

	result, err := h.gate.Redeem(ctx, userID, text)
	if err != nil {
		if errors.Is(err, access.ErrEmptyCode) {
			if explicit {
				h.sendText(ctx, tr, chatID, textCodeEmpty, models.ParseModeMarkdownV1)
			}
			return explicit
		}
		entry.WithError(err).Error("code redemption failed")
		h.sendText(ctx, tr, chatID, textInternalError, "")
		return true
	}

	entry = entry.WithField("outcome", result.Outcome.String())

	switch result.Outcome {
	case access.OutcomeGranted:
		entry.Info("promo code redeemed")
		if result.Grant.Kind == domain.GrantPermanent {
			h.sendText(ctx, tr, chatID, textCodeAcceptedPermanent, "")
		} else {
			h.sendText(ctx, tr, chatID, textCodeAccepted(h.gate.SessionTTL()), "")
		}
		return true
	case access.OutcomeRejected:
		entry.WithField("reason", string(result.Reason)).Info("promo code rejected")
		if result.Reason == access.ReasonExpired {
			h.sendText(ctx, tr, chatID, textCodeExpired, "")
		} else {
			h.sendText(ctx, tr, chatID, textCodeUsed, "")
		}
		return true
	default:
		if explicit {
			h.sendText(ctx, tr, chatID, textCodeInvalid, "")
		}
		return explicit
	}
}

func (h *Handler) handleChat(ctx context.Context, tr Transport, chatID int64, user domain.UserIdentity, text string) {
	prompt := stripAIPrefix(text)
	if prompt == "" {
		h.sendText(ctx, tr, chatID, textEmptyPrompt, models.ParseModeMarkdownV1)
		return
	}

	entry := logging.WithContext(logging.Context{UserID: user.UserID, ChatID: chatID, Event: "chat"})

	var freeRemaining = -1
	if !h.gate.HasAccess(ctx, user.UserID, h.membershipProbe(tr)) {
		remaining, ok := h.quota.Consume(user.UserID)
		if !ok {
			entry.WithField("event", "access_denied").Info("access denied")
			h.sendLocked(ctx, tr, chatID)
			return
		}
		freeRemaining = remaining
	}

	if _, err := tr.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	}); err != nil {
		entry.WithError(err).Debug("send chat action failed")
	}

	reply, err := h.provider.Complete(ctx, prompt)
	if err != nil {
		entry.WithField("event", "provider_error").WithError(err).Warn("completion failed, sending fallback")
		reply = textProviderFallback
	}

	for _, chunk := range splitMessage(reply, maxMessageRunes) {
		h.sendText(ctx, tr, chatID, chunk, "")
	}

	if freeRemaining >= 0 {
		h.sendText(ctx, tr, chatID, textFreeRemaining(freeRemaining), "")
	}
}

func (h *Handler) sendLocked(ctx context.Context, tr Transport, chatID int64) {
	text := textLockedNoChannel
	if h.quota.Enabled() {
		text = textQuotaExhausted
	} else if h.settings.RequiredChannel != "" {
		text = textLocked
	}

	h.send(ctx, tr, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: h.lockedKeyboard(),
	})
}

func (h *Handler) sendWelcome(ctx context.Context, tr Transport, chatID int64) {
	if h.settings.WelcomePhotoURL != "" {
		_, err := tr.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:      chatID,
			Photo:       &models.InputFileString{Data: h.settings.WelcomePhotoURL},
			Caption:     textWelcome,
			ParseMode:   models.ParseModeMarkdownV1,
			ReplyMarkup: h.welcomeKeyboard(),
		})
		if err == nil {
			return
		}
		h.logger.WithFields(logging.Fields{
			"event":   "telegram_send_error",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to send welcome photo, falling back to text")
	}

	h.send(ctx, tr, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        textWelcome,
		ParseMode:   models.ParseModeMarkdownV1,
		ReplyMarkup: h.welcomeKeyboard(),
	})
}

func (h *Handler) handleCallback(ctx context.Context, tr Transport, query *models.CallbackQuery) {
	userID := query.From.ID
	chatID := messageChatID(query.Message)
	if chatID == 0 {
		chatID = userID
	}

	if _, err := tr.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: query.ID,
	}); err != nil {
		h.logger.WithField("event", "callback_answer_error").WithError(err).Debug("failed to answer callback query")
	}

	switch query.Data {
	case callbackEnterCode:
		h.sendText(ctx, tr, chatID, textEnterCode, models.ParseModeMarkdownV1)
	case callbackClaimFree:
		h.claimFree(ctx, tr, chatID, userID)
	default:
		logging.WithContext(logging.Context{
			UserID:     userID,
			ChatID:     chatID,
			Event:      "callback_unknown",
			UpdateType: "callback_query",
		}).WithField("data", query.Data).Warn("unknown callback data")
	}
}

// claimFree turns confirmed channel membership into a standing grant.
func (h *Handler) claimFree(ctx context.Context, tr Transport, chatID, userID int64) {
	probe := h.membershipProbe(tr)
	if probe == nil {
		h.sendText(ctx, tr, chatID, textClaimUnavailable, "")
		return
	}

	entry := logging.WithContext(logging.Context{UserID: userID, ChatID: chatID, Event: "claim_free"})

	member, err := probe(ctx, userID)
	if err != nil {
		entry.WithError(err).Warn("membership probe failed")
		h.sendText(ctx, tr, chatID, textClaimProbeFailed, "")
		return
	}
	if !member {
		h.send(ctx, tr, &bot.SendMessageParams{
			ChatID:      chatID,
			Text:        textClaimNotMember,
			ReplyMarkup: h.joinKeyboard(),
		})
		return
	}

	if _, err := h.gate.GrantPermanent(ctx, userID); err != nil {
		entry.WithError(err).Error("failed to grant permanent access")
		h.sendText(ctx, tr, chatID, textInternalError, "")
		return
	}

	entry.Info("granted permanent access to channel member")
	h.sendText(ctx, tr, chatID, textClaimGranted, "")
}

// membershipProbe returns nil when no channel is required.
func (h *Handler) membershipProbe(tr Transport) access.MembershipProbe {
	channel := h.settings.RequiredChannel
	if channel == "" {
		return nil
	}

	return func(ctx context.Context, userID int64) (bool, error) {
		probeCtx, cancel := context.WithTimeout(ctx, membershipTimeout)
		defer cancel()

		member, err := tr.GetChatMember(probeCtx, &bot.GetChatMemberParams{
			ChatID: channel,
			UserID: userID,
		})
		if err != nil {
			return false, fmt.Errorf("get chat member: %w", err)
		}

		return isMember(member), nil
	}
}

func isMember(member *models.ChatMember) bool {
	if member == nil {
		return false
	}

	switch member.Type {
	case models.ChatMemberTypeOwner, models.ChatMemberTypeAdministrator, models.ChatMemberTypeMember:
		return true
	default:
		return false
	}
}

func (h *Handler) react(ctx context.Context, tr Transport, msg *models.Message) {
	if _, err := tr.SetMessageReaction(ctx, &bot.SetMessageReactionParams{
		ChatID:    msg.Chat.ID,
		MessageID: msg.ID,
		Reaction: []models.ReactionType{{
			Type: models.ReactionTypeTypeEmoji,
			ReactionTypeEmoji: &models.ReactionTypeEmoji{
				Type:  models.ReactionTypeTypeEmoji,
				Emoji: "👍",
			},
		}},
	}); err != nil {
		h.logger.WithField("event", "reaction_error").WithError(err).Debug("failed to react to message")
	}
}

func (h *Handler) sendText(ctx context.Context, tr Transport, chatID int64, text string, parseMode models.ParseMode) {
	h.send(ctx, tr, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: parseMode,
	})
}

func (h *Handler) send(ctx context.Context, tr Transport, params *bot.SendMessageParams) {
	if _, err := tr.SendMessage(ctx, params); err != nil {
		h.logger.WithFields(logging.Fields{
			"event":   "telegram_send_error",
			"chat_id": params.ChatID,
		}).WithError(err).Error("failed to send message")
	}
}

// splitCommand returns the lower-cased command without any @botname suffix,
// or "" when text is not a command.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}

	command := strings.ToLower(fields[0])
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	return command, fields[1:]
}

func codePayload(text string) (string, bool) {
	if len(text) < len(codePrefix) || !strings.EqualFold(text[:len(codePrefix)], codePrefix) {
		return "", false
	}
	return strings.TrimSpace(text[len(codePrefix):]), true
}

// looksLikeCode accepts a single token of letters, digits, '-' or '_'.
func looksLikeCode(text string) bool {
	if text == "" || len(text) > 64 {
		return false
	}
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

func stripAIPrefix(text string) string {
	if len(text) >= len(aiPrefix) && strings.EqualFold(text[:len(aiPrefix)], aiPrefix) {
		return strings.TrimSpace(text[len(aiPrefix):])
	}
	return strings.TrimSpace(text)
}
