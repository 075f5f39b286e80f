package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"
)

const (
	callbackEnterCode = "enter_code"
	callbackClaimFree = "claim_free"

	codePrefix = "code:"
	aiPrefix   = "ai:"

	// Telegram rejects longer message texts.
	maxMessageRunes = 4096
)

const (
	textWelcome = "👋 Welcome!\n\n" +
		"Send any message to chat with the AI. You can also prefix it with `ai:`.\n" +
		"Access is unlocked with a premium code or by joining our channel."
	textEnterCode        = "🔑 Send your premium code like: `code: YOURCODE`"
	textCodeEmpty        = "🔑 The code is missing. Send it like: `code: YOURCODE`"
	textCodeInvalid      = "❌ Invalid code."
	textCodeUsed         = "❌ This code has already been used."
	textCodeExpired      = "❌ This code has expired."
	textLocked           = "🚫 You don't have access yet. Enter a premium code or join our channel to continue."
	textLockedNoChannel  = "🚫 You don't have access yet. Enter a premium code to continue."
	textQuotaExhausted   = "🚫 You're out of free messages. Please enter a premium code."
	textEmptyPrompt      = "✍️ Send a question, for example: `ai: what is a webhook?`"
	textProviderFallback = "⚠️ No response from the AI. Please try again later."
	textAdminOnly        = "⛔ Only the admin can use this command."
	textGenerateUsage    = "Usage: `/generate CODE [hours]`\nOmit CODE with `/newcode [hours]` to get a random one."
	textNewCodeUsage     = "Usage: `/newcode [hours]`"
	textCodeExists       = "⚠️ That code already exists. Pick another one."
	textCodeBadChars     = "⚠️ A code must be a single word without backticks."
	textInternalError    = "⚠️ Something went wrong. Please try again."
	textClaimUnavailable = "🎁 The free trial is not available right now."
	textClaimNotMember   = "📢 Join the channel first, then tap the button again."
	textClaimProbeFailed = "⚠️ Could not verify your membership. Please try again in a moment."
	textClaimGranted     = "🎉 Thanks for joining! You now have full access."
	textCodeGenFailed    = "⚠️ Could not generate a free code, try again or pick one yourself."
)

func textCodeIssued(code string, ttl time.Duration, expiresAt time.Time) string {
	return fmt.Sprintf("✅ Premium code `%s` valid for %s (until %s UTC)",
		code, formatTTL(ttl), expiresAt.UTC().Format("2006-01-02 15:04:05"))
}

func textCodeAccepted(session time.Duration) string {
	return fmt.Sprintf("✅ Code accepted! You may now use the bot for %s.", formatTTL(session))
}

const textCodeAcceptedPermanent = "✅ Code accepted! You already have full access."

func textFreeRemaining(remaining int) string {
	return fmt.Sprintf("ℹ️ Free messages left: %d", remaining)
}

func textStats(codes, grants int64) string {
	return fmt.Sprintf("📊 Codes issued: %d\nActive grants: %d", codes, grants)
}

func formatTTL(ttl time.Duration) string {
	switch {
	case ttl >= time.Hour && ttl%time.Hour == 0:
		return fmt.Sprintf("%dh", int(ttl/time.Hour))
	case ttl >= time.Minute && ttl%time.Minute == 0:
		return fmt.Sprintf("%dm", int(ttl/time.Minute))
	default:
		return ttl.String()
	}
}

func channelURL(channel string) string {
	channel = strings.TrimSpace(channel)
	if strings.HasPrefix(channel, "https://") {
		return channel
	}
	return "https://t.me/" + strings.TrimPrefix(channel, "@")
}

func (h *Handler) welcomeKeyboard() models.InlineKeyboardMarkup {
	rows := [][]models.InlineKeyboardButton{
		{{Text: "🔐 Enter Premium Code", CallbackData: callbackEnterCode}},
	}
	if h.settings.RequiredChannel != "" {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: "🎁 Claim Free Access (Join Channel)", CallbackData: callbackClaimFree},
		})
	}
	if h.settings.DemoURL != "" {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: "🎬 Watch Bot Demo", URL: h.settings.DemoURL},
		})
	}

	return models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (h *Handler) lockedKeyboard() models.InlineKeyboardMarkup {
	rows := [][]models.InlineKeyboardButton{
		{{Text: "🔐 Enter Premium Code", CallbackData: callbackEnterCode}},
	}
	if h.settings.RequiredChannel != "" {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: "🎁 Claim Free Access", CallbackData: callbackClaimFree},
		})
	}

	return models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (h *Handler) joinKeyboard() models.InlineKeyboardMarkup {
	return models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
		{{Text: "📢 Open Channel", URL: channelURL(h.settings.RequiredChannel)}},
		{{Text: "✅ I've Joined", CallbackData: callbackClaimFree}},
	}}
}

// splitMessage cuts text into chunks Telegram accepts, preferring line breaks.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	chunks := make([]string, 0, len(runes)/limit+1)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}

	return chunks
}
