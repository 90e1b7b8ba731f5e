// Package presenter formats data for Telegram display.
// Presenters handle the conversion from domain objects to user-friendly
// Telegram messages, keyboards, and other UI elements.
package presenter

import (
	"fmt"

	"github.com/medquiz-hub/medquiz-content-hub/internal/application/query"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/curriculum"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// INLINE KEYBOARD TYPES
// These types represent Telegram inline keyboards in a library-agnostic way.
// The actual Telegram bot implementation will convert these to the library's format.
// ══════════════════════════════════════════════════════════════════════════════

// InlineKeyboard represents an inline keyboard.
type InlineKeyboard struct {
	Rows [][]InlineButton
}

// InlineButton represents a single inline button.
type InlineButton struct {
	// Text is the button text.
	Text string

	// CallbackData is the callback data (for callback buttons).
	CallbackData string

	// URL is the URL to open (for URL buttons).
	URL string
}

// NewInlineKeyboard creates a new empty inline keyboard.
func NewInlineKeyboard() *InlineKeyboard {
	return &InlineKeyboard{
		Rows: make([][]InlineButton, 0),
	}
}

// AddRow adds a row of buttons.
func (k *InlineKeyboard) AddRow(buttons ...InlineButton) *InlineKeyboard {
	k.Rows = append(k.Rows, buttons)
	return k
}

// CallbackButton creates a callback button.
func CallbackButton(text, callbackData string) InlineButton {
	return InlineButton{
		Text:         text,
		CallbackData: callbackData,
	}
}

// URLButton creates a URL button.
func URLButton(text, url string) InlineButton {
	return InlineButton{
		Text: text,
		URL:  url,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// KEYBOARD BUILDER
// Builds keyboards for the upload and review flows. Callback data carries
// UUID batch and candidate identifiers and stays within Telegram's
// 64-byte callback_data limit.
// ══════════════════════════════════════════════════════════════════════════════

// KeyboardBuilder builds inline keyboards for various handlers.
type KeyboardBuilder struct{}

// NewKeyboardBuilder creates a new KeyboardBuilder.
func NewKeyboardBuilder() *KeyboardBuilder {
	return &KeyboardBuilder{}
}

// ─────────────────────────────────────────────────────────────────────────────
// START / ONBOARDING KEYBOARDS
// ─────────────────────────────────────────────────────────────────────────────

// MainMenuKeyboard creates the main menu for a registered admin.
// Super-admins additionally see access-code and audit shortcuts.
func (b *KeyboardBuilder) MainMenuKeyboard(role shared.Role) *InlineKeyboard {
	kb := NewInlineKeyboard().
		AddRow(
			CallbackButton("📥 Загрузить вопросы", "cmd:upload"),
			CallbackButton("📋 Очередь ревью", "cmd:queue"),
		).
		AddRow(
			CallbackButton("📊 Моя статистика", "cmd:mystats"),
			CallbackButton("ℹ️ Справка", "cmd:help"),
		)

	if role == shared.RoleSuperAdmin {
		kb.AddRow(
			CallbackButton("🔑 Код доступа", "cmd:invite"),
			CallbackButton("📜 Аудит", "cmd:audit"),
		)
	}

	return kb
}

// OnboardingKeyboard creates the keyboard for unregistered users.
func (b *KeyboardBuilder) OnboardingKeyboard() *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(
			CallbackButton("🔑 Ввести код доступа", "redeem:prompt"),
		)
}

// ─────────────────────────────────────────────────────────────────────────────
// UPLOAD FLOW KEYBOARDS
// The flow: pick a unit, pick a topic, then send the document or text.
// ─────────────────────────────────────────────────────────────────────────────

// UnitPickerKeyboard lists course units, one per row.
func (b *KeyboardBuilder) UnitPickerKeyboard(units []curriculum.Unit) *InlineKeyboard {
	kb := NewInlineKeyboard()

	for _, unit := range units {
		label := fmt.Sprintf("%d курс · %s", unit.Year, unit.Name)
		kb.AddRow(CallbackButton(label, fmt.Sprintf("upload:unit:%d", unit.ID)))
	}

	kb.AddRow(CallbackButton("✖️ Отмена", "upload:cancel"))
	return kb
}

// TopicPickerKeyboard lists topics of the selected unit.
func (b *KeyboardBuilder) TopicPickerKeyboard(topics []curriculum.Topic) *InlineKeyboard {
	kb := NewInlineKeyboard()

	for _, topic := range topics {
		kb.AddRow(CallbackButton(topic.Name, fmt.Sprintf("upload:topic:%d", topic.ID.Int64())))
	}

	kb.AddRow(
		CallbackButton("◀️ К юнитам", "upload:units"),
		CallbackButton("✖️ Отмена", "upload:cancel"),
	)
	return kb
}

// AwaitingDocumentKeyboard is shown while the bot waits for the material.
func (b *KeyboardBuilder) AwaitingDocumentKeyboard() *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(
			CallbackButton("◀️ Сменить тему", "upload:units"),
			CallbackButton("✖️ Отмена", "upload:cancel"),
		)
}

// UploadDoneKeyboard is shown after a batch has been submitted.
func (b *KeyboardBuilder) UploadDoneKeyboard(batchID string, pending int) *InlineKeyboard {
	kb := NewInlineKeyboard()
	if pending > 0 {
		kb.AddRow(CallbackButton("▶️ Начать ревью", "review:claim:"+batchID))
	}
	kb.AddRow(
		CallbackButton("📥 Ещё загрузка", "cmd:upload"),
		CallbackButton("📋 Очередь", "cmd:queue"),
	)
	return kb
}

// ─────────────────────────────────────────────────────────────────────────────
// REVIEW QUEUE KEYBOARDS
// ─────────────────────────────────────────────────────────────────────────────

// QueueKeyboard creates claim buttons for a queue page plus navigation.
func (b *KeyboardBuilder) QueueKeyboard(entries []query.ReviewQueueEntryDTO, page, pageSize int, hasMore bool) *InlineKeyboard {
	kb := NewInlineKeyboard()

	for i, entry := range entries {
		position := (page-1)*pageSize + i + 1
		label := fmt.Sprintf("▶️ %d. %s · %d", position, shortTopicLabel(entry.TopicPath), entry.Pending)
		if entry.HeldByMe {
			label = fmt.Sprintf("🔒 %d. %s · продолжить", position, shortTopicLabel(entry.TopicPath))
		}
		kb.AddRow(CallbackButton(label, "review:claim:"+entry.BatchID))
	}

	// Navigation row
	navRow := make([]InlineButton, 0, 3)
	if page > 1 {
		navRow = append(navRow, CallbackButton("◀️ Назад", fmt.Sprintf("queue:page:%d", page-1)))
	}
	navRow = append(navRow, CallbackButton("🔄", "refresh:queue"))
	if hasMore {
		navRow = append(navRow, CallbackButton("Вперёд ▶️", fmt.Sprintf("queue:page:%d", page+1)))
	}
	kb.AddRow(navRow...)

	return kb
}

// EmptyQueueKeyboard is shown when nothing waits for review.
func (b *KeyboardBuilder) EmptyQueueKeyboard() *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(
			CallbackButton("📥 Загрузить вопросы", "cmd:upload"),
			CallbackButton("🔄 Обновить", "refresh:queue"),
		)
}

// ─────────────────────────────────────────────────────────────────────────────
// REVIEW CARD KEYBOARDS
// Verdict buttons carry the candidate ID so a stale card cannot decide
// a different candidate after a concurrent action.
// ─────────────────────────────────────────────────────────────────────────────

// ReviewCardKeyboard creates the verdict keyboard for a candidate card.
func (b *KeyboardBuilder) ReviewCardKeyboard(candidateID, batchID string) *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(
			CallbackButton("✅ Принять", "review:accept:"+candidateID),
			CallbackButton("❌ Отклонить", "review:reject:"+candidateID),
		).
		AddRow(
			CallbackButton("⏸ Отложить", "review:release:"+batchID),
			CallbackButton("🗑 Закрыть партию", "review:abandon:"+batchID),
		)
}

// AbandonConfirmKeyboard asks for confirmation before abandoning a batch.
func (b *KeyboardBuilder) AbandonConfirmKeyboard(batchID string) *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(
			CallbackButton("🗑 Да, закрыть без публикации", "review:abandonok:"+batchID),
		).
		AddRow(
			CallbackButton("◀️ Вернуться к ревью", "review:claim:"+batchID),
		)
}

// BatchCompletedKeyboard is shown when the last candidate is decided.
func (b *KeyboardBuilder) BatchCompletedKeyboard() *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(
			CallbackButton("📋 К очереди", "cmd:queue"),
			CallbackButton("📊 Статистика", "cmd:mystats"),
		)
}

// BatchReleasedKeyboard is shown after a lock release with work remaining.
func (b *KeyboardBuilder) BatchReleasedKeyboard(batchID string) *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(
			CallbackButton("▶️ Продолжить эту партию", "review:claim:"+batchID),
		).
		AddRow(
			CallbackButton("📋 К очереди", "cmd:queue"),
		)
}

// ─────────────────────────────────────────────────────────────────────────────
// STATS / AUDIT KEYBOARDS
// ─────────────────────────────────────────────────────────────────────────────

// StatsKeyboard toggles between the personal view and the top contributors.
func (b *KeyboardBuilder) StatsKeyboard(showingPersonal bool) *InlineKeyboard {
	kb := NewInlineKeyboard()
	if showingPersonal {
		kb.AddRow(
			CallbackButton("🏆 Топ авторов", "stats:top"),
			CallbackButton("🔄 Обновить", "refresh:stats"),
		)
	} else {
		kb.AddRow(
			CallbackButton("👤 Моя статистика", "stats:me"),
			CallbackButton("🔄 Обновить", "refresh:stats"),
		)
	}
	return kb
}

// AuditPageKeyboard pages through an audit trail.
func (b *KeyboardBuilder) AuditPageKeyboard(targetKind, targetID string, offset, limit int, hasMore bool) *InlineKeyboard {
	kb := NewInlineKeyboard()

	navRow := make([]InlineButton, 0, 2)
	if offset > 0 {
		prev := offset - limit
		if prev < 0 {
			prev = 0
		}
		navRow = append(navRow, CallbackButton("◀️ Назад", fmt.Sprintf("audit:page:%s:%s:%d", targetKind, targetID, prev)))
	}
	if hasMore {
		navRow = append(navRow, CallbackButton("Вперёд ▶️", fmt.Sprintf("audit:page:%s:%s:%d", targetKind, targetID, offset+limit)))
	}
	if len(navRow) > 0 {
		kb.AddRow(navRow...)
	}

	return kb
}

// ─────────────────────────────────────────────────────────────────────────────
// CONFIRMATION KEYBOARDS
// ─────────────────────────────────────────────────────────────────────────────

// ConfirmationKeyboard creates a yes/no confirmation keyboard.
func (b *KeyboardBuilder) ConfirmationKeyboard(yesCallback, noCallback string) *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(
			CallbackButton("✅ Да", yesCallback),
			CallbackButton("❌ Нет", noCallback),
		)
}

// shortTopicLabel compresses "Юнит → Тема" paths to fit on a button.
func shortTopicLabel(path string) string {
	const maxLen = 28
	runes := []rune(path)
	if len(runes) <= maxLen {
		return path
	}
	return string(runes[:maxLen-1]) + "…"
}
