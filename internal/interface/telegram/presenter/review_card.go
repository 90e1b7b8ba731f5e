// Package presenter formats data for Telegram display.
// Presenters handle the conversion from domain objects to user-friendly
// Telegram messages, keyboards, and other UI elements.
package presenter

import (
	"fmt"
	"strings"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/application/query"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW CARD PRESENTER
// Форматирует карточку кандидата для ревью. Карточка показывает всё, что
// нужно для решения одним взглядом: вопрос, варианты с отмеченным ответом,
// оценку модерации и её происхождение, остаток аренды.
// ══════════════════════════════════════════════════════════════════════════════

// ReviewCardPresenter форматирует карточки ревью для Telegram.
type ReviewCardPresenter struct {
	keyboardBuilder *KeyboardBuilder
}

// NewReviewCardPresenter создаёт новый презентер карточек ревью.
func NewReviewCardPresenter() *ReviewCardPresenter {
	return &ReviewCardPresenter{
		keyboardBuilder: NewKeyboardBuilder(),
	}
}

// ReviewCardView содержит отформатированную карточку.
type ReviewCardView struct {
	// Text - основной текст сообщения (с HTML-разметкой).
	Text string

	// Keyboard - inline-клавиатура.
	Keyboard *InlineKeyboard

	// ParseMode - режим парсинга ("HTML").
	ParseMode string
}

// ─────────────────────────────────────────────────────────────────────────────
// CANDIDATE CARD
// ─────────────────────────────────────────────────────────────────────────────

// FormatReviewCard форматирует карточку очередного кандидата.
// notice - необязательная строка над карточкой (перехват аренды и т.п.).
func (p *ReviewCardPresenter) FormatReviewCard(
	batchID string,
	result *query.GetReviewCardResult,
	notice string,
) *ReviewCardView {
	if result.Done || result.Card == nil {
		return p.FormatBatchCompleted(result)
	}

	card := result.Card
	var sb strings.Builder

	if notice != "" {
		sb.WriteString(notice)
		sb.WriteString("\n\n")
	}

	// Заголовок с прогрессом
	position := result.Decided + 1
	sb.WriteString(fmt.Sprintf("📝 <b>Вопрос %d из %d</b>\n", position, result.Total))
	sb.WriteString(progressBar(result.Decided, result.Total))
	sb.WriteString("\n\n")

	// Оценка модерации
	sb.WriteString(fmt.Sprintf("⚖️ Оценка: <b>%d</b>/100 · %s\n", card.Score, verdictBadge(card.Verdict)))
	if card.Heuristic {
		sb.WriteString("⚙️ <i>Оценка эвристикой: внешний оценщик был недоступен</i>\n")
	}
	if card.Confidence > 0 && card.Confidence < 0.5 {
		sb.WriteString(fmt.Sprintf("🔍 <i>Низкая уверенность разбора: %.0f%%</i>\n", card.Confidence*100))
	}
	if card.Comments != "" {
		sb.WriteString(fmt.Sprintf("🗒 <i>%s</i>\n", p.escapeHTML(card.Comments)))
	}
	sb.WriteString("\n")

	// Вопрос
	sb.WriteString(fmt.Sprintf("<b>%s</b>\n\n", p.escapeHTML(card.Text)))

	// Варианты с отмеченным правильным
	labels := []string{"A", "B", "C", "D"}
	for i, opt := range card.Options {
		marker := "▫️"
		if i == card.CorrectIndex {
			marker = "✅"
		}
		label := "?"
		if i < len(labels) {
			label = labels[i]
		}
		sb.WriteString(fmt.Sprintf("%s <b>%s.</b> %s\n", marker, label, p.escapeHTML(opt)))
	}

	// Пояснение и сложность
	if card.Explanation != "" {
		sb.WriteString(fmt.Sprintf("\n💡 <i>%s</i>\n", p.escapeHTML(card.Explanation)))
	}
	if card.Difficulty != "" {
		sb.WriteString(fmt.Sprintf("\n%s\n", difficultyBadge(card.Difficulty)))
	}

	// Остаток аренды
	if result.LeaseRemaining > 0 {
		sb.WriteString(fmt.Sprintf("\n⏳ Аренда: ещё %s", formatLeaseShort(result.LeaseRemaining)))
	}

	return &ReviewCardView{
		Text:      sb.String(),
		Keyboard:  p.keyboardBuilder.ReviewCardKeyboard(card.CandidateID, batchID),
		ParseMode: "HTML",
	}
}

// FormatBatchCompleted форматирует сообщение о завершённой партии.
func (p *ReviewCardPresenter) FormatBatchCompleted(result *query.GetReviewCardResult) *ReviewCardView {
	var sb strings.Builder

	sb.WriteString("🎉 <b>Партия завершена!</b>\n\n")
	sb.WriteString(fmt.Sprintf("Решено вопросов: <b>%d</b>\n", result.Total))
	sb.WriteString("Принятые вопросы опубликованы в банк.\n")

	return &ReviewCardView{
		Text:      sb.String(),
		Keyboard:  p.keyboardBuilder.BatchCompletedKeyboard(),
		ParseMode: "HTML",
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// LOCK / DECISION NOTICES
// Краткие строки для всплывающих ответов на callback и для вставки
// над карточкой.
// ─────────────────────────────────────────────────────────────────────────────

// DecisionToast возвращает короткий текст для ответа на callback.
func (p *ReviewCardPresenter) DecisionToast(verdict string) string {
	switch verdict {
	case "approve", "accept":
		return "✅ Принято"
	case "reject":
		return "❌ Отклонено"
	default:
		return "Готово"
	}
}

// ReclaimNotice возвращает уведомление о перехвате просроченной аренды.
func (p *ReviewCardPresenter) ReclaimNotice(previousHolder int64) string {
	return "♻️ <i>Аренда предыдущего ревьюера истекла — партия теперь за вами.</i>"
}

// RefreshNotice возвращает уведомление о продлении собственной аренды.
func (p *ReviewCardPresenter) RefreshNotice() string {
	return "🔁 <i>Аренда продлена.</i>"
}

// ConflictNotice возвращает сообщение о гонке решений.
func (p *ReviewCardPresenter) ConflictNotice() string {
	return "⚠️ Вопрос уже решён другим ревьюером. Показан следующий."
}

// LockConflictMessage возвращает сообщение о занятой партии.
func (p *ReviewCardPresenter) LockConflictMessage() string {
	return "🔒 Эту партию сейчас проверяет другой администратор.\n" +
		"Выберите другую из очереди или вернитесь позже."
}

// LockExpiredMessage возвращает сообщение об утраченной аренде.
func (p *ReviewCardPresenter) LockExpiredMessage() string {
	return "⏰ Аренда истекла, и партию перехватил другой ревьюер.\n" +
		"Принятые вами решения сохранены."
}

// ─────────────────────────────────────────────────────────────────────────────
// RELEASE / ABANDON VIEWS
// ─────────────────────────────────────────────────────────────────────────────

// FormatReleased форматирует сообщение после снятия блокировки.
func (p *ReviewCardPresenter) FormatReleased(batchID string, pendingLeft int) *ReviewCardView {
	var sb strings.Builder

	sb.WriteString("⏸ <b>Партия отложена</b>\n\n")
	if pendingLeft > 0 {
		sb.WriteString(fmt.Sprintf("Осталось нерешённых: <b>%d</b>\n", pendingLeft))
		sb.WriteString("Партия вернулась в общую очередь.")
	} else {
		sb.WriteString("Нерешённых вопросов не осталось.")
	}

	return &ReviewCardView{
		Text:      sb.String(),
		Keyboard:  p.keyboardBuilder.BatchReleasedKeyboard(batchID),
		ParseMode: "HTML",
	}
}

// FormatAbandonConfirm форматирует запрос подтверждения закрытия партии.
func (p *ReviewCardPresenter) FormatAbandonConfirm(batchID string, pending int) *ReviewCardView {
	var sb strings.Builder

	sb.WriteString("🗑 <b>Закрыть партию без публикации?</b>\n\n")
	sb.WriteString(fmt.Sprintf("Нерешённых вопросов: <b>%d</b>\n", pending))
	sb.WriteString("Они не попадут в банк, действие необратимо.")

	return &ReviewCardView{
		Text:      sb.String(),
		Keyboard:  p.keyboardBuilder.AbandonConfirmKeyboard(batchID),
		ParseMode: "HTML",
	}
}

// FormatAbandoned форматирует сообщение о закрытой партии.
func (p *ReviewCardPresenter) FormatAbandoned(pendingLeft int) *ReviewCardView {
	var sb strings.Builder

	sb.WriteString("🗑 <b>Партия закрыта</b>\n\n")
	sb.WriteString(fmt.Sprintf("Нерешённых на момент закрытия: %d\n", pendingLeft))
	sb.WriteString("Уже принятые вопросы остаются в банке.")

	return &ReviewCardView{
		Text:      sb.String(),
		Keyboard:  p.keyboardBuilder.BatchCompletedKeyboard(),
		ParseMode: "HTML",
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// HELPERS
// ─────────────────────────────────────────────────────────────────────────────

// escapeHTML экранирует спецсимволы HTML в пользовательском тексте.
func (p *ReviewCardPresenter) escapeHTML(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return replacer.Replace(s)
}

// progressBar рисует полосу прогресса из 10 сегментов.
func progressBar(done, total int) string {
	const segments = 10
	if total <= 0 {
		return strings.Repeat("▱", segments)
	}
	filled := done * segments / total
	if filled > segments {
		filled = segments
	}
	return strings.Repeat("▰", filled) + strings.Repeat("▱", segments-filled)
}

// verdictBadge возвращает человекочитаемую метку вердикта модерации.
func verdictBadge(verdict string) string {
	switch verdict {
	case "accept":
		return "✅ авто-приём"
	case "flag":
		return "⚠️ требует проверки"
	case "reject":
		return "❌ авто-отказ"
	default:
		return verdict
	}
}

// difficultyBadge возвращает метку сложности вопроса.
func difficultyBadge(difficulty string) string {
	switch difficulty {
	case "easy":
		return "🟢 Лёгкий"
	case "medium":
		return "🟡 Средний"
	case "hard":
		return "🔴 Сложный"
	default:
		return "⚪ Сложность: " + difficulty
	}
}

// formatLeaseShort форматирует остаток аренды в минутах и секундах.
func formatLeaseShort(d time.Duration) string {
	if d >= time.Minute {
		return fmt.Sprintf("%d мин", int(d.Minutes()))
	}
	return fmt.Sprintf("%d сек", int(d.Seconds()))
}
