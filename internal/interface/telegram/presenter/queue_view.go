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
// QUEUE PRESENTER
// Форматирует очередь ревью: партии без активной аренды, старые сверху.
// Каждая строка должна отвечать на вопрос "стоит ли брать эту партию
// сейчас": тема, объём работы, возраст, деградация оценки.
// ══════════════════════════════════════════════════════════════════════════════

// QueuePresenter форматирует очередь ревью для Telegram.
type QueuePresenter struct {
	keyboardBuilder *KeyboardBuilder
}

// NewQueuePresenter создаёт новый презентер очереди.
func NewQueuePresenter() *QueuePresenter {
	return &QueuePresenter{
		keyboardBuilder: NewKeyboardBuilder(),
	}
}

// QueueView содержит отформатированную страницу очереди.
type QueueView struct {
	// Text - основной текст сообщения (с HTML-разметкой).
	Text string

	// Keyboard - inline-клавиатура.
	Keyboard *InlineKeyboard

	// ParseMode - режим парсинга ("HTML").
	ParseMode string
}

// ─────────────────────────────────────────────────────────────────────────────
// QUEUE PAGE
// ─────────────────────────────────────────────────────────────────────────────

// FormatQueue форматирует страницу очереди ревью.
func (p *QueuePresenter) FormatQueue(result *query.ListReviewQueueResult) *QueueView {
	if result.TotalCount == 0 {
		return p.formatEmptyQueue()
	}

	var sb strings.Builder

	// Заголовок
	sb.WriteString(fmt.Sprintf("📋 <b>Очередь ревью</b> · %d %s\n",
		result.TotalCount,
		pluralize(result.TotalCount, "партия", "партии", "партий"),
	))
	if result.HasMore || result.Page > 1 {
		sb.WriteString(fmt.Sprintf("Страница %d\n", result.Page))
	}
	sb.WriteString("\n")

	// Партии страницы
	now := result.GeneratedAt
	for i, entry := range result.Entries {
		position := (result.Page-1)*result.PageSize + i + 1
		sb.WriteString(p.formatEntry(position, entry, now))
		sb.WriteString("\n")
	}

	sb.WriteString("\n<i>Нажмите на партию, чтобы взять её в ревью.</i>")

	return &QueueView{
		Text:      sb.String(),
		Keyboard:  p.keyboardBuilder.QueueKeyboard(result.Entries, result.Page, result.PageSize, result.HasMore),
		ParseMode: "HTML",
	}
}

// formatEntry форматирует одну строку очереди.
func (p *QueuePresenter) formatEntry(position int, entry query.ReviewQueueEntryDTO, now time.Time) string {
	var sb strings.Builder

	// Первая строка: номер, тип источника, тема
	topic := entry.TopicPath
	if topic == "" {
		topic = fmt.Sprintf("тема #%d", entry.TopicID)
	}
	sb.WriteString(fmt.Sprintf("%d. %s <b>%s</b>\n", position, sourceKindIcon(entry.SourceKind), escapeText(topic)))

	// Вторая строка: объём и возраст
	sb.WriteString(fmt.Sprintf("   ⏳ %d из %d · ждёт %s",
		entry.Pending, entry.Total, formatAge(now.Sub(entry.CreatedAt))))

	if entry.Degraded {
		sb.WriteString(" · ⚙️ эвристика")
	}
	if entry.HeldByMe {
		sb.WriteString(" · 🔒 ваша аренда")
	}
	sb.WriteString("\n")

	return sb.String()
}

// formatEmptyQueue форматирует пустую очередь.
func (p *QueuePresenter) formatEmptyQueue() *QueueView {
	var sb strings.Builder

	sb.WriteString("📭 <b>Очередь ревью пуста</b>\n\n")
	sb.WriteString("Все загруженные партии проверены.\n")
	sb.WriteString("Загрузите новый материал, чтобы пополнить банк вопросов.")

	return &QueueView{
		Text:      sb.String(),
		Keyboard:  p.keyboardBuilder.EmptyQueueKeyboard(),
		ParseMode: "HTML",
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// HELPERS
// ─────────────────────────────────────────────────────────────────────────────

// sourceKindIcon возвращает иконку типа исходного документа.
func sourceKindIcon(kind string) string {
	switch kind {
	case "pdf":
		return "📄"
	case "photo":
		return "🖼"
	case "text":
		return "📝"
	default:
		return "📦"
	}
}

// formatAge форматирует возраст партии в человекочитаемом виде.
func formatAge(age time.Duration) string {
	switch {
	case age < time.Minute:
		return "меньше минуты"
	case age < time.Hour:
		m := int(age.Minutes())
		return fmt.Sprintf("%d %s", m, pluralize(m, "минуту", "минуты", "минут"))
	case age < 48*time.Hour:
		h := int(age.Hours())
		return fmt.Sprintf("%d %s", h, pluralize(h, "час", "часа", "часов"))
	default:
		d := int(age.Hours() / 24)
		return fmt.Sprintf("%d %s", d, pluralize(d, "день", "дня", "дней"))
	}
}

// escapeText экранирует спецсимволы HTML.
func escapeText(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return replacer.Replace(s)
}

// pluralize возвращает правильную форму слова для числа.
func pluralize(n int, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	n %= 100
	if n >= 11 && n <= 14 {
		return many
	}
	switch n % 10 {
	case 1:
		return one
	case 2, 3, 4:
		return few
	default:
		return many
	}
}
