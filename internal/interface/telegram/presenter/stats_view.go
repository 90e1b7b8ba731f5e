// Package presenter formats data for Telegram display.
// Presenters handle the conversion from domain objects to user-friendly
// Telegram messages, keyboards, and other UI elements.
package presenter

import (
	"fmt"
	"strings"

	"github.com/medquiz-hub/medquiz-content-hub/internal/application/query"
	"github.com/medquiz-hub/medquiz-content-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS PRESENTER
// Форматирует статистику загрузчиков и журнал аудита. Статистика мотивирует
// авторов: сколько вопросов дошло до банка и какая доля прошла ревью.
// ══════════════════════════════════════════════════════════════════════════════

// StatsPresenter форматирует статистику и журнал аудита для Telegram.
type StatsPresenter struct {
	keyboardBuilder *KeyboardBuilder
}

// NewStatsPresenter создаёт новый презентер статистики.
func NewStatsPresenter() *StatsPresenter {
	return &StatsPresenter{
		keyboardBuilder: NewKeyboardBuilder(),
	}
}

// StatsView содержит отформатированную статистику.
type StatsView struct {
	// Text - основной текст сообщения (с HTML-разметкой).
	Text string

	// Keyboard - inline-клавиатура.
	Keyboard *InlineKeyboard

	// ParseMode - режим парсинга ("HTML").
	ParseMode string
}

// ─────────────────────────────────────────────────────────────────────────────
// PERSONAL STATS
// ─────────────────────────────────────────────────────────────────────────────

// FormatPersonalStats форматирует персональную статистику загрузчика.
func (p *StatsPresenter) FormatPersonalStats(displayName string, result *query.GetContributorStatsResult) *StatsView {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("📊 <b>Статистика: %s</b>\n\n", escapeText(displayName)))

	if result.Personal == nil || result.Personal.Submitted == 0 {
		sb.WriteString("Вы ещё не загружали материалы.\n")
		sb.WriteString("Команда /upload превратит конспект в вопросы для банка.")
		return &StatsView{
			Text:      sb.String(),
			Keyboard:  p.keyboardBuilder.StatsKeyboard(true),
			ParseMode: "HTML",
		}
	}

	dto := result.Personal

	// Кандидаты
	sb.WriteString("<b>Вопросы</b>\n")
	sb.WriteString(fmt.Sprintf("Извлечено: <b>%d</b>\n", dto.Submitted))
	sb.WriteString(fmt.Sprintf("✅ Одобрено: <b>%d</b>\n", dto.Approved))
	sb.WriteString(fmt.Sprintf("❌ Отклонено: <b>%d</b>\n", dto.Rejected))
	if dto.Pending > 0 {
		sb.WriteString(fmt.Sprintf("⏳ Ждут решения: <b>%d</b>\n", dto.Pending))
	}
	sb.WriteString(fmt.Sprintf("Доля одобрения: <b>%.0f%%</b>\n", dto.ApprovalRate*100))

	// Партии по статусам
	if len(result.BatchesByStatus) > 0 {
		sb.WriteString("\n<b>Партии</b>\n")
		for _, status := range []string{"in_review", "locked", "draft", "completed", "abandoned"} {
			if count, ok := result.BatchesByStatus[status]; ok && count > 0 {
				sb.WriteString(fmt.Sprintf("%s: %d\n", batchStatusLabel(status), count))
			}
		}
	}

	if result.FromCache {
		sb.WriteString(fmt.Sprintf("\n<i>Данные на %s</i>", timeutil.FormatTimeStr(result.GeneratedAt)))
	}

	return &StatsView{
		Text:      sb.String(),
		Keyboard:  p.keyboardBuilder.StatsKeyboard(true),
		ParseMode: "HTML",
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// TOP CONTRIBUTORS
// ─────────────────────────────────────────────────────────────────────────────

// FormatTopContributors форматирует топ загрузчиков по одобренным вопросам.
func (p *StatsPresenter) FormatTopContributors(result *query.GetContributorStatsResult, requesterID int64) *StatsView {
	var sb strings.Builder

	sb.WriteString("🏆 <b>Топ авторов вопросов</b>\n\n")

	if len(result.Top) == 0 {
		sb.WriteString("Пока никто не загружал материалы.\n")
		sb.WriteString("Станьте первым: /upload")
	} else {
		for _, dto := range result.Top {
			marker := rankEmoji(dto.Rank)
			line := fmt.Sprintf("%s <b>%d</b> одобрено · %.0f%% · id %d",
				marker, dto.Approved, dto.ApprovalRate*100, dto.UploaderID)
			if dto.UploaderID == requesterID {
				line += " ← вы"
			}
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	if result.FromCache {
		sb.WriteString(fmt.Sprintf("\n<i>Данные на %s</i>", timeutil.FormatTimeStr(result.GeneratedAt)))
	}

	return &StatsView{
		Text:      sb.String(),
		Keyboard:  p.keyboardBuilder.StatsKeyboard(false),
		ParseMode: "HTML",
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// AUDIT TRAIL
// ─────────────────────────────────────────────────────────────────────────────

// FormatAuditTrail форматирует страницу журнала аудита.
func (p *StatsPresenter) FormatAuditTrail(
	targetKind, targetID string,
	offset, limit int,
	result *query.GetAuditTrailResult,
) *StatsView {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("📜 <b>Журнал аудита</b> · %s\n", auditTargetLabel(targetKind, targetID)))
	sb.WriteString(fmt.Sprintf("Записей: %d\n\n", result.TotalCount))

	if len(result.Entries) == 0 {
		sb.WriteString("<i>Записей за выбранный период нет.</i>")
	}

	for _, entry := range result.Entries {
		sb.WriteString(p.formatAuditEntry(entry))
		sb.WriteString("\n")
	}

	hasMore := offset+len(result.Entries) < result.TotalCount
	keyboard := p.keyboardBuilder.AuditPageKeyboard(targetKind, targetID, offset, limit, hasMore)

	return &StatsView{
		Text:      sb.String(),
		Keyboard:  keyboard,
		ParseMode: "HTML",
	}
}

// formatAuditEntry форматирует одну запись журнала.
func (p *StatsPresenter) formatAuditEntry(entry query.AuditEntryDTO) string {
	var sb strings.Builder

	// Время и актор. Время показываем найробийское, а не серверное.
	actor := fmt.Sprintf("id %d (%s)", entry.ActorID, entry.ActorRole)
	if entry.IsSystem {
		actor = "⚙️ система"
	}
	sb.WriteString(fmt.Sprintf("<b>%s</b> · %s\n", timeutil.FormatNairobi(entry.CreatedAt, "02.01 15:04"), actor))

	// Действие и изменение
	sb.WriteString(fmt.Sprintf("  %s", escapeText(entry.Action)))
	if entry.Field != "" {
		sb.WriteString(fmt.Sprintf(": %s", escapeText(entry.Field)))
		if entry.OldValue != "" || entry.NewValue != "" {
			sb.WriteString(fmt.Sprintf(" <i>%s → %s</i>",
				escapeText(shortValue(entry.OldValue)),
				escapeText(shortValue(entry.NewValue))))
		}
	}
	sb.WriteString("\n")

	return sb.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// HELPERS
// ─────────────────────────────────────────────────────────────────────────────

// rankEmoji возвращает маркер позиции в топе.
func rankEmoji(rank int) string {
	switch rank {
	case 1:
		return "🥇"
	case 2:
		return "🥈"
	case 3:
		return "🥉"
	default:
		return fmt.Sprintf("%d.", rank)
	}
}

// batchStatusLabel возвращает человекочитаемое название статуса партии.
func batchStatusLabel(status string) string {
	switch status {
	case "draft":
		return "📝 Черновики"
	case "locked":
		return "🔒 В ревью (аренда)"
	case "in_review":
		return "👀 В очереди"
	case "completed":
		return "✅ Завершены"
	case "abandoned":
		return "🗑 Закрыты"
	default:
		return status
	}
}

// auditTargetLabel возвращает подпись цели журнала.
func auditTargetLabel(kind, id string) string {
	switch kind {
	case "batch":
		return "партия " + shortID(id)
	case "candidate":
		return "вопрос " + shortID(id)
	case "admin":
		return "администратор " + id
	case "actor":
		return "действия id " + id
	default:
		return kind + " " + id
	}
}

// shortID возвращает первый сегмент UUID для компактного отображения.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// shortValue усекает длинные значения полей журнала.
func shortValue(v string) string {
	const maxLen = 32
	runes := []rune(v)
	if len(runes) <= maxLen {
		return v
	}
	return string(runes[:maxLen-1]) + "…"
}
