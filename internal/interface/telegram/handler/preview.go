// Package handler contains Telegram command handlers.
// Each handler follows the pattern: receive update → validate → call application layer → format response.
package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/medquiz-hub/medquiz-content-hub/internal/application/query"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/candidate"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
	"github.com/medquiz-hub/medquiz-content-hub/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// PREVIEW HANDLER
// Handles /preview - a sample of the published question pool of one topic.
// This is the same read surface the quiz delivery side consumes; here it
// lets the moderation team check what students actually see after a
// batch completes.
// ══════════════════════════════════════════════════════════════════════════════

// previewPageSize is the number of questions per /preview page.
const previewPageSize = 3

// PreviewHandler handles the /preview command.
type PreviewHandler struct {
	publishedQuery *query.GetPublishedQuestionsHandler
	adminRepo      admin.Repository
}

// NewPreviewHandler creates a new PreviewHandler with dependencies.
func NewPreviewHandler(
	publishedQuery *query.GetPublishedQuestionsHandler,
	adminRepo admin.Repository,
) *PreviewHandler {
	return &PreviewHandler{
		publishedQuery: publishedQuery,
		adminRepo:      adminRepo,
	}
}

// PreviewRequest contains the parsed /preview command data.
type PreviewRequest struct {
	// TelegramID is the user's Telegram ID.
	TelegramID int64

	// ChatID is the chat ID for sending responses.
	ChatID int64

	// MessageID is the original message ID (for editing).
	MessageID int64

	// Args is the raw command argument string.
	Args string
}

// PreviewResponse contains the response to send back.
type PreviewResponse struct {
	// Text is the message text (HTML formatted).
	Text string

	// Keyboard is the inline keyboard to attach.
	Keyboard *presenter.InlineKeyboard

	// ParseMode is the parse mode (HTML).
	ParseMode string

	// IsError indicates if this is an error response.
	IsError bool
}

// Handle processes the /preview command.
func (h *PreviewHandler) Handle(ctx context.Context, req PreviewRequest) (*PreviewResponse, error) {
	adm, err := h.adminRepo.GetByTelegramID(ctx, shared.TelegramID(req.TelegramID))
	if err != nil || adm == nil || !adm.IsActive {
		return &PreviewResponse{
			Text: "🔐 Предпросмотр банка вопросов доступен только команде модерации.\n\n" +
				"Если вам выдали код доступа — активируйте его через /start.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil
	}

	topicID, difficulty, page, ok := parsePreviewArgs(req.Args)
	if !ok {
		return h.handleUsage()
	}

	result, err := h.publishedQuery.Handle(ctx, query.GetPublishedQuestionsQuery{
		TopicID:    topicID,
		Difficulty: difficulty,
		Page:       page,
		PageSize:   previewPageSize,
	})
	if err != nil {
		return h.handleError(err)
	}

	return h.formatPage(topicID, difficulty, result), nil
}

// parsePreviewArgs parses "<topic-id> [easy|medium|hard] [page]".
func parsePreviewArgs(args string) (topicID int64, difficulty string, page int, ok bool) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return 0, "", 0, false
	}

	topicID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || topicID <= 0 {
		return 0, "", 0, false
	}

	page = 1
	for _, f := range fields[1:] {
		lower := strings.ToLower(f)
		if candidate.Difficulty(lower).IsValid() {
			difficulty = lower
			continue
		}
		if p, perr := strconv.Atoi(f); perr == nil && p > 0 {
			page = p
			continue
		}
		return 0, "", 0, false
	}

	return topicID, difficulty, page, true
}

// formatPage renders one page of published questions.
func (h *PreviewHandler) formatPage(topicID int64, difficulty string, result *query.GetPublishedQuestionsResult) *PreviewResponse {
	var sb strings.Builder

	sb.WriteString("📚 <b>Банк вопросов</b>\n")
	if result.TopicPath != "" {
		sb.WriteString(fmt.Sprintf("Тема: <b>%s</b>\n", escapeHTML(result.TopicPath)))
	}
	sb.WriteString(fmt.Sprintf("Опубликовано: <b>%d</b>\n\n", result.TotalCount))

	if len(result.Questions) == 0 {
		sb.WriteString("На этой странице вопросов нет.\n")
		sb.WriteString("Либо тема ещё пуста, либо номер страницы слишком велик.")
		return &PreviewResponse{Text: sb.String(), ParseMode: "HTML"}
	}

	first := (result.Page-1)*result.PageSize + 1
	for i, q := range result.Questions {
		sb.WriteString(fmt.Sprintf("<b>%d.</b> %s\n", first+i, escapeHTML(q.Text)))
		for j, opt := range q.Options {
			marker := "▫️"
			if j == q.CorrectIndex {
				marker = "✅"
			}
			sb.WriteString(fmt.Sprintf("%s %s) %s\n", marker, string(rune('A'+j)), escapeHTML(opt)))
		}
		sb.WriteString(fmt.Sprintf("<i>сложность: %s · оценка: %d</i>\n\n", q.Difficulty, q.Score))
	}

	totalPages := (result.TotalCount + result.PageSize - 1) / result.PageSize
	if result.Page < totalPages {
		next := fmt.Sprintf("/preview %d", topicID)
		if difficulty != "" {
			next += " " + difficulty
		}
		next += fmt.Sprintf(" %d", result.Page+1)
		sb.WriteString(fmt.Sprintf("Страница %d из %d · дальше: <code>%s</code>", result.Page, totalPages, next))
	}

	return &PreviewResponse{Text: sb.String(), ParseMode: "HTML"}
}

// handleUsage explains the command syntax.
func (h *PreviewHandler) handleUsage() (*PreviewResponse, error) {
	text := "📚 <b>Предпросмотр банка вопросов</b>\n\n" +
		"Использование:\n" +
		"<code>/preview &lt;id темы&gt;</code> — вопросы темы\n" +
		"<code>/preview &lt;id темы&gt; hard</code> — фильтр по сложности\n" +
		"<code>/preview &lt;id темы&gt; 2</code> — вторая страница\n\n" +
		"<i>Идентификаторы тем показывает мастер /upload.</i>"

	return &PreviewResponse{
		Text:      text,
		ParseMode: "HTML",
	}, nil
}

// handleError maps query failures to user guidance.
func (h *PreviewHandler) handleError(err error) (*PreviewResponse, error) {
	if shared.IsValidation(err) {
		return h.handleUsage()
	}
	if shared.IsNotFound(err) {
		return &PreviewResponse{
			Text:      "❌ Такой темы нет. Проверьте идентификатор в мастере /upload.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil
	}

	return &PreviewResponse{
		Text:      "❌ Не удалось загрузить вопросы. Попробуйте ещё раз через минуту.",
		ParseMode: "HTML",
		IsError:   true,
	}, nil
}
