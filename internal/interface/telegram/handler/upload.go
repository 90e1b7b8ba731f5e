// Package handler contains Telegram command handlers.
// Each handler follows the pattern: receive update → validate → call application layer → format response.
package handler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/application/command"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/curriculum"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
	"github.com/medquiz-hub/medquiz-content-hub/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPLOAD HANDLER
// Handles /upload - the three step upload conversation:
//   1. pick a unit   2. pick a topic   3. send the material
// The conversation state lives in memory per admin. A session that sits
// idle longer than the TTL is dropped; the admin just starts over with
// /upload, nothing is persisted until the material is submitted.
// ══════════════════════════════════════════════════════════════════════════════

// FileFetcher downloads a Telegram file by its file id.
// Implemented by the Telegram client.
type FileFetcher interface {
	FetchDocument(ctx context.Context, fileID string) ([]byte, error)
}

// UploadConfig contains upload flow settings.
type UploadConfig struct {
	// CourseID is the course whose units are offered in the picker.
	CourseID int64

	// MaxUploadBytes caps the size of an accepted document.
	MaxUploadBytes int64

	// SessionTTL is how long an idle upload conversation survives.
	SessionTTL time.Duration
}

// DefaultUploadConfig returns the default upload configuration.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		CourseID:       1,
		MaxUploadBytes: 10 * 1024 * 1024,
		SessionTTL:     30 * time.Minute,
	}
}

// UploadHandler handles the /upload command and its conversation steps.
type UploadHandler struct {
	submitHandler *command.SubmitBatchHandler
	curriculum    curriculum.Repository
	files         FileFetcher
	keyboards     *presenter.KeyboardBuilder
	config        UploadConfig
	sessions      *uploadSessions
}

// NewUploadHandler creates a new UploadHandler with dependencies.
func NewUploadHandler(
	submitHandler *command.SubmitBatchHandler,
	curriculumRepo curriculum.Repository,
	files FileFetcher,
	keyboards *presenter.KeyboardBuilder,
	config UploadConfig,
) *UploadHandler {
	if config.CourseID <= 0 {
		config.CourseID = DefaultUploadConfig().CourseID
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultUploadConfig().MaxUploadBytes
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultUploadConfig().SessionTTL
	}

	return &UploadHandler{
		submitHandler: submitHandler,
		curriculum:    curriculumRepo,
		files:         files,
		keyboards:     keyboards,
		config:        config,
		sessions:      newUploadSessions(config.SessionTTL),
	}
}

// UploadRequest contains the parsed /upload command data.
type UploadRequest struct {
	// TelegramID is the user's Telegram ID.
	TelegramID int64

	// ChatID is the chat ID for sending responses.
	ChatID int64

	// MessageID is the original message ID (for editing).
	MessageID int64
}

// UploadResponse contains the response to send back.
type UploadResponse struct {
	// Text is the message text (HTML formatted).
	Text string

	// Keyboard is the inline keyboard to attach.
	Keyboard *presenter.InlineKeyboard

	// ParseMode is the parse mode (HTML).
	ParseMode string

	// IsError indicates if this is an error response.
	IsError bool
}

// DocumentInput describes an uploaded Telegram document.
type DocumentInput struct {
	// FileID is the Telegram file id used for download.
	FileID string

	// FileName is the original filename, if any.
	FileName string

	// MimeType is the MIME type reported by Telegram.
	MimeType string

	// FileSize is the document size in bytes.
	FileSize int64
}

// InFlight reports whether the admin has an active upload conversation.
// The router uses it to decide where documents and plain text go.
func (h *UploadHandler) InFlight(telegramID int64) bool {
	_, ok := h.sessions.get(telegramID)
	return ok
}

// Handle processes the /upload command: step 1, the unit picker.
func (h *UploadHandler) Handle(ctx context.Context, req UploadRequest) (*UploadResponse, error) {
	units, err := h.curriculum.ListUnits(ctx, h.config.CourseID)
	if err != nil {
		return h.handleCurriculumError(err)
	}
	if len(units) == 0 {
		return &UploadResponse{
			Text: "📚 Каталог тем пока пуст.\n\n" +
				"Обратитесь к администратору курса, чтобы наполнить учебный план.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil
	}

	h.sessions.put(req.TelegramID, &uploadSession{Stage: stageUnit})

	text := "📤 <b>Загрузка материала</b>\n\n" +
		"Шаг 1 из 3 · Выберите юнит:"

	return &UploadResponse{
		Text:      text,
		Keyboard:  h.keyboards.UnitPickerKeyboard(units),
		ParseMode: "HTML",
	}, nil
}

// HandleUnitSelected processes the unit pick: step 2, the topic picker.
func (h *UploadHandler) HandleUnitSelected(ctx context.Context, req UploadRequest, unitID int64) (*UploadResponse, error) {
	topics, err := h.curriculum.ListTopics(ctx, unitID)
	if err != nil {
		return h.handleCurriculumError(err)
	}
	if len(topics) == 0 {
		return &UploadResponse{
			Text: "📚 В этом юните пока нет тем.\n\n" +
				"Выберите другой юнит.",
			Keyboard:  h.keyboards.AwaitingDocumentKeyboard(),
			ParseMode: "HTML",
			IsError:   true,
		}, nil
	}

	h.sessions.put(req.TelegramID, &uploadSession{
		Stage:  stageTopic,
		UnitID: unitID,
	})

	text := "📤 <b>Загрузка материала</b>\n\n" +
		"Шаг 2 из 3 · Выберите тему:"

	return &UploadResponse{
		Text:      text,
		Keyboard:  h.keyboards.TopicPickerKeyboard(topics),
		ParseMode: "HTML",
	}, nil
}

// HandleBackToUnits returns the conversation to the unit picker.
func (h *UploadHandler) HandleBackToUnits(ctx context.Context, req UploadRequest) (*UploadResponse, error) {
	return h.Handle(ctx, req)
}

// HandleTopicSelected processes the topic pick: step 3, awaiting material.
func (h *UploadHandler) HandleTopicSelected(ctx context.Context, req UploadRequest, topicID int64) (*UploadResponse, error) {
	path, err := h.curriculum.GetTopicPath(ctx, shared.TopicID(topicID))
	if err != nil {
		return h.handleCurriculumError(err)
	}

	session, ok := h.sessions.get(req.TelegramID)
	if !ok {
		session = &uploadSession{}
	}
	session.Stage = stageMaterial
	session.TopicID = topicID
	session.TopicLabel = path.String()
	h.sessions.put(req.TelegramID, session)

	maxMB := h.config.MaxUploadBytes / (1024 * 1024)

	text := fmt.Sprintf(
		"📤 <b>Загрузка материала</b>\n\n"+
			"Тема: <b>%s</b>\n\n"+
			"Шаг 3 из 3 · Отправьте материал с вопросами:\n"+
			"• 📄 PDF-файл (до %d МБ)\n"+
			"• 🖼 Фото конспекта или страницы\n"+
			"• 📝 Текст сообщением\n\n"+
			"<i>Каждый вопрос: формулировка, четыре варианта A–D "+
			"и отметка правильного ответа.</i>",
		escapeHTML(path.String()), maxMB,
	)

	return &UploadResponse{
		Text:      text,
		Keyboard:  h.keyboards.AwaitingDocumentKeyboard(),
		ParseMode: "HTML",
	}, nil
}

// HandleCancel aborts the upload conversation.
func (h *UploadHandler) HandleCancel(req UploadRequest) (*UploadResponse, error) {
	h.sessions.delete(req.TelegramID)

	return &UploadResponse{
		Text:      "Загрузка отменена. Материал не сохранён.",
		ParseMode: "HTML",
	}, nil
}

// HandleDocument processes an uploaded document (PDF or image file).
func (h *UploadHandler) HandleDocument(ctx context.Context, req UploadRequest, doc DocumentInput) (*UploadResponse, error) {
	session, ok := h.sessions.get(req.TelegramID)
	if !ok || session.Stage != stageMaterial {
		return h.handleNoSession()
	}

	kind, ok := documentKind(doc.MimeType, doc.FileName)
	if !ok {
		return &UploadResponse{
			Text: "❌ <b>Неподдерживаемый формат</b>\n\n" +
				"Принимаются PDF-файлы и изображения (JPG, PNG).\n" +
				"Текст можно отправить обычным сообщением.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil
	}

	if doc.FileSize > h.config.MaxUploadBytes {
		return &UploadResponse{
			Text: fmt.Sprintf(
				"❌ <b>Файл слишком большой</b>\n\n"+
					"Лимит: %d МБ. Разбейте документ на части "+
					"или отправьте нужные страницы фотографиями.",
				h.config.MaxUploadBytes/(1024*1024),
			),
			ParseMode: "HTML",
			IsError:   true,
		}, nil
	}

	content, err := h.files.FetchDocument(ctx, doc.FileID)
	if err != nil {
		return &UploadResponse{
			Text: "❌ <b>Не удалось скачать файл</b>\n\n" +
				"Попробуйте отправить его ещё раз.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil
	}

	return h.submit(ctx, req, session, command.SubmitBatchCommand{
		UploaderID: req.TelegramID,
		TopicID:    session.TopicID,
		Kind:       string(kind),
		Content:    content,
		Filename:   doc.FileName,
		SourceRef:  doc.FileID,
	})
}

// HandlePhoto processes an uploaded photo.
func (h *UploadHandler) HandlePhoto(ctx context.Context, req UploadRequest, fileID string, fileSize int64) (*UploadResponse, error) {
	return h.HandleDocument(ctx, req, DocumentInput{
		FileID:   fileID,
		MimeType: "image/jpeg",
		FileSize: fileSize,
	})
}

// HandleText processes a plain text message inside the conversation.
func (h *UploadHandler) HandleText(ctx context.Context, req UploadRequest, text string) (*UploadResponse, error) {
	session, ok := h.sessions.get(req.TelegramID)
	if !ok {
		return h.handleNoSession()
	}

	if session.Stage != stageMaterial {
		return &UploadResponse{
			Text: "Сначала выберите тему кнопками выше.\n\n" +
				"Передумали — нажмите «Отмена» или отправьте /upload заново.",
			ParseMode: "HTML",
		}, nil
	}

	if strings.TrimSpace(text) == "" {
		return h.handleNoSession()
	}

	return h.submit(ctx, req, session, command.SubmitBatchCommand{
		UploaderID: req.TelegramID,
		TopicID:    session.TopicID,
		Kind:       string(batch.SourceText),
		Text:       text,
	})
}

// submit runs the ingest and formats the outcome.
func (h *UploadHandler) submit(ctx context.Context, req UploadRequest, session *uploadSession, cmd command.SubmitBatchCommand) (*UploadResponse, error) {
	result, err := h.submitHandler.Handle(ctx, cmd)
	if err != nil {
		if shared.IsNotOwner(err) || shared.IsValidation(err) {
			return &UploadResponse{
				Text: "❌ <b>Загрузка отклонена</b>\n\n" +
					"У вас нет прав на загрузку материала. " +
					"Обратитесь к администратору курса.",
				ParseMode: "HTML",
				IsError:   true,
			}, nil
		}
		return &UploadResponse{
			Text: "❌ <b>Не удалось обработать материал</b>\n\n" +
				"Попробуйте ещё раз через минуту. " +
				"Если ошибка повторяется, сообщите администратору курса.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil
	}

	if result.Queued {
		// Deferred mode: recognition and scoring run in the background,
		// the detailed summary arrives as a separate notification.
		h.sessions.delete(req.TelegramID)
		return h.formatQueued(session), nil
	}

	if result.IngestFailed {
		// The session stays alive so the admin can retry the material
		// for the same topic without starting over.
		return h.formatIngestFailed(session), nil
	}

	h.sessions.delete(req.TelegramID)

	return h.formatSummary(session, result), nil
}

// formatQueued confirms an upload whose ingest was deferred.
func (h *UploadHandler) formatQueued(session *uploadSession) *UploadResponse {
	var sb strings.Builder

	sb.WriteString("📬 <b>Материал принят</b>\n\n")
	sb.WriteString(fmt.Sprintf("Тема: <b>%s</b>\n\n", escapeHTML(session.TopicLabel)))
	sb.WriteString("Распознавание и оценка идут в фоне. Сводка по партии ")
	sb.WriteString("придёт отдельным сообщением, когда обработка закончится.")

	return &UploadResponse{
		Text:      sb.String(),
		ParseMode: "HTML",
	}
}

// handleNoSession points the admin back to /upload.
func (h *UploadHandler) handleNoSession() (*UploadResponse, error) {
	return &UploadResponse{
		Text: "📤 Чтобы загрузить материал, начните с команды /upload:\n" +
			"бот попросит выбрать тему, а затем примет файл или текст.",
		ParseMode: "HTML",
	}, nil
}

// handleCurriculumError handles catalog read failures.
func (h *UploadHandler) handleCurriculumError(err error) (*UploadResponse, error) {
	if shared.IsNotFound(err) {
		return &UploadResponse{
			Text:      "❌ Эта тема больше не существует. Отправьте /upload и выберите заново.",
			ParseMode: "HTML",
			IsError:   true,
		}, nil
	}

	return &UploadResponse{
		Text:      "❌ Не удалось загрузить каталог тем. Попробуйте ещё раз через минуту.",
		ParseMode: "HTML",
		IsError:   true,
	}, nil
}

// formatIngestFailed explains an upload that produced no questions.
func (h *UploadHandler) formatIngestFailed(session *uploadSession) *UploadResponse {
	var sb strings.Builder

	sb.WriteString("😕 <b>Не удалось извлечь ни одного вопроса</b>\n\n")
	sb.WriteString("Материал принят, но разборщик не нашёл в нём вопросов ")
	sb.WriteString("в ожидаемом формате.\n\n")
	sb.WriteString("<b>Как оформить вопрос:</b>\n")
	sb.WriteString("<code>1. Какой сосуд несёт кровь от сердца?\n")
	sb.WriteString("A) Аорта\n")
	sb.WriteString("B) Верхняя полая вена\n")
	sb.WriteString("C) Лёгочная вена\n")
	sb.WriteString("D) Воротная вена\n")
	sb.WriteString("Ответ: A</code>\n\n")
	sb.WriteString(fmt.Sprintf("Тема осталась выбранной: <b>%s</b>\n", escapeHTML(session.TopicLabel)))
	sb.WriteString("Поправьте материал и отправьте его ещё раз.")

	return &UploadResponse{
		Text:      sb.String(),
		Keyboard:  h.keyboards.AwaitingDocumentKeyboard(),
		ParseMode: "HTML",
		IsError:   true,
	}
}

// formatSummary builds the ingest summary message.
func (h *UploadHandler) formatSummary(session *uploadSession, result *command.SubmitBatchResult) *UploadResponse {
	var sb strings.Builder

	sb.WriteString("📦 <b>Партия создана</b>\n\n")
	sb.WriteString(fmt.Sprintf("Тема: <b>%s</b>\n\n", escapeHTML(session.TopicLabel)))

	sb.WriteString(fmt.Sprintf("Извлечено вопросов: <b>%d</b>\n", result.Total))
	if result.Pending > 0 {
		sb.WriteString(fmt.Sprintf("⏳ Ждут ревью: %d\n", result.Pending))
	}
	if result.Flagged > 0 {
		sb.WriteString(fmt.Sprintf("⚠️ Из них требуют проверки: %d\n", result.Flagged))
	}
	if result.AutoRejected > 0 {
		sb.WriteString(fmt.Sprintf("❌ Отклонено автоматически: %d\n", result.AutoRejected))
	}
	if result.Malformed > 0 {
		sb.WriteString(fmt.Sprintf("🧩 Не разобрано блоков: %d\n", result.Malformed))
	}

	if result.Truncated {
		sb.WriteString("\n✂️ <i>В документе оказалось больше вопросов, чем помещается " +
			"в одну партию. Хвост пропущен — загрузите его отдельно.</i>\n")
	}
	if result.Degraded {
		sb.WriteString("\n⚙️ <i>Внешний оценщик был недоступен, часть вопросов оценена " +
			"эвристикой. Отнеситесь к отметкам с осторожностью.</i>\n")
	}

	if result.Completed {
		sb.WriteString("\n🏁 Все вопросы отклонены автоматически, партия завершена без ревью.\n")
		sb.WriteString("Проверьте формат материала и качество вариантов ответа.")
	} else {
		sb.WriteString("\nПартия добавлена в очередь ревью.")
	}

	return &UploadResponse{
		Text:      sb.String(),
		Keyboard:  h.keyboards.UploadDoneKeyboard(result.BatchID, result.Pending),
		ParseMode: "HTML",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CONVERSATION STATE
// ══════════════════════════════════════════════════════════════════════════════

// uploadStage is the step the conversation is at.
type uploadStage int

const (
	stageUnit uploadStage = iota + 1
	stageTopic
	stageMaterial
)

// uploadSession is the per-admin conversation state.
type uploadSession struct {
	Stage      uploadStage
	UnitID     int64
	TopicID    int64
	TopicLabel string
	UpdatedAt  time.Time
}

// uploadSessions is an in-memory session store with TTL expiry.
type uploadSessions struct {
	mu      sync.RWMutex
	entries map[int64]*uploadSession
	ttl     time.Duration
}

func newUploadSessions(ttl time.Duration) *uploadSessions {
	s := &uploadSessions{
		entries: make(map[int64]*uploadSession),
		ttl:     ttl,
	}
	go s.cleanupLoop()
	return s
}

// get returns the session if it exists and has not expired.
func (s *uploadSessions) get(telegramID int64) (*uploadSession, bool) {
	s.mu.RLock()
	session, ok := s.entries[telegramID]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Since(session.UpdatedAt) > s.ttl {
		s.delete(telegramID)
		return nil, false
	}

	return session, true
}

// put stores the session and refreshes its timestamp.
func (s *uploadSessions) put(telegramID int64, session *uploadSession) {
	session.UpdatedAt = time.Now()

	s.mu.Lock()
	s.entries[telegramID] = session
	s.mu.Unlock()
}

// delete removes the session.
func (s *uploadSessions) delete(telegramID int64) {
	s.mu.Lock()
	delete(s.entries, telegramID)
	s.mu.Unlock()
}

// cleanupLoop periodically drops expired sessions.
func (s *uploadSessions) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()

		s.mu.Lock()
		for id, session := range s.entries {
			if now.Sub(session.UpdatedAt) > s.ttl {
				delete(s.entries, id)
			}
		}
		s.mu.Unlock()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

// documentKind maps a Telegram document to a batch source kind.
func documentKind(mimeType, filename string) (batch.SourceKind, bool) {
	lowerName := strings.ToLower(filename)

	switch {
	case mimeType == "application/pdf" || strings.HasSuffix(lowerName, ".pdf"):
		return batch.SourcePDF, true
	case strings.HasPrefix(mimeType, "image/"),
		strings.HasSuffix(lowerName, ".jpg"),
		strings.HasSuffix(lowerName, ".jpeg"),
		strings.HasSuffix(lowerName, ".png"):
		return batch.SourcePhoto, true
	default:
		return "", false
	}
}
