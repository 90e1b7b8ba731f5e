// Package notification содержит доменную модель уведомлений конвейера контента.
// Уведомления закрывают обратную связь: загрузчик узнаёт судьбу своей партии,
// ревьюеры получают сводки, а операторы — сигналы деградации модерации.
package notification

import (
	"errors"
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// NotificationID представляет уникальный идентификатор уведомления.
type NotificationID string

// IsValid проверяет, что ID не пустой.
func (id NotificationID) IsValid() bool {
	return len(id) > 0
}

// String возвращает строковое представление ID.
func (id NotificationID) String() string {
	return string(id)
}

// ChatID представляет ID чата в Telegram. Отрицательные значения -
// групповые чаты (операторский чат деградаций).
type ChatID int64

// IsValid проверяет, что ID чата задан.
func (id ChatID) IsValid() bool {
	return id != 0
}

// Int64 возвращает числовое представление ID чата.
func (id ChatID) Int64() int64 {
	return int64(id)
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION TYPE
// ══════════════════════════════════════════════════════════════════════════════

// NotificationType определяет тип уведомления.
type NotificationType string

const (
	// NotificationTypeBatchIngested - партия обработана и ждёт ревью.
	// "📥 Партия обработана: 12 кандидатов, 3 с пометкой"
	NotificationTypeBatchIngested NotificationType = "batch_ingested"

	// NotificationTypeIngestFailed - из документа не извлечено ни одного вопроса.
	// "⚠️ Не удалось извлечь вопросы из документа"
	NotificationTypeIngestFailed NotificationType = "ingest_failed"

	// NotificationTypeBatchCompleted - ревью партии завершено.
	// "🎉 Ревью завершено: 9 одобрено, 3 отклонено"
	NotificationTypeBatchCompleted NotificationType = "batch_completed"

	// NotificationTypeReviewerWelcome - выданы права ревьюера.
	// "🔑 Права модератора активированы"
	NotificationTypeReviewerWelcome NotificationType = "reviewer_welcome"

	// NotificationTypeModerationDegraded - оценщик недоступен, партия
	// оценена эвристикой. Уходит в операторский чат.
	// "🛠 Оценщик недоступен, партия abc123 оценена эвристикой"
	NotificationTypeModerationDegraded NotificationType = "moderation_degraded"

	// NotificationTypeReviewDigest - дневная сводка ревью.
	// "📊 За сутки: 4 партии завершены, 37 решений"
	NotificationTypeReviewDigest NotificationType = "review_digest"

	// NotificationTypeSystemAlert - системное уведомление операторам.
	// "⚙️ Плановые работы 25 декабря с 03:00 до 05:00"
	NotificationTypeSystemAlert NotificationType = "system_alert"
)

// IsValid проверяет, что тип уведомления корректен.
func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationTypeBatchIngested,
		NotificationTypeIngestFailed,
		NotificationTypeBatchCompleted,
		NotificationTypeReviewerWelcome,
		NotificationTypeModerationDegraded,
		NotificationTypeReviewDigest,
		NotificationTypeSystemAlert:
		return true
	}
	return false
}

// DefaultPriority возвращает приоритет по умолчанию для типа.
func (t NotificationType) DefaultPriority() Priority {
	switch t {
	case NotificationTypeModerationDegraded, NotificationTypeSystemAlert:
		return PriorityCritical
	case NotificationTypeIngestFailed:
		return PriorityHigh
	case NotificationTypeBatchIngested, NotificationTypeBatchCompleted, NotificationTypeReviewerWelcome:
		return PriorityNormal
	case NotificationTypeReviewDigest:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Emoji возвращает эмодзи для типа уведомления.
func (t NotificationType) Emoji() string {
	switch t {
	case NotificationTypeBatchIngested:
		return "📥"
	case NotificationTypeIngestFailed:
		return "⚠️"
	case NotificationTypeBatchCompleted:
		return "🎉"
	case NotificationTypeReviewerWelcome:
		return "🔑"
	case NotificationTypeModerationDegraded:
		return "🛠"
	case NotificationTypeReviewDigest:
		return "📊"
	case NotificationTypeSystemAlert:
		return "⚙️"
	default:
		return "📬"
	}
}

// String возвращает строковое представление типа.
func (t NotificationType) String() string {
	return string(t)
}

// ══════════════════════════════════════════════════════════════════════════════
// PRIORITY
// ══════════════════════════════════════════════════════════════════════════════

// Priority определяет приоритет доставки уведомления.
type Priority int

const (
	// PriorityLow - информационные уведомления, можно группировать.
	PriorityLow Priority = 1

	// PriorityNormal - обычные уведомления.
	PriorityNormal Priority = 2

	// PriorityHigh - важные уведомления, отправлять сразу.
	PriorityHigh Priority = 3

	// PriorityCritical - критические уведомления операторам.
	PriorityCritical Priority = 4
)

// IsValid проверяет корректность приоритета.
func (p Priority) IsValid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// String возвращает строковое представление приоритета.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ShouldSendImmediately возвращает true для приоритетов, требующих
// немедленной отправки.
func (p Priority) ShouldSendImmediately() bool {
	return p >= PriorityHigh
}

// CanBeBatched возвращает true, если уведомление можно группировать.
func (p Priority) CanBeBatched() bool {
	return p <= PriorityNormal
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// NotificationStatus определяет статус доставки уведомления.
type NotificationStatus string

const (
	// StatusPending - уведомление создано, ждёт отправки.
	StatusPending NotificationStatus = "pending"

	// StatusSending - отправляется прямо сейчас.
	StatusSending NotificationStatus = "sending"

	// StatusDelivered - доставлено получателю.
	StatusDelivered NotificationStatus = "delivered"

	// StatusFailed - отправка не удалась.
	StatusFailed NotificationStatus = "failed"

	// StatusSkipped - отправка пропущена (получатель заблокировал бота).
	StatusSkipped NotificationStatus = "skipped"
)

// IsValid проверяет корректность статуса.
func (s NotificationStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusSending, StatusDelivered, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// IsFinal возвращает true для терминальных статусов.
func (s NotificationStatus) IsFinal() bool {
	return s == StatusDelivered || s == StatusSkipped
}

// IsSuccess возвращает true, если уведомление доставлено.
func (s NotificationStatus) IsSuccess() bool {
	return s == StatusDelivered
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Notification представляет уведомление, отправляемое в Telegram-чат.
type Notification struct {
	// ID - уникальный идентификатор уведомления.
	ID NotificationID

	// Type - тип уведомления.
	Type NotificationType

	// ChatID - ID чата для отправки.
	ChatID ChatID

	// Priority - приоритет уведомления.
	Priority Priority

	// Status - текущий статус доставки.
	Status NotificationStatus

	// Message - текст уведомления.
	Message string

	// Data - типизированные данные для форматирования.
	Data NotificationData

	// SentAt - фактическое время отправки.
	SentAt *time.Time

	// DeliveredAt - время доставки.
	DeliveredAt *time.Time

	// RetryCount - количество попыток отправки.
	RetryCount int

	// MaxRetries - максимальное количество попыток.
	MaxRetries int

	// LastError - последняя ошибка доставки.
	LastError string

	// Metadata - произвольные метаданные.
	Metadata map[string]string

	// CreatedAt - время создания.
	CreatedAt time.Time

	// UpdatedAt - время последнего обновления.
	UpdatedAt time.Time
}

// NotificationData содержит типизированные данные для разных типов уведомлений.
type NotificationData struct {
	// Batch-related
	BatchID      string `json:"batch_id,omitempty"`
	TopicPath    string `json:"topic_path,omitempty"`
	Total        int    `json:"total,omitempty"`
	Flagged      int    `json:"flagged,omitempty"`
	AutoRejected int    `json:"auto_rejected,omitempty"`
	Approved     int    `json:"approved,omitempty"`
	Rejected     int    `json:"rejected,omitempty"`
	Degraded     bool   `json:"degraded,omitempty"`
	Reason       string `json:"reason,omitempty"`

	// Digest-related
	BatchesCompleted int        `json:"batches_completed,omitempty"`
	DecisionsTotal   int        `json:"decisions_total,omitempty"`
	PeriodStart      *time.Time `json:"period_start,omitempty"`
	PeriodEnd        *time.Time `json:"period_end,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY & VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// NewNotificationParams содержит параметры для создания уведомления.
type NewNotificationParams struct {
	ID         NotificationID
	Type       NotificationType
	ChatID     ChatID
	Message    string
	Data       NotificationData
	Priority   *Priority
	MaxRetries int
}

// NewNotification создаёт новое уведомление с валидацией.
func NewNotification(params NewNotificationParams) (*Notification, error) {
	if !params.ID.IsValid() {
		return nil, ErrInvalidNotificationID
	}

	if !params.Type.IsValid() {
		return nil, ErrInvalidNotificationType
	}

	if !params.ChatID.IsValid() {
		return nil, ErrInvalidChatID
	}

	if params.Message == "" {
		return nil, ErrEmptyMessage
	}

	priority := params.Type.DefaultPriority()
	if params.Priority != nil && params.Priority.IsValid() {
		priority = *params.Priority
	}

	maxRetries := 3
	if params.MaxRetries > 0 {
		maxRetries = params.MaxRetries
	}

	now := time.Now().UTC()

	return &Notification{
		ID:         params.ID,
		Type:       params.Type,
		ChatID:     params.ChatID,
		Priority:   priority,
		Status:     StatusPending,
		Message:    params.Message,
		Data:       params.Data,
		RetryCount: 0,
		MaxRetries: maxRetries,
		Metadata:   make(map[string]string),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN METHODS
// ══════════════════════════════════════════════════════════════════════════════

// MarkSending переводит уведомление в статус "отправляется".
func (n *Notification) MarkSending() error {
	if n.Status != StatusPending && n.Status != StatusFailed {
		return ErrInvalidStatusTransition
	}
	n.Status = StatusSending
	now := time.Now().UTC()
	n.SentAt = &now
	n.UpdatedAt = now
	return nil
}

// MarkDelivered помечает уведомление как доставленное.
func (n *Notification) MarkDelivered() error {
	if n.Status != StatusSending {
		return ErrInvalidStatusTransition
	}
	n.Status = StatusDelivered
	now := time.Now().UTC()
	n.DeliveredAt = &now
	n.UpdatedAt = now
	return nil
}

// MarkFailed помечает уведомление как неудачное и увеличивает счётчик попыток.
func (n *Notification) MarkFailed(err string) error {
	if n.Status != StatusSending {
		return ErrInvalidStatusTransition
	}
	n.Status = StatusFailed
	n.LastError = err
	n.RetryCount++
	n.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSkipped помечает уведомление как пропущенное.
// Пропуск не ошибка: получатель заблокировал бота или чат исчез.
func (n *Notification) MarkSkipped(reason string) error {
	if n.Status.IsFinal() {
		return ErrInvalidStatusTransition
	}
	n.Status = StatusSkipped
	n.LastError = reason
	n.UpdatedAt = time.Now().UTC()
	return nil
}

// CanRetry возвращает true, если отправку можно повторить.
func (n *Notification) CanRetry() bool {
	return n.Status == StatusFailed && n.RetryCount < n.MaxRetries
}

// SetMetadata устанавливает метаданные уведомления.
func (n *Notification) SetMetadata(key, value string) {
	if n.Metadata == nil {
		n.Metadata = make(map[string]string)
	}
	n.Metadata[key] = value
}

// GetMetadata возвращает значение метаданных по ключу.
func (n *Notification) GetMetadata(key string) (string, bool) {
	if n.Metadata == nil {
		return "", false
	}
	v, ok := n.Metadata[key]
	return v, ok
}

// String возвращает строковое представление для логов.
func (n *Notification) String() string {
	return fmt.Sprintf("Notification{%s, type=%s, chat=%d, status=%s}",
		n.ID, n.Type, n.ChatID, n.Status)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidNotificationID - некорректный ID уведомления.
	ErrInvalidNotificationID = errors.New("invalid notification ID")

	// ErrInvalidNotificationType - некорректный тип уведомления.
	ErrInvalidNotificationType = errors.New("invalid notification type")

	// ErrInvalidChatID - некорректный ID чата.
	ErrInvalidChatID = errors.New("invalid chat ID")

	// ErrEmptyMessage - пустой текст уведомления.
	ErrEmptyMessage = errors.New("notification message cannot be empty")

	// ErrInvalidStatusTransition - недопустимый переход статуса.
	ErrInvalidStatusTransition = errors.New("invalid notification status transition")
)
