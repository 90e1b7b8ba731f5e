package notification

import (
	"context"
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// DELIVERY RESULT
// ══════════════════════════════════════════════════════════════════════════════

// DeliveryResult представляет результат доставки уведомления.
type DeliveryResult struct {
	// Success - успешно ли доставлено.
	Success bool

	// MessageID - ID отправленного сообщения в Telegram.
	MessageID string

	// DeliveredAt - время доставки.
	DeliveredAt time.Time

	// Error - ошибка доставки (если Success = false).
	Error error

	// ErrorCode - код ошибки (если есть).
	ErrorCode string

	// Retryable - можно ли повторить отправку.
	Retryable bool

	// RetryAfter - через сколько можно повторить (для rate limiting).
	RetryAfter time.Duration
}

// NewSuccessResult создаёт результат успешной доставки.
func NewSuccessResult(messageID string) DeliveryResult {
	return DeliveryResult{
		Success:     true,
		MessageID:   messageID,
		DeliveredAt: time.Now().UTC(),
	}
}

// NewFailureResult создаёт результат неудачной доставки.
func NewFailureResult(err error, retryable bool) DeliveryResult {
	return DeliveryResult{
		Success:     false,
		DeliveredAt: time.Now().UTC(),
		Error:       err,
		Retryable:   retryable,
	}
}

// NewRateLimitedResult создаёт результат с rate limiting.
func NewRateLimitedResult(retryAfter time.Duration) DeliveryResult {
	return DeliveryResult{
		Success:     false,
		DeliveredAt: time.Now().UTC(),
		Error:       ErrRateLimited,
		ErrorCode:   "RATE_LIMITED",
		Retryable:   true,
		RetryAfter:  retryAfter,
	}
}

// NewSkippedResult создаёт результат пропуска: получатель недоступен
// навсегда (заблокировал бота, чат удалён), повторять бессмысленно.
func NewSkippedResult(err error) DeliveryResult {
	return DeliveryResult{
		Success:     false,
		DeliveredAt: time.Now().UTC(),
		Error:       err,
		ErrorCode:   "RECIPIENT_GONE",
		Retryable:   false,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DELIVERY OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// DeliveryOptions содержит опции для отправки уведомления.
type DeliveryOptions struct {
	// ParseMode - режим парсинга сообщения (HTML, Markdown, MarkdownV2).
	ParseMode string

	// DisableNotification - отправить беззвучно.
	DisableNotification bool

	// DisableWebPagePreview - не показывать превью ссылок.
	DisableWebPagePreview bool

	// InlineKeyboard - inline-клавиатура с кнопками.
	InlineKeyboard [][]InlineButton

	// Timeout - таймаут отправки.
	Timeout time.Duration
}

// DefaultDeliveryOptions возвращает опции по умолчанию.
func DefaultDeliveryOptions() DeliveryOptions {
	return DeliveryOptions{
		ParseMode:             "HTML",
		DisableNotification:   false,
		DisableWebPagePreview: true,
		Timeout:               30 * time.Second,
	}
}

// WithSilent создаёт копию опций с беззвучной отправкой.
func (opts DeliveryOptions) WithSilent() DeliveryOptions {
	opts.DisableNotification = true
	return opts
}

// WithParseMode создаёт копию опций с указанным режимом парсинга.
func (opts DeliveryOptions) WithParseMode(mode string) DeliveryOptions {
	opts.ParseMode = mode
	return opts
}

// WithInlineKeyboard создаёт копию опций с клавиатурой.
func (opts DeliveryOptions) WithInlineKeyboard(keyboard [][]InlineButton) DeliveryOptions {
	opts.InlineKeyboard = keyboard
	return opts
}

// WithTimeout создаёт копию опций с указанным таймаутом.
func (opts DeliveryOptions) WithTimeout(timeout time.Duration) DeliveryOptions {
	opts.Timeout = timeout
	return opts
}

// ══════════════════════════════════════════════════════════════════════════════
// INLINE BUTTON
// ══════════════════════════════════════════════════════════════════════════════

// InlineButton представляет кнопку для inline-клавиатуры.
type InlineButton struct {
	// Text - текст на кнопке.
	Text string

	// CallbackData - данные для callback (до 64 байт).
	CallbackData string

	// URL - ссылка (если кнопка-ссылка).
	URL string
}

// NewCallbackButton создаёт кнопку с callback.
func NewCallbackButton(text, callbackData string) InlineButton {
	return InlineButton{
		Text:         text,
		CallbackData: callbackData,
	}
}

// NewURLButton создаёт кнопку-ссылку.
func NewURLButton(text, url string) InlineButton {
	return InlineButton{
		Text: text,
		URL:  url,
	}
}

// IsValid проверяет корректность кнопки.
func (b InlineButton) IsValid() bool {
	if b.Text == "" {
		return false
	}
	return b.CallbackData != "" || b.URL != ""
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION SENDER
// ══════════════════════════════════════════════════════════════════════════════

// NotificationSender определяет интерфейс для отправки уведомлений.
// Единственный канал доставки - Telegram; интерфейс скрывает клиента API
// от application-слоя.
type NotificationSender interface {
	// Send отправляет уведомление с опциями по умолчанию.
	Send(ctx context.Context, n *Notification) DeliveryResult

	// SendWithOptions отправляет уведомление с заданными опциями.
	SendWithOptions(ctx context.Context, n *Notification, opts DeliveryOptions) DeliveryResult

	// IsAvailable проверяет доступность канала доставки.
	IsAvailable(ctx context.Context) bool
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrRateLimited - превышен лимит отправки.
	ErrRateLimited = errors.New("notification rate limited")

	// ErrChannelUnavailable - канал доставки недоступен.
	ErrChannelUnavailable = errors.New("notification channel unavailable")

	// ErrRecipientGone - получатель недоступен (заблокировал бота).
	ErrRecipientGone = errors.New("notification recipient gone")
)
