package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/notification"
	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/external/telegram"
)

// IDGeneratorImpl implements shared.IDGenerator.
type IDGeneratorImpl struct{}

func NewIDGenerator() *IDGeneratorImpl {
	return &IDGeneratorImpl{}
}

func (g *IDGeneratorImpl) NewID() string {
	return uuid.New().String()
}

// TelegramNotificationSender delivers notifications through the bot API and
// drives the notification status machine along the way. Implements
// notification.NotificationSender.
type TelegramNotificationSender struct {
	client *telegram.Client
	logger *slog.Logger
}

// NewTelegramNotificationSender creates a new TelegramNotificationSender.
func NewTelegramNotificationSender(client *telegram.Client, logger *slog.Logger) *TelegramNotificationSender {
	if logger == nil {
		logger = slog.Default()
	}

	return &TelegramNotificationSender{
		client: client,
		logger: logger.With("component", "notification_sender"),
	}
}

// Send delivers a notification with default options. Low-priority
// notifications go out silently.
func (s *TelegramNotificationSender) Send(ctx context.Context, n *notification.Notification) notification.DeliveryResult {
	opts := notification.DefaultDeliveryOptions()
	if n.Priority == notification.PriorityLow {
		opts = opts.WithSilent()
	}
	return s.SendWithOptions(ctx, n, opts)
}

// SendWithOptions delivers a notification with explicit options. Texts
// over the Telegram message limit (long digests, audit excerpts) are
// split at newlines; the keyboard goes on the last chunk.
func (s *TelegramNotificationSender) SendWithOptions(ctx context.Context, n *notification.Notification, opts notification.DeliveryOptions) notification.DeliveryResult {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if err := n.MarkSending(); err != nil {
		return notification.NewFailureResult(err, false)
	}

	chunks := telegram.SplitMessage(n.Message)
	keyboard := toKeyboardMarkup(opts.InlineKeyboard)

	var lastID int64
	for i, chunk := range chunks {
		params := telegram.SendMessageParams{
			ChatID:              n.ChatID.Int64(),
			Text:                chunk,
			ParseMode:           opts.ParseMode,
			DisableNotification: opts.DisableNotification,
			DisableWebPreview:   opts.DisableWebPagePreview,
		}
		if i == len(chunks)-1 {
			params.ReplyMarkup = keyboard
		}

		msg, err := s.client.SendMessage(ctx, params)
		if err != nil {
			return s.failure(n, err)
		}
		lastID = msg.MessageID
	}

	_ = n.MarkDelivered()
	return notification.NewSuccessResult(strconv.FormatInt(lastID, 10))
}

// IsAvailable reports whether the bot API answers.
func (s *TelegramNotificationSender) IsAvailable(ctx context.Context) bool {
	return s.client.IsHealthy(ctx)
}

// failure classifies a delivery error and records it on the notification.
// Gone recipients are skipped, not retried.
func (s *TelegramNotificationSender) failure(n *notification.Notification, err error) notification.DeliveryResult {
	if telegram.IsChatNotFound(err) || telegram.IsBotBlocked(err) {
		_ = n.MarkSkipped(err.Error())
		s.logger.Info("recipient gone, notification skipped",
			"notification_id", n.ID,
			"chat_id", n.ChatID,
		)
		return notification.NewSkippedResult(err)
	}

	_ = n.MarkFailed(err.Error())

	var apiErr *telegram.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 {
			retryAfter := time.Duration(apiErr.RetryAfter) * time.Second
			return notification.NewRateLimitedResult(retryAfter)
		}
		retryable := apiErr.Code >= 500
		return notification.NewFailureResult(err, retryable)
	}

	// Network errors are worth retrying
	return notification.NewFailureResult(err, true)
}

// toKeyboardMarkup converts domain inline buttons to the bot API markup.
// Returns nil for an empty keyboard.
func toKeyboardMarkup(rows [][]notification.InlineButton) *telegram.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}

	markup := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: make([][]telegram.InlineKeyboardButton, 0, len(rows)),
	}
	for _, row := range rows {
		buttons := make([]telegram.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, telegram.InlineKeyboardButton{
				Text:         b.Text,
				CallbackData: b.CallbackData,
				URL:          b.URL,
			})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, buttons)
	}

	return markup
}
