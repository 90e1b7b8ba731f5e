// Package telegram wraps the Telegram Bot API for the content hub: it
// sends and edits messages, answers inline-keyboard presses, downloads
// uploaded documents and runs the long-poll update loop. The bot and
// the worker share one client; the worker only sends.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Long polling parameters. The HTTP timeout in ClientConfig must stay
// above pollTimeoutSeconds or every empty poll turns into a transport
// error.
const (
	pollBatchSize      = 100
	pollTimeoutSeconds = 30
	pollErrorBackoff   = 5 * time.Second
)

// ClientConfig contains the client's transport settings.
type ClientConfig struct {
	// Token is the bot token from @BotFather.
	Token string

	// BaseURL allows pointing at a local Bot API server in tests.
	BaseURL string

	// Timeout bounds one API call, long polls included.
	Timeout time.Duration

	// FileTimeout bounds one file download. Scanned PDFs run to tens
	// of megabytes, so it is much longer than Timeout.
	FileTimeout time.Duration

	// RetryAttempts is how many times a failed call is retried.
	RetryAttempts int

	// RetryDelay is the initial backoff between retries.
	RetryDelay time.Duration

	Logger *slog.Logger
	Debug  bool
}

// DefaultClientConfig returns defaults tuned for long polling.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		Token:         token,
		BaseURL:       "https://api.telegram.org",
		Timeout:       60 * time.Second,
		FileTimeout:   120 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    1 * time.Second,
	}
}

// Client talks to the Bot API. Safe for concurrent use; the only
// mutable state is the update offset behind its own mutex.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	fileClient *http.Client
	logger     *slog.Logger

	updateMu     sync.Mutex
	updateOffset int64
}

// NewClient builds a client. File downloads get a separate HTTP client
// because the main one is tuned for API calls, not multi-megabyte
// transfers.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.telegram.org"
	}
	if config.FileTimeout == 0 {
		config.FileTimeout = 120 * time.Second
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		fileClient: &http.Client{Timeout: config.FileTimeout},
		logger:     config.Logger,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// SendMessageParams are the sendMessage options this bot uses.
type SendMessageParams struct {
	ChatID              int64
	Text                string
	ParseMode           string
	DisableNotification bool
	DisableWebPreview   bool
	ReplyToMessageID    int64
	ReplyMarkup         *InlineKeyboardMarkup
}

// SendMessage sends a text message.
func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) (*Message, error) {
	body := map[string]interface{}{
		"chat_id": params.ChatID,
		"text":    params.Text,
	}
	if params.ParseMode != "" {
		body["parse_mode"] = params.ParseMode
	}
	if params.DisableNotification {
		body["disable_notification"] = true
	}
	if params.DisableWebPreview {
		body["disable_web_page_preview"] = true
	}
	if params.ReplyToMessageID > 0 {
		body["reply_to_message_id"] = params.ReplyToMessageID
	}
	if params.ReplyMarkup != nil {
		body["reply_markup"] = params.ReplyMarkup
	}

	var message Message
	if err := c.callAPI(ctx, "sendMessage", body, &message); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &message, nil
}

// SendHTML sends an HTML-formatted message.
func (c *Client) SendHTML(ctx context.Context, chatID int64, html string) (*Message, error) {
	return c.SendMessage(ctx, SendMessageParams{
		ChatID:    chatID,
		Text:      html,
		ParseMode: "HTML",
	})
}

// SendChatAction shows "typing…" or "sending a file…" in the chat. The
// upload flow uses it while OCR and scoring run, which takes longer
// than a user expects a bot to think.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	body := map[string]interface{}{
		"chat_id": chatID,
		"action":  action,
	}

	var result bool
	if err := c.callAPI(ctx, "sendChatAction", body, &result); err != nil {
		return fmt.Errorf("send chat action: %w", err)
	}
	return nil
}

// EditMessageText replaces the text (and keyboard) of a sent message.
// Review cards are edited in place as the reviewer works through a
// batch.
func (c *Client) EditMessageText(ctx context.Context, chatID int64, messageID int64, text string, parseMode string, keyboard *InlineKeyboardMarkup) (*Message, error) {
	body := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if parseMode != "" {
		body["parse_mode"] = parseMode
	}
	if keyboard != nil {
		body["reply_markup"] = keyboard
	}

	var message Message
	if err := c.callAPI(ctx, "editMessageText", body, &message); err != nil {
		return nil, fmt.Errorf("edit message text: %w", err)
	}
	return &message, nil
}

// AnswerCallbackQuery acknowledges a button press. Telegram keeps the
// button spinner until this is called.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string, showAlert bool) error {
	body := map[string]interface{}{
		"callback_query_id": callbackQueryID,
	}
	if text != "" {
		body["text"] = text
		body["show_alert"] = showAlert
	}

	var result bool
	if err := c.callAPI(ctx, "answerCallbackQuery", body, &result); err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FILES
// ══════════════════════════════════════════════════════════════════════════════

// GetFile resolves a file_id into a downloadable file path.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	body := map[string]interface{}{
		"file_id": fileID,
	}

	var file File
	if err := c.callAPI(ctx, "getFile", body, &file); err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return &file, nil
}

// DownloadFile fetches file content by the path GetFile returned.
func (c *Client) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	url := fmt.Sprintf("%s/file/bot%s/%s", c.config.BaseURL, c.config.Token, filePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.fileClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			Code:        resp.StatusCode,
			Description: fmt.Sprintf("file download failed: %s", resp.Status),
		}
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file content: %w", err)
	}

	if c.config.Debug {
		c.logger.Debug("telegram file downloaded",
			"path", filePath,
			"bytes", len(content),
		)
	}
	return content, nil
}

// FetchDocument resolves and downloads an uploaded file in one step.
// This is what the upload wizard calls with the file_id from a message.
func (c *Client) FetchDocument(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("file %s has no download path", fileID)
	}
	return c.DownloadFile(ctx, file.FilePath)
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATES
// ══════════════════════════════════════════════════════════════════════════════

// GetUpdates fetches a batch of updates via long polling.
func (c *Client) GetUpdates(ctx context.Context, offset int64, limit int, timeout int) ([]Update, error) {
	body := map[string]interface{}{
		"timeout": timeout,
	}
	if offset > 0 {
		body["offset"] = offset
	}
	if limit > 0 {
		body["limit"] = limit
	}

	var updates []Update
	if err := c.callAPI(ctx, "getUpdates", body, &updates); err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}
	return updates, nil
}

// SetWebhook switches the bot to webhook delivery.
func (c *Client) SetWebhook(ctx context.Context, url string, maxConnections int, allowedUpdates []string) error {
	body := map[string]interface{}{
		"url": url,
	}
	if maxConnections > 0 {
		body["max_connections"] = maxConnections
	}
	if len(allowedUpdates) > 0 {
		body["allowed_updates"] = allowedUpdates
	}

	var result bool
	if err := c.callAPI(ctx, "setWebhook", body, &result); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// GetMe returns the bot's own profile. Used at startup to verify the
// token and learn the username for invite deep links.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var user User
	if err := c.callAPI(ctx, "getMe", nil, &user); err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}
	return &user, nil
}

// IsHealthy checks the API connection by fetching the bot's profile.
func (c *Client) IsHealthy(ctx context.Context) bool {
	_, err := c.GetMe(ctx)
	return err == nil
}

// UpdateHandler processes one update from the polling loop.
type UpdateHandler func(ctx context.Context, update *Update) error

// StartPolling runs the long-poll loop until the context is cancelled.
// Handler errors are logged and do not stop the loop; cancellation
// returns nil because shutdown is not a failure.
func (c *Client) StartPolling(ctx context.Context, handler UpdateHandler) error {
	c.logger.Info("starting telegram long polling")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("stopping telegram long polling")
			return nil
		default:
		}

		c.updateMu.Lock()
		offset := c.updateOffset
		c.updateMu.Unlock()

		updates, err := c.GetUpdates(ctx, offset, pollBatchSize, pollTimeoutSeconds)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("failed to get updates", "error", err)
			if pauseErr := c.pause(ctx, pollErrorBackoff); pauseErr != nil {
				return nil
			}
			continue
		}

		for i := range updates {
			update := &updates[i]

			// Advance the offset before handling, so a handler crash
			// cannot make the same update loop forever.
			c.updateMu.Lock()
			if update.UpdateID >= c.updateOffset {
				c.updateOffset = update.UpdateID + 1
			}
			c.updateMu.Unlock()

			if err := handler(ctx, update); err != nil {
				c.logger.Error("update handler failed",
					"update_id", update.UpdateID,
					"error", err,
				)
			}
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// callAPI performs an API call with retries. 429 responses wait out
// the retry_after Telegram asks for; other retryable failures back off
// exponentially.
func (c *Client) callAPI(ctx context.Context, method string, body map[string]interface{}, result interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := c.config.RetryDelay * time.Duration(1<<uint(attempt-1))
			if err := c.pause(ctx, delay); err != nil {
				return err
			}
		}

		err := c.doCall(ctx, method, body, result)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			if err := c.pause(ctx, time.Duration(apiErr.RetryAfter)*time.Second); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", method, c.config.RetryAttempts+1, lastErr)
}

// doCall performs a single API call and decodes the response envelope.
func (c *Client) doCall(ctx context.Context, method string, body map[string]interface{}, result interface{}) error {
	url := fmt.Sprintf("%s/bot%s/%s", c.config.BaseURL, c.config.Token, method)

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.config.Debug {
		c.logger.Debug("telegram api call", "method", method)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if !apiResp.OK {
		apiErr := &APIError{
			Code:        apiResp.ErrorCode,
			Description: apiResp.Description,
		}
		if apiResp.Parameters != nil {
			apiErr.RetryAfter = apiResp.Parameters.RetryAfter
		}
		return apiErr
	}

	if result != nil && len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// pause sleeps for d unless the context ends first.
func (c *Client) pause(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError is a non-OK response from the Bot API.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// retryable reports whether another attempt can help. 4xx responses are
// our fault and stay wrong on retry; 429 and 5xx pass. Transport-level
// failures (timeouts, resets) are always worth another try.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return true
}

// IsChatNotFound reports whether the error means the target chat does
// not exist. The notification service drops such recipients instead of
// retrying.
func IsChatNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code != http.StatusBadRequest {
		return false
	}
	desc := strings.ToLower(apiErr.Description)
	return strings.Contains(desc, "chat not found") || strings.Contains(desc, "chat_not_found")
}

// IsBotBlocked reports whether the error means the user blocked the bot
// or deactivated their account. Also permanent from the sender's point
// of view.
func IsBotBlocked(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == http.StatusForbidden {
		return true
	}
	desc := strings.ToLower(apiErr.Description)
	return strings.Contains(desc, "bot was blocked") || strings.Contains(desc, "user is deactivated") || strings.Contains(desc, "blocked_by_user")
}
