// Package telegram implements the Telegram bot interface layer.
// It wires incoming updates to command handlers, renders handler
// responses back through the Bot API client, and keeps the long-polling
// loop running.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/application/command"
	"github.com/medquiz-hub/medquiz-content-hub/internal/application/query"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/curriculum"
	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/external/telegram"
	"github.com/medquiz-hub/medquiz-content-hub/internal/interface/telegram/handler"
	"github.com/medquiz-hub/medquiz-content-hub/internal/interface/telegram/middleware"
	"github.com/medquiz-hub/medquiz-content-hub/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// BotConfig contains configuration for the Telegram bot.
type BotConfig struct {
	// Token is the Telegram Bot API token.
	Token string

	// Mode is the update receiving mode: "polling" or "webhook".
	Mode string

	// WebhookURL is the URL for webhook mode (required if Mode is "webhook").
	WebhookURL string

	// PollingTimeout is the timeout for long polling (in seconds).
	PollingTimeout int

	// Debug enables debug logging.
	Debug bool

	// Logger for structured logging.
	Logger *slog.Logger

	// AllowedUpdates specifies which update types to receive.
	AllowedUpdates []string

	// MaxConcurrentUpdates limits concurrent update processing.
	MaxConcurrentUpdates int

	// GracefulShutdownTimeout is the timeout for graceful shutdown.
	GracefulShutdownTimeout time.Duration

	// CourseID scopes the upload wizard's unit catalog.
	CourseID int64

	// MaxUploadBytes caps accepted document size.
	MaxUploadBytes int64

	// QueuePageSize is entries per page in the review queue listing.
	QueuePageSize int
}

// DefaultBotConfig returns sensible defaults.
func DefaultBotConfig(token string) BotConfig {
	return BotConfig{
		Token:                   token,
		Mode:                    "polling",
		PollingTimeout:          30,
		Debug:                   false,
		Logger:                  slog.Default(),
		AllowedUpdates:          []string{"message", "callback_query"},
		MaxConcurrentUpdates:    100,
		GracefulShutdownTimeout: 30 * time.Second,
		CourseID:                1,
		MaxUploadBytes:          10 << 20,
		QueuePageSize:           10,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT DEPENDENCIES
// Aggregates all dependencies needed by handlers.
// ══════════════════════════════════════════════════════════════════════════════

// BotDependencies contains all dependencies for the bot handlers.
type BotDependencies struct {
	// Repositories
	AdminRepo      admin.Repository
	CurriculumRepo curriculum.Repository

	// Commands
	SubmitBatchCmd      *command.SubmitBatchHandler
	AcquireLockCmd      *command.AcquireLockHandler
	DecideCandidateCmd  *command.DecideCandidateHandler
	ReleaseLockCmd      *command.ReleaseLockHandler
	AbandonBatchCmd     *command.AbandonBatchHandler
	IssueAccessCodeCmd  *command.IssueAccessCodeHandler
	RedeemAccessCodeCmd *command.RedeemAccessCodeHandler

	// Queries
	ReviewQueueQuery        *query.ListReviewQueueHandler
	ReviewCardQuery         *query.GetReviewCardHandler
	ContributorStatsQuery   *query.GetContributorStatsHandler
	AuditTrailQuery         *query.GetAuditTrailHandler
	PublishedQuestionsQuery *query.GetPublishedQuestionsHandler

	// RateLimitBackend optionally extends the upload limiter with a
	// shared counter so replicas enforce one fleet-wide budget. Nil
	// keeps the limiter purely in-process.
	RateLimitBackend middleware.RateLimitBackend
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// Main bot structure that orchestrates Telegram interactions.
// ══════════════════════════════════════════════════════════════════════════════

// Bot is the main Telegram bot controller.
type Bot struct {
	config BotConfig
	client *telegram.Client
	router *Router
	logger *slog.Logger

	// Middleware chain
	authMiddleware     *middleware.AuthMiddleware
	rateLimiter        *middleware.CommandRateLimits
	recoveryMiddleware *middleware.RecoveryMiddleware
	metricsMiddleware  *middleware.MetricsMiddleware

	// inviteHandler learns the bot username after getMe for deep links.
	inviteHandler *handler.InviteHandler

	// Lifecycle management
	running   bool
	runningMu sync.RWMutex
	stopCh    chan struct{}
	updateSem chan struct{} // Semaphore for concurrent update limiting
	wg        sync.WaitGroup

	// Statistics
	stats *BotStats
}

// BotStats holds runtime statistics.
type BotStats struct {
	mu              sync.RWMutex
	StartedAt       time.Time
	UpdatesReceived int64
	UpdatesHandled  int64
	ErrorsCount     int64
	CommandsCount   map[string]int64
}

// NewBot creates a new Telegram bot with all dependencies.
func NewBot(config BotConfig, deps BotDependencies) (*Bot, error) {
	if config.Token == "" {
		return nil, errors.New("telegram token is required")
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	// Create Telegram client
	clientConfig := telegram.DefaultClientConfig(config.Token)
	clientConfig.Logger = config.Logger
	clientConfig.Debug = config.Debug
	client := telegram.NewClient(clientConfig)

	// Create presenters
	keyboards := presenter.NewKeyboardBuilder()
	cardPresenter := presenter.NewReviewCardPresenter()
	queuePresenter := presenter.NewQueuePresenter()
	statsPresenter := presenter.NewStatsPresenter()

	// Create handlers
	startHandler := handler.NewStartHandler(
		deps.RedeemAccessCodeCmd,
		deps.AdminRepo,
		keyboards,
	)

	helpHandler := handler.NewHelpHandler(
		deps.AdminRepo,
		keyboards,
	)

	uploadHandler := handler.NewUploadHandler(
		deps.SubmitBatchCmd,
		deps.CurriculumRepo,
		client,
		keyboards,
		handler.UploadConfig{
			CourseID:       config.CourseID,
			MaxUploadBytes: config.MaxUploadBytes,
		},
	)

	queueHandler := handler.NewQueueHandler(
		deps.ReviewQueueQuery,
		queuePresenter,
		config.QueuePageSize,
	)

	reviewHandler := handler.NewReviewHandler(
		deps.AcquireLockCmd,
		deps.DecideCandidateCmd,
		deps.ReleaseLockCmd,
		deps.AbandonBatchCmd,
		deps.ReviewCardQuery,
		cardPresenter,
	)

	myStatsHandler := handler.NewMyStatsHandler(
		deps.ContributorStatsQuery,
		deps.AdminRepo,
		statsPresenter,
	)

	auditHandler := handler.NewAuditHandler(
		deps.AuditTrailQuery,
		deps.AdminRepo,
		statsPresenter,
	)

	previewHandler := handler.NewPreviewHandler(
		deps.PublishedQuestionsQuery,
		deps.AdminRepo,
	)

	// Username comes from getMe at startup.
	inviteHandler := handler.NewInviteHandler(
		deps.IssueAccessCodeCmd,
		keyboards,
		"",
	)

	// Create middleware
	authMiddleware := middleware.NewAuthMiddleware(
		deps.AdminRepo,
		middleware.DefaultAuthConfig(),
	)

	rateLimiter := middleware.NewCommandRateLimits(
		middleware.DefaultRateLimitConfig(),
	)
	uploadLimits := middleware.UploadRateLimitConfig()
	if deps.RateLimitBackend != nil {
		uploadLimits.Backend = deps.RateLimitBackend
		uploadLimits.BackendKeyPrefix = "upload:"
	}
	rateLimiter.AddCommand("upload", uploadLimits)

	recoveryConfig := middleware.DefaultRecoveryConfig()
	recoveryConfig.Logger = config.Logger
	recoveryMiddleware := middleware.NewRecoveryMiddleware(recoveryConfig)

	metricsConfig := middleware.DefaultMetricsConfig()
	metricsConfig.OnSlowRequest = func(cmd string, duration time.Duration, telegramID int64) {
		config.Logger.Warn("slow handler",
			"command", cmd,
			"duration", duration,
			"telegram_id", telegramID,
		)
	}
	metricsMiddleware := middleware.NewMetricsMiddleware(metricsConfig)

	// Create router with all handlers
	routerConfig := RouterConfig{
		Logger: config.Logger,
		Debug:  config.Debug,
	}

	router := NewRouter(routerConfig)

	// Register command handlers
	router.RegisterCommand("start", startHandler)
	router.RegisterCommand("help", helpHandler)
	router.RegisterCommand("upload", uploadHandler)
	router.RegisterCommand("queue", queueHandler)
	router.RegisterCommand("mystats", myStatsHandler)
	router.RegisterCommand("audit", auditHandler)
	router.RegisterCommand("preview", previewHandler)
	router.RegisterCommand("invite", inviteHandler)

	// Register callback handlers
	router.RegisterCallbackPrefix("cmd:", router.CreateCommandCallbackHandler())
	router.RegisterCallbackPrefix("refresh:", router.CreateRefreshCallbackHandler())
	router.RegisterCallbackPrefix("redeem:", router.CreateRedeemCallbackHandler(startHandler))
	router.RegisterCallbackPrefix("upload:", router.CreateUploadCallbackHandler(uploadHandler))
	router.RegisterCallbackPrefix("queue:", router.CreateQueueCallbackHandler(queueHandler))
	router.RegisterCallbackPrefix("review:", router.CreateReviewCallbackHandler(reviewHandler))
	router.RegisterCallbackPrefix("stats:", router.CreateStatsCallbackHandler(myStatsHandler))
	router.RegisterCallbackPrefix("audit:", router.CreateAuditCallbackHandler(auditHandler))

	// Create bot
	bot := &Bot{
		config:             config,
		client:             client,
		router:             router,
		logger:             config.Logger,
		authMiddleware:     authMiddleware,
		rateLimiter:        rateLimiter,
		recoveryMiddleware: recoveryMiddleware,
		metricsMiddleware:  metricsMiddleware,
		inviteHandler:      inviteHandler,
		stopCh:             make(chan struct{}),
		updateSem:          make(chan struct{}, config.MaxConcurrentUpdates),
		stats: &BotStats{
			CommandsCount: make(map[string]int64),
		},
	}

	// /status needs the bot's own middleware state, so it registers
	// after construction instead of living in the handler package.
	router.RegisterCommand("status", bot.handleStatusCommand)

	return bot, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE MANAGEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the bot and begins receiving updates.
func (b *Bot) Start(ctx context.Context) error {
	b.runningMu.Lock()
	if b.running {
		b.runningMu.Unlock()
		return errors.New("bot is already running")
	}
	b.running = true
	b.stats.StartedAt = time.Now()
	b.runningMu.Unlock()

	b.logger.Info("starting telegram bot",
		"mode", b.config.Mode,
		"debug", b.config.Debug,
	)

	// Verify bot token with getMe
	if err := b.verifyToken(ctx); err != nil {
		return fmt.Errorf("failed to verify bot token: %w", err)
	}

	// Start based on mode
	switch b.config.Mode {
	case "polling":
		return b.startPolling(ctx)
	case "webhook":
		return b.startWebhook(ctx)
	default:
		return fmt.Errorf("unknown bot mode: %s", b.config.Mode)
	}
}

// Stop gracefully stops the bot.
func (b *Bot) Stop(ctx context.Context) error {
	b.runningMu.Lock()
	if !b.running {
		b.runningMu.Unlock()
		return nil
	}
	b.running = false
	b.runningMu.Unlock()

	b.logger.Info("stopping telegram bot")

	// Signal stop
	close(b.stopCh)

	// Wait for all handlers to complete with timeout
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("all handlers completed gracefully")
	case <-time.After(b.config.GracefulShutdownTimeout):
		b.logger.Warn("graceful shutdown timeout exceeded")
	case <-ctx.Done():
		b.logger.Warn("context cancelled during shutdown")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the bot is currently running.
func (b *Bot) IsRunning() bool {
	b.runningMu.RLock()
	defer b.runningMu.RUnlock()
	return b.running
}

// verifyToken verifies the bot token by calling getMe.
func (b *Bot) verifyToken(ctx context.Context) error {
	me, err := b.client.GetMe(ctx)
	if err != nil {
		return err
	}

	// Invite deep links need the bot's own username.
	if me.Username != "" {
		b.inviteHandler.SetBotUsername(me.Username)
	}

	b.logger.Info("bot verified",
		"id", me.ID,
		"username", me.Username,
		"first_name", me.FirstName,
	)

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// POLLING MODE
// ══════════════════════════════════════════════════════════════════════════════

// startPolling starts long polling for updates.
func (b *Bot) startPolling(ctx context.Context) error {
	b.logger.Info("starting long polling")

	return b.client.StartPolling(ctx, func(ctx context.Context, update *telegram.Update) error {
		return b.handleUpdate(ctx, update)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK MODE
// ══════════════════════════════════════════════════════════════════════════════

// startWebhook registers the webhook with Telegram. Updates are delivered
// by the HTTP server's webhook endpoint, which calls ProcessUpdate.
func (b *Bot) startWebhook(ctx context.Context) error {
	if b.config.WebhookURL == "" {
		return errors.New("webhook URL is required for webhook mode")
	}

	b.logger.Info("registering webhook", "url", b.config.WebhookURL)

	err := b.client.SetWebhook(ctx, b.config.WebhookURL, 0, b.config.AllowedUpdates)
	if err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}

	// Block until shutdown so both modes have the same lifecycle.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopCh:
		return nil
	}
}

// ProcessUpdate feeds a single update into the bot. The webhook endpoint
// uses this; polling mode goes through the same path internally.
func (b *Bot) ProcessUpdate(ctx context.Context, update *telegram.Update) error {
	return b.handleUpdate(ctx, update)
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE HANDLING
// ══════════════════════════════════════════════════════════════════════════════

// handleUpdate processes a single Telegram update.
func (b *Bot) handleUpdate(ctx context.Context, update *telegram.Update) error {
	// Acquire semaphore slot
	select {
	case b.updateSem <- struct{}{}:
		defer func() { <-b.updateSem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	b.wg.Add(1)
	defer b.wg.Done()

	// Update statistics
	b.stats.mu.Lock()
	b.stats.UpdatesReceived++
	b.stats.mu.Unlock()

	startTime := time.Now()

	// Add context values
	ctx = middleware.ContextWithTelegramID(ctx, b.extractTelegramID(update))
	ctx = context.WithValue(ctx, middleware.StartTimeContextKey, startTime)

	// Determine update type and handle
	var err error
	switch {
	case update.Message != nil:
		err = b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		err = b.handleCallbackQuery(ctx, update.CallbackQuery)
	default:
		// Unknown update type - ignore
		return nil
	}

	duration := time.Since(startTime)

	if err != nil {
		b.stats.mu.Lock()
		b.stats.ErrorsCount++
		b.stats.mu.Unlock()
		b.logger.Error("failed to handle update",
			"update_id", update.UpdateID,
			"error", err,
			"duration", duration,
		)
	} else {
		b.stats.mu.Lock()
		b.stats.UpdatesHandled++
		b.stats.mu.Unlock()
	}

	return err
}

// handleMessage processes a Telegram message.
func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) error {
	if msg == nil || msg.From == nil {
		return nil
	}

	telegramID := msg.From.ID
	chatID := msg.Chat.ID

	if b.config.Debug {
		b.logger.Debug("incoming message",
			"telegram_id", telegramID,
			"chat_id", chatID,
			"has_document", msg.Document != nil,
			"has_photo", len(msg.Photo) > 0,
		)
	}

	// Extract command
	command := telegram.ExtractCommand(msg)
	args := telegram.ExtractCommandArgs(msg)

	if command != "" {
		return b.handleCommand(ctx, telegramID, chatID, command, args, msg)
	}

	// Attachments feed the upload wizard.
	if msg.Document != nil || len(msg.Photo) > 0 {
		return b.handleAttachment(ctx, telegramID, chatID, msg)
	}

	if msg.Text != "" {
		return b.handleTextMessage(ctx, telegramID, chatID, msg)
	}

	return nil
}

// handleCommand processes a bot command.
func (b *Bot) handleCommand(
	ctx context.Context,
	telegramID, chatID int64,
	command, args string,
	msg *telegram.Message,
) error {
	// Record command statistics
	b.stats.mu.Lock()
	b.stats.CommandsCount[command]++
	b.stats.mu.Unlock()

	// Rate limiting (uploads have their own slower bucket)
	rateLimitResult := b.rateLimiter.Check(telegramID, command)
	if !rateLimitResult.Allowed {
		_, err := b.client.SendHTML(ctx, chatID, rateLimitResult.ResponseMessage)
		return err
	}

	// Authentication
	authResult, err := b.authMiddleware.Authenticate(ctx, telegramID, command)
	if err != nil {
		b.logger.Error("auth error", "error", err, "command", command)
		return b.sendErrorMessage(ctx, chatID)
	}

	if !authResult.ShouldContinue {
		_, err := b.client.SendHTML(ctx, chatID, authResult.ResponseMessage)
		return err
	}

	// Add authenticated admin to context
	if authResult.Admin != nil {
		ctx = middleware.ContextWithAdmin(ctx, authResult.Admin)
	}

	metricsCtx := b.metricsMiddleware.Start(command, telegramID)

	// Recovery wrapper
	var handlerErr error
	recoveryResult := b.recoveryMiddleware.RecoverWithHandler(ctx, telegramID, command, func() error {
		handlerErr = b.router.HandleCommand(ctx, &CommandContext{
			Command:    command,
			Args:       strings.Fields(args),
			TelegramID: telegramID,
			ChatID:     chatID,
			MessageID:  msg.MessageID,
			Message:    msg,
			Client:     b.client,
		})
		return handlerErr
	})

	metricsCtx.End(handlerErr)

	if recoveryResult.Recovered {
		b.logger.Error("panic recovered in command handler",
			"command", command,
			"telegram_id", telegramID,
		)
		_, err := b.client.SendHTML(ctx, chatID, recoveryResult.UserMessage)
		return err
	}

	return handlerErr
}

// handleAttachment routes documents and photos into the upload wizard.
func (b *Bot) handleAttachment(ctx context.Context, telegramID, chatID int64, msg *telegram.Message) error {
	// The wizard runs in private chats only. A PDF shared in the ops
	// group is conversation, not an upload.
	if !telegram.IsPrivateChat(msg) {
		return nil
	}

	// Attachments go through the upload bucket: each one can trigger a
	// download, extraction, and scoring.
	rateLimitResult := b.rateLimiter.Check(telegramID, "upload")
	if !rateLimitResult.Allowed {
		_, err := b.client.SendHTML(ctx, chatID, rateLimitResult.ResponseMessage)
		return err
	}

	authResult, err := b.authMiddleware.Authenticate(ctx, telegramID, "upload")
	if err != nil {
		b.logger.Error("auth error", "error", err)
		return b.sendErrorMessage(ctx, chatID)
	}
	if !authResult.ShouldContinue {
		_, err := b.client.SendHTML(ctx, chatID, authResult.ResponseMessage)
		return err
	}
	if authResult.Admin != nil {
		ctx = middleware.ContextWithAdmin(ctx, authResult.Admin)
	}

	msgCtx := &TextInputContext{
		Text:       msg.Caption,
		TelegramID: telegramID,
		ChatID:     chatID,
		MessageID:  msg.MessageID,
		Message:    msg,
		Client:     b.client,
	}

	metricsCtx := b.metricsMiddleware.Start("upload", telegramID)

	var handlerErr error
	recoveryResult := b.recoveryMiddleware.RecoverWithHandler(ctx, telegramID, "upload", func() error {
		if msg.Document != nil {
			handlerErr = b.router.HandleDocument(ctx, msgCtx, msg.Document)
		} else {
			handlerErr = b.router.HandlePhoto(ctx, msgCtx, msg.Photo)
		}
		return handlerErr
	})

	metricsCtx.End(handlerErr)

	if recoveryResult.Recovered {
		b.logger.Error("panic recovered in attachment handler", "telegram_id", telegramID)
		_, err := b.client.SendHTML(ctx, chatID, recoveryResult.UserMessage)
		return err
	}

	return handlerErr
}

// handleTextMessage processes a non-command text message. Text is either
// upload material or an access code; the router decides.
func (b *Bot) handleTextMessage(ctx context.Context, telegramID, chatID int64, msg *telegram.Message) error {
	// Resolve the admin without blocking: unregistered users must reach
	// the access code flow, so this runs as the public /start surface.
	authResult, err := b.authMiddleware.Authenticate(ctx, telegramID, "start")
	if err != nil {
		b.logger.Error("auth error on text message", "error", err)
		return nil
	}
	if authResult.Admin != nil {
		ctx = middleware.ContextWithAdmin(ctx, authResult.Admin)
	}

	var handlerErr error
	recoveryResult := b.recoveryMiddleware.RecoverWithHandler(ctx, telegramID, "text", func() error {
		handlerErr = b.router.HandleTextInput(ctx, &TextInputContext{
			Text:       msg.Text,
			TelegramID: telegramID,
			ChatID:     chatID,
			MessageID:  msg.MessageID,
			Message:    msg,
			Client:     b.client,
		})
		return handlerErr
	})

	if recoveryResult.Recovered {
		b.logger.Error("panic recovered in text handler", "telegram_id", telegramID)
		_, err := b.client.SendHTML(ctx, chatID, recoveryResult.UserMessage)
		return err
	}

	return handlerErr
}

// handleCallbackQuery processes a callback query from inline keyboard.
func (b *Bot) handleCallbackQuery(ctx context.Context, cq *telegram.CallbackQuery) error {
	if cq == nil || cq.From == nil {
		return nil
	}

	telegramID := cq.From.ID
	chatID := int64(0)
	messageID := int64(0)

	if cq.Message != nil {
		chatID = cq.Message.Chat.ID
		messageID = cq.Message.MessageID
	}

	// Backstop answer: handlers answer with their own toasts, and a
	// second answer for the same query is rejected silently. This only
	// clears the loading spinner when a handler errored before answering.
	defer func() {
		_ = b.client.AnswerCallbackQuery(ctx, cq.ID, "", false)
	}()

	// Rate limiting for callbacks
	rateLimitResult := b.rateLimiter.Check(telegramID, "callback")
	if !rateLimitResult.Allowed {
		_ = b.client.AnswerCallbackQuery(ctx, cq.ID, "⏳ Слишком быстро, подождите немного", true)
		return nil
	}

	// Annotate the context with the admin when known. Callbacks are not
	// hard-blocked here: the access code button must work for unknown
	// users, and every mutating operation authorizes in the application
	// layer anyway.
	authResult, err := b.authMiddleware.Authenticate(ctx, telegramID, "start")
	if err != nil {
		b.logger.Error("auth error on callback", "error", err)
		return nil
	}
	if authResult.Admin != nil {
		ctx = middleware.ContextWithAdmin(ctx, authResult.Admin)
	}

	metricsCtx := b.metricsMiddleware.Start("callback", telegramID)

	var handlerErr error
	recoveryResult := b.recoveryMiddleware.RecoverWithHandler(ctx, telegramID, "callback:"+cq.Data, func() error {
		handlerErr = b.router.HandleCallback(ctx, &CallbackContext{
			Data:       cq.Data,
			TelegramID: telegramID,
			ChatID:     chatID,
			MessageID:  messageID,
			Query:      cq,
			Client:     b.client,
		})
		return handlerErr
	})

	metricsCtx.End(handlerErr)

	if recoveryResult.Recovered {
		b.logger.Error("panic recovered in callback handler",
			"data", cq.Data,
			"telegram_id", telegramID,
		)
		if chatID > 0 {
			_, _ = b.client.SendHTML(ctx, chatID, recoveryResult.UserMessage)
		}
		return nil
	}

	return handlerErr
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// extractTelegramID extracts the Telegram user ID from an update.
func (b *Bot) extractTelegramID(update *telegram.Update) int64 {
	if update.Message != nil && update.Message.From != nil {
		return update.Message.From.ID
	}
	if update.CallbackQuery != nil && update.CallbackQuery.From != nil {
		return update.CallbackQuery.From.ID
	}
	return 0
}

// sendErrorMessage sends a generic error message.
func (b *Bot) sendErrorMessage(ctx context.Context, chatID int64) error {
	text := "😔 Произошла ошибка. Попробуйте позже."
	_, err := b.client.SendHTML(ctx, chatID, text)
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS REPORT
// /status is the ops view from inside Telegram: update counters, latency
// percentiles, and recent panic groups, without leaving the chat.
// ══════════════════════════════════════════════════════════════════════════════

// handleStatusCommand renders the runtime picture for super-admins.
func (b *Bot) handleStatusCommand(ctx context.Context, cmdCtx *CommandContext) error {
	adm := middleware.AdminFromContext(ctx)
	if err := middleware.RequireSuperAdmin(adm); err != nil {
		_, sendErr := b.client.SendHTML(ctx, cmdCtx.ChatID,
			"🔒 Команда /status доступна только супер-админам.")
		return sendErr
	}

	snap := b.metricsMiddleware.Snapshot()
	panicGroups := b.recoveryMiddleware.AggregatedPanics()

	b.stats.mu.RLock()
	startedAt := b.stats.StartedAt
	received := b.stats.UpdatesReceived
	handled := b.stats.UpdatesHandled
	b.stats.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("📟 <b>Состояние бота</b>\n\n")
	sb.WriteString(fmt.Sprintf("Аптайм: %s\n", time.Since(startedAt).Round(time.Second)))
	sb.WriteString(fmt.Sprintf("Обновлений: %d получено, %d обработано\n", received, handled))
	sb.WriteString(fmt.Sprintf("Ошибок: %d (%.1f%%)\n", snap.TotalErrors, snap.ErrorRate*100))
	sb.WriteString(fmt.Sprintf("Активных админов: %d за час, %d за сутки\n",
		snap.ActiveAdminsLastHour, snap.ActiveAdminsLastDay))

	if snap.TotalRequests > 0 {
		sb.WriteString(fmt.Sprintf("Латентность: p50 %s, p95 %s, max %s\n",
			snap.LatencyP50.Round(time.Millisecond),
			snap.LatencyP95.Round(time.Millisecond),
			snap.LatencyMax.Round(time.Millisecond),
		))
	}

	if len(snap.Commands) > 0 {
		sb.WriteString("\n<b>Команды</b>\n")
		for _, cs := range sortedCommandSnapshots(snap.Commands) {
			line := fmt.Sprintf("• %s — %d", cs.Name, cs.TotalCount)
			if cs.ErrorCount > 0 {
				line += fmt.Sprintf(", ошибок %d", cs.ErrorCount)
			}
			if cs.P95Duration > 0 {
				line += fmt.Sprintf(", p95 %s", cs.P95Duration.Round(time.Millisecond))
			}
			sb.WriteString(line + "\n")
		}
	}

	if len(snap.TopErrors) > 0 {
		sb.WriteString("\n<b>Частые ошибки</b>\n")
		for i, ec := range snap.TopErrors {
			if i >= 3 {
				break
			}
			sb.WriteString(fmt.Sprintf("• %s ×%d\n", htmlEscape(ec.Error), ec.Count))
		}
	}

	if len(panicGroups) > 0 {
		sb.WriteString("\n⚠️ <b>Паники за последний час</b>\n")
		for _, pg := range panicGroups {
			sb.WriteString(fmt.Sprintf("• %s ×%d (команды: %d)\n",
				htmlEscape(pg.SampleError), pg.Count, len(pg.AffectedCommands)))
		}
	}

	_, err := b.client.SendHTML(ctx, cmdCtx.ChatID, sb.String())
	return err
}

// sortedCommandSnapshots orders commands by call count, busiest first.
func sortedCommandSnapshots(commands map[string]*middleware.CommandSnapshot) []*middleware.CommandSnapshot {
	out := make([]*middleware.CommandSnapshot, 0, len(commands))
	for _, cs := range commands {
		out = append(out, cs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCount != out[j].TotalCount {
			return out[i].TotalCount > out[j].TotalCount
		}
		return out[i].Name < out[j].Name
	})
	return out
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// htmlEscape sanitizes raw error text before it lands in an HTML message.
func htmlEscape(s string) string {
	return htmlEscaper.Replace(s)
}

// InvalidateAuthCache invalidates the auth cache for a specific user.
// Call after access code redemption or role changes.
func (b *Bot) InvalidateAuthCache(telegramID int64) {
	b.authMiddleware.InvalidateCache(telegramID)
}
