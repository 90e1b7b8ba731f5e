// Package telegram implements the Telegram bot interface layer.
// It wires incoming updates to command handlers, renders handler
// responses back through the Bot API client, and keeps the long-polling
// loop running.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/external/telegram"
	"github.com/medquiz-hub/medquiz-content-hub/internal/interface/telegram/handler"
	"github.com/medquiz-hub/medquiz-content-hub/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER
// The router dispatches commands, callback queries, and plain text messages
// to their handlers. Handlers are registered by command name or callback
// data prefix; unknown input falls through to the default handlers.
// ══════════════════════════════════════════════════════════════════════════════

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Logger for routing decisions and dispatch errors.
	Logger *slog.Logger

	// Debug enables verbose routing logs.
	Debug bool
}

// DefaultRouterConfig returns the default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Logger: slog.Default(),
		Debug:  false,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCH CONTEXTS
// One context type per update shape. The router fills them from raw
// updates; handlers receive only the fields they need via request structs.
// ══════════════════════════════════════════════════════════════════════════════

// CommandContext carries everything a command dispatch needs.
type CommandContext struct {
	// Command is the command name without the leading slash.
	Command string

	// Args are the whitespace-separated arguments after the command.
	Args []string

	// TelegramID is the sender's Telegram user id.
	TelegramID int64

	// ChatID is the chat the command was sent in.
	ChatID int64

	// MessageID is the id of the message carrying the command.
	MessageID int64

	// Message is the raw incoming message.
	Message *telegram.Message

	// Client is the Telegram API client used to respond.
	Client *telegram.Client
}

// CallbackContext carries everything a callback dispatch needs.
type CallbackContext struct {
	// Data is the raw callback data.
	Data string

	// TelegramID is the id of the user who pressed the button.
	TelegramID int64

	// ChatID is the chat containing the message with the keyboard.
	ChatID int64

	// MessageID is the message the keyboard is attached to.
	MessageID int64

	// Query is the raw callback query.
	Query *telegram.CallbackQuery

	// Client is the Telegram API client used to respond.
	Client *telegram.Client
}

// TextInputContext carries a plain text message (no command, no button).
type TextInputContext struct {
	// Text is the message text.
	Text string

	// TelegramID is the sender's Telegram user id.
	TelegramID int64

	// ChatID is the chat the message was sent in.
	ChatID int64

	// MessageID is the id of the incoming message.
	MessageID int64

	// Message is the raw incoming message.
	Message *telegram.Message

	// Client is the Telegram API client used to respond.
	Client *telegram.Client
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER CONTRACTS
// Typed handlers from the handler package are dispatched via the type
// switch in executeCommandHandler. Anything else can implement one of
// these interfaces or register a bare function.
// ══════════════════════════════════════════════════════════════════════════════

// CommandHandler handles a bot command.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmdCtx *CommandContext) error
}

// CallbackHandler handles a callback query.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, cbCtx *CallbackContext) error
}

// CallbackFunc adapts a function to a callback handler.
type CallbackFunc func(ctx context.Context, cbCtx *CallbackContext) error

// TextInputHandler handles plain text input.
type TextInputHandler interface {
	HandleTextInput(ctx context.Context, textCtx *TextInputContext) error
}

// Router dispatches Telegram updates to registered handlers.
type Router struct {
	config RouterConfig
	logger *slog.Logger

	commandsMu      sync.RWMutex
	commandHandlers map[string]interface{}

	callbacksMu            sync.RWMutex
	callbackPrefixHandlers map[string]interface{}

	textMu           sync.RWMutex
	textInputHandler TextInputHandler

	defaultCommandHandler  func(ctx context.Context, cmdCtx *CommandContext) error
	defaultCallbackHandler func(ctx context.Context, cbCtx *CallbackContext) error
}

// NewRouter creates a router with the given configuration.
func NewRouter(config RouterConfig) *Router {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Router{
		config:                 config,
		logger:                 config.Logger,
		commandHandlers:        make(map[string]interface{}),
		callbackPrefixHandlers: make(map[string]interface{}),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRATION
// ══════════════════════════════════════════════════════════════════════════════

// RegisterCommand registers a handler for a command name (without slash).
func (r *Router) RegisterCommand(command string, h interface{}) {
	r.commandsMu.Lock()
	defer r.commandsMu.Unlock()

	r.commandHandlers[strings.ToLower(command)] = h

	if r.config.Debug {
		r.logger.Debug("command registered", "command", command)
	}
}

// RegisterCallbackPrefix registers a handler for callback data starting
// with the given prefix. The longest matching prefix wins.
func (r *Router) RegisterCallbackPrefix(prefix string, h interface{}) {
	r.callbacksMu.Lock()
	defer r.callbacksMu.Unlock()

	r.callbackPrefixHandlers[prefix] = h

	if r.config.Debug {
		r.logger.Debug("callback prefix registered", "prefix", prefix)
	}
}

// RegisterTextInputHandler registers an override for plain text messages.
// Without an override, text is routed to the upload wizard when one is in
// flight and to access code redemption otherwise.
func (r *Router) RegisterTextInputHandler(h TextInputHandler) {
	r.textMu.Lock()
	defer r.textMu.Unlock()
	r.textInputHandler = h
}

// SetDefaultCommandHandler sets the fallback for unknown commands.
func (r *Router) SetDefaultCommandHandler(fn func(ctx context.Context, cmdCtx *CommandContext) error) {
	r.defaultCommandHandler = fn
}

// SetDefaultCallbackHandler sets the fallback for unmatched callbacks.
func (r *Router) SetDefaultCallbackHandler(fn func(ctx context.Context, cbCtx *CallbackContext) error) {
	r.defaultCallbackHandler = fn
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMAND DISPATCH
// ══════════════════════════════════════════════════════════════════════════════

// HandleCommand dispatches a command to its registered handler.
func (r *Router) HandleCommand(ctx context.Context, cmdCtx *CommandContext) error {
	command := strings.ToLower(cmdCtx.Command)

	r.commandsMu.RLock()
	h, ok := r.commandHandlers[command]
	r.commandsMu.RUnlock()

	if r.config.Debug {
		r.logger.Debug("routing command",
			"command", command,
			"telegram_id", cmdCtx.TelegramID,
			"registered", ok,
		)
	}

	if !ok {
		if r.defaultCommandHandler != nil {
			return r.defaultCommandHandler(ctx, cmdCtx)
		}
		return r.handleUnknownCommand(ctx, cmdCtx)
	}

	return r.executeCommandHandler(ctx, cmdCtx, h, false)
}

// HandleCommandWithEdit dispatches a command but renders the response by
// editing the originating message instead of sending a new one. Used for
// "cmd:" and "refresh:" inline buttons.
func (r *Router) HandleCommandWithEdit(ctx context.Context, cmdCtx *CommandContext) error {
	command := strings.ToLower(cmdCtx.Command)

	r.commandsMu.RLock()
	h, ok := r.commandHandlers[command]
	r.commandsMu.RUnlock()

	if !ok {
		r.logger.Warn("edit dispatch for unregistered command", "command", command)
		return r.handleUnknownCommand(ctx, cmdCtx)
	}

	return r.executeCommandHandler(ctx, cmdCtx, h, true)
}

// executeCommandHandler adapts the registered handler to its request type,
// invokes it, and renders the response. When edit is true the response
// replaces the originating message.
func (r *Router) executeCommandHandler(ctx context.Context, cmdCtx *CommandContext, h interface{}, edit bool) error {
	switch th := h.(type) {
	case *handler.StartHandler:
		return r.executeStartHandler(ctx, cmdCtx, th)

	case *handler.HelpHandler:
		resp, err := th.Handle(ctx, handler.HelpRequest{
			TelegramID: cmdCtx.TelegramID,
			ChatID:     cmdCtx.ChatID,
			MessageID:  cmdCtx.MessageID,
		})
		if err != nil {
			return fmt.Errorf("help handler: %w", err)
		}
		return r.respond(ctx, cmdCtx, resp.Text, resp.ParseMode, resp.Keyboard, edit)

	case *handler.UploadHandler:
		resp, err := th.Handle(ctx, handler.UploadRequest{
			TelegramID: cmdCtx.TelegramID,
			ChatID:     cmdCtx.ChatID,
			MessageID:  cmdCtx.MessageID,
		})
		if err != nil {
			return fmt.Errorf("upload handler: %w", err)
		}
		return r.respond(ctx, cmdCtx, resp.Text, resp.ParseMode, resp.Keyboard, edit)

	case *handler.QueueHandler:
		req := handler.QueueRequest{
			TelegramID: cmdCtx.TelegramID,
			ChatID:     cmdCtx.ChatID,
			MessageID:  cmdCtx.MessageID,
		}
		// /queue 2 jumps straight to a page.
		if len(cmdCtx.Args) > 0 {
			if page, perr := strconv.Atoi(cmdCtx.Args[0]); perr == nil && page > 0 {
				req.Page = page
			}
		}
		resp, err := th.Handle(ctx, req)
		if err != nil {
			return fmt.Errorf("queue handler: %w", err)
		}
		return r.respond(ctx, cmdCtx, resp.Text, resp.ParseMode, resp.Keyboard, edit)

	case *handler.MyStatsHandler:
		resp, err := th.Handle(ctx, handler.MyStatsRequest{
			TelegramID: cmdCtx.TelegramID,
			ChatID:     cmdCtx.ChatID,
			MessageID:  cmdCtx.MessageID,
		})
		if err != nil {
			return fmt.Errorf("mystats handler: %w", err)
		}
		return r.respond(ctx, cmdCtx, resp.Text, resp.ParseMode, resp.Keyboard, edit)

	case *handler.AuditHandler:
		resp, err := th.Handle(ctx, handler.AuditRequest{
			TelegramID: cmdCtx.TelegramID,
			ChatID:     cmdCtx.ChatID,
			MessageID:  cmdCtx.MessageID,
			Args:       strings.Join(cmdCtx.Args, " "),
		})
		if err != nil {
			return fmt.Errorf("audit handler: %w", err)
		}
		return r.respond(ctx, cmdCtx, resp.Text, resp.ParseMode, resp.Keyboard, edit)

	case *handler.PreviewHandler:
		resp, err := th.Handle(ctx, handler.PreviewRequest{
			TelegramID: cmdCtx.TelegramID,
			ChatID:     cmdCtx.ChatID,
			MessageID:  cmdCtx.MessageID,
			Args:       strings.Join(cmdCtx.Args, " "),
		})
		if err != nil {
			return fmt.Errorf("preview handler: %w", err)
		}
		return r.respond(ctx, cmdCtx, resp.Text, resp.ParseMode, resp.Keyboard, edit)

	case *handler.InviteHandler:
		resp, err := th.Handle(ctx, handler.InviteRequest{
			TelegramID: cmdCtx.TelegramID,
			ChatID:     cmdCtx.ChatID,
			MessageID:  cmdCtx.MessageID,
			Args:       strings.Join(cmdCtx.Args, " "),
		})
		if err != nil {
			return fmt.Errorf("invite handler: %w", err)
		}
		return r.respond(ctx, cmdCtx, resp.Text, resp.ParseMode, resp.Keyboard, edit)

	case CommandHandler:
		return th.HandleCommand(ctx, cmdCtx)

	case func(ctx context.Context, cmdCtx *CommandContext) error:
		return th(ctx, cmdCtx)

	default:
		return fmt.Errorf("unsupported command handler type %T for /%s", h, cmdCtx.Command)
	}
}

// executeStartHandler runs /start, including deep link payloads
// (t.me/<bot>?start=<code> arrives as the first argument).
func (r *Router) executeStartHandler(ctx context.Context, cmdCtx *CommandContext, th *handler.StartHandler) error {
	req := handler.StartRequest{
		TelegramID: cmdCtx.TelegramID,
		ChatID:     cmdCtx.ChatID,
		MessageID:  cmdCtx.MessageID,
	}
	if cmdCtx.Message != nil && cmdCtx.Message.From != nil {
		req.TelegramUsername = cmdCtx.Message.From.Username
		req.FirstName = cmdCtx.Message.From.FirstName
	}
	if len(cmdCtx.Args) > 0 {
		req.DeepLinkParam = cmdCtx.Args[0]
	}

	resp, err := th.Handle(ctx, req)
	if err != nil {
		return fmt.Errorf("start handler: %w", err)
	}
	return r.respond(ctx, cmdCtx, resp.Text, resp.ParseMode, resp.Keyboard, false)
}

// ══════════════════════════════════════════════════════════════════════════════
// CALLBACK DISPATCH
// ══════════════════════════════════════════════════════════════════════════════

// HandleCallback dispatches a callback query by longest matching prefix.
func (r *Router) HandleCallback(ctx context.Context, cbCtx *CallbackContext) error {
	r.callbacksMu.RLock()
	var matched string
	var h interface{}
	for prefix, ph := range r.callbackPrefixHandlers {
		if strings.HasPrefix(cbCtx.Data, prefix) && len(prefix) > len(matched) {
			matched = prefix
			h = ph
		}
	}
	r.callbacksMu.RUnlock()

	if r.config.Debug {
		r.logger.Debug("routing callback",
			"data", cbCtx.Data,
			"telegram_id", cbCtx.TelegramID,
			"prefix", matched,
		)
	}

	if h == nil {
		if r.defaultCallbackHandler != nil {
			return r.defaultCallbackHandler(ctx, cbCtx)
		}
		return r.handleUnknownCallback(ctx, cbCtx)
	}

	return r.executeCallbackHandler(ctx, cbCtx, h)
}

// executeCallbackHandler invokes a registered callback handler.
func (r *Router) executeCallbackHandler(ctx context.Context, cbCtx *CallbackContext, h interface{}) error {
	switch th := h.(type) {
	case CallbackHandler:
		return th.HandleCallback(ctx, cbCtx)
	case CallbackFunc:
		return th(ctx, cbCtx)
	case func(ctx context.Context, cbCtx *CallbackContext) error:
		return th(ctx, cbCtx)
	default:
		return fmt.Errorf("unsupported callback handler type %T for %q", h, cbCtx.Data)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CALLBACK FACTORIES
// Each factory returns a closure that parses one callback data scheme and
// forwards to a typed handler. Factories are wired up in bot.go.
// ══════════════════════════════════════════════════════════════════════════════

// CreateCommandCallbackHandler handles "cmd:<command>" buttons by running
// the command and editing the message in place.
func (r *Router) CreateCommandCallbackHandler() CallbackFunc {
	return func(ctx context.Context, cbCtx *CallbackContext) error {
		parts := strings.SplitN(cbCtx.Data, ":", 2)
		if len(parts) != 2 || parts[1] == "" {
			return r.handleUnknownCallback(ctx, cbCtx)
		}

		r.answerCallback(ctx, cbCtx, "", false)
		return r.HandleCommandWithEdit(ctx, r.commandContextFromCallback(cbCtx, parts[1], nil))
	}
}

// CreateRefreshCallbackHandler handles "refresh:queue" and "refresh:stats"
// buttons by re-running the backing command into the same message.
func (r *Router) CreateRefreshCallbackHandler() CallbackFunc {
	return func(ctx context.Context, cbCtx *CallbackContext) error {
		parts := strings.SplitN(cbCtx.Data, ":", 2)
		if len(parts) != 2 {
			return r.handleUnknownCallback(ctx, cbCtx)
		}

		var command string
		switch parts[1] {
		case "queue":
			command = "queue"
		case "stats":
			command = "mystats"
		default:
			return r.handleUnknownCallback(ctx, cbCtx)
		}

		r.answerCallback(ctx, cbCtx, "🔄 Обновлено", false)
		return r.HandleCommandWithEdit(ctx, r.commandContextFromCallback(cbCtx, command, nil))
	}
}

// CreateRedeemCallbackHandler handles the "redeem:prompt" button on the
// onboarding message.
func (r *Router) CreateRedeemCallbackHandler(start *handler.StartHandler) CallbackFunc {
	return func(ctx context.Context, cbCtx *CallbackContext) error {
		r.answerCallback(ctx, cbCtx, "", false)

		resp := start.PromptForCode()
		return r.editResponse(ctx, cbCtx, resp.Text, resp.ParseMode, resp.Keyboard)
	}
}

// CreateUploadCallbackHandler handles the upload wizard buttons:
// "upload:unit:<id>", "upload:topic:<id>", "upload:units", "upload:cancel".
func (r *Router) CreateUploadCallbackHandler(upload *handler.UploadHandler) CallbackFunc {
	return func(ctx context.Context, cbCtx *CallbackContext) error {
		parts := strings.Split(cbCtx.Data, ":")
		if len(parts) < 2 {
			return r.handleUnknownCallback(ctx, cbCtx)
		}

		req := handler.UploadRequest{
			TelegramID: cbCtx.TelegramID,
			ChatID:     cbCtx.ChatID,
			MessageID:  cbCtx.MessageID,
		}

		var resp *handler.UploadResponse
		var err error

		switch parts[1] {
		case "unit":
			if len(parts) != 3 {
				return r.handleUnknownCallback(ctx, cbCtx)
			}
			unitID, perr := strconv.ParseInt(parts[2], 10, 64)
			if perr != nil {
				return r.handleUnknownCallback(ctx, cbCtx)
			}
			r.answerCallback(ctx, cbCtx, "", false)
			resp, err = upload.HandleUnitSelected(ctx, req, unitID)

		case "topic":
			if len(parts) != 3 {
				return r.handleUnknownCallback(ctx, cbCtx)
			}
			topicID, perr := strconv.ParseInt(parts[2], 10, 64)
			if perr != nil {
				return r.handleUnknownCallback(ctx, cbCtx)
			}
			r.answerCallback(ctx, cbCtx, "", false)
			resp, err = upload.HandleTopicSelected(ctx, req, topicID)

		case "units":
			r.answerCallback(ctx, cbCtx, "", false)
			resp, err = upload.HandleBackToUnits(ctx, req)

		case "cancel":
			r.answerCallback(ctx, cbCtx, "Загрузка отменена", false)
			resp, err = upload.HandleCancel(req)

		default:
			return r.handleUnknownCallback(ctx, cbCtx)
		}

		if err != nil {
			return fmt.Errorf("upload callback %q: %w", cbCtx.Data, err)
		}
		return r.editResponse(ctx, cbCtx, resp.Text, resp.ParseMode, resp.Keyboard)
	}
}

// CreateQueueCallbackHandler handles "queue:page:<n>" pagination buttons.
func (r *Router) CreateQueueCallbackHandler(queue *handler.QueueHandler) CallbackFunc {
	return func(ctx context.Context, cbCtx *CallbackContext) error {
		parts := strings.Split(cbCtx.Data, ":")
		if len(parts) != 3 || parts[1] != "page" {
			return r.handleUnknownCallback(ctx, cbCtx)
		}
		page, err := strconv.Atoi(parts[2])
		if err != nil || page < 1 {
			return r.handleUnknownCallback(ctx, cbCtx)
		}

		r.answerCallback(ctx, cbCtx, "", false)

		resp, err := queue.HandlePage(ctx, handler.QueueRequest{
			TelegramID: cbCtx.TelegramID,
			ChatID:     cbCtx.ChatID,
			MessageID:  cbCtx.MessageID,
		}, page)
		if err != nil {
			return fmt.Errorf("queue callback %q: %w", cbCtx.Data, err)
		}
		return r.editResponse(ctx, cbCtx, resp.Text, resp.ParseMode, resp.Keyboard)
	}
}

// CreateReviewCallbackHandler handles the review card buttons:
// "review:claim:<batch>", "review:accept:<candidate>",
// "review:reject:<candidate>", "review:release:<batch>",
// "review:abandon:<batch>", "review:abandonok:<batch>".
// The handler's toast (decision confirmations, expired lease alerts) is
// delivered through the callback answer.
func (r *Router) CreateReviewCallbackHandler(review *handler.ReviewHandler) CallbackFunc {
	return func(ctx context.Context, cbCtx *CallbackContext) error {
		parts := strings.Split(cbCtx.Data, ":")
		if len(parts) != 3 || parts[2] == "" {
			return r.handleUnknownCallback(ctx, cbCtx)
		}

		req := handler.ReviewRequest{
			TelegramID: cbCtx.TelegramID,
			ChatID:     cbCtx.ChatID,
			MessageID:  cbCtx.MessageID,
		}

		var resp *handler.ReviewResponse
		var err error

		switch parts[1] {
		case "claim":
			resp, err = review.HandleClaim(ctx, req, parts[2])
		case "accept":
			resp, err = review.HandleDecision(ctx, req, parts[2], "accept")
		case "reject":
			resp, err = review.HandleDecision(ctx, req, parts[2], "reject")
		case "release":
			resp, err = review.HandleRelease(ctx, req, parts[2])
		case "abandon":
			resp, err = review.HandleAbandonPrompt(ctx, req, parts[2])
		case "abandonok":
			resp, err = review.HandleAbandonConfirm(ctx, req, parts[2])
		default:
			return r.handleUnknownCallback(ctx, cbCtx)
		}

		if err != nil {
			r.answerCallback(ctx, cbCtx, "⚠️ Ошибка, попробуйте ещё раз", false)
			return fmt.Errorf("review callback %q: %w", cbCtx.Data, err)
		}

		r.answerCallback(ctx, cbCtx, resp.Toast, resp.ShowAlert)
		return r.editResponse(ctx, cbCtx, resp.Text, resp.ParseMode, resp.Keyboard)
	}
}

// CreateStatsCallbackHandler handles "stats:me" and "stats:top" toggles on
// the contributor stats message.
func (r *Router) CreateStatsCallbackHandler(stats *handler.MyStatsHandler) CallbackFunc {
	return func(ctx context.Context, cbCtx *CallbackContext) error {
		parts := strings.SplitN(cbCtx.Data, ":", 2)
		if len(parts) != 2 {
			return r.handleUnknownCallback(ctx, cbCtx)
		}

		req := handler.MyStatsRequest{
			TelegramID: cbCtx.TelegramID,
			ChatID:     cbCtx.ChatID,
			MessageID:  cbCtx.MessageID,
		}

		var resp *handler.MyStatsResponse
		var err error

		switch parts[1] {
		case "me":
			resp, err = stats.Handle(ctx, req)
		case "top":
			resp, err = stats.HandleTop(ctx, req)
		default:
			return r.handleUnknownCallback(ctx, cbCtx)
		}

		if err != nil {
			return fmt.Errorf("stats callback %q: %w", cbCtx.Data, err)
		}

		r.answerCallback(ctx, cbCtx, "", false)
		return r.editResponse(ctx, cbCtx, resp.Text, resp.ParseMode, resp.Keyboard)
	}
}

// CreateAuditCallbackHandler handles "audit:page:<kind>:<id>:<offset>"
// pagination on audit trail messages.
func (r *Router) CreateAuditCallbackHandler(audit *handler.AuditHandler) CallbackFunc {
	return func(ctx context.Context, cbCtx *CallbackContext) error {
		parts := strings.Split(cbCtx.Data, ":")
		if len(parts) != 5 || parts[1] != "page" {
			return r.handleUnknownCallback(ctx, cbCtx)
		}
		offset, err := strconv.Atoi(parts[4])
		if err != nil || offset < 0 {
			return r.handleUnknownCallback(ctx, cbCtx)
		}

		r.answerCallback(ctx, cbCtx, "", false)

		resp, err := audit.HandlePage(ctx, handler.AuditRequest{
			TelegramID: cbCtx.TelegramID,
			ChatID:     cbCtx.ChatID,
			MessageID:  cbCtx.MessageID,
		}, parts[2], parts[3], offset)
		if err != nil {
			return fmt.Errorf("audit callback %q: %w", cbCtx.Data, err)
		}
		return r.editResponse(ctx, cbCtx, resp.Text, resp.ParseMode, resp.Keyboard)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TEXT INPUT DISPATCH
// ══════════════════════════════════════════════════════════════════════════════

// HandleTextInput routes a plain text message. An upload wizard waiting
// for material wins; otherwise the text is treated as an access code.
func (r *Router) HandleTextInput(ctx context.Context, textCtx *TextInputContext) error {
	r.textMu.RLock()
	override := r.textInputHandler
	r.textMu.RUnlock()

	if override != nil {
		return override.HandleTextInput(ctx, textCtx)
	}

	if upload, ok := r.lookupUploadHandler(); ok && upload.InFlight(textCtx.TelegramID) {
		resp, err := upload.HandleText(ctx, handler.UploadRequest{
			TelegramID: textCtx.TelegramID,
			ChatID:     textCtx.ChatID,
			MessageID:  textCtx.MessageID,
		}, textCtx.Text)
		if err != nil {
			return fmt.Errorf("upload text input: %w", err)
		}
		return r.sendResponse(ctx, textCtx.Client, textCtx.ChatID, resp.Text, resp.ParseMode, resp.Keyboard)
	}

	r.commandsMu.RLock()
	h := r.commandHandlers["start"]
	r.commandsMu.RUnlock()

	start, ok := h.(*handler.StartHandler)
	if !ok {
		if r.config.Debug {
			r.logger.Debug("text input ignored, no start handler", "telegram_id", textCtx.TelegramID)
		}
		return nil
	}

	req := handler.StartRequest{
		TelegramID: textCtx.TelegramID,
		ChatID:     textCtx.ChatID,
		MessageID:  textCtx.MessageID,
	}
	if textCtx.Message != nil && textCtx.Message.From != nil {
		req.TelegramUsername = textCtx.Message.From.Username
		req.FirstName = textCtx.Message.From.FirstName
	}

	resp, err := start.HandleTextMessage(ctx, req, textCtx.Text)
	if err != nil {
		return fmt.Errorf("start text input: %w", err)
	}
	return r.sendResponse(ctx, textCtx.Client, textCtx.ChatID, resp.Text, resp.ParseMode, resp.Keyboard)
}

// HandleDocument routes an uploaded document to the upload wizard.
func (r *Router) HandleDocument(ctx context.Context, msgCtx *TextInputContext, doc *telegram.Document) error {
	upload, ok := r.lookupUploadHandler()
	if !ok || doc == nil {
		return nil
	}

	// Extraction and scoring take a while; keep the chat indicator on
	// so the uploader knows the bot is working.
	if msgCtx.Client != nil {
		_ = msgCtx.Client.SendChatAction(ctx, msgCtx.ChatID, "typing")
	}

	resp, err := upload.HandleDocument(ctx, handler.UploadRequest{
		TelegramID: msgCtx.TelegramID,
		ChatID:     msgCtx.ChatID,
		MessageID:  msgCtx.MessageID,
	}, handler.DocumentInput{
		FileID:   doc.FileID,
		FileName: doc.FileName,
		MimeType: doc.MimeType,
		FileSize: doc.FileSize,
	})
	if err != nil {
		return fmt.Errorf("document input: %w", err)
	}
	return r.sendResponse(ctx, msgCtx.Client, msgCtx.ChatID, resp.Text, resp.ParseMode, resp.Keyboard)
}

// HandlePhoto routes an uploaded photo to the upload wizard. Telegram
// sends several size variants; the largest goes to OCR.
func (r *Router) HandlePhoto(ctx context.Context, msgCtx *TextInputContext, photos []telegram.PhotoSize) error {
	upload, ok := r.lookupUploadHandler()
	if !ok || len(photos) == 0 {
		return nil
	}

	largest := telegram.LargestPhoto(photos)
	if largest == nil {
		return nil
	}

	if msgCtx.Client != nil {
		_ = msgCtx.Client.SendChatAction(ctx, msgCtx.ChatID, "typing")
	}

	resp, err := upload.HandlePhoto(ctx, handler.UploadRequest{
		TelegramID: msgCtx.TelegramID,
		ChatID:     msgCtx.ChatID,
		MessageID:  msgCtx.MessageID,
	}, largest.FileID, largest.FileSize)
	if err != nil {
		return fmt.Errorf("photo input: %w", err)
	}
	return r.sendResponse(ctx, msgCtx.Client, msgCtx.ChatID, resp.Text, resp.ParseMode, resp.Keyboard)
}

func (r *Router) lookupUploadHandler() (*handler.UploadHandler, bool) {
	r.commandsMu.RLock()
	h := r.commandHandlers["upload"]
	r.commandsMu.RUnlock()

	upload, ok := h.(*handler.UploadHandler)
	return upload, ok
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFAULT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleUnknownCommand replies with the command list.
func (r *Router) handleUnknownCommand(ctx context.Context, cmdCtx *CommandContext) error {
	if r.config.Debug {
		r.logger.Debug("unknown command", "command", cmdCtx.Command, "telegram_id", cmdCtx.TelegramID)
	}

	text := "🤔 Не знаю такой команды.\n\n" +
		"Доступные команды:\n" +
		"/upload — загрузить материалы\n" +
		"/queue — очередь ревью\n" +
		"/mystats — ваша статистика\n" +
		"/help — справка"

	if cmdCtx.Client == nil {
		return nil
	}
	_, err := cmdCtx.Client.SendHTML(ctx, cmdCtx.ChatID, text)
	return err
}

// handleUnknownCallback acknowledges a callback nothing matched. Stale
// keyboards from old messages end up here after a scheme change.
func (r *Router) handleUnknownCallback(ctx context.Context, cbCtx *CallbackContext) error {
	r.logger.Warn("unknown callback", "data", cbCtx.Data, "telegram_id", cbCtx.TelegramID)
	r.answerCallback(ctx, cbCtx, "Кнопка устарела, откройте раздел заново", false)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

// commandContextFromCallback rebuilds a command context from a button
// press so commands can be re-run behind "cmd:" and "refresh:" buttons.
func (r *Router) commandContextFromCallback(cbCtx *CallbackContext, command string, args []string) *CommandContext {
	cmdCtx := &CommandContext{
		Command:    command,
		Args:       args,
		TelegramID: cbCtx.TelegramID,
		ChatID:     cbCtx.ChatID,
		MessageID:  cbCtx.MessageID,
		Client:     cbCtx.Client,
	}
	if cbCtx.Query != nil {
		cmdCtx.Message = cbCtx.Query.Message
	}
	return cmdCtx
}

// respond renders a handler response, either as a new message or by
// editing the message the triggering button was attached to.
func (r *Router) respond(ctx context.Context, cmdCtx *CommandContext, text, parseMode string, kb *presenter.InlineKeyboard, edit bool) error {
	if edit {
		return r.editMessage(ctx, cmdCtx.Client, cmdCtx.ChatID, cmdCtx.MessageID, text, parseMode, kb)
	}
	return r.sendResponse(ctx, cmdCtx.Client, cmdCtx.ChatID, text, parseMode, kb)
}

// sendResponse sends a handler response as a new message.
func (r *Router) sendResponse(ctx context.Context, client *telegram.Client, chatID int64, text, parseMode string, kb *presenter.InlineKeyboard) error {
	if client == nil {
		return fmt.Errorf("send response: no client in context")
	}

	_, err := client.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:            chatID,
		Text:              text,
		ParseMode:         parseMode,
		DisableWebPreview: true,
		ReplyMarkup:       convertKeyboard(kb),
	})
	if err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	return nil
}

// editResponse edits the message a callback originated from.
func (r *Router) editResponse(ctx context.Context, cbCtx *CallbackContext, text, parseMode string, kb *presenter.InlineKeyboard) error {
	return r.editMessage(ctx, cbCtx.Client, cbCtx.ChatID, cbCtx.MessageID, text, parseMode, kb)
}

func (r *Router) editMessage(ctx context.Context, client *telegram.Client, chatID, messageID int64, text, parseMode string, kb *presenter.InlineKeyboard) error {
	if client == nil {
		return fmt.Errorf("edit response: no client in context")
	}

	_, err := client.EditMessageText(ctx, chatID, messageID, text, parseMode, convertKeyboard(kb))
	if err != nil {
		// Pressing refresh on an unchanged view is not an error.
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("edit response: %w", err)
	}
	return nil
}

// answerCallback acknowledges a callback query, optionally with a toast
// or an alert popup. Failures only get logged; the message edit is the
// part that matters.
func (r *Router) answerCallback(ctx context.Context, cbCtx *CallbackContext, text string, showAlert bool) {
	if cbCtx.Client == nil || cbCtx.Query == nil {
		return
	}
	if err := cbCtx.Client.AnswerCallbackQuery(ctx, cbCtx.Query.ID, text, showAlert); err != nil {
		r.logger.Debug("answer callback failed", "error", err, "data", cbCtx.Data)
	}
}

// convertKeyboard converts a presenter keyboard to the Bot API format.
func convertKeyboard(kb *presenter.InlineKeyboard) *telegram.InlineKeyboardMarkup {
	if kb == nil || len(kb.Rows) == 0 {
		return nil
	}

	markup := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: make([][]telegram.InlineKeyboardButton, 0, len(kb.Rows)),
	}
	for _, row := range kb.Rows {
		buttons := make([]telegram.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, telegram.InlineKeyboardButton{
				Text:         btn.Text,
				CallbackData: btn.CallbackData,
				URL:          btn.URL,
			})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, buttons)
	}
	return markup
}

// ══════════════════════════════════════════════════════════════════════════════
// INTROSPECTION
// ══════════════════════════════════════════════════════════════════════════════

// GetRegisteredCommands returns registered command names, sorted.
func (r *Router) GetRegisteredCommands() []string {
	r.commandsMu.RLock()
	defer r.commandsMu.RUnlock()

	commands := make([]string, 0, len(r.commandHandlers))
	for cmd := range r.commandHandlers {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	return commands
}

// GetRegisteredCallbackPrefixes returns registered callback prefixes, sorted.
func (r *Router) GetRegisteredCallbackPrefixes() []string {
	r.callbacksMu.RLock()
	defer r.callbacksMu.RUnlock()

	prefixes := make([]string, 0, len(r.callbackPrefixHandlers))
	for prefix := range r.callbackPrefixHandlers {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	return prefixes
}
