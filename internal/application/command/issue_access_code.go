package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ISSUE ACCESS CODE COMMAND
// Mints a one-time admin access code. The plaintext code appears in the
// result exactly once; only its hash is stored.
// ══════════════════════════════════════════════════════════════════════════════

// IssueAccessCodeCommand contains the data needed to issue a code.
type IssueAccessCodeCommand struct {
	// IssuerID is the Telegram id of the issuing super admin.
	IssuerID int64

	// TTL is the code lifetime. Zero means the domain default.
	TTL time.Duration
}

// Validate validates the command.
func (c IssueAccessCodeCommand) Validate() error {
	if c.IssuerID <= 0 {
		return errors.New("issue_access_code: issuer_id is required")
	}
	if c.TTL < 0 {
		return errors.New("issue_access_code: ttl cannot be negative")
	}
	return nil
}

// IssueAccessCodeResult contains the outcome of the issuance.
type IssueAccessCodeResult struct {
	// Code is the plaintext code. Shown to the issuer once and never
	// stored anywhere.
	Code string

	// CodeID is the storage id of the issued code.
	CodeID int64

	// ExpiresAt is when the code stops being redeemable.
	ExpiresAt time.Time

	// Events contains domain events generated during issuance.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// IssueAccessCodeHandler handles the IssueAccessCodeCommand.
type IssueAccessCodeHandler struct {
	adminRepo      admin.Repository
	codeRepo       admin.AccessCodeRepository
	generator      admin.CodeGenerator
	hasher         admin.CodeHasher
	eventPublisher shared.EventPublisher
	logger         *slog.Logger

	// Configuration
	now func() time.Time
}

// IssueAccessCodeHandlerConfig contains handler configuration.
type IssueAccessCodeHandlerConfig struct {
	// Clock returns the current time. Nil means UTC wall clock.
	Clock func() time.Time

	// Logger receives warnings about dropped domain events.
	Logger *slog.Logger
}

// NewIssueAccessCodeHandler creates a new issue access code handler.
func NewIssueAccessCodeHandler(
	adminRepo admin.Repository,
	codeRepo admin.AccessCodeRepository,
	generator admin.CodeGenerator,
	hasher admin.CodeHasher,
	eventPublisher shared.EventPublisher,
	config IssueAccessCodeHandlerConfig,
) *IssueAccessCodeHandler {
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &IssueAccessCodeHandler{
		adminRepo:      adminRepo,
		codeRepo:       codeRepo,
		generator:      generator,
		hasher:         hasher,
		eventPublisher: eventPublisher,
		logger:         config.Logger,
		now:            config.Clock,
	}
}

// Handle executes the issue access code command.
func (h *IssueAccessCodeHandler) Handle(ctx context.Context, cmd IssueAccessCodeCommand) (*IssueAccessCodeResult, error) {
	// 1. Validate command
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	// 2. Only super admins issue codes
	issuer, err := loadActor(ctx, h.adminRepo, cmd.IssuerID)
	if err != nil {
		return nil, fmt.Errorf("issue_access_code: %w", err)
	}
	if !issuer.Role.IsElevated() {
		return nil, fmt.Errorf("issue_access_code: %w", shared.ErrAdminNotAuthorized)
	}

	// 3. Mint the code
	code, err := h.generator.NewCode()
	if err != nil {
		return nil, fmt.Errorf("issue_access_code: generate code: %w", err)
	}

	hash, err := h.hasher.Hash(code)
	if err != nil {
		return nil, fmt.Errorf("issue_access_code: hash code: %w", err)
	}

	accessCode, err := admin.NewAccessCode(admin.NewAccessCodeParams{
		CodeHash:  hash,
		CreatedBy: issuer.TelegramID,
		TTL:       cmd.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("issue_access_code: %w", err)
	}

	// 4. Persist
	if err := h.codeRepo.Save(ctx, accessCode); err != nil {
		return nil, fmt.Errorf("issue_access_code: save code: %w", err)
	}

	result := &IssueAccessCodeResult{
		Code:      code,
		CodeID:    accessCode.ID,
		ExpiresAt: accessCode.ExpiresAt,
	}

	// 5. Publish domain events (best-effort)
	result.Events = append(result.Events, shared.NewAccessCodeIssuedEvent(
		fmt.Sprintf("code:%d", accessCode.ID), cmd.IssuerID, accessCode.ExpiresAt,
	))
	publishEvents(h.eventPublisher, h.logger, "issue_access_code", result.Events)

	return result, nil
}
