package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/audit"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDEEM ACCESS CODE COMMAND
// Exchanges a one-time code for the admin role. The presented code is
// compared against stored hashes; a match burns the code and promotes
// the user.
// ══════════════════════════════════════════════════════════════════════════════

// RedeemAccessCodeCommand contains the data needed to redeem a code.
type RedeemAccessCodeCommand struct {
	// UserID is the Telegram id of the redeeming user.
	UserID int64

	// Username is the user's Telegram username (may be empty).
	Username string

	// FirstName is the user's first name.
	FirstName string

	// Code is the presented plaintext code.
	Code string
}

// Validate validates the command.
func (c RedeemAccessCodeCommand) Validate() error {
	if c.UserID <= 0 {
		return errors.New("redeem_access_code: user_id is required")
	}
	if strings.TrimSpace(c.Code) == "" {
		return errors.New("redeem_access_code: code is required")
	}
	return nil
}

// RedeemAccessCodeResult contains the outcome of the redemption.
type RedeemAccessCodeResult struct {
	// Role is the role granted to the user.
	Role string

	// PromotedBy is the super admin who issued the burned code.
	PromotedBy int64

	// Events contains domain events generated during redemption.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RedeemAccessCodeHandler handles the RedeemAccessCodeCommand.
type RedeemAccessCodeHandler struct {
	adminRepo      admin.Repository
	codeRepo       admin.AccessCodeRepository
	hasher         admin.CodeHasher
	auditRepo      audit.Repository
	eventPublisher shared.EventPublisher
	logger         *slog.Logger

	// Configuration
	now func() time.Time
}

// RedeemAccessCodeHandlerConfig contains handler configuration.
type RedeemAccessCodeHandlerConfig struct {
	// Clock returns the current time. Nil means UTC wall clock.
	Clock func() time.Time

	// Logger receives warnings about dropped domain events.
	Logger *slog.Logger
}

// NewRedeemAccessCodeHandler creates a new redeem access code handler.
func NewRedeemAccessCodeHandler(
	adminRepo admin.Repository,
	codeRepo admin.AccessCodeRepository,
	hasher admin.CodeHasher,
	auditRepo audit.Repository,
	eventPublisher shared.EventPublisher,
	config RedeemAccessCodeHandlerConfig,
) *RedeemAccessCodeHandler {
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &RedeemAccessCodeHandler{
		adminRepo:      adminRepo,
		codeRepo:       codeRepo,
		hasher:         hasher,
		auditRepo:      auditRepo,
		eventPublisher: eventPublisher,
		logger:         config.Logger,
		now:            config.Clock,
	}
}

// Handle executes the redeem access code command.
func (h *RedeemAccessCodeHandler) Handle(ctx context.Context, cmd RedeemAccessCodeCommand) (*RedeemAccessCodeResult, error) {
	// 1. Validate command
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.now()
	code := strings.TrimSpace(cmd.Code)

	// 2. Match the presented code against active hashes. The redeemable
	// set is small, so the scan is bounded.
	accessCode, err := h.matchCode(ctx, code, now)
	if err != nil {
		return nil, fmt.Errorf("redeem_access_code: %w", err)
	}

	// 3. Burn the code
	if err := accessCode.Redeem(shared.TelegramID(cmd.UserID), now); err != nil {
		return nil, fmt.Errorf("redeem_access_code: %w", err)
	}

	// 4. Promote the user, creating the record on first contact
	a, oldRole, err := h.promote(ctx, cmd, accessCode.CreatedBy, now)
	if err != nil {
		return nil, fmt.Errorf("redeem_access_code: %w", err)
	}

	if err := h.codeRepo.Update(ctx, accessCode); err != nil {
		return nil, fmt.Errorf("redeem_access_code: update code: %w", err)
	}

	// 5. Record the promotion
	promotedRec, err := audit.NewRecord(audit.NewRecordParams{
		TargetKind: audit.TargetAdmin,
		TargetID:   a.TelegramID.String(),
		Action:     audit.ActionAdminPromoted,
		Field:      audit.FieldRole,
		OldValue:   string(oldRole),
		NewValue:   string(a.Role),
		Actor:      shared.Actor{ID: accessCode.CreatedBy, Role: shared.RoleSuperAdmin},
		OccurredAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("redeem_access_code: audit: %w", err)
	}
	if err := h.auditRepo.Save(ctx, promotedRec); err != nil {
		return nil, fmt.Errorf("redeem_access_code: save audit record: %w", err)
	}

	result := &RedeemAccessCodeResult{
		Role:       string(a.Role),
		PromotedBy: accessCode.CreatedBy.Int64(),
	}

	// 6. Publish domain events (best-effort)
	result.Events = append(result.Events, shared.NewAdminPromotedEvent(
		a.TelegramID.String(), accessCode.CreatedBy.Int64(), 0, 0,
	))
	publishEvents(h.eventPublisher, h.logger, "redeem_access_code", result.Events)

	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// matchCode finds the active code whose hash matches the presented
// plaintext. A miss returns ErrAccessCodeNotFound without revealing
// whether any code exists at all.
func (h *RedeemAccessCodeHandler) matchCode(ctx context.Context, code string, now time.Time) (*admin.AccessCode, error) {
	candidates, err := h.codeRepo.ListRedeemable(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list redeemable codes: %w", err)
	}

	for _, c := range candidates {
		if h.hasher.Compare(c.CodeHash, code) {
			return c, nil
		}
	}

	return nil, shared.ErrAccessCodeNotFound
}

// promote grants the admin role, registering the user first if this is
// their first contact with the pipeline.
func (h *RedeemAccessCodeHandler) promote(ctx context.Context, cmd RedeemAccessCodeCommand, by shared.TelegramID, now time.Time) (*admin.Admin, shared.Role, error) {
	a, err := h.adminRepo.GetByTelegramID(ctx, shared.TelegramID(cmd.UserID))

	switch {
	case err == nil:
		oldRole := a.Role
		if err := a.Promote(shared.RoleAdmin, by, now); err != nil {
			return nil, "", err
		}
		if err := h.adminRepo.Update(ctx, a); err != nil {
			return nil, "", fmt.Errorf("update admin: %w", err)
		}
		return a, oldRole, nil

	case shared.IsNotFound(err):
		a, err := admin.NewAdmin(admin.NewAdminParams{
			TelegramID: shared.TelegramID(cmd.UserID),
			Username:   cmd.Username,
			FirstName:  cmd.FirstName,
			Role:       shared.RoleStudent,
		})
		if err != nil {
			return nil, "", err
		}
		if err := a.Promote(shared.RoleAdmin, by, now); err != nil {
			return nil, "", err
		}
		if err := h.adminRepo.Save(ctx, a); err != nil {
			return nil, "", fmt.Errorf("save admin: %w", err)
		}
		return a, shared.RoleStudent, nil

	default:
		return nil, "", fmt.Errorf("load admin: %w", err)
	}
}
