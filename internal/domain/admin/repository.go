package admin

import (
	"context"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// Repository defines the interface for admin persistence.
// Review scopes are part of the admin aggregate and are saved with it.
type Repository interface {
	// Save persists a new admin.
	Save(ctx context.Context, a *Admin) error

	// Update persists changes to an existing admin, scopes included.
	Update(ctx context.Context, a *Admin) error

	// GetByTelegramID returns an admin by Telegram id.
	GetByTelegramID(ctx context.Context, id shared.TelegramID) (*Admin, error)

	// ListByRole returns active admins with the given role.
	ListByRole(ctx context.Context, role shared.Role) ([]*Admin, error)

	// ListReviewers returns active admins able to work the review queue.
	// Used by review notifications and the daily digest.
	ListReviewers(ctx context.Context) ([]*Admin, error)
}

// AccessCodeRepository defines the interface for access code persistence.
type AccessCodeRepository interface {
	// Save persists a new code and assigns its ID.
	Save(ctx context.Context, c *AccessCode) error

	// Update persists redemption or revocation.
	Update(ctx context.Context, c *AccessCode) error

	// GetByID returns a code by its ID.
	GetByID(ctx context.Context, id int64) (*AccessCode, error)

	// ListRedeemable returns active, unused, unexpired codes. Redemption
	// compares the presented code against each returned hash; the set is
	// small by construction.
	ListRedeemable(ctx context.Context, now time.Time) ([]*AccessCode, error)

	// ListActive returns active unexpired codes for the issuer overview.
	ListActive(ctx context.Context, now time.Time) ([]*AccessCode, error)

	// DeactivateExpired marks expired active codes inactive and returns
	// how many were affected. Called by the cleanup job.
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)
}
