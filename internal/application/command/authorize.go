package command

import (
	"context"
	"fmt"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/curriculum"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTOR AUTHORIZATION
// Shared by the pipeline commands. Roles are checked here, in the
// application layer; the Telegram middleware only identifies the user.
// ══════════════════════════════════════════════════════════════════════════════

// requireUploader loads the acting admin and checks upload rights.
func requireUploader(ctx context.Context, repo admin.Repository, id int64) (*admin.Admin, error) {
	a, err := loadActor(ctx, repo, id)
	if err != nil {
		return nil, err
	}

	if !a.CanUpload() {
		return nil, shared.ErrAdminNotAuthorized
	}

	return a, nil
}

// requireReviewer loads the acting admin and checks review queue rights.
func requireReviewer(ctx context.Context, repo admin.Repository, id int64) (*admin.Admin, error) {
	a, err := loadActor(ctx, repo, id)
	if err != nil {
		return nil, err
	}

	if !a.CanReview() {
		return nil, shared.ErrAdminNotAuthorized
	}

	return a, nil
}

// requireScope checks that the topic lies inside the admin's review
// scopes. Unrestricted admins pass without a curriculum lookup.
func requireScope(ctx context.Context, topics curriculum.Repository, a *admin.Admin, topicID shared.TopicID) error {
	if a.IsUnrestricted() {
		return nil
	}

	path, err := topics.GetTopicPath(ctx, topicID)
	if err != nil {
		return fmt.Errorf("resolve topic path: %w", err)
	}

	if !a.CoversCourse(path.University.ID, path.Course.ID) {
		return shared.ErrScopeViolation
	}

	return nil
}

// loadActor returns the admin entity for a Telegram id. An unknown user
// is treated as unauthorized rather than as a missing entity.
func loadActor(ctx context.Context, repo admin.Repository, id int64) (*admin.Admin, error) {
	telegramID, err := shared.NewTelegramID(id)
	if err != nil {
		return nil, err
	}

	a, err := repo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.ErrAdminNotAuthorized
		}
		return nil, fmt.Errorf("load actor %d: %w", id, err)
	}

	if !a.IsActive {
		return nil, shared.ErrAdminNotAuthorized
	}

	return a, nil
}
