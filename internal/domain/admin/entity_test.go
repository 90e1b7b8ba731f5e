package admin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

var adminNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestAdmin(t *testing.T, role shared.Role) *Admin {
	t.Helper()

	a, err := NewAdmin(NewAdminParams{
		TelegramID: shared.TelegramID(200),
		Username:   "dr_amina",
		FirstName:  "Amina",
		Role:       role,
	})
	require.NoError(t, err)
	return a
}

func TestNewAdmin(t *testing.T) {
	a := newTestAdmin(t, shared.RoleAdmin)

	assert.True(t, a.IsActive)
	assert.True(t, a.CanReview())
	assert.True(t, a.CanUpload())
	assert.True(t, a.IsUnrestricted())

	_, err := NewAdmin(NewAdminParams{TelegramID: 0})
	assert.Error(t, err)

	_, err = NewAdmin(NewAdminParams{TelegramID: 1, Role: shared.RoleSystem})
	assert.Error(t, err)

	// Пустая роль означает обычного пользователя.
	a, err = NewAdmin(NewAdminParams{TelegramID: 1})
	require.NoError(t, err)
	assert.Equal(t, shared.RoleStudent, a.Role)
	assert.False(t, a.CanReview())
}

func TestPromote(t *testing.T) {
	a := newTestAdmin(t, shared.RoleStudent)

	err := a.Promote(shared.RoleAdmin, 999, adminNow)
	require.NoError(t, err)
	assert.Equal(t, shared.RoleAdmin, a.Role)
	assert.Equal(t, shared.TelegramID(999), a.PromotedBy)
	assert.Equal(t, adminNow, a.PromotedAt)

	err = a.Promote(shared.RoleSuperAdmin, 999, adminNow)
	require.NoError(t, err)
	assert.Equal(t, shared.RoleSuperAdmin, a.Role)

	// Повышать выше некуда.
	err = a.Promote(shared.RoleSuperAdmin, 999, adminNow)
	assert.ErrorIs(t, err, ErrAlreadyHasRole)
}

func TestPromote_SkippingTierRejected(t *testing.T) {
	a := newTestAdmin(t, shared.RoleStudent)

	err := a.Promote(shared.RoleSuperAdmin, 999, adminNow)
	assert.ErrorIs(t, err, ErrAlreadyHasRole)
	assert.Equal(t, shared.RoleStudent, a.Role)
}

func TestPromote_InactiveRejected(t *testing.T) {
	a := newTestAdmin(t, shared.RoleStudent)
	a.Deactivate(adminNow)

	err := a.Promote(shared.RoleAdmin, 999, adminNow)
	assert.ErrorIs(t, err, ErrInactive)
	assert.False(t, a.CanReview())
}

func TestDemote(t *testing.T) {
	a := newTestAdmin(t, shared.RoleAdmin)
	require.NoError(t, a.AddScope(ReviewScope{UniversityID: 1, CourseID: 2}, adminNow))

	err := a.Demote(999, adminNow)
	require.NoError(t, err)
	assert.Equal(t, shared.RoleStudent, a.Role)
	assert.Empty(t, a.Scopes)

	assert.ErrorIs(t, a.Demote(999, adminNow), ErrAlreadyHasRole)
}

func TestScopes(t *testing.T) {
	a := newTestAdmin(t, shared.RoleAdmin)

	course := ReviewScope{UniversityID: 1, CourseID: 2}
	require.NoError(t, a.AddScope(course, adminNow))

	assert.False(t, a.IsUnrestricted())
	assert.True(t, a.CoversCourse(1, 2))
	assert.False(t, a.CoversCourse(1, 3))
	assert.False(t, a.CoversCourse(2, 2))

	assert.ErrorIs(t, a.AddScope(course, adminNow), ErrScopeExists)
	assert.ErrorIs(t, a.AddScope(ReviewScope{}, adminNow), ErrInvalidScope)

	// Область на весь университет покрывает любой его курс.
	wholeUni := ReviewScope{UniversityID: 1}
	require.NoError(t, a.AddScope(wholeUni, adminNow))
	assert.True(t, a.CoversCourse(1, 3))

	require.NoError(t, a.RemoveScope(course, adminNow))
	require.NoError(t, a.RemoveScope(wholeUni, adminNow))
	assert.ErrorIs(t, a.RemoveScope(course, adminNow), ErrScopeNotFound)

	// Без областей ограничения снимаются.
	assert.True(t, a.IsUnrestricted())
}

func TestSuperAdminIgnoresScopes(t *testing.T) {
	a := newTestAdmin(t, shared.RoleSuperAdmin)
	require.NoError(t, a.AddScope(ReviewScope{UniversityID: 1, CourseID: 2}, adminNow))

	assert.True(t, a.IsUnrestricted())
	assert.True(t, a.CoversCourse(7, 7))
}

func TestDisplayName(t *testing.T) {
	a := newTestAdmin(t, shared.RoleAdmin)
	assert.Equal(t, "Amina", a.DisplayName())

	a.FirstName = ""
	assert.Equal(t, "@dr_amina", a.DisplayName())

	a.Username = ""
	assert.Equal(t, "200", a.DisplayName())
}
