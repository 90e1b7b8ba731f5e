// Package admin содержит доменную модель администратора контента:
// роли, области ревью и одноразовые коды доступа.
package admin

import (
	"errors"
	"fmt"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// ReviewScope ограничивает ревью администратора одним курсом или целым
// университетом. Администратор без областей видит всё.
type ReviewScope struct {
	// UniversityID - университет области.
	UniversityID int64

	// CourseID - курс внутри университета (0 = весь университет).
	CourseID int64
}

// IsValid проверяет корректность области.
func (s ReviewScope) IsValid() bool {
	return s.UniversityID > 0 && s.CourseID >= 0
}

// Covers проверяет, покрывает ли область указанный курс.
func (s ReviewScope) Covers(universityID, courseID int64) bool {
	if s.UniversityID != universityID {
		return false
	}
	return s.CourseID == 0 || s.CourseID == courseID
}

// String возвращает печатную форму области.
func (s ReviewScope) String() string {
	if s.CourseID == 0 {
		return fmt.Sprintf("university:%d", s.UniversityID)
	}
	return fmt.Sprintf("university:%d/course:%d", s.UniversityID, s.CourseID)
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrAdminNotFound - администратор не найден.
	ErrAdminNotFound = errors.New("admin not found")

	// ErrNotAuthorized - у актора нет прав на операцию.
	ErrNotAuthorized = errors.New("actor is not authorized for this operation")

	// ErrAlreadyHasRole - пользователь уже имеет эту или более высокую роль.
	ErrAlreadyHasRole = errors.New("user already has this role or higher")

	// ErrInactive - администратор деактивирован.
	ErrInactive = errors.New("admin is deactivated")

	// ErrScopeExists - такая область уже назначена.
	ErrScopeExists = errors.New("review scope already assigned")

	// ErrScopeNotFound - область не найдена.
	ErrScopeNotFound = errors.New("review scope not found")

	// ErrInvalidScope - некорректная область ревью.
	ErrInvalidScope = errors.New("invalid review scope")
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: ADMIN
// ══════════════════════════════════════════════════════════════════════════════

// Admin - пользователь с правами в конвейере модерации.
type Admin struct {
	// TelegramID - идентификатор пользователя Telegram.
	TelegramID shared.TelegramID

	// Username - username в Telegram (может быть пустым).
	Username string

	// FirstName - имя пользователя.
	FirstName string

	// Role - текущая роль.
	Role shared.Role

	// Scopes - области ревью. Пустой список означает отсутствие
	// ограничений в рамках роли.
	Scopes []ReviewScope

	// IsActive - false после деактивации.
	IsActive bool

	// PromotedBy - кто выдал текущую роль (0 = начальная роль).
	PromotedBy shared.TelegramID

	// PromotedAt - когда выдана текущая роль.
	PromotedAt time.Time

	// CreatedAt - момент первого появления пользователя.
	CreatedAt time.Time

	// UpdatedAt - момент последнего изменения.
	UpdatedAt time.Time
}

// NewAdminParams содержит параметры для создания администратора.
type NewAdminParams struct {
	TelegramID shared.TelegramID
	Username   string
	FirstName  string
	Role       shared.Role
}

// NewAdmin создаёт администратора с валидацией полей.
func NewAdmin(params NewAdminParams) (*Admin, error) {
	if !params.TelegramID.IsValid() {
		return nil, errors.New("telegram id is required")
	}

	role := params.Role
	if role == "" {
		role = shared.RoleStudent
	}
	if !role.IsValid() || role == shared.RoleSystem {
		return nil, fmt.Errorf("invalid role %q", params.Role)
	}

	now := time.Now().UTC()

	return &Admin{
		TelegramID: params.TelegramID,
		Username:   params.Username,
		FirstName:  params.FirstName,
		Role:       role,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BUSINESS METHODS
// ══════════════════════════════════════════════════════════════════════════════

// Actor возвращает актора для передачи в команды конвейера.
func (a *Admin) Actor() shared.Actor {
	return shared.Actor{ID: a.TelegramID, Role: a.Role}
}

// CanReview возвращает true, если администратор может работать
// с очередью ревью.
func (a *Admin) CanReview() bool {
	return a.IsActive && a.Role.CanReview()
}

// CanUpload возвращает true, если администратор может загружать партии.
func (a *Admin) CanUpload() bool {
	return a.IsActive && a.Role.CanUpload()
}

// IsUnrestricted возвращает true, если очередь ревью не фильтруется
// по областям: супер-администратор или администратор без областей.
func (a *Admin) IsUnrestricted() bool {
	return a.Role.IsElevated() || len(a.Scopes) == 0
}

// CoversCourse проверяет, покрывают ли области администратора курс.
func (a *Admin) CoversCourse(universityID, courseID int64) bool {
	if a.IsUnrestricted() {
		return true
	}
	for _, s := range a.Scopes {
		if s.Covers(universityID, courseID) {
			return true
		}
	}
	return false
}

// Promote повышает роль. Допустимые переходы: student -> admin,
// admin -> super_admin. Понижение выполняется отдельной операцией.
func (a *Admin) Promote(to shared.Role, by shared.TelegramID, now time.Time) error {
	if !a.IsActive {
		return ErrInactive
	}

	valid := (a.Role == shared.RoleStudent && to == shared.RoleAdmin) ||
		(a.Role == shared.RoleAdmin && to == shared.RoleSuperAdmin)
	if !valid {
		return fmt.Errorf("%w: %s -> %s", ErrAlreadyHasRole, a.Role, to)
	}

	a.Role = to
	a.PromotedBy = by
	a.PromotedAt = now
	a.UpdatedAt = now

	return nil
}

// Demote сбрасывает роль до student и очищает области.
func (a *Admin) Demote(by shared.TelegramID, now time.Time) error {
	if a.Role == shared.RoleStudent {
		return fmt.Errorf("%w: already a student", ErrAlreadyHasRole)
	}

	a.Role = shared.RoleStudent
	a.Scopes = nil
	a.PromotedBy = by
	a.PromotedAt = now
	a.UpdatedAt = now

	return nil
}

// Deactivate отключает администратора без удаления.
func (a *Admin) Deactivate(now time.Time) {
	a.IsActive = false
	a.UpdatedAt = now
}

// AddScope назначает область ревью.
func (a *Admin) AddScope(scope ReviewScope, now time.Time) error {
	if !scope.IsValid() {
		return ErrInvalidScope
	}

	for _, s := range a.Scopes {
		if s == scope {
			return ErrScopeExists
		}
	}

	a.Scopes = append(a.Scopes, scope)
	a.UpdatedAt = now

	return nil
}

// RemoveScope снимает область ревью.
func (a *Admin) RemoveScope(scope ReviewScope, now time.Time) error {
	for i, s := range a.Scopes {
		if s == scope {
			a.Scopes = append(a.Scopes[:i], a.Scopes[i+1:]...)
			a.UpdatedAt = now
			return nil
		}
	}
	return ErrScopeNotFound
}

// DisplayName возвращает имя для сообщений и дайджестов.
func (a *Admin) DisplayName() string {
	if a.FirstName != "" {
		return a.FirstName
	}
	if a.Username != "" {
		return "@" + a.Username
	}
	return a.TelegramID.String()
}

// String возвращает строковое представление для логирования.
func (a *Admin) String() string {
	return fmt.Sprintf("Admin{ID: %d, Role: %s, Scopes: %d, Active: %t}",
		a.TelegramID, a.Role, len(a.Scopes), a.IsActive)
}
