package query

import (
	"context"
	"errors"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/audit"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET AUDIT TRAIL QUERY
// Возвращает журнал аудита по цели (партии, кандидату, администратору)
// или по актору за период. Журнал только дописывается, поэтому запрос
// безопасен в любой момент.
// ══════════════════════════════════════════════════════════════════════════════

// GetAuditTrailQuery содержит параметры запроса журнала.
type GetAuditTrailQuery struct {
	// TargetKind - тип цели: "batch", "candidate" или "admin".
	// Пустое значение переключает запрос в режим поиска по актору.
	TargetKind string

	// TargetID - идентификатор цели.
	TargetID string

	// ActorID - Telegram ID актора для режима поиска по актору.
	ActorID int64

	// Days - глубина периода в днях для режима поиска по актору
	// (по умолчанию 7, максимум 90).
	Days int

	// Limit - количество записей (по умолчанию 20, максимум 100).
	Limit int

	// Offset - смещение для пагинации.
	Offset int
}

// Validate проверяет корректность параметров запроса.
func (q *GetAuditTrailQuery) Validate() error {
	byTarget := q.TargetKind != "" || q.TargetID != ""
	byActor := q.ActorID > 0

	if byTarget == byActor {
		return errors.New("exactly one of target or actor_id must be provided")
	}

	if byTarget {
		if !audit.TargetKind(q.TargetKind).IsValid() {
			return errors.New("unknown target kind")
		}
		if q.TargetID == "" {
			return errors.New("target_id is required")
		}
	}

	if q.Days <= 0 {
		q.Days = 7
	}
	if q.Days > 90 {
		q.Days = 90
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		return errors.New("offset cannot be negative")
	}

	return nil
}

// AuditEntryDTO - DTO одной записи журнала.
type AuditEntryDTO struct {
	// TargetKind - тип цели записи.
	TargetKind string `json:"target_kind"`

	// TargetID - идентификатор цели.
	TargetID string `json:"target_id"`

	// Action - действие, породившее запись.
	Action string `json:"action"`

	// Field - имя изменённого поля.
	Field string `json:"field"`

	// OldValue - прежнее значение.
	OldValue string `json:"old_value"`

	// NewValue - новое значение.
	NewValue string `json:"new_value"`

	// ActorID - Telegram ID актора (0 для системных мутаций).
	ActorID int64 `json:"actor_id"`

	// ActorRole - роль актора на момент действия.
	ActorRole string `json:"actor_role"`

	// IsSystem - true для записей о системных мутациях.
	IsSystem bool `json:"is_system"`

	// CreatedAt - момент мутации.
	CreatedAt time.Time `json:"created_at"`
}

// GetAuditTrailResult содержит результат запроса журнала.
type GetAuditTrailResult struct {
	// Entries - записи журнала: хронологически для цели,
	// новейшие первыми для актора.
	Entries []AuditEntryDTO `json:"entries"`

	// TotalCount - общее количество записей по цели
	// (для режима поиска по актору равно числу возвращённых записей).
	TotalCount int `json:"total_count"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetAuditTrailHandler обрабатывает запросы журнала аудита.
type GetAuditTrailHandler struct {
	auditRepo audit.Repository

	now func() time.Time
}

// GetAuditTrailHandlerConfig содержит конфигурацию обработчика.
type GetAuditTrailHandlerConfig struct {
	// Clock возвращает текущее время. Nil означает UTC.
	Clock func() time.Time
}

// NewGetAuditTrailHandler создаёт новый обработчик журнала аудита.
func NewGetAuditTrailHandler(auditRepo audit.Repository, config GetAuditTrailHandlerConfig) *GetAuditTrailHandler {
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &GetAuditTrailHandler{
		auditRepo: auditRepo,
		now:       config.Clock,
	}
}

// Handle выполняет запрос журнала аудита.
func (h *GetAuditTrailHandler) Handle(ctx context.Context, query GetAuditTrailQuery) (*GetAuditTrailResult, error) {
	// Валидация входных данных
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetAuditTrail", shared.ErrValidation, err.Error(), err)
	}

	now := h.now()

	var (
		records []*audit.Record
		total   int
		err     error
	)

	if query.ActorID > 0 {
		tr := shared.TimeRange{From: now.AddDate(0, 0, -query.Days), To: now}

		records, err = h.auditRepo.ListByActor(ctx, shared.TelegramID(query.ActorID), tr, query.Limit, query.Offset)
		if err != nil {
			return nil, shared.WrapError("query", "GetAuditTrail", shared.ErrNotFound, "failed to list by actor", err)
		}
		total = len(records)
	} else {
		kind := audit.TargetKind(query.TargetKind)

		records, err = h.auditRepo.ListByTarget(ctx, kind, query.TargetID, query.Limit, query.Offset)
		if err != nil {
			return nil, shared.WrapError("query", "GetAuditTrail", shared.ErrNotFound, "failed to list by target", err)
		}

		total, err = h.auditRepo.CountByTarget(ctx, kind, query.TargetID)
		if err != nil {
			return nil, shared.WrapError("query", "GetAuditTrail", shared.ErrNotFound, "failed to count by target", err)
		}
	}

	entries := make([]AuditEntryDTO, 0, len(records))
	for _, r := range records {
		entries = append(entries, AuditEntryDTO{
			TargetKind: string(r.TargetKind),
			TargetID:   r.TargetID,
			Action:     string(r.Action),
			Field:      r.Field,
			OldValue:   r.OldValue,
			NewValue:   r.NewValue,
			ActorID:    r.ActorID,
			ActorRole:  string(r.ActorRole),
			IsSystem:   r.IsSystem(),
			CreatedAt:  r.CreatedAt,
		})
	}

	return &GetAuditTrailResult{
		Entries:     entries,
		TotalCount:  total,
		GeneratedAt: now,
	}, nil
}
