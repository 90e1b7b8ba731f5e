// Package audit содержит журнал аудита конвейера модерации.
//
// Журнал только дописывается: записи не изменяются и не удаляются,
// а каждая мутация партии или кандидата фиксируется в той же
// транзакции, что и сама мутация.
package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// TargetKind - тип сущности, к которой относится запись.
type TargetKind string

const (
	// TargetBatch - запись о партии.
	TargetBatch TargetKind = "batch"

	// TargetCandidate - запись о кандидате.
	TargetCandidate TargetKind = "candidate"

	// TargetAdmin - запись об администраторе.
	TargetAdmin TargetKind = "admin"
)

// IsValid проверяет, что тип цели известен.
func (k TargetKind) IsValid() bool {
	switch k {
	case TargetBatch, TargetCandidate, TargetAdmin:
		return true
	default:
		return false
	}
}

// Action - действие, породившее запись.
type Action string

const (
	// ActionBatchSubmitted - партия создана загрузкой документа.
	ActionBatchSubmitted Action = "batch_submitted"

	// ActionBatchIngested - извлечение и скоринг завершены.
	ActionBatchIngested Action = "batch_ingested"

	// ActionLockAcquired - аренда захвачена.
	ActionLockAcquired Action = "lock_acquired"

	// ActionLockRefreshed - аренда продлена текущим держателем.
	ActionLockRefreshed Action = "lock_refreshed"

	// ActionLockReleased - аренда снята держателем.
	ActionLockReleased Action = "lock_released"

	// ActionLeaseReclaimed - истёкшая аренда снята лениво при следующей
	// операции с партией.
	ActionLeaseReclaimed Action = "lease_reclaimed"

	// ActionDecision - администратор вынес решение по кандидату.
	ActionDecision Action = "decision"

	// ActionAutoReject - кандидат отклонён автоматически по оценке.
	ActionAutoReject Action = "auto_reject"

	// ActionModerationDegraded - внешний скоринг был недоступен,
	// применена эвристика. Информационная запись.
	ActionModerationDegraded Action = "moderation_degraded"

	// ActionBatchCompleted - партия завершена.
	ActionBatchCompleted Action = "batch_completed"

	// ActionBatchAbandoned - партия необратимо закрыта.
	ActionBatchAbandoned Action = "batch_abandoned"

	// ActionAdminPromoted - пользователь получил права администратора.
	ActionAdminPromoted Action = "admin_promoted"
)

// IsValid проверяет, что действие известно.
func (a Action) IsValid() bool {
	switch a {
	case ActionBatchSubmitted, ActionBatchIngested,
		ActionLockAcquired, ActionLockRefreshed, ActionLockReleased, ActionLeaseReclaimed,
		ActionDecision, ActionAutoReject, ActionModerationDegraded,
		ActionBatchCompleted, ActionBatchAbandoned, ActionAdminPromoted:
		return true
	default:
		return false
	}
}

// Имена полей, фигурирующих в записях.
const (
	// FieldStatus - статус партии.
	FieldStatus = "status"

	// FieldLockHolder - держатель аренды.
	FieldLockHolder = "lock_holder"

	// FieldState - состояние кандидата.
	FieldState = "state"

	// FieldModeration - источник оценки модерации.
	FieldModeration = "moderation"

	// FieldRole - роль администратора.
	FieldRole = "role"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrRecordNotFound - запись не найдена.
	ErrRecordNotFound = errors.New("audit record not found")

	// ErrInvalidTarget - некорректная цель записи.
	ErrInvalidTarget = errors.New("invalid audit target")

	// ErrInvalidAction - неизвестное действие.
	ErrInvalidAction = errors.New("invalid audit action")

	// ErrInvalidActor - некорректный актор записи.
	ErrInvalidActor = errors.New("invalid audit actor")
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: AUDIT RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record - одна запись журнала аудита. После создания не изменяется.
type Record struct {
	// ID - идентификатор записи, присваивается хранилищем (0 до сохранения).
	ID int64

	// TargetKind - тип сущности.
	TargetKind TargetKind

	// TargetID - идентификатор сущности.
	TargetID string

	// Action - действие, породившее запись.
	Action Action

	// Field - имя изменённого поля.
	Field string

	// OldValue - прежнее значение в печатной форме.
	OldValue string

	// NewValue - новое значение в печатной форме.
	NewValue string

	// ActorID - Telegram ID актора (0 для системных мутаций).
	ActorID int64

	// ActorRole - роль актора на момент действия.
	ActorRole shared.Role

	// CreatedAt - момент мутации.
	CreatedAt time.Time
}

// NewRecordParams содержит параметры для создания записи.
type NewRecordParams struct {
	TargetKind TargetKind
	TargetID   string
	Action     Action
	Field      string
	OldValue   string
	NewValue   string
	Actor      shared.Actor
	OccurredAt time.Time
}

// NewRecord создаёт запись журнала с валидацией. Момент мутации передаётся
// явно, чтобы запись и мутация несли одну и ту же метку времени.
func NewRecord(params NewRecordParams) (*Record, error) {
	if !params.TargetKind.IsValid() {
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidTarget, params.TargetKind)
	}

	if params.TargetID == "" {
		return nil, fmt.Errorf("%w: empty target id", ErrInvalidTarget)
	}

	if !params.Action.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, params.Action)
	}

	if params.Field == "" {
		return nil, errors.New("audit field is required")
	}

	if !params.Actor.IsValid() {
		return nil, ErrInvalidActor
	}

	occurredAt := params.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return &Record{
		TargetKind: params.TargetKind,
		TargetID:   params.TargetID,
		Action:     params.Action,
		Field:      params.Field,
		OldValue:   params.OldValue,
		NewValue:   params.NewValue,
		ActorID:    params.Actor.ID.Int64(),
		ActorRole:  params.Actor.Role,
		CreatedAt:  occurredAt,
	}, nil
}

// Actor восстанавливает актора записи.
func (r *Record) Actor() shared.Actor {
	return shared.Actor{ID: shared.TelegramID(r.ActorID), Role: r.ActorRole}
}

// IsSystem возвращает true для записей о системных мутациях.
func (r *Record) IsSystem() bool {
	return r.ActorRole == shared.RoleSystem
}

// String возвращает строковое представление записи для логирования.
func (r *Record) String() string {
	return fmt.Sprintf(
		"AuditRecord{%s %s %s: %s %q -> %q by %s}",
		r.TargetKind, r.TargetID, r.Action, r.Field, r.OldValue, r.NewValue, r.Actor(),
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD CONSTRUCTORS
// Фабрики типовых записей, используемые обработчиками команд.
// ══════════════════════════════════════════════════════════════════════════════

// BatchStatusRecord создаёт запись о смене статуса партии.
func BatchStatusRecord(batchID string, action Action, oldStatus, newStatus string, actor shared.Actor, at time.Time) (*Record, error) {
	return NewRecord(NewRecordParams{
		TargetKind: TargetBatch,
		TargetID:   batchID,
		Action:     action,
		Field:      FieldStatus,
		OldValue:   oldStatus,
		NewValue:   newStatus,
		Actor:      actor,
		OccurredAt: at,
	})
}

// LockHolderRecord создаёт запись о смене держателя аренды.
// Отсутствие держателя кодируется пустой строкой.
func LockHolderRecord(batchID string, action Action, oldHolder, newHolder shared.TelegramID, actor shared.Actor, at time.Time) (*Record, error) {
	return NewRecord(NewRecordParams{
		TargetKind: TargetBatch,
		TargetID:   batchID,
		Action:     action,
		Field:      FieldLockHolder,
		OldValue:   holderValue(oldHolder),
		NewValue:   holderValue(newHolder),
		Actor:      actor,
		OccurredAt: at,
	})
}

// CandidateStateRecord создаёт запись о смене состояния кандидата.
func CandidateStateRecord(candidateID string, action Action, oldState, newState string, actor shared.Actor, at time.Time) (*Record, error) {
	return NewRecord(NewRecordParams{
		TargetKind: TargetCandidate,
		TargetID:   candidateID,
		Action:     action,
		Field:      FieldState,
		OldValue:   oldState,
		NewValue:   newState,
		Actor:      actor,
		OccurredAt: at,
	})
}

// ModerationNoticeRecord создаёт информационную запись о деградации
// скоринга до эвристики.
func ModerationNoticeRecord(candidateID string, cause string, at time.Time) (*Record, error) {
	return NewRecord(NewRecordParams{
		TargetKind: TargetCandidate,
		TargetID:   candidateID,
		Action:     ActionModerationDegraded,
		Field:      FieldModeration,
		OldValue:   "external",
		NewValue:   "heuristic: " + cause,
		Actor:      shared.SystemActor(),
		OccurredAt: at,
	})
}

func holderValue(id shared.TelegramID) string {
	if !id.IsValid() {
		return ""
	}
	return id.String()
}
