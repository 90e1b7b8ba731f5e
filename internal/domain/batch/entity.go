// Package batch содержит доменную модель партии загруженных вопросов (UploadBatch).
// Это ядро конвейера модерации - здесь нет внешних зависимостей.
//
// Партия проходит жизненный цикл: draft -> locked -> in_review -> completed,
// с возвратом в draft при снятии или истечении аренды и с необратимым
// переходом в abandoned. Аренда (lease) - это ограниченная по времени
// эксклюзивная заявка администратора, а не соединение или mutex процесса.
package batch

import (
	"errors"
	"fmt"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultLeaseTTL - срок аренды по умолчанию. Аренда старше этого срока
// считается снятой при первой же операции, затрагивающей блокировку.
const DefaultLeaseTTL = 15 * time.Minute

// SourceKind определяет тип исходного документа партии.
type SourceKind string

const (
	// SourceText - загрузка обычным текстовым сообщением.
	SourceText SourceKind = "text"
	// SourcePDF - загрузка PDF-документом (текст извлекает OCR-сервис).
	SourcePDF SourceKind = "pdf"
	// SourcePhoto - загрузка фотографией страницы (текст извлекает OCR-сервис).
	SourcePhoto SourceKind = "photo"
)

// IsValid проверяет, что тип документа известен.
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceText, SourcePDF, SourcePhoto:
		return true
	default:
		return false
	}
}

// NeedsOCR возвращает true, если документ требует распознавания текста.
func (k SourceKind) NeedsOCR() bool {
	return k == SourcePDF || k == SourcePhoto
}

// Status определяет текущий статус партии в конвейере модерации.
type Status string

const (
	// StatusDraft - партия ждёт ревью, аренда не удерживается.
	StatusDraft Status = "draft"
	// StatusLocked - администратор взял аренду, но ещё не вынес ни одного решения.
	StatusLocked Status = "locked"
	// StatusInReview - аренда удерживается и хотя бы одно решение уже вынесено.
	StatusInReview Status = "in_review"
	// StatusCompleted - все кандидаты решены; терминальный статус.
	StatusCompleted Status = "completed"
	// StatusAbandoned - партия необратимо закрыта; терминальный статус.
	StatusAbandoned Status = "abandoned"
)

// IsValid проверяет, что статус корректен.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusLocked, StatusInReview, StatusCompleted, StatusAbandoned:
		return true
	default:
		return false
	}
}

// IsTerminal возвращает true для завершённых статусов.
// Из терминального статуса переходы запрещены.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// IsLockedState возвращает true, если статус подразумевает удержание аренды.
// StatusLocked и StatusInReview - два лица одного "заблокированного"
// суперсостояния: первое до, второе после первого решения.
func (s Status) IsLockedState() bool {
	return s == StatusLocked || s == StatusInReview
}

// Lease представляет аренду партии: пара (держатель, момент захвата).
// Нулевое значение означает отсутствие аренды.
type Lease struct {
	// HolderID - Telegram ID администратора-держателя (0 = аренды нет).
	HolderID shared.TelegramID

	// AcquiredAt - момент последнего захвата или продления.
	AcquiredAt time.Time
}

// IsHeld возвращает true, если аренда числится за кем-то
// (без учёта истечения срока).
func (l Lease) IsHeld() bool {
	return l.HolderID.IsValid()
}

// IsHeldBy проверяет, что аренду числит за собой указанный администратор.
func (l Lease) IsHeldBy(adminID shared.TelegramID) bool {
	return l.IsHeld() && l.HolderID == adminID
}

// ExpiresAt возвращает момент истечения аренды.
func (l Lease) ExpiresAt(ttl time.Duration) time.Time {
	return l.AcquiredAt.Add(ttl)
}

// IsExpiredAt проверяет, истекла ли аренда к моменту now.
func (l Lease) IsExpiredAt(now time.Time, ttl time.Duration) bool {
	if !l.IsHeld() {
		return false
	}
	return now.Sub(l.AcquiredAt) >= ttl
}

// RemainingAt возвращает оставшийся срок аренды к моменту now.
func (l Lease) RemainingAt(now time.Time, ttl time.Duration) time.Duration {
	if !l.IsHeld() {
		return 0
	}
	remaining := ttl - now.Sub(l.AcquiredAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ReclaimedLease описывает снятую по истечении срока аренду.
// Используется для информационного логирования и событий: истёкшая
// аренда никогда не является ошибкой.
type ReclaimedLease struct {
	// PreviousHolder - администратор, чья аренда истекла.
	PreviousHolder shared.TelegramID

	// AcquiredAt - когда истёкшая аренда была захвачена.
	AcquiredAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// Ошибки аренды и статусов - псевдонимы общих доменных ошибок, чтобы
// shared.IsLockConflict и shared.IsNotOwner работали по всей цепочке
// вызовов без знания об этом пакете.
var (
	// ErrLockConflict - аренду удерживает другой администратор, срок не истёк.
	ErrLockConflict = shared.ErrBatchLockConflict

	// ErrNotOwner - операция требует владения арендой, а вызывающий её не держит.
	ErrNotOwner = shared.ErrBatchNotOwner

	// ErrTerminal - партия в терминальном статусе, переходы запрещены.
	ErrTerminal = shared.ErrBatchTerminal

	// ErrNoPending - в партии не осталось нерешённых кандидатов.
	ErrNoPending = errors.New("batch has no pending candidates")

	// ErrInvalidSourceKind - неизвестный тип исходного документа.
	ErrInvalidSourceKind = errors.New("invalid source kind")

	// ErrInvalidStatus - неизвестный статус партии.
	ErrInvalidStatus = shared.ErrInvalidBatchStatus

	// ErrBatchNotFound - партия не найдена.
	ErrBatchNotFound = shared.ErrBatchNotFound

	// ErrBatchAlreadyExists - партия с таким ID уже существует.
	ErrBatchAlreadyExists = shared.ErrBatchAlreadyExists
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: UPLOAD BATCH
// ══════════════════════════════════════════════════════════════════════════════

// UploadBatch - партия кандидатов, загруженная одним администратором
// и проходящая ревью как единое целое.
//
// Инвариант: в любой момент времени аренду партии удерживает не более
// одного администратора с неистёкшим сроком. Истечение срока проверяется
// лениво - в начале каждой операции, затрагивающей блокировку.
type UploadBatch struct {
	// ID - уникальный идентификатор партии (UUID в строковом формате).
	ID shared.BatchID

	// UploaderID - Telegram ID загрузившего администратора.
	UploaderID shared.TelegramID

	// TopicID - тема учебной программы, к которой относятся вопросы.
	TopicID shared.TopicID

	// SourceKind - тип исходного документа (text, pdf, photo).
	SourceKind SourceKind

	// SourceRef - ссылка на исходный документ (Telegram file id или пусто).
	SourceRef string

	// Status - текущий статус в конвейере.
	Status Status

	// Lease - текущая аренда (нулевое значение = аренды нет).
	// Держатель и момент захвата хранятся в строке партии.
	Lease Lease

	// PendingCount - количество кандидатов, ожидающих решения.
	PendingCount int

	// ApprovedCount - количество одобренных кандидатов.
	ApprovedCount int

	// RejectedCount - количество отклонённых кандидатов (включая авто-отклонение).
	RejectedCount int

	// Degraded - true, если при скоринге партии внешний сервис был недоступен
	// и хотя бы один кандидат оценён эвристикой.
	Degraded bool

	// CreatedAt - момент создания партии. Очередь ревью упорядочена по нему.
	CreatedAt time.Time

	// UpdatedAt - момент последнего изменения.
	UpdatedAt time.Time

	// CompletedAt - момент завершения (нулевое значение = не завершена).
	CompletedAt time.Time
}

// TotalCount возвращает общее число кандидатов партии.
func (b *UploadBatch) TotalCount() int {
	return b.PendingCount + b.ApprovedCount + b.RejectedCount
}

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY & VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// NewBatchParams содержит параметры для создания новой партии.
type NewBatchParams struct {
	ID         shared.BatchID
	UploaderID shared.TelegramID
	TopicID    shared.TopicID
	SourceKind SourceKind
	SourceRef  string
}

// NewBatch создаёт новую партию в статусе draft с валидацией всех полей.
func NewBatch(params NewBatchParams) (*UploadBatch, error) {
	if !params.ID.IsValid() {
		return nil, errors.New("batch id is required and must be a UUID")
	}

	if !params.UploaderID.IsValid() {
		return nil, errors.New("uploader id is required")
	}

	if !params.TopicID.IsValid() {
		return nil, errors.New("topic id is required")
	}

	if !params.SourceKind.IsValid() {
		return nil, ErrInvalidSourceKind
	}

	now := time.Now().UTC()

	return &UploadBatch{
		ID:         params.ID,
		UploaderID: params.UploaderID,
		TopicID:    params.TopicID,
		SourceKind: params.SourceKind,
		SourceRef:  params.SourceRef,
		Status:     StatusDraft,
		Lease:      Lease{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEASE STATE MACHINE
//
// Все операции, затрагивающие блокировку, принимают явные now и ttl:
// ленивая проверка истечения выполняется до оценки самого запроса.
// ══════════════════════════════════════════════════════════════════════════════

// reclaimExpired лениво снимает истёкшую аренду. Возвращает описание
// снятой аренды или nil, если снимать было нечего.
func (b *UploadBatch) reclaimExpired(now time.Time, ttl time.Duration) *ReclaimedLease {
	if !b.Lease.IsExpiredAt(now, ttl) {
		return nil
	}

	reclaimed := &ReclaimedLease{
		PreviousHolder: b.Lease.HolderID,
		AcquiredAt:     b.Lease.AcquiredAt,
	}

	b.Lease = Lease{}
	if b.Status.IsLockedState() {
		b.Status = StatusDraft
	}
	b.UpdatedAt = now

	return reclaimed
}

// HolderAt возвращает держателя неистёкшей аренды к моменту now.
// Не мутирует партию; пригодно для запросов на чтение.
func (b *UploadBatch) HolderAt(now time.Time, ttl time.Duration) (shared.TelegramID, bool) {
	if !b.Lease.IsHeld() || b.Lease.IsExpiredAt(now, ttl) {
		return 0, false
	}
	return b.Lease.HolderID, true
}

// AcquireLock захватывает аренду для adminID.
//
// Если аренду удерживает другой администратор с неистёкшим сроком,
// возвращает ErrLockConflict. Повторный захват текущим держателем
// идемпотентен и просто продлевает срок (refreshed=true).
// Истёкшая чужая аренда снимается прозрачно (reclaimed != nil).
func (b *UploadBatch) AcquireLock(adminID shared.TelegramID, now time.Time, ttl time.Duration) (refreshed bool, reclaimed *ReclaimedLease, err error) {
	if b.Status.IsTerminal() {
		return false, nil, ErrTerminal
	}

	reclaimed = b.reclaimExpired(now, ttl)

	if b.Lease.IsHeld() && !b.Lease.IsHeldBy(adminID) {
		return false, reclaimed, ErrLockConflict
	}

	refreshed = b.Lease.IsHeldBy(adminID)

	b.Lease = Lease{HolderID: adminID, AcquiredAt: now}
	if b.Status == StatusDraft {
		b.Status = StatusLocked
	}
	b.UpdatedAt = now

	return refreshed, reclaimed, nil
}

// ReleaseLock снимает аренду по инициативе держателя.
//
// Возвращает ErrNotOwner, если вызывающий не является держателем
// неистёкшей аренды. После снятия статус становится completed, если
// нерешённых кандидатов не осталось, иначе draft.
func (b *UploadBatch) ReleaseLock(adminID shared.TelegramID, now time.Time, ttl time.Duration) (reclaimed *ReclaimedLease, err error) {
	if b.Status.IsTerminal() {
		return nil, ErrTerminal
	}

	reclaimed = b.reclaimExpired(now, ttl)

	if !b.Lease.IsHeldBy(adminID) {
		return reclaimed, ErrNotOwner
	}

	b.Lease = Lease{}
	if b.PendingCount == 0 {
		b.complete(now)
	} else {
		b.Status = StatusDraft
	}
	b.UpdatedAt = now

	return reclaimed, nil
}

// RecordDecision учитывает терминальное решение по одному кандидату.
//
// Требует, чтобы вызывающий держал неистёкшую аренду (ErrNotOwner).
// Уменьшает счётчик нерешённых; решение по последнему кандидату
// завершает партию и снимает аренду в той же операции.
func (b *UploadBatch) RecordDecision(adminID shared.TelegramID, approved bool, now time.Time, ttl time.Duration) (completed bool, reclaimed *ReclaimedLease, err error) {
	if b.Status.IsTerminal() {
		return false, nil, ErrTerminal
	}

	reclaimed = b.reclaimExpired(now, ttl)

	if !b.Lease.IsHeldBy(adminID) {
		return false, reclaimed, ErrNotOwner
	}

	if b.PendingCount <= 0 {
		return false, reclaimed, ErrNoPending
	}

	b.PendingCount--
	if approved {
		b.ApprovedCount++
	} else {
		b.RejectedCount++
	}

	if b.PendingCount == 0 {
		b.Lease = Lease{}
		b.complete(now)
		completed = true
	} else {
		b.Status = StatusInReview
	}
	b.UpdatedAt = now

	return completed, reclaimed, nil
}

// Abandon необратимо закрывает партию. Допустим из любого нетерминального
// статуса; после него захват аренды невозможен.
func (b *UploadBatch) Abandon(now time.Time) error {
	if b.Status.IsTerminal() {
		return ErrTerminal
	}

	b.Lease = Lease{}
	b.Status = StatusAbandoned
	b.UpdatedAt = now

	return nil
}

// SetIngestResult фиксирует результат извлечения и скоринга:
// счётчики кандидатов и признак деградации скоринга. Партия, в которой
// после авто-отклонения не осталось нерешённых кандидатов, завершается
// сразу, без ревью.
func (b *UploadBatch) SetIngestResult(pending, autoRejected int, degraded bool, now time.Time) (completed bool, err error) {
	if b.Status != StatusDraft {
		return false, fmt.Errorf("%w: ingest result applies to draft batches only", ErrInvalidStatus)
	}
	if pending < 0 || autoRejected < 0 {
		return false, errors.New("candidate counts cannot be negative")
	}

	b.PendingCount = pending
	b.RejectedCount = autoRejected
	b.Degraded = degraded
	b.UpdatedAt = now

	if pending == 0 && autoRejected > 0 {
		b.complete(now)
		return true, nil
	}

	return false, nil
}

// complete переводит партию в терминальный статус completed.
func (b *UploadBatch) complete(now time.Time) {
	b.Status = StatusCompleted
	b.CompletedAt = now
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// IsTerminal возвращает true для завершённой или закрытой партии.
func (b *UploadBatch) IsTerminal() bool {
	return b.Status.IsTerminal()
}

// IsVisibleTo возвращает true, если партия должна попасть в очередь ревью
// администратора adminID к моменту now: партии с его арендой плюс партии
// без неистёкшей чужой аренды.
func (b *UploadBatch) IsVisibleTo(adminID shared.TelegramID, now time.Time, ttl time.Duration) bool {
	if b.Status.IsTerminal() {
		return false
	}

	holder, held := b.HolderAt(now, ttl)
	if !held {
		return true
	}
	return holder == adminID
}

// String возвращает строковое представление партии для логирования.
func (b *UploadBatch) String() string {
	return fmt.Sprintf(
		"UploadBatch{ID: %s, Uploader: %d, Status: %s, Pending: %d, Holder: %d}",
		b.ID, b.UploaderID, b.Status, b.PendingCount, b.Lease.HolderID,
	)
}

// Clone создаёт глубокую копию партии.
func (b *UploadBatch) Clone() *UploadBatch {
	if b == nil {
		return nil
	}

	clone := *b
	return &clone
}
