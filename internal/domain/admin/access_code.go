package admin

import (
	"errors"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACCESS CODES
// Одноразовые коды доступа для выдачи роли администратора.
// Код показывается создателю один раз, в хранилище попадает только хеш.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultCodeTTL - срок действия кода по умолчанию.
	DefaultCodeTTL = 24 * time.Hour

	// CodeBytes - число случайных байт в коде до кодирования.
	CodeBytes = 16
)

var (
	// ErrCodeNotFound - код не найден или не совпал ни с одним активным.
	ErrCodeNotFound = errors.New("access code not found")

	// ErrCodeUsed - код уже погашен.
	ErrCodeUsed = errors.New("access code already used")

	// ErrCodeExpired - срок действия кода истёк.
	ErrCodeExpired = errors.New("access code expired")

	// ErrCodeRevoked - код отозван.
	ErrCodeRevoked = errors.New("access code revoked")
)

// CodeGenerator определяет порт генерации случайных кодов.
type CodeGenerator interface {
	// NewCode возвращает криптографически случайный код в URL-safe кодировке.
	NewCode() (string, error)
}

// CodeHasher определяет порт хеширования кодов. Хеш необратим:
// проверка выполняется сравнением, а не расшифровкой.
type CodeHasher interface {
	// Hash возвращает хеш кода для хранения.
	Hash(code string) (string, error)

	// Compare проверяет код против сохранённого хеша.
	Compare(hash, code string) bool
}

// AccessCode - одноразовый код доступа администратора.
type AccessCode struct {
	// ID - идентификатор кода, присваивается хранилищем (0 до сохранения).
	ID int64

	// CodeHash - хеш кода. Открытый код нигде не хранится.
	CodeHash string

	// CreatedBy - супер-администратор, создавший код.
	CreatedBy shared.TelegramID

	// IsActive - false после отзыва.
	IsActive bool

	// UsedBy - кто погасил код (0 = не погашен).
	UsedBy shared.TelegramID

	// UsedAt - момент погашения.
	UsedAt time.Time

	// CreatedAt - момент создания.
	CreatedAt time.Time

	// ExpiresAt - момент истечения срока действия.
	ExpiresAt time.Time
}

// NewAccessCodeParams содержит параметры для создания кода.
type NewAccessCodeParams struct {
	CodeHash  string
	CreatedBy shared.TelegramID
	TTL       time.Duration
}

// NewAccessCode создаёт код доступа. Нулевой TTL заменяется DefaultCodeTTL.
func NewAccessCode(params NewAccessCodeParams) (*AccessCode, error) {
	if params.CodeHash == "" {
		return nil, errors.New("code hash is required")
	}

	if !params.CreatedBy.IsValid() {
		return nil, errors.New("creator id is required")
	}

	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}

	now := time.Now().UTC()

	return &AccessCode{
		CodeHash:  params.CodeHash,
		CreatedBy: params.CreatedBy,
		IsActive:  true,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// IsUsed возвращает true для погашенного кода.
func (c *AccessCode) IsUsed() bool {
	return c.UsedBy.IsValid()
}

// IsExpiredAt проверяет, истёк ли срок действия к моменту now.
func (c *AccessCode) IsExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsRedeemableAt возвращает true для активного, непогашенного
// и неистёкшего кода.
func (c *AccessCode) IsRedeemableAt(now time.Time) bool {
	return c.IsActive && !c.IsUsed() && !c.IsExpiredAt(now)
}

// Redeem гасит код от имени пользователя. Каждая причина отказа
// возвращает свою ошибку.
func (c *AccessCode) Redeem(userID shared.TelegramID, now time.Time) error {
	if !userID.IsValid() {
		return errors.New("user id is required")
	}

	if !c.IsActive {
		return ErrCodeRevoked
	}
	if c.IsUsed() {
		return ErrCodeUsed
	}
	if c.IsExpiredAt(now) {
		return ErrCodeExpired
	}

	c.UsedBy = userID
	c.UsedAt = now

	return nil
}

// Revoke отзывает код. Повторный отзыв возвращает ErrCodeRevoked.
func (c *AccessCode) Revoke() error {
	if !c.IsActive {
		return ErrCodeRevoked
	}

	c.IsActive = false
	return nil
}
