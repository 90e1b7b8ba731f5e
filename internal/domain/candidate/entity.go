// Package candidate содержит доменную модель вопроса-кандидата:
// извлечённый из документа вопрос с четырьмя вариантами ответа,
// проходящий автоматический скоринг и ручное ревью.
package candidate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// OptionCount - обязательное число вариантов ответа.
	OptionCount = 4

	// MinQuestionLength - минимальная длина текста вопроса в символах.
	MinQuestionLength = 10
)

// OptionLabels - буквенные метки вариантов в порядке хранения.
var OptionLabels = [OptionCount]string{"A", "B", "C", "D"}

// Score представляет оценку качества вопроса от 0 до 100.
type Score int

const (
	// MinScore - минимальная оценка.
	MinScore Score = 0

	// MaxScore - максимальная оценка.
	MaxScore Score = 100

	// AcceptThreshold - нижняя граница вердикта accept.
	AcceptThreshold Score = 80

	// FlagThreshold - нижняя граница вердикта flag.
	// Всё, что ниже, отклоняется автоматически.
	FlagThreshold Score = 40
)

// IsValid проверяет, что оценка находится в диапазоне 0-100.
func (s Score) IsValid() bool {
	return s >= MinScore && s <= MaxScore
}

// Verdict возвращает вердикт, соответствующий оценке:
// 80-100 accept, 40-79 flag, 0-39 reject.
func (s Score) Verdict() Verdict {
	switch {
	case s >= AcceptThreshold:
		return VerdictAccept
	case s >= FlagThreshold:
		return VerdictFlag
	default:
		return VerdictReject
	}
}

// Int возвращает оценку как int.
func (s Score) Int() int {
	return int(s)
}

// ClampScore приводит произвольное значение к допустимому диапазону.
func ClampScore(v int) Score {
	if v < int(MinScore) {
		return MinScore
	}
	if v > int(MaxScore) {
		return MaxScore
	}
	return Score(v)
}

// Verdict - вердикт автоматической модерации.
type Verdict string

const (
	// VerdictAccept - вопрос рекомендован к одобрению.
	VerdictAccept Verdict = "accept"

	// VerdictFlag - вопрос требует внимательного ручного ревью.
	VerdictFlag Verdict = "flag"

	// VerdictReject - вопрос отклоняется автоматически и в очередь
	// ревью не попадает.
	VerdictReject Verdict = "reject"
)

// IsValid проверяет, что вердикт известен.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictAccept, VerdictFlag, VerdictReject:
		return true
	default:
		return false
	}
}

// IsTerminalDecision возвращает true, если вердикт допустим как решение
// администратора. Flag решением не является - это пометка для ревью.
func (v Verdict) IsTerminalDecision() bool {
	return v == VerdictAccept || v == VerdictReject
}

// State - состояние жизненного цикла кандидата.
type State string

const (
	// StatePending - кандидат ждёт решения администратора.
	StatePending State = "pending"

	// StateApproved - кандидат одобрен и публикуется.
	StateApproved State = "approved"

	// StateRejected - кандидат отклонён (администратором или автоматически).
	StateRejected State = "rejected"
)

// IsValid проверяет, что состояние известно.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateApproved, StateRejected:
		return true
	default:
		return false
	}
}

// IsDecided возвращает true для решённых кандидатов.
func (s State) IsDecided() bool {
	return s == StateApproved || s == StateRejected
}

// Difficulty - оценочная сложность вопроса.
type Difficulty string

const (
	// DifficultyEasy - лёгкий вопрос.
	DifficultyEasy Difficulty = "easy"

	// DifficultyMedium - вопрос средней сложности.
	DifficultyMedium Difficulty = "medium"

	// DifficultyHard - сложный вопрос.
	DifficultyHard Difficulty = "hard"
)

// IsValid проверяет, что сложность известна.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	default:
		return false
	}
}

// EstimateDifficulty оценивает сложность по длине вопроса и суммарной
// длине вариантов.
func EstimateDifficulty(text string, options []string) Difficulty {
	questionLen := len(text)

	optionsLen := 0
	for _, opt := range options {
		optionsLen += len(opt)
	}

	switch {
	case questionLen > 200 || optionsLen > 400:
		return DifficultyHard
	case questionLen > 100 || optionsLen > 200:
		return DifficultyMedium
	default:
		return DifficultyEasy
	}
}

// ClampConfidence приводит уверенность извлечения к диапазону [0, 1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCandidateNotFound - кандидат не найден.
	ErrCandidateNotFound = shared.ErrCandidateNotFound

	// ErrAlreadyDecided - по кандидату уже вынесено решение.
	// При гонке двух решений проигравший получает именно эту ошибку.
	// Псевдоним общей доменной ошибки, чтобы shared.IsDecisionConflict
	// срабатывал на любом уровне стека вызовов.
	ErrAlreadyDecided = shared.ErrCandidateDecided

	// ErrNotDecidable - вердикт не является терминальным решением.
	ErrNotDecidable = errors.New("verdict is not a terminal decision")

	// ErrQuestionTooShort - текст вопроса короче минимума.
	ErrQuestionTooShort = shared.ErrQuestionTooShort

	// ErrWrongOptionCount - вариантов ответа не ровно четыре.
	ErrWrongOptionCount = shared.ErrWrongOptionCount

	// ErrEmptyOption - один из вариантов ответа пуст.
	ErrEmptyOption = errors.New("option text cannot be empty")

	// ErrCorrectOutOfRange - индекс правильного ответа вне диапазона A-D.
	ErrCorrectOutOfRange = shared.ErrCorrectOutOfRange

	// ErrNotModerated - кандидат ещё не прошёл скоринг.
	ErrNotModerated = errors.New("candidate has not been moderated")
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: CANDIDATE
// ══════════════════════════════════════════════════════════════════════════════

// Candidate - вопрос-кандидат: единица контента внутри партии.
//
// Кандидаты никогда не удаляются: отклонение - это смена состояния,
// и каждая мутация оставляет запись в журнале аудита.
type Candidate struct {
	// ID - уникальный идентификатор кандидата (UUID в строковом формате).
	ID shared.CandidateID

	// BatchID - партия, в составе которой кандидат был загружен.
	BatchID shared.BatchID

	// TopicID - тема учебной программы.
	TopicID shared.TopicID

	// Text - текст вопроса.
	Text string

	// Options - четыре варианта ответа в порядке A, B, C, D.
	Options []string

	// CorrectIndex - индекс правильного варианта (0-3).
	CorrectIndex int

	// Explanation - пояснение к правильному ответу (может быть пустым).
	Explanation string

	// Difficulty - оценочная сложность.
	Difficulty Difficulty

	// Confidence - уверенность извлечения в диапазоне [0, 1].
	Confidence float64

	// Score - оценка модерации 0-100.
	Score Score

	// Verdict - вердикт, выведенный из оценки по порогам.
	Verdict Verdict

	// Comments - комментарий модерации.
	Comments string

	// Heuristic - true, если оценка получена эвристикой,
	// а не внешним сервисом.
	Heuristic bool

	// State - состояние жизненного цикла.
	State State

	// ReviewedBy - администратор, вынесший решение (0 = решения не было
	// или кандидат отклонён автоматически).
	ReviewedBy shared.TelegramID

	// DecidedAt - момент решения (нулевое значение = решения не было).
	DecidedAt time.Time

	// CreatedAt - момент создания.
	CreatedAt time.Time

	// UpdatedAt - момент последнего изменения.
	UpdatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY & VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// NewCandidateParams содержит параметры для создания кандидата.
type NewCandidateParams struct {
	ID           shared.CandidateID
	BatchID      shared.BatchID
	TopicID      shared.TopicID
	Text         string
	Options      []string
	CorrectIndex int
	Explanation  string
	Confidence   float64
}

// NewCandidate создаёт кандидата в состоянии pending с валидацией всех полей.
// Сложность оценивается по длине, уверенность приводится к [0, 1].
func NewCandidate(params NewCandidateParams) (*Candidate, error) {
	if !params.ID.IsValid() {
		return nil, errors.New("candidate id is required and must be a UUID")
	}

	if !params.BatchID.IsValid() {
		return nil, errors.New("batch id is required and must be a UUID")
	}

	if !params.TopicID.IsValid() {
		return nil, errors.New("topic id is required")
	}

	text := strings.TrimSpace(params.Text)
	if len(text) < MinQuestionLength {
		return nil, fmt.Errorf("%w: got %d characters, need at least %d",
			ErrQuestionTooShort, len(text), MinQuestionLength)
	}

	if len(params.Options) != OptionCount {
		return nil, fmt.Errorf("%w: got %d", ErrWrongOptionCount, len(params.Options))
	}

	options := make([]string, OptionCount)
	for i, opt := range params.Options {
		trimmed := strings.TrimSpace(opt)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: option %s", ErrEmptyOption, OptionLabels[i])
		}
		options[i] = trimmed
	}

	if params.CorrectIndex < 0 || params.CorrectIndex >= OptionCount {
		return nil, fmt.Errorf("%w: got %d", ErrCorrectOutOfRange, params.CorrectIndex)
	}

	now := time.Now().UTC()

	return &Candidate{
		ID:           params.ID,
		BatchID:      params.BatchID,
		TopicID:      params.TopicID,
		Text:         text,
		Options:      options,
		CorrectIndex: params.CorrectIndex,
		Explanation:  strings.TrimSpace(params.Explanation),
		Difficulty:   EstimateDifficulty(text, options),
		Confidence:   ClampConfidence(params.Confidence),
		State:        StatePending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BUSINESS METHODS
// ══════════════════════════════════════════════════════════════════════════════

// ApplyModeration фиксирует результат скоринга. Вердикт выводится
// из оценки по порогам, а не берётся из ответа внешнего сервиса.
func (c *Candidate) ApplyModeration(score Score, comments string, heuristic bool, now time.Time) error {
	if !score.IsValid() {
		return fmt.Errorf("moderation score %d out of range", score)
	}

	c.Score = score
	c.Verdict = score.Verdict()
	c.Comments = comments
	c.Heuristic = heuristic
	c.UpdatedAt = now

	return nil
}

// AutoReject переводит кандидата с вердиктом reject в состояние rejected
// без участия администратора. Такие кандидаты в очередь ревью не попадают.
func (c *Candidate) AutoReject(now time.Time) error {
	if c.State != StatePending {
		return ErrAlreadyDecided
	}
	if c.Verdict != VerdictReject {
		return fmt.Errorf("auto-reject requires verdict %q, got %q", VerdictReject, c.Verdict)
	}

	c.State = StateRejected
	c.DecidedAt = now
	c.UpdatedAt = now

	return nil
}

// Decide применяет терминальное решение администратора:
// accept переводит в approved, reject в rejected.
// Повторное решение возвращает ErrAlreadyDecided.
func (c *Candidate) Decide(verdict Verdict, adminID shared.TelegramID, now time.Time) error {
	if !verdict.IsTerminalDecision() {
		return fmt.Errorf("%w: %q", ErrNotDecidable, verdict)
	}

	if !adminID.IsValid() {
		return errors.New("admin id is required")
	}

	if c.State != StatePending {
		return ErrAlreadyDecided
	}

	if verdict == VerdictAccept {
		c.State = StateApproved
	} else {
		c.State = StateRejected
	}

	c.ReviewedBy = adminID
	c.DecidedAt = now
	c.UpdatedAt = now

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// IsDecided возвращает true, если по кандидату вынесено решение.
func (c *Candidate) IsDecided() bool {
	return c.State.IsDecided()
}

// IsModerated возвращает true после скоринга.
func (c *Candidate) IsModerated() bool {
	return c.Verdict.IsValid()
}

// IsPublished возвращает true для одобренных кандидатов.
func (c *Candidate) IsPublished() bool {
	return c.State == StateApproved
}

// CorrectLetter возвращает буквенную метку правильного варианта.
func (c *Candidate) CorrectLetter() string {
	if c.CorrectIndex < 0 || c.CorrectIndex >= OptionCount {
		return "?"
	}
	return OptionLabels[c.CorrectIndex]
}

// Preview возвращает усечённый текст вопроса для списков и логов.
func (c *Candidate) Preview(maxLen int) string {
	if maxLen <= 0 || len(c.Text) <= maxLen {
		return c.Text
	}
	if maxLen <= 3 {
		return c.Text[:maxLen]
	}
	return c.Text[:maxLen-3] + "..."
}

// String возвращает строковое представление кандидата для логирования.
func (c *Candidate) String() string {
	return fmt.Sprintf(
		"Candidate{ID: %s, Batch: %s, Score: %d, Verdict: %s, State: %s}",
		c.ID, c.BatchID, c.Score, c.Verdict, c.State,
	)
}

// Clone создаёт глубокую копию кандидата.
func (c *Candidate) Clone() *Candidate {
	if c == nil {
		return nil
	}

	clone := *c
	clone.Options = make([]string, len(c.Options))
	copy(clone.Options, c.Options)

	return &clone
}
