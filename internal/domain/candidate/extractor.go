package candidate

import (
	"errors"
	"regexp"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXTRACTOR
//
// Извлечение вопросов из плоского текста документа. Формат блока:
//
//	Question 1: Текст вопроса?
//	A) вариант
//	B) вариант
//	C) вариант
//	D) вариант
//	Answer: B
//	Explanation: пояснение (необязательно)
//
// Допускается нумерованная форма без метки ("12. Текст вопроса?").
// Разбор ленивый и однопроходный: очередной блок разбирается только
// при вызове Next, повторный проход невозможен. Непригодные блоки
// пропускаются и накапливаются отдельно - частичный результат
// сохраняется всегда.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// ConfidenceLabeled - уверенность для блока с явной меткой Question/Q.
	ConfidenceLabeled = 0.9

	// ConfidenceNumbered - уверенность для нумерованной формы без метки.
	ConfidenceNumbered = 0.6

	// excerptLimit - максимальная длина фрагмента блока в описании ошибки.
	excerptLimit = 80
)

// ErrNoCandidates - из документа не удалось извлечь ни одного кандидата.
var ErrNoCandidates = errors.New("no candidates could be extracted from document")

var (
	questionStartRe = regexp.MustCompile(`(?mi)^[ \t]*(question[ \t]*\d*[ \t]*[:.]|q[ \t]*\d+[ \t]*[:.]|\d+[ \t]*[.)])[ \t]*`)
	optionLineRe    = regexp.MustCompile(`(?m)^[ \t]*([A-Da-d])[ \t]*[.):][ \t]*(.*)$`)
	answerLineRe    = regexp.MustCompile(`(?mi)^[ \t]*(?:answer|correct(?:[ \t]*answer)?)[ \t]*[:=][ \t]*\(?([A-Da-d])\)?[ \t]*\.?[ \t]*$`)
	explanationRe   = regexp.MustCompile(`(?mi)^[ \t]*explanation[ \t]*:[ \t]*(.+)$`)
)

// Extracted - один успешно разобранный вопрос.
type Extracted struct {
	// Text - текст вопроса без метки блока.
	Text string

	// Options - четыре варианта в порядке A-D.
	Options []string

	// CorrectIndex - индекс правильного варианта (0-3).
	CorrectIndex int

	// Explanation - пояснение (может быть пустым).
	Explanation string

	// Confidence - уверенность извлечения [0, 1].
	Confidence float64

	// Block - порядковый номер блока в документе, начиная с 1.
	Block int
}

// BlockError описывает непригодный блок документа.
type BlockError struct {
	// Block - порядковый номер блока, начиная с 1.
	Block int

	// Reason - причина отказа.
	Reason string

	// Excerpt - начало блока для диагностики.
	Excerpt string
}

// Extractor лениво извлекает вопросы из текста документа.
// Экземпляр одноразовый: после исчерпания перезапуск невозможен.
type Extractor struct {
	segments  []segment
	pos       int
	current   Extracted
	yielded   int
	malformed []BlockError
}

type segment struct {
	labeled bool
	body    string
}

// NewExtractor подготавливает извлечение из текста документа.
// Сам разбор блоков откладывается до вызовов Next.
func NewExtractor(text string) *Extractor {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")

	starts := questionStartRe.FindAllStringSubmatchIndex(normalized, -1)
	segments := make([]segment, 0, len(starts))

	for i, start := range starts {
		end := len(normalized)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}

		label := normalized[start[2]:start[3]]
		labeled := len(label) > 0 && (label[0] == 'q' || label[0] == 'Q')

		segments = append(segments, segment{
			labeled: labeled,
			// Тело сегмента начинается сразу после метки блока.
			body: normalized[start[1]:end],
		})
	}

	return &Extractor{segments: segments}
}

// Next разбирает следующий пригодный блок. Возвращает false, когда
// документ исчерпан; текущий вопрос доступен через Candidate.
func (e *Extractor) Next() bool {
	for e.pos < len(e.segments) {
		seg := e.segments[e.pos]
		e.pos++

		extracted, reason := parseSegment(seg)
		if reason != "" {
			e.malformed = append(e.malformed, BlockError{
				Block:   e.pos,
				Reason:  reason,
				Excerpt: excerpt(seg.body),
			})
			continue
		}

		extracted.Block = e.pos
		e.current = extracted
		e.yielded++
		return true
	}

	return false
}

// Candidate возвращает вопрос, разобранный последним вызовом Next.
func (e *Extractor) Candidate() Extracted {
	return e.current
}

// Err возвращает ErrNoCandidates, если документ исчерпан, а извлечь
// не удалось ничего. До исчерпания и при частичном успехе - nil.
func (e *Extractor) Err() error {
	if e.pos >= len(e.segments) && e.yielded == 0 {
		return ErrNoCandidates
	}
	return nil
}

// Malformed возвращает накопленные непригодные блоки.
func (e *Extractor) Malformed() []BlockError {
	return e.malformed
}

// Yielded возвращает число успешно извлечённых вопросов.
func (e *Extractor) Yielded() int {
	return e.yielded
}

// ─────────────────────────────────────────────────────────────────────────────
// Разбор одного сегмента
// ─────────────────────────────────────────────────────────────────────────────

func parseSegment(seg segment) (Extracted, string) {
	optMatches := optionLineRe.FindAllStringSubmatchIndex(seg.body, -1)
	if len(optMatches) < OptionCount {
		return Extracted{}, "expected four options A-D"
	}

	options := make([]string, 0, OptionCount)
	for i := 0; i < OptionCount; i++ {
		m := optMatches[i]
		label := strings.ToUpper(seg.body[m[2]:m[3]])
		if label != OptionLabels[i] {
			return Extracted{}, "options out of order"
		}

		value := strings.TrimSpace(seg.body[m[4]:m[5]])
		if value == "" {
			return Extracted{}, "empty option " + OptionLabels[i]
		}
		options = append(options, value)
	}

	answer := answerLineRe.FindStringSubmatch(seg.body)
	if answer == nil {
		return Extracted{}, "missing or invalid answer line"
	}
	correctIndex := int(strings.ToUpper(answer[1])[0] - 'A')

	// Текст вопроса - всё от начала тела до первой строки с вариантом.
	text := strings.Join(strings.Fields(seg.body[:optMatches[0][0]]), " ")
	if len(text) < MinQuestionLength {
		return Extracted{}, "question text too short"
	}

	explanation := ""
	if m := explanationRe.FindStringSubmatch(seg.body); m != nil {
		explanation = strings.TrimSpace(m[1])
	}

	confidence := ConfidenceNumbered
	if seg.labeled {
		confidence = ConfidenceLabeled
	}

	return Extracted{
		Text:         text,
		Options:      options,
		CorrectIndex: correctIndex,
		Explanation:  explanation,
		Confidence:   confidence,
	}, ""
}

func excerpt(body string) string {
	flat := strings.Join(strings.Fields(body), " ")
	if len(flat) <= excerptLimit {
		return flat
	}
	return flat[:excerptLimit]
}
