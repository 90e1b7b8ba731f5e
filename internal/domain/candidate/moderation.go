package candidate

import (
	"context"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// MODERATION PHILOSOPHY
//
// Философия модерации: "Скоринг никогда не блокирует загрузку"
//
// Внешний сервис оценки - это улучшение качества, а не точка отказа:
// 1. Любой сбой внешнего сервиса заменяется эвристикой
// 2. Эвристика детерминирована и не может завершиться ошибкой
// 3. Вердикт всегда выводится из оценки по единым порогам,
//    а не берётся из ответа сервиса на веру
// 4. Деградация до эвристики - информационное событие, не ошибка
// ══════════════════════════════════════════════════════════════════════════════

const (
	// HeuristicBaseScore - базовая эвристическая оценка.
	HeuristicBaseScore Score = 50

	// HeuristicWellFormedScore - оценка для вопроса, оканчивающегося
	// знаком вопроса и имеющего полный набор вариантов.
	HeuristicWellFormedScore Score = 75

	// LowConfidenceThreshold - ниже этой уверенности извлечения вердикт
	// accept понижается до flag: сомнительно распознанный вопрос обязан
	// пройти ручное ревью.
	LowConfidenceThreshold = 0.7

	// HeuristicComments - комментарий, сопровождающий эвристическую оценку.
	HeuristicComments = "heuristic moderation applied, external scorer unavailable"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORER PORT
// ══════════════════════════════════════════════════════════════════════════════

// ScoreRequest - данные кандидата, отправляемые на оценку.
type ScoreRequest struct {
	// Text - текст вопроса.
	Text string

	// Options - варианты ответа в порядке A-D.
	Options []string

	// CorrectIndex - индекс правильного варианта.
	CorrectIndex int

	// Explanation - пояснение к ответу (может быть пустым).
	Explanation string

	// TopicName - название темы для контекста оценки.
	TopicName string

	// Confidence - уверенность извлечения [0, 1].
	Confidence float64
}

// ScoreResult - валидный ответ внешнего сервиса оценки.
type ScoreResult struct {
	// Score - оценка качества 0-100.
	Score Score

	// Comments - короткий комментарий об оценке.
	Comments string
}

// Scorer определяет порт внешнего сервиса оценки качества.
// Реализация в инфраструктурном слое отвечает за таймауты, повторы
// и circuit breaker; домен видит либо валидный результат, либо ошибку.
type Scorer interface {
	// Score оценивает кандидата. Возвращает ошибку при недоступности
	// сервиса, таймауте или невалидном ответе.
	Score(ctx context.Context, req ScoreRequest) (ScoreResult, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEURISTIC
// ══════════════════════════════════════════════════════════════════════════════

// HeuristicScore вычисляет детерминированную оценку без внешнего сервиса:
// 50 базово, 75 для вопроса со знаком вопроса в конце и полным набором
// вариантов. Никогда не завершается ошибкой.
func HeuristicScore(text string, options []string) Score {
	trimmed := strings.TrimSpace(text)
	if strings.HasSuffix(trimmed, "?") && len(options) >= OptionCount {
		return HeuristicWellFormedScore
	}
	return HeuristicBaseScore
}

// ══════════════════════════════════════════════════════════════════════════════
// MODERATOR (domain service)
// ══════════════════════════════════════════════════════════════════════════════

// Assessment - итог модерации одного кандидата.
type Assessment struct {
	// Score - итоговая оценка.
	Score Score

	// Verdict - вердикт, выведенный из оценки по порогам.
	Verdict Verdict

	// Comments - комментарий модерации.
	Comments string

	// Heuristic - true, если сработала эвристика.
	Heuristic bool

	// Cause - ошибка внешнего сервиса, вызвавшая деградацию
	// (nil при штатной работе или отключённом сервисе).
	Cause error
}

// Degraded возвращает true, если внешний сервис был доступен,
// но завершился ошибкой.
func (a Assessment) Degraded() bool {
	return a.Cause != nil
}

// Moderator - доменный сервис модерации. Оценивает кандидатов через
// внешний сервис с гарантированным эвристическим запасным вариантом.
type Moderator struct {
	scorer Scorer
}

// NewModerator создаёт сервис модерации. Nil-скорер допустим:
// все оценки будут эвристическими.
func NewModerator(scorer Scorer) *Moderator {
	return &Moderator{scorer: scorer}
}

// Moderate оценивает кандидата. Никогда не возвращает ошибку:
// сбой скорера деградирует до эвристики, а причина сбоя сохраняется
// в Assessment.Cause для информационного логирования и аудита.
func (m *Moderator) Moderate(ctx context.Context, req ScoreRequest) Assessment {
	var assessment Assessment

	if m.scorer == nil {
		assessment = m.heuristic(req)
	} else if result, err := m.scorer.Score(ctx, req); err != nil {
		assessment = m.heuristic(req)
		assessment.Cause = err
	} else {
		assessment = Assessment{
			Score:    result.Score,
			Verdict:  result.Score.Verdict(),
			Comments: result.Comments,
		}
	}

	// Сомнительно извлечённый вопрос не публикуется без ручного ревью.
	if assessment.Verdict == VerdictAccept && req.Confidence > 0 && req.Confidence < LowConfidenceThreshold {
		assessment.Verdict = VerdictFlag
	}

	return assessment
}

func (m *Moderator) heuristic(req ScoreRequest) Assessment {
	score := HeuristicScore(req.Text, req.Options)
	return Assessment{
		Score:     score,
		Verdict:   score.Verdict(),
		Comments:  HeuristicComments,
		Heuristic: true,
	}
}

// ModerateAndApply оценивает кандидата и сразу фиксирует результат
// в сущности. Кандидаты с вердиктом reject отклоняются автоматически.
func (m *Moderator) ModerateAndApply(ctx context.Context, c *Candidate, topicName string, now time.Time) (Assessment, error) {
	req := ScoreRequest{
		Text:         c.Text,
		Options:      c.Options,
		CorrectIndex: c.CorrectIndex,
		Explanation:  c.Explanation,
		TopicName:    topicName,
		Confidence:   c.Confidence,
	}

	assessment := m.Moderate(ctx, req)

	if err := c.ApplyModeration(assessment.Score, assessment.Comments, assessment.Heuristic, now); err != nil {
		return assessment, err
	}

	// ApplyModeration выводит вердикт из оценки; понижение за низкую
	// уверенность переносится на сущность отдельно.
	if assessment.Verdict != c.Verdict {
		c.Verdict = assessment.Verdict
	}

	if c.Verdict == VerdictReject {
		if err := c.AutoReject(now); err != nil {
			return assessment, err
		}
	}

	return assessment, nil
}
