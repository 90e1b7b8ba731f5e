package candidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wellFormedDoc = `Question 1: Which vessel carries oxygenated blood from the lungs?
A) Pulmonary vein
B) Pulmonary artery
C) Aorta
D) Inferior vena cava
Answer: A
Explanation: The pulmonary veins return oxygenated blood to the left atrium.

Question 2: Which enzyme unwinds the DNA double helix during replication?
A. Ligase
B. Helicase
C. Primase
D. Topoisomerase
Answer: B
`

func collectAll(t *testing.T, text string) ([]Extracted, []BlockError, error) {
	t.Helper()

	e := NewExtractor(text)
	var out []Extracted
	for e.Next() {
		out = append(out, e.Candidate())
	}
	return out, e.Malformed(), e.Err()
}

func TestExtractor_WellFormedDocument(t *testing.T) {
	extracted, malformed, err := collectAll(t, wellFormedDoc)
	require.NoError(t, err)
	assert.Empty(t, malformed)
	require.Len(t, extracted, 2)

	first := extracted[0]
	assert.Equal(t, "Which vessel carries oxygenated blood from the lungs?", first.Text)
	assert.Equal(t, []string{"Pulmonary vein", "Pulmonary artery", "Aorta", "Inferior vena cava"}, first.Options)
	assert.Equal(t, 0, first.CorrectIndex)
	assert.Equal(t, "The pulmonary veins return oxygenated blood to the left atrium.", first.Explanation)
	assert.Equal(t, ConfidenceLabeled, first.Confidence)
	assert.Equal(t, 1, first.Block)

	second := extracted[1]
	assert.Equal(t, 1, second.CorrectIndex)
	assert.Empty(t, second.Explanation)
	assert.Equal(t, 2, second.Block)
}

func TestExtractor_NumberedFallbackForm(t *testing.T) {
	doc := `1. Which bone articulates with the acetabulum?
A) Femur
B) Tibia
C) Fibula
D) Patella
Correct: A
`

	extracted, malformed, err := collectAll(t, doc)
	require.NoError(t, err)
	assert.Empty(t, malformed)
	require.Len(t, extracted, 1)

	assert.Equal(t, "Which bone articulates with the acetabulum?", extracted[0].Text)
	assert.Equal(t, ConfidenceNumbered, extracted[0].Confidence)
}

func TestExtractor_MultilineQuestionText(t *testing.T) {
	doc := `Question: A 45-year-old patient presents with chest pain
radiating to the left arm.
Which artery is most likely occluded?
A) Left anterior descending
B) Right coronary
C) Circumflex
D) Left main
Answer: A
`

	extracted, _, err := collectAll(t, doc)
	require.NoError(t, err)
	require.Len(t, extracted, 1)

	assert.Equal(t,
		"A 45-year-old patient presents with chest pain radiating to the left arm. Which artery is most likely occluded?",
		extracted[0].Text)
}

func TestExtractor_MalformedBlockKeepsPartialResults(t *testing.T) {
	doc := `Question 1: Which vessel carries oxygenated blood from the lungs?
A) Pulmonary vein
B) Pulmonary artery
C) Aorta
D) Inferior vena cava
Answer: A

Question 2: This block is missing its options entirely.

Question 3: Which enzyme unwinds the DNA double helix?
A) Ligase
B) Helicase
C) Primase
D) Topoisomerase
Answer: B
`

	extracted, malformed, err := collectAll(t, doc)

	// Непригодный блок не прерывает извлечение остального документа.
	require.NoError(t, err)
	require.Len(t, extracted, 2)
	require.Len(t, malformed, 1)

	assert.Equal(t, 2, malformed[0].Block)
	assert.Equal(t, "expected four options A-D", malformed[0].Reason)
	assert.Contains(t, malformed[0].Excerpt, "missing its options")

	assert.Equal(t, 1, extracted[0].Block)
	assert.Equal(t, 3, extracted[1].Block)
}

func TestExtractor_MissingAnswer(t *testing.T) {
	doc := `Question: Which vessel carries oxygenated blood from the lungs?
A) Pulmonary vein
B) Pulmonary artery
C) Aorta
D) Inferior vena cava
`

	extracted, malformed, err := collectAll(t, doc)
	assert.ErrorIs(t, err, ErrNoCandidates)
	assert.Empty(t, extracted)
	require.Len(t, malformed, 1)
	assert.Equal(t, "missing or invalid answer line", malformed[0].Reason)
}

func TestExtractor_OptionsOutOfOrder(t *testing.T) {
	doc := `Question: Which vessel carries oxygenated blood from the lungs?
B) Pulmonary artery
A) Pulmonary vein
C) Aorta
D) Inferior vena cava
Answer: A
`

	_, malformed, err := collectAll(t, doc)
	assert.ErrorIs(t, err, ErrNoCandidates)
	require.Len(t, malformed, 1)
	assert.Equal(t, "options out of order", malformed[0].Reason)
}

func TestExtractor_QuestionTooShort(t *testing.T) {
	doc := `Question: Short?
A) a
B) b
C) c
D) d
Answer: A
`

	_, malformed, err := collectAll(t, doc)
	assert.ErrorIs(t, err, ErrNoCandidates)
	require.Len(t, malformed, 1)
	assert.Equal(t, "question text too short", malformed[0].Reason)
}

func TestExtractor_EmptyDocument(t *testing.T) {
	e := NewExtractor("just some prose without any question blocks")

	assert.False(t, e.Next())
	assert.ErrorIs(t, e.Err(), ErrNoCandidates)
	assert.Zero(t, e.Yielded())
}

func TestExtractor_NotRestartable(t *testing.T) {
	e := NewExtractor(wellFormedDoc)

	for e.Next() {
	}
	require.Equal(t, 2, e.Yielded())

	// Повторный проход невозможен.
	assert.False(t, e.Next())
	assert.NoError(t, e.Err())
}

func TestExtractor_CRLFNormalization(t *testing.T) {
	doc := "Question: Which vessel carries oxygenated blood from the lungs?\r\n" +
		"A) Pulmonary vein\r\nB) Pulmonary artery\r\nC) Aorta\r\nD) Inferior vena cava\r\nAnswer: D\r\n"

	extracted, _, err := collectAll(t, doc)
	require.NoError(t, err)
	require.Len(t, extracted, 1)
	assert.Equal(t, 3, extracted[0].CorrectIndex)
}

func TestExtractor_LazySingleBlockAtATime(t *testing.T) {
	e := NewExtractor(wellFormedDoc)

	require.True(t, e.Next())
	assert.Equal(t, 1, e.Yielded())
	assert.NoError(t, e.Err())

	require.True(t, e.Next())
	assert.Equal(t, 2, e.Yielded())

	assert.False(t, e.Next())
}
