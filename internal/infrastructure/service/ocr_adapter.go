package service

import (
	"context"
	"fmt"

	"github.com/medquiz-hub/medquiz-content-hub/internal/application/command"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/batch"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
	"github.com/medquiz-hub/medquiz-content-hub/internal/infrastructure/external/ocr"
)

// OCRAdapter adapts the ocr.Client to the command.TextRecognizer port.
type OCRAdapter struct {
	client *ocr.Client
}

// NewOCRAdapter creates a new OCRAdapter.
func NewOCRAdapter(client *ocr.Client) *OCRAdapter {
	return &OCRAdapter{client: client}
}

// Recognize implements command.TextRecognizer.
func (a *OCRAdapter) Recognize(ctx context.Context, kind batch.SourceKind, content []byte, filename string) (command.RecognizedText, error) {
	dto, err := a.client.Recognize(ctx, string(kind), content, filename)
	if err != nil {
		return command.RecognizedText{}, fmt.Errorf("%w: %v", shared.ErrOCRUnavailable, err)
	}

	// A successful response with no text means the document carried nothing
	// recognizable. Reporting it as a recognition failure tells the uploader
	// the document is the problem, not the question format.
	if dto.IsEmpty() {
		return command.RecognizedText{}, fmt.Errorf("%w: empty recognition result", shared.ErrOCRInvalidResponse)
	}

	return command.RecognizedText{
		Text:       dto.Text,
		Pages:      dto.Pages,
		Confidence: dto.MeanConfidence,
	}, nil
}
