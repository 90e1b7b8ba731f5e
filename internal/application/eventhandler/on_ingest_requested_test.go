package eventhandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz-hub/medquiz-content-hub/internal/application/command"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// fakeIngestExecutor записывает переданные команды.
type fakeIngestExecutor struct {
	commands []command.IngestBatchCommand
	result   *command.IngestBatchResult
	err      error
}

func (e *fakeIngestExecutor) Handle(_ context.Context, cmd command.IngestBatchCommand) (*command.IngestBatchResult, error) {
	e.commands = append(e.commands, cmd)
	if e.err != nil {
		return nil, e.err
	}
	if e.result != nil {
		return e.result, nil
	}
	return &command.IngestBatchResult{Total: 1, Pending: 1}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// remoteIngestEvent имитирует событие, восстановленное из Redis-шины:
// тип и агрегат на месте, типизированного документа нет.
type remoteIngestEvent struct {
	shared.BaseEvent
}

func (e remoteIngestEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"text_bytes": 42}
}

func TestOnIngestRequested_RunsDeferredIngest(t *testing.T) {
	executor := &fakeIngestExecutor{}
	handler := NewOnIngestRequestedHandler(executor, testLogger())

	event := shared.NewBatchIngestRequestedEvent(
		"00000000-0000-4000-8000-000000000001", 500300, 7,
		"text", "", "Question 1: ...", nil,
	)

	require.NoError(t, handler.Handle(event))

	require.Len(t, executor.commands, 1)
	cmd := executor.commands[0]
	assert.Equal(t, event.AggregateID(), cmd.BatchID)
	assert.Equal(t, "text", cmd.Kind)
	assert.Equal(t, "Question 1: ...", cmd.Text)
}

func TestOnIngestRequested_SkipsNonLocalEvent(t *testing.T) {
	executor := &fakeIngestExecutor{}
	handler := NewOnIngestRequestedHandler(executor, testLogger())

	// Событие, пришедшее через Redis-шину с другого инстанса, не несёт
	// документа: обрабатывать его должен только принявший загрузку процесс.
	remote := remoteIngestEvent{BaseEvent: shared.NewBaseEvent(
		shared.EventBatchIngestRequested, "00000000-0000-4000-8000-000000000002",
	)}

	require.NoError(t, handler.Handle(remote))
	assert.Empty(t, executor.commands)
}

func TestOnIngestRequested_SurfacesIngestError(t *testing.T) {
	executor := &fakeIngestExecutor{err: errors.New("begin transaction: pool closed")}
	handler := NewOnIngestRequestedHandler(executor, testLogger())

	event := shared.NewBatchIngestRequestedEvent(
		"00000000-0000-4000-8000-000000000003", 500300, 7,
		"text", "", "Question 1: ...", nil,
	)

	err := handler.Handle(event)
	require.Error(t, err)
}
