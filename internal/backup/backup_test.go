package backup

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStrategy records Store calls and fails on demand.
type mockStrategy struct {
	name    string
	err     error
	calls   int
	gotID   string
	gotBody []byte
}

func (m *mockStrategy) Name() string { return m.name }

func (m *mockStrategy) Store(ctx context.Context, eventID string, payload []byte, cause error) error {
	m.calls++
	m.gotID = eventID
	m.gotBody = payload
	return m.err
}

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestBackup_FirstStrategySucceeds(t *testing.T) {
	logger, _ := captureLogger()
	first := &mockStrategy{name: "first"}
	second := &mockStrategy{name: "second"}

	chain := NewChain(logger, first, second)
	chain.Backup(context.Background(), "ev-1", []byte("payload"), errors.New("broker down"))

	assert.Equal(t, 1, first.calls)
	assert.Equal(t, "ev-1", first.gotID)
	assert.Equal(t, []byte("payload"), first.gotBody)
	assert.Equal(t, 0, second.calls, "chain must stop at the first success")
}

func TestBackup_FallsThroughToNextStrategy(t *testing.T) {
	logger, buf := captureLogger()
	first := &mockStrategy{name: "first", err: errors.New("disk full")}
	second := &mockStrategy{name: "second"}

	chain := NewChain(logger, first, second)
	chain.Backup(context.Background(), "ev-2", []byte("payload"), errors.New("broker down"))

	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, "ev-2", second.gotID)
	assert.NotContains(t, buf.String(), "data_loss", "a successful fallback is not a loss")
}

func TestBackup_AllStrategiesFailLogsLoss(t *testing.T) {
	logger, buf := captureLogger()
	first := &mockStrategy{name: "first", err: errors.New("disk full")}
	second := &mockStrategy{name: "second", err: errors.New("also down")}

	chain := NewChain(logger, first, second)

	// Must not panic or propagate anything.
	chain.Backup(context.Background(), "ev-3", []byte("payload"), errors.New("broker down"))

	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Contains(t, buf.String(), "data_loss=true")
	assert.Contains(t, buf.String(), "ev-3")
}

func TestBackup_EmptyChainLogsLoss(t *testing.T) {
	logger, buf := captureLogger()
	chain := NewChain(logger)

	chain.Backup(context.Background(), "ev-4", nil, errors.New("broker down"))

	require.Contains(t, buf.String(), "data_loss=true")
}
