package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(slog.New(slog.NewJSONHandler(&buf, nil))), &buf
}

func decodeEvent(t *testing.T, buf *bytes.Buffer) (string, Event) {
	t.Helper()
	var line struct {
		Level string `json:"level"`
		Msg   string `json:"msg"`
		Event Event  `json:"event"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "AUDIT", line.Msg)
	return line.Level, line.Event
}

func TestLogger(t *testing.T) {
	ctx := context.Background()

	t.Run("deposit", func(t *testing.T) {
		logger, buf := newBufferedLogger()
		logger.LogDeposit(ctx, "fund1", "tx1", "ch_1", 5000, "SUCCESS")

		level, event := decodeEvent(t, buf)
		assert.Equal(t, "INFO", level)
		assert.Equal(t, EventDeposit, event.EventType)
		assert.Equal(t, "fund1", event.FundID)
		assert.Equal(t, int64(5000), event.Amount)
		assert.Equal(t, "tx1", event.Details["transaction_id"])
		assert.False(t, event.Timestamp.IsZero())
	})

	t.Run("error", func(t *testing.T) {
		logger, buf := newBufferedLogger()
		logger.LogError(ctx, "att1", "fund1", errors.New("commit failed"))

		level, event := decodeEvent(t, buf)
		assert.Equal(t, "ERROR", level)
		assert.Equal(t, "FAILED", event.Status)
		assert.Equal(t, "commit failed", event.Details["error"])
	})

	t.Run("nil logger is a no-op", func(t *testing.T) {
		var logger *Logger
		assert.NotPanics(t, func() { logger.LogCharge(ctx, "att1", "att1:0", "", 100, "DECLINED") })
	})
}
