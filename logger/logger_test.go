package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commodity-ledger/logger"
)

func TestParseLevel(t *testing.T) {
	lvl, ok := logger.ParseLevel("DEBUG")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, ok = logger.ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestInitLoggerTo_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger.InitLoggerTo(&buf, "info")
	t.Cleanup(func() { logger.L = slog.Default() })

	buf.Reset()
	logger.L.Info("transfer created", "code", "GRP-2025-00001")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "transfer created", rec["msg"])
	assert.Equal(t, "GRP-2025-00001", rec["code"])
}

func TestFromContext_FallsBackToGlobal(t *testing.T) {
	assert.Same(t, logger.L, logger.FromContext(context.Background()))

	scoped := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := logger.WithContext(context.Background(), scoped)
	assert.Same(t, scoped, logger.FromContext(ctx))
}
