package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/richardliu001/order-service/internal/config"
)

func lines(buf *bytes.Buffer) []string {
	var out []string
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(config.LogConfig{Level: "warn"}, "order-server")
	require.NoError(t, err)
	assert.False(t, log.Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Desugar().Core().Enabled(zapcore.WarnLevel))

	_, err = NewLogger(config.LogConfig{Level: "loud"}, "order-server")
	assert.Error(t, err)
	_, err = NewLogger(config.LogConfig{Level: "info", Encoding: "xml"}, "order-server")
	assert.Error(t, err)
}

func TestBuild_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := build(config.LogConfig{Level: "info"}, "order-poller", zapcore.AddSync(&buf))
	require.NoError(t, err)

	log.Debugw("hidden")
	log.Infow("order transition", "order_id", "o-1", "to", "PAID")
	require.NoError(t, log.Sync())

	out := lines(&buf)
	require.Len(t, out, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(out[0]), &entry))
	assert.Equal(t, "order-poller", entry["component"])
	assert.Equal(t, "o-1", entry["order_id"])
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, entry, "ts")
	assert.Contains(t, entry, "caller")
}

func TestBuild_Console(t *testing.T) {
	var buf bytes.Buffer
	log, err := build(config.LogConfig{Level: "debug", Encoding: "console"}, "", zapcore.AddSync(&buf))
	require.NoError(t, err)

	log.Debugw("cache miss", "order_id", "o-1")
	require.NoError(t, log.Sync())

	out := lines(&buf)
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "DEBUG")
	assert.Contains(t, out[0], `{"order_id": "o-1"}`)
	assert.False(t, strings.HasPrefix(out[0], "{"))
}

func TestBuild_Sampling(t *testing.T) {
	var buf bytes.Buffer
	log, err := build(config.LogConfig{Level: "info", Sampling: true}, "order-server", zapcore.AddSync(&buf))
	require.NoError(t, err)

	for i := 0; i < 300; i++ {
		log.Warnw("order cache write", "order_id", "o-1")
	}
	require.NoError(t, log.Sync())

	n := len(lines(&buf))
	assert.GreaterOrEqual(t, n, 100)
	assert.Less(t, n, 300)
}
