package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "JSON format to stdout",
			config: Config{Level: "info", Format: "json", Output: "stdout"},
		},
		{
			name:   "Console format to stderr",
			config: Config{Level: "debug", Format: "console", Output: "stderr"},
		},
		{
			name:   "Invalid log level defaults to info",
			config: Config{Level: "invalid", Format: "json", Output: "stdout"},
		},
		{
			name:    "Unwritable file path",
			config:  Config{Level: "info", Format: "json", Output: "/nonexistent-dir/virex.log"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "warn")

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["message"])
	assert.Equal(t, "error", lines[1]["message"])
}

func TestLoggerScopedFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "debug")

	logger.Component("queue").WithUserID(42).WithTaskID("01HZX").WithWorkerID(1).Info("picked")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "queue", lines[0]["component"])
	assert.Equal(t, float64(42), lines[0]["user_id"])
	assert.Equal(t, "01HZX", lines[0]["task_id"])
	assert.Equal(t, float64(1), lines[0]["worker_id"])
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "info")

	logger.WithFields(map[string]interface{}{"key1": "value1", "key2": 123}).
		WithField("key3", true).
		WithError(errors.New("boom")).
		Info("fields")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "value1", lines[0]["key1"])
	assert.Equal(t, float64(123), lines[0]["key2"])
	assert.Equal(t, true, lines[0]["key3"])
	assert.Equal(t, "boom", lines[0]["error"])
}

func TestLogTaskEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "info")

	logger.LogTaskEvent("task-1", 7, "queued", map[string]interface{}{"position": 2})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "task-1", lines[0]["task_id"])
	assert.Equal(t, "queued", lines[0]["event"])
	assert.Equal(t, float64(2), lines[0]["position"])
}

func TestLogTranscode(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "info")

	logger.LogTranscode("task-1", 99, 2*time.Second, nil)
	logger.LogTranscode("task-2", 100, time.Second, errors.New("exit status 1"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, float64(99), lines[0]["seed"])
	assert.Equal(t, "error", lines[1]["level"])
	assert.Equal(t, "exit status 1", lines[1]["error"])
}

func TestLogDownloadAndPersist(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "debug")

	logger.LogDownload("https://vm.tiktok.com/abc", "nowatermark", 2048, time.Second, nil)
	logger.LogPersist("users_data.json", 512, time.Millisecond, nil)
	logger.LogHTTPRequest("GET", "/api/health", "127.0.0.1", 200, time.Millisecond)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "nowatermark", lines[0]["strategy"])
	assert.Equal(t, "users_data.json", lines[1]["file"])
	assert.Equal(t, float64(200), lines[2]["status_code"])
}

func TestNopLogger(t *testing.T) {
	logger := Nop()
	logger.Info("dropped")
	logger.WithUserID(1).Error("dropped")
}

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "virex.log")
	logger, err := NewLogger(Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Component("core").Info("started")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"core"`)
	assert.Contains(t, string(data), `"message":"started"`)
}

func BenchmarkLogWithFields(b *testing.B) {
	logger := NewWriterLogger(&bytes.Buffer{}, "info")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.WithFields(map[string]interface{}{
			"key1": "value1",
			"key2": 123,
		}).Info("benchmark message")
	}
}
