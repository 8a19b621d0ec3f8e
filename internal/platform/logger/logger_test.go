package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/platform/config"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("json by default", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(config.Log{Level: "info"}, &buf)
		log.Info("hello", "k", "v")
		assert.Contains(t, buf.String(), `"msg":"hello"`)
	})

	t.Run("text when configured", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(config.Log{Level: "info", Format: "text"}, &buf)
		log.Info("hello")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(config.Log{Level: "warn"}, &buf)
		log.Info("dropped")
		assert.Empty(t, buf.String())
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

var lineRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3} INFO: User:alice Path:/api/messages$`)

func TestRequestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewRequestLogHandler(&buf, slog.LevelInfo))

	log.With("ignored", true).InfoContext(context.Background(), "User:alice Path:/api/messages", "method", "POST")

	line := strings.TrimSuffix(buf.String(), "\n")
	assert.Regexp(t, lineRE, line)
}

func TestRequestLogHandlerConcurrentLines(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewRequestLogHandler(&buf, nil))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("User:alice Path:/api/messages")
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 50)
	for _, l := range lines {
		assert.Regexp(t, lineRE, l)
	}
}

func TestOpenRequestLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")

	for range 2 {
		log, closer, err := OpenRequestLog(path)
		require.NoError(t, err)
		log.Info("User:alice Path:/api/messages")
		require.NoError(t, closer.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}
