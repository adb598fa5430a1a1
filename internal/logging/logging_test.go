package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_LevelFallback(t *testing.T) {
	logger, closer, err := New(Config{Level: "bogus", Format: "json"})
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()

	if logger.GetLevel() != zerolog.InfoLevel {
		t.Errorf("level = %s, want info", logger.GetLevel())
	}
}

func TestNew_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "batchctl.log")

	logger, closer, err := New(Config{Level: "debug", Format: "json", File: path})
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug().Str("batch", "nightly").Msg("hello")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"batch":"nightly"`) {
		t.Errorf("log file missing field: %s", data)
	}
}

func TestFromContext(t *testing.T) {
	// No logger: must not panic and must be disabled
	l := FromContext(context.Background())
	if l.GetLevel() != zerolog.Disabled {
		t.Errorf("level = %s, want disabled", l.GetLevel())
	}

	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), zerolog.New(&buf))
	FromContext(ctx).Info().Msg("from ctx")
	if !strings.Contains(buf.String(), "from ctx") {
		t.Errorf("expected message in buffer, got %q", buf.String())
	}
}
