package binflow_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/binflow/binflow"
)

func TestZerologLogger_RoutesLevels(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(zerolog.DebugLevel)
	logger := binflow.NewZerologLogger(zl)

	logger.Debug("binned %d items", 7)
	logger.Info("evicted oldest bin")
	logger.Warn("source slow")
	logger.Error("commit failed: %v", "timeout")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"level":"debug"`)
	assert.Contains(t, lines[0], "binned 7 items")
	assert.Contains(t, lines[1], `"level":"info"`)
	assert.Contains(t, lines[2], `"level":"warn"`)
	assert.Contains(t, lines[3], `"level":"error"`)
	assert.Contains(t, lines[3], "commit failed: timeout")
}

func TestZerologLogger_HonorsLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(zerolog.WarnLevel)
	logger := binflow.NewZerologLogger(zl)

	logger.Debug("suppressed")
	logger.Info("suppressed")
	logger.Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "suppressed")
	assert.Contains(t, out, "kept")
}
