package processor_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/binflow/binflow"
	"github.com/binflow/binflow/source"
)

// makeBin builds an unbounded bin holding one item per payload, in order.
func makeBin(t *testing.T, store *source.Memory, payloads ...interface{}) *binflow.Bin {
	t.Helper()

	for _, payload := range payloads {
		var size int64 = 1
		switch data := payload.(type) {
		case []byte:
			size = int64(len(data))
		case string:
			size = int64(len(data))
		}
		store.Put(payload, size, nil)
	}

	sess := store.CreateSession()
	items, err := sess.Get(context.Background(), len(payloads))
	require.NoError(t, err)
	require.Len(t, items, len(payloads))

	bin := binflow.NewBin(store.CreateSession(), 0, 0, 0, 0, time.Now())
	for _, item := range items {
		require.True(t, bin.Offer(item, sess))
	}
	return bin
}

// recordingLogger captures formatted log lines by level.
type recordingLogger struct {
	mu    sync.Mutex
	lines map[string][]string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{lines: make(map[string][]string)}
}

func (l *recordingLogger) record(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines[level] = append(l.lines[level], fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Debug(format string, args ...interface{}) { l.record("debug", format, args...) }
func (l *recordingLogger) Info(format string, args ...interface{})  { l.record("info", format, args...) }
func (l *recordingLogger) Warn(format string, args ...interface{})  { l.record("warn", format, args...) }
func (l *recordingLogger) Error(format string, args ...interface{}) { l.record("error", format, args...) }

func (l *recordingLogger) level(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines[level]...)
}
