package binflow_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/binflow/binflow"
	"github.com/binflow/binflow/source"
)

// fakeClock implements binflow.Clock with manually advanced time.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, fakeWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward and fires any waiters that have come due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)

	var pending []fakeWaiter
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
		} else {
			pending = append(pending, w)
		}
	}
	c.waiters = pending
}

// captureLogger records error-level messages for assertions.
type captureLogger struct {
	mu   sync.Mutex
	errs []string
}

func (l *captureLogger) Debug(string, ...interface{}) {}
func (l *captureLogger) Info(string, ...interface{})  {}
func (l *captureLogger) Warn(string, ...interface{})  {}

func (l *captureLogger) Error(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, fmt.Sprintf(format, args...))
}

func (l *captureLogger) errorLines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errs...)
}

// putItems enqueues n items of the given size carrying a "group" attribute.
func putItems(store *source.Memory, n int, group string, size int64) {
	for i := 0; i < n; i++ {
		store.Put(fmt.Sprintf("%s-%d", group, i), size, map[string]string{"group": group})
	}
}

// pull checks max items out of the store in a fresh session.
func pull(t *testing.T, store *source.Memory, max int) (binflow.Session, []*binflow.Item) {
	t.Helper()
	sess := store.CreateSession()
	items, err := sess.Get(context.Background(), max)
	if err != nil {
		t.Fatalf("pull items: %v", err)
	}
	return sess, items
}

// collectBins drains every bin buffered in ch without blocking.
func collectBins(ch chan *binflow.Bin) []*binflow.Bin {
	var bins []*binflow.Bin
	for {
		select {
		case bin := <-ch:
			bins = append(bins, bin)
		default:
			return bins
		}
	}
}
