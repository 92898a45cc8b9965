package binflow

import (
	"context"
	"testing"
	"time"
)

// stubSession is the minimal Session used for exercising Bin in isolation.
type stubSession struct{}

func (stubSession) Get(context.Context, int) ([]*Item, error) { return nil, nil }
func (stubSession) Migrate(Session, ...*Item)                 {}
func (stubSession) Transfer(*Item, Relationship)              {}
func (stubSession) PutAllAttributes(*Item, map[string]string) {}
func (stubSession) Commit() error                             { return nil }
func (stubSession) Rollback()                                 {}

func TestBin_OfferEnforcesBounds(t *testing.T) {
	now := time.Now()

	t.Run("entry bound", func(t *testing.T) {
		bin := NewBin(stubSession{}, 0, 0, 1, 2, now)
		if !bin.Offer(&Item{Size: 1}, stubSession{}) {
			t.Fatal("first offer should be accepted")
		}
		if !bin.Offer(&Item{Size: 1}, stubSession{}) {
			t.Fatal("second offer should be accepted")
		}
		if bin.Offer(&Item{Size: 1}, stubSession{}) {
			t.Error("offer beyond max entries should be rejected")
		}
		if bin.EntryCount() != 2 {
			t.Errorf("expected 2 entries, got %d", bin.EntryCount())
		}
	})

	t.Run("size bound", func(t *testing.T) {
		bin := NewBin(stubSession{}, 0, 100, 1, 0, now)
		if !bin.Offer(&Item{Size: 60}, stubSession{}) {
			t.Fatal("first offer should be accepted")
		}
		if bin.Offer(&Item{Size: 50}, stubSession{}) {
			t.Error("offer exceeding max size should be rejected")
		}
		// An item that fits exactly is still accepted.
		if !bin.Offer(&Item{Size: 40}, stubSession{}) {
			t.Error("offer filling the bin exactly should be accepted")
		}
		if bin.TotalSize() != 100 {
			t.Errorf("expected total size 100, got %d", bin.TotalSize())
		}
	})
}

func TestBin_IsFullEnough(t *testing.T) {
	now := time.Now()

	t.Run("below minimums", func(t *testing.T) {
		bin := NewBin(stubSession{}, 100, 0, 2, 0, now)
		bin.Offer(&Item{Size: 50}, stubSession{})
		if bin.IsFullEnough() {
			t.Error("bin below min entries and min size should not be full enough")
		}
	})

	t.Run("minimums met", func(t *testing.T) {
		bin := NewBin(stubSession{}, 100, 0, 2, 0, now)
		bin.Offer(&Item{Size: 50}, stubSession{})
		bin.Offer(&Item{Size: 50}, stubSession{})
		if !bin.IsFullEnough() {
			t.Error("bin meeting min entries and min size should be full enough")
		}
	})

	t.Run("entries met but size below minimum", func(t *testing.T) {
		bin := NewBin(stubSession{}, 100, 0, 1, 0, now)
		bin.Offer(&Item{Size: 10}, stubSession{})
		if bin.IsFullEnough() {
			t.Error("bin below min size should not be full enough")
		}
	})

	t.Run("full bin below minimums is still full enough", func(t *testing.T) {
		bin := NewBin(stubSession{}, 1000, 0, 5, 2, now)
		bin.Offer(&Item{Size: 1}, stubSession{})
		bin.Offer(&Item{Size: 1}, stubSession{})
		if !bin.IsFull() {
			t.Fatal("bin at max entries should be full")
		}
		if !bin.IsFullEnough() {
			t.Error("full bin should be full enough even below minimums")
		}
	})
}

func TestBin_IsOlderThan(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bin := NewBin(stubSession{}, 0, 0, 1, 0, created)

	if bin.IsOlderThan(time.Minute, created.Add(30*time.Second)) {
		t.Error("bin should not be older than a minute after 30s")
	}
	if !bin.IsOlderThan(time.Minute, created.Add(2*time.Minute)) {
		t.Error("bin should be older than a minute after 2m")
	}
}
