package binflow

import (
	"math"
	"time"
)

// Bin is a single accumulating batch: an ordered sequence of items, a
// running total size, and the capacity bounds captured from the policy when
// the bin was created. A bin exclusively owns its Session; items offered to
// it are migrated from the pulling session into the bin's own.
//
// A Bin is not safe for concurrent use; the Manager synchronizes access to
// open bins.
type Bin struct {
	session Session

	contents  []*Item
	totalSize int64
	created   time.Time

	minSize    int64
	maxSize    int64
	minEntries int
	maxEntries int
}

// NewBin creates a bin with the given capacity bounds, fixed for the bin's
// lifetime. A maxSize or maxEntries of zero (or less) means unbounded.
func NewBin(session Session, minSize, maxSize int64, minEntries, maxEntries int, now time.Time) *Bin {
	if maxSize <= 0 {
		maxSize = math.MaxInt64
	}
	if maxEntries <= 0 {
		maxEntries = math.MaxInt
	}
	return &Bin{
		session:    session,
		created:    now,
		minSize:    minSize,
		maxSize:    maxSize,
		minEntries: minEntries,
		maxEntries: maxEntries,
	}
}

// Offer attempts to append an item to the bin, migrating it from the pulling
// session into the bin's session. It returns false, leaving the item
// untouched, if accepting the item would exceed the bin's maximum entry count
// or maximum size.
func (b *Bin) Offer(item *Item, from Session) bool {
	if len(b.contents) >= b.maxEntries {
		return false
	}
	if b.totalSize+item.Size > b.maxSize {
		return false
	}

	from.Migrate(b.session, item)
	b.contents = append(b.contents, item)
	b.totalSize += item.Size
	return true
}

// IsFull reports whether the bin can accept no more items.
func (b *Bin) IsFull() bool {
	return len(b.contents) >= b.maxEntries || b.totalSize >= b.maxSize
}

// IsFullEnough reports whether the bin has satisfied its completion policy:
// either it is full, or it holds at least the minimum number of entries and
// the minimum total size.
func (b *Bin) IsFullEnough() bool {
	if b.IsFull() {
		return true
	}
	return len(b.contents) >= b.minEntries && b.totalSize >= b.minSize
}

// IsOlderThan reports whether the bin was created more than age before now.
func (b *Bin) IsOlderThan(age time.Duration, now time.Time) bool {
	return now.Sub(b.created) > age
}

// Contents returns the items in the bin in insertion order. The returned
// slice is the bin's own; callers must not modify it.
func (b *Bin) Contents() []*Item {
	return b.contents
}

// EntryCount returns the number of items in the bin.
func (b *Bin) EntryCount() int {
	return len(b.contents)
}

// TotalSize returns the total size, in bytes, of the bin's items.
func (b *Bin) TotalSize() int64 {
	return b.totalSize
}

// CreatedAt returns the time the bin was created.
func (b *Bin) CreatedAt() time.Time {
	return b.created
}

// Session returns the session exclusively owned by this bin.
func (b *Bin) Session() Session {
	return b.session
}
