package binflow

import (
	"sync"
	"time"
)

// Manager owns the mapping from group key to the bins currently open for
// that key, the global open-bin count, and the readiness policy. All access
// to open bins goes through the Manager's synchronized operations; raw
// iteration is never exposed to callers.
//
// Threshold updates only affect bins created after the update; already-open
// bins retain the bounds captured at creation.
type Manager struct {
	mu       sync.Mutex
	groups   map[string][]*Bin
	binCount int

	policy Policy
	clock  Clock
}

// NewManager creates a Manager with the given policy thresholds. If clock is
// nil, RealClock is used.
func NewManager(policy Policy, clock Clock) *Manager {
	if clock == nil {
		clock = RealClock
	}
	return &Manager{
		groups: make(map[string][]*Bin),
		policy: policy,
		clock:  clock,
	}
}

// SetMinimumSize updates the minimum size, in bytes, for bins created
// hereafter.
func (m *Manager) SetMinimumSize(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.MinSize = bytes
}

// SetMaximumSize updates the maximum size, in bytes, for bins created
// hereafter. Zero means no maximum.
func (m *Manager) SetMaximumSize(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.MaxSize = bytes
}

// SetMinimumEntries updates the minimum entry count for bins created
// hereafter.
func (m *Manager) SetMinimumEntries(entries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.MinEntries = entries
}

// SetMaximumEntries updates the maximum entry count for bins created
// hereafter.
func (m *Manager) SetMaximumEntries(entries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.MaxEntries = entries
}

// SetMaxBinAge updates the age at which a bin completes regardless of its
// contents. Zero means bins never age out.
func (m *Manager) SetMaxBinAge(age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.MaxBinAge = age
}

// SetMaxBinCount updates the bound on the number of open bins.
func (m *Manager) SetMaxBinCount(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.MaxBinCount = count
}

// MaxBinCount returns the current bound on the number of open bins.
func (m *Manager) MaxBinCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy.MaxBinCount
}

// BinCount returns the number of currently open bins.
func (m *Manager) BinCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.binCount
}

// Offer places each item into an open, non-full bin for groupKey, opening new
// bins as needed from the current policy thresholds. New bins own a fresh
// session from factory; accepted items are migrated out of session into
// their bin's session.
//
// Items that cannot be placed in any bin because the global bin count is
// already at capacity are returned unbound. Offer never fails for capacity
// reasons; the caller wraps unbound items in pass-through bins so no item is
// lost.
func (m *Manager) Offer(groupKey string, items []*Item, session Session, factory SessionFactory) []*Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A policy with contradictory bounds cannot produce a bin that would
	// ever release its items. Validation rejects such policies up front;
	// if one reaches a live manager anyway, refuse the offer rather than
	// misbehave.
	if !m.policy.consistent() {
		return items
	}

	var unbound []*Item
	now := m.clock.Now()

	for _, item := range items {
		if m.placeLocked(groupKey, item, session, factory, now) {
			continue
		}
		unbound = append(unbound, item)
	}

	return unbound
}

// placeLocked tries the open bins for groupKey in order, then a new bin.
// Must be called with m.mu held.
func (m *Manager) placeLocked(groupKey string, item *Item, session Session, factory SessionFactory, now time.Time) bool {
	for _, bin := range m.groups[groupKey] {
		if bin.Offer(item, session) {
			return true
		}
	}

	if m.binCount >= m.policy.MaxBinCount {
		return false
	}

	bin := NewBin(factory.CreateSession(), m.policy.MinSize, m.policy.MaxSize, m.policy.MinEntries, m.policy.MaxEntries, now)
	if !bin.Offer(item, session) {
		// Item is bigger than a fresh bin's maximum; it cannot be binned
		// under the current policy.
		bin.Session().Rollback()
		return false
	}

	m.groups[groupKey] = append(m.groups[groupKey], bin)
	m.binCount++
	return true
}

// RemoveReadyBins atomically removes and returns all bins satisfying the
// readiness predicate. A bin older than the policy's MaxBinAge is always
// ready. Otherwise, with relaxFullness the bin is ready once full enough
// (minimum thresholds met, or full); without it only completely full bins
// are removed.
func (m *Manager) RemoveReadyBins(relaxFullness bool) []*Bin {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ready []*Bin
	now := m.clock.Now()
	maxAge := m.policy.MaxBinAge

	for key, bins := range m.groups {
		var remaining []*Bin
		for _, bin := range bins {
			switch {
			case maxAge > 0 && bin.IsOlderThan(maxAge, now):
				ready = append(ready, bin)
			case relaxFullness && bin.IsFullEnough():
				ready = append(ready, bin)
			case !relaxFullness && bin.IsFull():
				ready = append(ready, bin)
			default:
				remaining = append(remaining, bin)
			}
		}
		if len(remaining) == 0 {
			delete(m.groups, key)
		} else {
			m.groups[key] = remaining
		}
	}

	m.binCount -= len(ready)
	return ready
}

// RemoveOldestBin removes and returns the single oldest open bin regardless
// of readiness, or nil if no bins are open. It is the safety valve used when
// the engine is saturated and no bin naturally became ready.
func (m *Manager) RemoveOldestBin() *Bin {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *Bin
	var oldestKey string
	for key, bins := range m.groups {
		for _, bin := range bins {
			if oldest == nil || bin.CreatedAt().Before(oldest.CreatedAt()) {
				oldest = bin
				oldestKey = key
			}
		}
	}
	if oldest == nil {
		return nil
	}

	bins := m.groups[oldestKey]
	for i, bin := range bins {
		if bin == oldest {
			bins = append(bins[:i], bins[i+1:]...)
			break
		}
	}
	if len(bins) == 0 {
		delete(m.groups, oldestKey)
	} else {
		m.groups[oldestKey] = bins
	}

	m.binCount--
	return oldest
}

// Purge discards all open bins and rolls back their sessions. It is safe to
// call repeatedly.
func (m *Manager) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, bins := range m.groups {
		for _, bin := range bins {
			bin.Session().Rollback()
		}
	}
	m.groups = make(map[string][]*Bin)
	m.binCount = 0
}
