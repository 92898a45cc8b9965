package binflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// IntakeChunkSize is the maximum number of items pulled from the source in a
// single Get during intake.
const IntakeChunkSize = 1000

// Result is returned by a Processor for each bin it handles.
type Result struct {
	// Attributes are applied to every item in the bin before the items are
	// transferred to RelOriginal. Ignored if Committed is true.
	Attributes map[string]string

	// Committed indicates the processor already finalized the bin's session
	// itself. The engine then does nothing further for the bin.
	Committed bool
}

// Processor is the pluggable consumer invoked once per ready bin.
//
// An error wrapped with Recoverable routes the bin's items to RelFailure and
// commits the bin's session; any other error rolls the session back so the
// items return to the source for redelivery.
type Processor interface {
	ProcessBin(ctx context.Context, bin *Bin) (Result, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, bin *Bin) (Result, error)

// ProcessBin implements the Processor interface.
func (f ProcessorFunc) ProcessBin(ctx context.Context, bin *Bin) (Result, error) {
	return f(ctx, bin)
}

// Engine accumulates a stream of items into bins and hands completed bins to
// a Processor. Create one with New, then invoke Trigger repeatedly from an
// external scheduler (see Runner).
type Engine struct {
	manager    *Manager
	factory    SessionFactory
	groupFn    GroupKeyFunc
	processor  Processor
	preprocess PreprocessFunc
	logger     Logger
	stats      StatsCollector
	clock      Clock

	mu      sync.Mutex
	ready   []*Bin
	started bool
}

// New creates an Engine with the given policy, session factory, group-key
// function and processor. The policy is validated; errors are joined and
// returned together.
func New(policy Policy, factory SessionFactory, groupFn GroupKeyFunc, processor Processor) (*Engine, error) {
	if problems := policy.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid policy: %w", errors.Join(problems...))
	}
	if factory == nil {
		return nil, errors.New("session factory cannot be nil")
	}
	if groupFn == nil {
		return nil, errors.New("group key function cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}

	return &Engine{
		manager:   NewManager(policy, RealClock),
		factory:   factory,
		groupFn:   groupFn,
		processor: processor,
		logger:    &NoOpLogger{},
		stats:     &NoOpStatsCollector{},
		clock:     RealClock,
	}, nil
}

// WithLogger sets a custom logger for the Engine. This must be called before
// the first Trigger.
//
// Panics if called after Trigger has run to prevent data races.
func (e *Engine) WithLogger(logger Logger) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		panic("binflow: WithLogger cannot be called after Trigger has run")
	}
	e.logger = logger
	return e
}

// WithStats sets a custom stats collector for the Engine. This must be
// called before the first Trigger.
//
// Panics if called after Trigger has run to prevent data races.
func (e *Engine) WithStats(stats StatsCollector) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		panic("binflow: WithStats cannot be called after Trigger has run")
	}
	e.stats = stats
	return e
}

// WithClock sets the clock used for bin aging. This must be called before
// the first Trigger.
//
// Panics if called after Trigger has run to prevent data races.
func (e *Engine) WithClock(clock Clock) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		panic("binflow: WithClock cannot be called after Trigger has run")
	}
	e.clock = clock
	e.manager.clock = clock
	return e
}

// WithPreprocess sets a hook that runs on each item before its group key is
// computed. This must be called before the first Trigger.
//
// Panics if called after Trigger has run to prevent data races.
func (e *Engine) WithPreprocess(fn PreprocessFunc) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		panic("binflow: WithPreprocess cannot be called after Trigger has run")
	}
	e.preprocess = fn
	return e
}

// Manager returns the engine's bin manager, for adjusting policy thresholds
// at runtime. Updates affect only bins created thereafter.
func (e *Engine) Manager() *Manager {
	return e.manager
}

// Trigger runs one engine activation: intake, migration, drain. It returns
// true if any work was performed; when it returns false the caller should
// back off before the next activation.
//
// Concurrent Trigger calls on the same Engine are serialized.
func (e *Engine) Trigger(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = true

	maxBinCount := e.manager.MaxBinCount()
	totalBinCount := e.manager.BinCount() + len(e.ready)

	itemsBinned := 0
	if totalBinCount < maxBinCount {
		itemsBinned = e.intake(ctx)
		e.logger.Debug("binned %d items", itemsBinned)
	} else {
		e.logger.Debug("will not bin any items because %d bins already exist; "+
			"will wait until bins have been emptied before any more are created", totalBinCount)
	}

	if ctx.Err() != nil {
		return itemsBinned > 0
	}

	binsMigrated := e.migrate(maxBinCount)
	binsProcessed := e.drain(ctx)

	return itemsBinned+binsMigrated+binsProcessed > 0
}

// intake pulls chunks of items from the source, groups them by key, and
// offers each group to the manager. Items whose group key cannot be computed
// go straight to RelFailure. Unbound items are wrapped as their own
// single-item ready bins with relaxed bounds so no item is ever lost.
func (e *Engine) intake(ctx context.Context) int {
	itemsBinned := 0

	for e.manager.BinCount()+len(e.ready) <= e.manager.MaxBinCount() {
		if ctx.Err() != nil {
			break
		}

		session := e.factory.CreateSession()
		items, err := session.Get(ctx, IntakeChunkSize)
		if err != nil {
			e.logger.Error("failed to pull items: %v", &SourceError{Err: err})
			e.stats.RecordSourceError()
			session.Rollback()
			break
		}
		if len(items) == 0 {
			session.Rollback()
			break
		}

		groups := make(map[string][]*Item)
		for _, item := range items {
			if e.preprocess != nil {
				item = e.preprocess(session, item)
			}

			key, err := e.groupFn(session, item)
			if err != nil {
				e.logger.Error("could not determine which bin to add item %s to; routing to failure: %v", item.ID, err)
				session.Transfer(item, RelFailure)
				e.stats.RecordItemFailed()
				continue
			}
			groups[key] = append(groups[key], item)
		}

		chunkBinned := 0
		for key, group := range groups {
			unbound := e.manager.Offer(key, group, session, e.factory)
			for _, item := range unbound {
				bin := NewBin(e.factory.CreateSession(), 0, 0, 0, 0, e.clock.Now())
				bin.Offer(item, session)
				e.ready = append(e.ready, bin)
			}
			chunkBinned += len(group)
		}
		itemsBinned += chunkBinned
		e.stats.RecordItemsBinned(chunkBinned)

		// Binned items were migrated into their bins' sessions; committing
		// here delivers only the failure-routed leftovers.
		if err := session.Commit(); err != nil {
			e.logger.Error("failed to commit intake session: %v", err)
			session.Rollback()
		}
	}

	return itemsBinned
}

// migrate moves ready bins from the manager into the ready queue. If nothing
// migrated and the manager is at full capacity, the oldest bin is
// force-evicted so the engine cannot deadlock with every bin below its
// minimums.
func (e *Engine) migrate(maxBinCount int) int {
	migrated := 0
	for _, bin := range e.manager.RemoveReadyBins(true) {
		e.ready = append(e.ready, bin)
		e.stats.RecordBinMigrated()
		migrated++
	}

	if migrated == 0 && e.manager.BinCount() >= maxBinCount {
		if bin := e.manager.RemoveOldestBin(); bin != nil {
			e.logger.Info("evicted oldest bin of %d items to guarantee forward progress", bin.EntryCount())
			e.ready = append(e.ready, bin)
			e.stats.RecordBinEvicted()
			migrated++
		}
	}

	return migrated
}

// drain pops every queued ready bin in FIFO order and hands each to the
// processor.
func (e *Engine) drain(ctx context.Context) int {
	processed := 0

	for len(e.ready) > 0 {
		bin := e.ready[0]
		e.ready = e.ready[1:]

		result, err := e.processor.ProcessBin(ctx, bin)
		if err != nil {
			var recoverable *RecoverableError
			if errors.As(err, &recoverable) {
				e.logger.Error("failed to process bundle of %d items: %v", bin.EntryCount(), err)
				sess := bin.Session()
				for _, item := range bin.Contents() {
					sess.Transfer(item, RelFailure)
					e.stats.RecordItemFailed()
				}
				if commitErr := sess.Commit(); commitErr != nil {
					e.logger.Error("failed to commit failure transfer for bundle of %d items: %v", bin.EntryCount(), commitErr)
					sess.Rollback()
				}
				continue
			}

			e.logger.Error("failed to process bundle of %d items: %v; rolling back session", bin.EntryCount(), err)
			bin.Session().Rollback()
			e.stats.RecordBinRolledBack()
			continue
		}

		// If this bin's session has been committed, move on.
		if !result.Committed {
			sess := bin.Session()
			for _, item := range bin.Contents() {
				sess.PutAllAttributes(item, result.Attributes)
				sess.Transfer(item, RelOriginal)
			}
			if commitErr := sess.Commit(); commitErr != nil {
				e.logger.Error("failed to commit bundle of %d items: %v; rolling back session", bin.EntryCount(), commitErr)
				sess.Rollback()
				e.stats.RecordBinRolledBack()
				continue
			}
		}

		e.stats.RecordBinProcessed(bin.EntryCount(), bin.TotalSize())
		processed++
	}

	return processed
}

// Purge discards all open bins and rolls back the sessions of bins still
// waiting in the ready queue. Call it on shutdown. Purge is idempotent.
func (e *Engine) Purge() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.manager.Purge()
	for _, bin := range e.ready {
		bin.Session().Rollback()
	}
	e.ready = nil
}
