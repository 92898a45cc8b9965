package binflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binflow/binflow"
	"github.com/binflow/binflow/processor"
	"github.com/binflow/binflow/source"
)

func newTestEngine(t *testing.T, policy binflow.Policy, store *source.Memory, proc binflow.Processor) *binflow.Engine {
	t.Helper()
	eng, err := binflow.New(policy, store, binflow.GroupByAttribute("group"), proc)
	require.NoError(t, err)
	return eng
}

func TestNew_RejectsInvalidArguments(t *testing.T) {
	store := source.NewMemory()
	proc := &processor.Channel{}

	_, err := binflow.New(binflow.Policy{MinEntries: 5, MaxEntries: 2, MaxBinCount: 1}, store, binflow.SingleGroup(), proc)
	require.Error(t, err, "max entries below min entries must be rejected")

	_, err = binflow.New(binflow.DefaultPolicy(), nil, binflow.SingleGroup(), proc)
	require.Error(t, err)

	_, err = binflow.New(binflow.DefaultPolicy(), store, nil, proc)
	require.Error(t, err)

	_, err = binflow.New(binflow.DefaultPolicy(), store, binflow.SingleGroup(), nil)
	require.Error(t, err)
}

func TestEngine_BinsByGroupAndProcesses(t *testing.T) {
	store := source.NewMemory()
	bins := make(chan *binflow.Bin, 10)
	eng := newTestEngine(t, binflow.Policy{
		MinEntries: 2, MaxEntries: 3, MaxBinCount: 5,
	}, store, &processor.Channel{Output: bins})

	putItems(store, 2, "A", 10)
	assert.True(t, eng.Trigger(context.Background()))

	collected := collectBins(bins)
	require.Len(t, collected, 1)
	assert.Equal(t, 2, collected[0].EntryCount())
	assert.Equal(t, int64(20), collected[0].TotalSize())

	success := store.Sink(binflow.RelOriginal)
	require.Len(t, success, 2)
	assert.Equal(t, 0, store.Depth())
}

func TestEngine_AppliesProcessorAttributes(t *testing.T) {
	store := source.NewMemory()
	proc := binflow.ProcessorFunc(func(_ context.Context, _ *binflow.Bin) (binflow.Result, error) {
		return binflow.Result{Attributes: map[string]string{"merged": "true"}}, nil
	})
	eng := newTestEngine(t, binflow.Policy{
		MinEntries: 1, MaxEntries: 10, MaxBinCount: 5,
	}, store, proc)

	putItems(store, 3, "A", 10)
	require.True(t, eng.Trigger(context.Background()))

	success := store.Sink(binflow.RelOriginal)
	require.Len(t, success, 3)
	for _, item := range success {
		assert.Equal(t, "true", item.Attribute("merged"))
	}
}

// failingSource yields sessions whose Get always fails.
type failingSource struct{ err error }

func (f *failingSource) CreateSession() binflow.Session { return &failingSession{err: f.err} }

type failingSession struct{ err error }

func (s *failingSession) Get(context.Context, int) ([]*binflow.Item, error) { return nil, s.err }
func (s *failingSession) Migrate(binflow.Session, ...*binflow.Item)         {}
func (s *failingSession) Transfer(*binflow.Item, binflow.Relationship)      {}
func (s *failingSession) PutAllAttributes(*binflow.Item, map[string]string) {}
func (s *failingSession) Commit() error                                     { return nil }
func (s *failingSession) Rollback()                                         {}

func TestEngine_SourceFailureIsWrappedAndCounted(t *testing.T) {
	logger := &captureLogger{}
	stats := binflow.NewBasicStatsCollector()
	src := &failingSource{err: errors.New("broker unavailable")}

	eng, err := binflow.New(binflow.DefaultPolicy(), src, binflow.SingleGroup(), &processor.Channel{})
	require.NoError(t, err)
	eng.WithLogger(logger).WithStats(stats)

	assert.False(t, eng.Trigger(context.Background()))
	assert.Equal(t, uint64(1), stats.GetStats().SourceErrors)

	lines := logger.errorLines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "source error: broker unavailable")
}

func TestEngine_GroupKeyFailureRoutesToFailure(t *testing.T) {
	store := source.NewMemory()
	eng := newTestEngine(t, binflow.Policy{
		MinEntries: 1, MaxEntries: 10, MaxBinCount: 5,
	}, store, &processor.Channel{Output: make(chan *binflow.Bin, 10)})

	putItems(store, 2, "A", 10)
	store.Put("keyless", 10, nil)

	require.True(t, eng.Trigger(context.Background()))

	assert.Len(t, store.Sink(binflow.RelFailure), 1, "item without a group attribute goes to failure")
	assert.Len(t, store.Sink(binflow.RelOriginal), 2, "binnable items are unaffected")
	assert.Equal(t, 0, store.Depth())
}

func TestEngine_RecoverableFailureCommitsToFailureSink(t *testing.T) {
	store := source.NewMemory()
	stats := binflow.NewBasicStatsCollector()
	eng := newTestEngine(t, binflow.Policy{
		MinEntries: 1, MaxEntries: 10, MaxBinCount: 5,
	}, store, &processor.Error{Err: binflow.Recoverable(errors.New("downstream rejected bundle"))})
	eng.WithStats(stats)

	putItems(store, 5, "A", 10)
	require.True(t, eng.Trigger(context.Background()))

	failed := store.Sink(binflow.RelFailure)
	assert.Len(t, failed, 5, "every item of the failed bin lands in the failure sink exactly once")
	assert.Empty(t, store.Sink(binflow.RelOriginal))
	assert.Equal(t, 0, store.Depth(), "the failure path commits; nothing is redelivered")
	assert.Equal(t, uint64(5), stats.GetStats().ItemsFailed, "each failure-routed item is counted")
}

func TestEngine_UnrecoverableFailureRollsBack(t *testing.T) {
	store := source.NewMemory()
	stats := binflow.NewBasicStatsCollector()
	eng := newTestEngine(t, binflow.Policy{
		MinEntries: 1, MaxEntries: 10, MaxBinCount: 5,
	}, store, &processor.Error{Err: errors.New("boom")})
	eng.WithStats(stats)

	putItems(store, 3, "A", 10)
	eng.Trigger(context.Background())

	assert.Empty(t, store.Sink(binflow.RelOriginal))
	assert.Empty(t, store.Sink(binflow.RelFailure))
	assert.Equal(t, 3, store.Depth(), "rolled-back items return to the source for redelivery")
	assert.Equal(t, uint64(1), stats.GetStats().BinsRolledBack)
	assert.Equal(t, uint64(0), stats.GetStats().BinsProcessed)
}

func TestEngine_AlreadyCommittedResultIsLeftAlone(t *testing.T) {
	store := source.NewMemory()
	proc := binflow.ProcessorFunc(func(_ context.Context, bin *binflow.Bin) (binflow.Result, error) {
		sess := bin.Session()
		for _, item := range bin.Contents() {
			sess.Transfer(item, binflow.RelFailure)
		}
		if err := sess.Commit(); err != nil {
			return binflow.Result{}, err
		}
		return binflow.Result{Committed: true}, nil
	})
	eng := newTestEngine(t, binflow.Policy{
		MinEntries: 1, MaxEntries: 10, MaxBinCount: 5,
	}, store, proc)

	putItems(store, 2, "A", 10)
	require.True(t, eng.Trigger(context.Background()))

	assert.Len(t, store.Sink(binflow.RelFailure), 2, "the processor's own disposition stands")
	assert.Empty(t, store.Sink(binflow.RelOriginal), "the engine must not transfer again")
}

func TestEngine_UnboundItemsBecomePassThroughBins(t *testing.T) {
	store := source.NewMemory()
	bins := make(chan *binflow.Bin, 10)
	eng := newTestEngine(t, binflow.Policy{
		MinEntries: 2, MaxEntries: 10, MaxBinCount: 1,
	}, store, &processor.Channel{Output: bins})

	// Two groups in one chunk: whichever group gets the only bin, the other
	// group's item comes back unbound and passes straight through as its own
	// single-item ready bin. The saturated open bin is then force-evicted, so
	// both items complete and neither is dropped.
	putItems(store, 1, "A", 10)
	putItems(store, 1, "B", 10)

	require.True(t, eng.Trigger(context.Background()))

	processed := collectBins(bins)
	require.Len(t, processed, 2)
	for _, bin := range processed {
		assert.Equal(t, 1, bin.EntryCount())
	}
	assert.Len(t, store.Sink(binflow.RelOriginal), 2)
	assert.Equal(t, 0, eng.Manager().BinCount())
	assert.Equal(t, 0, store.Depth(), "no item is dropped")
}

func TestEngine_EvictsOldestWhenSaturated(t *testing.T) {
	store := source.NewMemory()
	bins := make(chan *binflow.Bin, 10)
	stats := binflow.NewBasicStatsCollector()
	clock := newFakeClock()
	eng := newTestEngine(t, binflow.Policy{
		MinEntries: 10, MaxEntries: 20, MaxBinCount: 2,
	}, store, &processor.Channel{Output: bins})
	eng.WithStats(stats).WithClock(clock)

	putItems(store, 1, "A", 10)
	require.True(t, eng.Trigger(context.Background()), "intake counts as work")
	require.Equal(t, 1, eng.Manager().BinCount())

	clock.Advance(time.Second)
	putItems(store, 1, "B", 10)

	// The second bin saturates the manager with nothing naturally ready,
	// so the oldest bin is evicted to keep the engine making progress.
	require.True(t, eng.Trigger(context.Background()))
	evicted := collectBins(bins)
	require.Len(t, evicted, 1)
	assert.Equal(t, "A", evicted[0].Contents()[0].Attribute("group"))
	assert.Equal(t, 1, eng.Manager().BinCount())
	assert.Equal(t, uint64(1), stats.GetStats().BinsEvicted)
}

func TestEngine_AgedBinMigratesOnTrigger(t *testing.T) {
	store := source.NewMemory()
	clock := newFakeClock()
	bins := make(chan *binflow.Bin, 10)
	eng := newTestEngine(t, binflow.Policy{
		MinEntries: 5, MaxEntries: 10, MaxBinAge: 30 * time.Second, MaxBinCount: 5,
	}, store, &processor.Channel{Output: bins})
	eng.WithClock(clock)

	putItems(store, 1, "A", 10)
	require.True(t, eng.Trigger(context.Background()))
	require.Empty(t, collectBins(bins), "young bin below minimums stays open")

	clock.Advance(31 * time.Second)
	require.True(t, eng.Trigger(context.Background()))
	assert.Len(t, collectBins(bins), 1, "aged bin completes despite being below minimums")
	assert.Len(t, store.Sink(binflow.RelOriginal), 1)
}

func TestEngine_IdleActivationReportsNoWork(t *testing.T) {
	store := source.NewMemory()
	eng := newTestEngine(t, binflow.DefaultPolicy(), store, &processor.Channel{Output: make(chan *binflow.Bin, 1)})

	assert.False(t, eng.Trigger(context.Background()), "no intake, no migration, no processing")
}

func TestEngine_CancelledContextSkipsIntake(t *testing.T) {
	store := source.NewMemory()
	eng := newTestEngine(t, binflow.DefaultPolicy(), store, &processor.Channel{Output: make(chan *binflow.Bin, 1)})

	putItems(store, 3, "A", 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, eng.Trigger(ctx))
	assert.Equal(t, 3, store.Depth(), "items stay with the source when the activation is cancelled")
}

func TestEngine_PurgeIsIdempotent(t *testing.T) {
	store := source.NewMemory()
	eng := newTestEngine(t, binflow.Policy{
		MinEntries: 5, MaxEntries: 10, MaxBinCount: 5,
	}, store, &processor.Channel{Output: make(chan *binflow.Bin, 1)})

	putItems(store, 2, "A", 10)
	require.True(t, eng.Trigger(context.Background()))
	require.Equal(t, 1, eng.Manager().BinCount())

	eng.Purge()
	assert.Equal(t, 0, eng.Manager().BinCount())
	assert.Equal(t, 2, store.Depth())

	eng.Purge()
	assert.Equal(t, 0, eng.Manager().BinCount())
	assert.Equal(t, 2, store.Depth())
}

func TestEngine_NoSilentLoss(t *testing.T) {
	store := source.NewMemory()
	eng := newTestEngine(t, binflow.Policy{
		MinEntries: 1, MaxEntries: 3, MaxBinCount: 2,
	}, store, &processor.Channel{Output: make(chan *binflow.Bin, 100)})

	const total = 25
	for i := 0; i < total; i++ {
		switch i % 3 {
		case 0:
			putItems(store, 1, "A", 10)
		case 1:
			putItems(store, 1, "B", 10)
		default:
			store.Put("keyless", 10, nil) // fails group key computation
		}
	}

	for eng.Trigger(context.Background()) {
	}

	success := len(store.Sink(binflow.RelOriginal))
	failure := len(store.Sink(binflow.RelFailure))
	assert.Equal(t, total, success+failure+store.Depth(),
		"every offered item is accounted for in success, failure, or the queue")
	assert.Equal(t, 0, eng.Manager().BinCount())
}

func TestEngine_OptionsPanicAfterStart(t *testing.T) {
	store := source.NewMemory()
	eng := newTestEngine(t, binflow.DefaultPolicy(), store, &processor.Channel{Output: make(chan *binflow.Bin, 1)})

	eng.Trigger(context.Background())

	assert.Panics(t, func() { eng.WithLogger(&binflow.NoOpLogger{}) })
	assert.Panics(t, func() { eng.WithStats(binflow.NewBasicStatsCollector()) })
	assert.Panics(t, func() { eng.WithClock(newFakeClock()) })
}
