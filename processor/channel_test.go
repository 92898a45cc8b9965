package processor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binflow/binflow"
	"github.com/binflow/binflow/processor"
	"github.com/binflow/binflow/source"
)

func TestChannel_ForwardsBin(t *testing.T) {
	store := source.NewMemory()
	bin := makeBin(t, store, "a", "b")

	out := make(chan *binflow.Bin, 1)
	p := &processor.Channel{Output: out}

	result, err := p.ProcessBin(context.Background(), bin)
	require.NoError(t, err)
	assert.False(t, result.Committed)
	assert.Same(t, bin, <-out)
}

func TestChannel_NilOutputIsNoOp(t *testing.T) {
	store := source.NewMemory()
	bin := makeBin(t, store, "a")

	p := &processor.Channel{}
	_, err := p.ProcessBin(context.Background(), bin)
	assert.NoError(t, err)
}

func TestChannel_CancelledContextWhileBlocked(t *testing.T) {
	store := source.NewMemory()
	bin := makeBin(t, store, "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &processor.Channel{Output: make(chan *binflow.Bin)} // unbuffered, nobody reading
	_, err := p.ProcessBin(ctx, bin)
	assert.True(t, errors.Is(err, context.Canceled))
}
