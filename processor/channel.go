package processor

import (
	"context"

	"github.com/binflow/binflow"
)

// Channel is a Processor that sends each ready bin to an output channel.
//
// Ownership of the output channel remains with the caller. Because the
// processor is unaware of when the engine has finished, it does not close
// the channel.
type Channel struct {
	// Output is the channel that receives each ready bin.
	// If nil, the processor does nothing.
	Output chan<- *binflow.Bin
}

// ProcessBin implements the binflow.Processor interface by forwarding the
// bin to the Output channel.
func (p *Channel) ProcessBin(ctx context.Context, bin *binflow.Bin) (binflow.Result, error) {
	if p.Output == nil {
		return binflow.Result{}, nil
	}

	select {
	case <-ctx.Done():
		return binflow.Result{}, ctx.Err()
	case p.Output <- bin:
	}

	return binflow.Result{}, nil
}
