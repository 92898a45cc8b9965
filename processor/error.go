package processor

import (
	"context"

	"github.com/binflow/binflow"
)

// Error is a Processor that fails every bin with the given error. Wrap Err
// with binflow.Recoverable to exercise the failure-sink path instead of the
// rollback path.
type Error struct {
	Err error
}

// ProcessBin implements the binflow.Processor interface.
func (p *Error) ProcessBin(_ context.Context, _ *binflow.Bin) (binflow.Result, error) {
	return binflow.Result{}, p.Err
}
