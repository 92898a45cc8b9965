package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/binflow/binflow"
)

// Logging wraps another processor and logs when each bin starts and
// completes, along with any errors encountered.
type Logging struct {
	// Processor is the wrapped processor that does the actual work.
	Processor binflow.Processor

	// Logger is used to log processing events.
	// If nil, no logging occurs.
	Logger binflow.Logger

	// Name is an optional name for this processor used in log messages.
	// If empty, a generic name is used.
	Name string
}

// ProcessBin implements the binflow.Processor interface by delegating to the
// wrapped processor and logging the operation.
func (p *Logging) ProcessBin(ctx context.Context, bin *binflow.Bin) (binflow.Result, error) {
	if p.Processor == nil {
		return binflow.Result{}, nil
	}

	if p.Logger == nil {
		return p.Processor.ProcessBin(ctx, bin)
	}

	name := p.Name
	if name == "" {
		name = fmt.Sprintf("%T", p.Processor)
	}

	start := time.Now()
	p.Logger.Debug("processor '%s' starting bin of %d items (%d bytes)", name, bin.EntryCount(), bin.TotalSize())

	result, err := p.Processor.ProcessBin(ctx, bin)

	duration := time.Since(start)
	if err != nil {
		p.Logger.Error("processor '%s' failed after %v: %v", name, duration, err)
	} else {
		p.Logger.Debug("processor '%s' completed in %v", name, duration)
	}

	return result, err
}

// WrapWithLogging wraps a processor with logging capabilities.
// This is a convenience function for creating a Logging processor.
func WrapWithLogging(proc binflow.Processor, logger binflow.Logger, name string) *Logging {
	return &Logging{
		Processor: proc,
		Logger:    logger,
		Name:      name,
	}
}
