package processor

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/binflow/binflow"
)

// Concat is a Processor that merges a bin's payloads, in insertion order,
// into a single byte slice sent to Output. Item payloads must be []byte or
// string; any other payload type is a recoverable failure, routing the whole
// bin to the failure sink.
//
// Ownership of the output channel remains with the caller; the processor
// does not close it.
type Concat struct {
	// Output receives the merged payload of each bin. If nil, the merge
	// result is discarded but the bin still completes with merge attributes.
	Output chan<- []byte

	// Separator is inserted between consecutive payloads. Optional.
	Separator []byte
}

// ProcessBin implements the binflow.Processor interface. On success the
// returned attributes record the merge: "merge.count" holds the number of
// items merged and "merge.bin.bytes" the bin's total size.
func (p *Concat) ProcessBin(ctx context.Context, bin *binflow.Bin) (binflow.Result, error) {
	var buf bytes.Buffer

	for i, item := range bin.Contents() {
		if i > 0 && len(p.Separator) > 0 {
			buf.Write(p.Separator)
		}
		switch data := item.Data.(type) {
		case []byte:
			buf.Write(data)
		case string:
			buf.WriteString(data)
		default:
			return binflow.Result{}, binflow.Recoverable(fmt.Errorf("item %s has payload type %T, want []byte or string", item.ID, item.Data))
		}
	}

	if p.Output != nil {
		select {
		case <-ctx.Done():
			return binflow.Result{}, ctx.Err()
		case p.Output <- buf.Bytes():
		}
	}

	return binflow.Result{
		Attributes: map[string]string{
			"merge.count":     strconv.Itoa(bin.EntryCount()),
			"merge.bin.bytes": strconv.FormatInt(bin.TotalSize(), 10),
		},
	}, nil
}
