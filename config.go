package binflow

import (
	"errors"
	"time"
)

// Policy contains the thresholds that drive bin completion. A zero MaxSize
// or MaxBinAge means unbounded. Bins capture the thresholds in effect when
// they are created; later updates only affect bins created thereafter.
type Policy struct {
	// MinSize is the minimum total size, in bytes, a bin must accumulate
	// before it is considered full enough.
	MinSize int64

	// MaxSize is the maximum total size, in bytes, a bin may hold. Zero
	// means no maximum.
	MaxSize int64

	// MinEntries is the minimum number of items a bin must hold before it
	// is considered full enough.
	MinEntries int

	// MaxEntries is the maximum number of items a bin may hold.
	MaxEntries int

	// MaxBinAge completes a bin regardless of its contents once this much
	// time has passed since the bin was created. Zero means bins never age
	// out.
	MaxBinAge time.Duration

	// MaxBinCount bounds the number of bins held in memory at any one time,
	// counting both open bins and bins awaiting hand-off.
	MaxBinCount int
}

// DefaultPolicy returns the default thresholds: no minimum size, at least one
// entry, at most 1000 entries, at most 5 bins, no maximum size and no age
// limit.
func DefaultPolicy() Policy {
	return Policy{
		MinEntries:  1,
		MaxEntries:  1000,
		MaxBinCount: 5,
	}
}

// Validate checks the policy and returns one error per problem found. A nil
// result means the policy is usable. Validation is pure; it can run without
// constructing a Manager or Engine.
func (p Policy) Validate() []error {
	var problems []error

	if p.MinSize < 0 {
		problems = append(problems, errors.New("minimum size cannot be negative"))
	}
	if p.MaxSize < 0 {
		problems = append(problems, errors.New("maximum size cannot be negative"))
	}
	if p.MaxSize > 0 && p.MaxSize < p.MinSize {
		problems = append(problems, errors.New("maximum size cannot be smaller than minimum size"))
	}
	if p.MinEntries <= 0 {
		problems = append(problems, errors.New("minimum entries cannot be negative or zero"))
	}
	if p.MaxEntries <= 0 {
		problems = append(problems, errors.New("maximum entries cannot be negative or zero"))
	}
	if p.MinEntries > 0 && p.MaxEntries > 0 && p.MaxEntries < p.MinEntries {
		problems = append(problems, errors.New("maximum entries cannot be smaller than minimum entries"))
	}
	if p.MaxBinAge < 0 {
		problems = append(problems, errors.New("max bin age cannot be negative"))
	}
	if p.MaxBinCount <= 0 {
		problems = append(problems, errors.New("max bin count cannot be negative or zero"))
	}

	return problems
}

// consistent reports whether the size and entry bounds agree with each
// other. Offers refuse to open bins with inconsistent captured bounds so a
// policy that escaped validation degrades to unbound items instead of
// misbinning.
func (p Policy) consistent() bool {
	if p.MaxSize > 0 && p.MaxSize < p.MinSize {
		return false
	}
	if p.MaxEntries > 0 && p.MaxEntries < p.MinEntries {
		return false
	}
	return true
}
