package binflow

import (
	"time"

	"github.com/zoobzio/clockz"
)

// Clock provides the time operations the engine needs. It is a narrow view
// of clockz.Clock so tests can substitute a fake and control bin aging and
// yield backoff deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is the default Clock backed by standard time.
var RealClock Clock = clockz.RealClock
