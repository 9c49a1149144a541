package timestamp

import (
	"fmt"
	"math"
	"time"
)

// Timestamp is an application assigned logical time. None means "not set".
type Timestamp uint64

const (
	None Timestamp = 0
	Max  Timestamp = math.MaxUint64
)

func (t Timestamp) IsSet() bool { return t != None }

func (t Timestamp) String() string {
	switch t {
	case None:
		return "none"
	case Max:
		return "max"
	default:
		return fmt.Sprintf("%d", uint64(t))
	}
}

// Now returns the wall clock as a Timestamp. Used by tooling that wants
// monotonically increasing commit timestamps without tracking them.
func Now() Timestamp {
	return FromTime(time.Now())
}

func FromTime(ts time.Time) Timestamp {
	return Timestamp(ts.UnixNano())
}

// Min returns the smaller of two set timestamps. None is ignored.
func Min(a, b Timestamp) Timestamp {
	if !a.IsSet() {
		return b
	}
	if !b.IsSet() {
		return a
	}
	if a < b {
		return a
	}
	return b
}
