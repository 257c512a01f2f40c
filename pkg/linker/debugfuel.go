package linker

import (
	"math"
	"sync/atomic"
)

// DebugFuel is a budget of optimisations for bisecting miscompiles. Each
// optimisation decision consumes one unit; once the budget is gone the
// conservative branch is taken. A nil *DebugFuel never runs out.
type DebugFuel struct {
	remaining atomic.Int64
}

func NewDebugFuel(budget int64) *DebugFuel {
	f := &DebugFuel{}
	f.remaining.Store(budget)
	return f
}

// Use consumes one unit and returns how much is left.
func (f *DebugFuel) Use() int64 {
	if f == nil {
		return math.MaxInt64
	}
	return f.remaining.Add(-1)
}

// Allow consumes one unit and reports whether the optimisation may run.
func (f *DebugFuel) Allow() bool {
	return f.Use() >= 0
}

func (f *DebugFuel) Remaining() int64 {
	if f == nil {
		return math.MaxInt64
	}
	return f.remaining.Load()
}
