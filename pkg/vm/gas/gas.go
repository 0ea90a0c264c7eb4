// Package gas meters execution cost during message application.
package gas

import "fmt"

// Unit measures gas.
type Unit uint64

// NoLimit disables the limit check, used when simulating calls.
const NoLimit = Unit(^uint64(0))

// OutOfGas is the panic value raised when a charge exceeds the limit. The
// invocation boundary recovers it and converts it to an exit code.
type OutOfGas struct {
	Limit Unit
}

func (o OutOfGas) Error() string {
	return fmt.Sprintf("gas limit %d exceeded", o.Limit)
}

// Tracker accumulates gas charges against a limit. Not safe for concurrent
// use; each transaction owns one.
type Tracker struct {
	limit Unit
	used  Unit
}

func NewTracker(limit Unit) *Tracker {
	return &Tracker{limit: limit}
}

// TryCharge consumes gas and reports whether the limit held. On failure the
// tracker is left saturated at the limit.
func (t *Tracker) TryCharge(amount Unit) bool {
	if t.limit != NoLimit && amount > t.limit-t.used {
		t.used = t.limit
		return false
	}
	t.used += amount
	return true
}

// Charge consumes gas and panics with OutOfGas when the limit is exceeded.
func (t *Tracker) Charge(amount Unit) {
	if !t.TryCharge(amount) {
		panic(OutOfGas{Limit: t.limit})
	}
}

// RaiseLimit lifts the limit, keeping gas already used. An accepted external
// message graduates from the admission credit to the full account-funded
// limit this way.
func (t *Tracker) RaiseLimit(limit Unit) {
	if limit > t.limit {
		t.limit = limit
	}
}

func (t *Tracker) Used() Unit { return t.used }

func (t *Tracker) Limit() Unit { return t.limit }

// Remaining returns gas left under the current limit.
func (t *Tracker) Remaining() Unit {
	if t.limit == NoLimit {
		return NoLimit
	}
	return t.limit - t.used
}
