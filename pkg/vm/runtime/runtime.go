// Package runtime defines the surface contract code sees while computing a
// transaction, and the abort machinery used to terminate a compute with an
// exit code.
//
// Everything a handler may observe comes through the InvocationContext:
// code, state, the inbound message, attached value and the logical tick.
// Wall clock and randomness are deliberately absent so that identical inputs
// always produce identical actions.
package runtime

import (
	"fmt"

	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/types"
)

// ReserveMode selects how a Reserve action interprets its amount.
type ReserveMode uint8

const (
	// ReserveExact sets aside exactly the given amount.
	ReserveExact ReserveMode = iota
	// ReserveAllBut sets aside everything except the given amount.
	ReserveAllBut
)

// SendParams describes an outgoing message staged by the compute phase. The
// message is built and enqueued only if the transaction commits.
type SendParams struct {
	To     address.Address
	Body   types.Body
	Value  types.TokenAmount
	Bounce bool
	// Init optionally carries deploy data for an uninitialized destination.
	Init *types.InitPayload
	// IgnoreErrors tags the action as skippable: its failure does not roll
	// back the transaction.
	IgnoreErrors bool
}

// InvocationContext is the handle a contract method receives. It is only
// valid for the duration of the invocation.
type InvocationContext interface {
	// Message returns the inbound message being processed.
	Message() *types.Message
	// CurrentTick returns the logical time of this transaction.
	CurrentTick() types.Tick
	// Balance returns the account balance as of the start of compute,
	// including the inbound message's attached value.
	Balance() types.TokenAmount
	// SelfAddress returns the executing account's address.
	SelfAddress() address.Address
	// ImmutableData returns the account's construction-time data.
	ImmutableData() []byte

	// Accept authorizes gas charges beyond the admission credit for an
	// external message, and marks the message's timestamp as consumed.
	// A no-op for internal messages.
	Accept()

	// StateReadonly decodes the account's mutable state into obj.
	StateReadonly(obj interface{})
	// StateTransaction decodes mutable state into obj, runs f, then
	// re-encodes obj as the new state. The write is part of the
	// transaction and is discarded on rollback.
	StateTransaction(obj interface{}, f func())
	// StateInstall replaces mutable state with an already-encoded blob.
	StateInstall(raw []byte)

	// Send stages an outgoing message action.
	Send(p SendParams)
	// Reserve stages a balance reservation action.
	Reserve(amount types.TokenAmount, mode ReserveMode, ignoreErrors bool)
	// SetCode stages a code replacement. With immediate set, the rest of
	// the current compute runs under the new code's dispatch table.
	SetCode(code address.CodeHash, immediate bool)

	// DeriveAddress recomputes an account identity from code and
	// immutable data, for peer verification.
	DeriveAddress(code address.CodeHash, immutableData []byte) (address.Address, error)
}

// ExecutionPanic is the panic payload produced by Abort. The invocation
// boundary recovers it; any other panic value is an engine fault.
type ExecutionPanic struct {
	code types.ExitCode
	msg  string
}

func (p ExecutionPanic) Code() types.ExitCode { return p.code }

func (p ExecutionPanic) String() string {
	if p.msg == "" {
		return fmt.Sprintf("abort %d", p.code)
	}
	return fmt.Sprintf("abort %d: %s", p.code, p.msg)
}

// Abort terminates the compute phase with the given exit code.
func Abort(code types.ExitCode) {
	panic(ExecutionPanic{code: code})
}

// Abortf is Abort with a diagnostic message attached.
func Abortf(code types.ExitCode, format string, args ...interface{}) {
	panic(ExecutionPanic{code: code, msg: fmt.Sprintf(format, args...)})
}

// AbortCodeOf inspects a recovered panic value and reports whether it was
// raised by Abort.
func AbortCodeOf(r interface{}) (types.ExitCode, bool) {
	if p, ok := r.(ExecutionPanic); ok {
		return p.code, true
	}
	return types.Ok, false
}
