// Package dispatch maps inbound selectors to contract methods.
package dispatch

import (
	"github.com/pkg/errors"

	"github.com/emberchain/ember/pkg/types"
	"github.com/emberchain/ember/pkg/vm/runtime"
)

// Method is a single contract entry point. Params are the raw encoded
// arguments from the message body; the return value, if any, is carried in
// the transaction receipt.
type Method func(ctx runtime.InvocationContext, params []byte) []byte

// Exports is a contract's dispatch table, resolved once per transaction.
type Exports map[types.MethodNum]Method

// Contract is an executable code blob's behavior.
type Contract interface {
	Exports() Exports
}

// ErrUnknownMethod is returned when a selector has no export.
var ErrUnknownMethod = errors.New("unknown method selector")

// Lookup resolves a selector against a contract's table.
func Lookup(c Contract, selector types.MethodNum) (Method, error) {
	m, ok := c.Exports()[selector]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMethod, "selector %d", selector)
	}
	return m, nil
}
