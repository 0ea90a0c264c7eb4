// Package platform is the minimal, permanently-fixed bootstrap contract.
//
// An account's address is bound forever to the code it was constructed
// with, so upgradable applications are never deployed directly. Instead the
// platform is deployed at the address derived from (platformCode,
// immutableData); its constructor immediately replaces its own code with
// the real application code and installs a handed-off state blob. Every
// peer, on any application version, can still derive the account's address
// from the platform code.
package platform

import (
	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/encoding"
	"github.com/emberchain/ember/pkg/types"
	"github.com/emberchain/ember/pkg/vm/dispatch"
	"github.com/emberchain/ember/pkg/vm/runtime"
)

// Contract exit codes.
const (
	ErrBadParams types.ExitCode = types.FirstContractExitCode + iota
	ErrNotConstructed
)

// ConstructorParams names the application code to become and the state it
// starts with.
type ConstructorParams struct {
	AppCode   address.CodeHash
	StateBlob []byte
}

// Platform implements the bootstrap behavior. It exports only the
// constructor; any other message reaching an un-upgraded platform aborts.
type Platform struct{}

var _ dispatch.Contract = Platform{}

func (p Platform) Exports() dispatch.Exports {
	return dispatch.Exports{
		types.ConstructorMethod: p.constructor,
	}
}

func (Platform) constructor(ctx runtime.InvocationContext, params []byte) []byte {
	var cp ConstructorParams
	if err := encoding.Decode(params, &cp); err != nil {
		runtime.Abortf(ErrBadParams, "bad constructor params: %s", err)
	}
	if !cp.AppCode.Defined() {
		runtime.Abort(ErrBadParams)
	}

	// The code swap is immediate: from here on this account is the
	// application, at the platform-derived address.
	ctx.SetCode(cp.AppCode, true)
	ctx.StateInstall(cp.StateBlob)
	return nil
}
