// Package wallet is the builtin value-holding contract. It demonstrates the
// full engine surface: owner-authorized external sends, peer verification by
// address recomputation, a responsible-call getter, and a bounce handler.
package wallet

import (
	"bytes"

	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/encoding"
	"github.com/emberchain/ember/pkg/types"
	"github.com/emberchain/ember/pkg/vm/dispatch"
	"github.com/emberchain/ember/pkg/vm/runtime"
)

// Method selectors.
const (
	MethodSubmit   types.MethodNum = 2
	MethodDeposit  types.MethodNum = 3
	MethodGetTotal types.MethodNum = 4
)

// Contract exit codes.
const (
	ErrNotOwner types.ExitCode = types.FirstContractExitCode + iota
	ErrNotPeer
	ErrBadParams
)

// Immutable is the construction-time data the wallet's address derives
// from. Two owners always get two addresses.
type Immutable struct {
	Owner []byte
	Nonce uint64
}

// State is the wallet's mutable state.
type State struct {
	Owner []byte
	// PlatformCode is pinned at deployment and carried through every
	// upgrade. Peer addresses are always recomputed with it, never with
	// the wallet's current code hash.
	PlatformCode  address.CodeHash
	TotalReceived types.TokenAmount
	BounceCount   uint64
}

// ConstructorParams optionally pins the platform code hash the wallet was
// deployed through. Zero means the wallet was deployed directly.
type ConstructorParams struct {
	PlatformCode address.CodeHash
}

// SubmitParams is an owner-signed instruction to send value.
type SubmitParams struct {
	To     address.Address
	Body   types.Body
	Value  types.TokenAmount
	Bounce bool
}

// DepositParams carries the sender's claimed immutable data; the wallet
// recomputes the sender's address from it before trusting the deposit.
type DepositParams struct {
	PeerData []byte
}

// GetTotalParams names the selector on the caller that receives the answer.
type GetTotalParams struct {
	AnswerSelector types.MethodNum
}

// Wallet implements the contract behavior.
type Wallet struct{}

var _ dispatch.Contract = Wallet{}

func (w Wallet) Exports() dispatch.Exports {
	return dispatch.Exports{
		types.ConstructorMethod:   w.constructor,
		MethodSubmit:              w.submit,
		MethodDeposit:             w.deposit,
		MethodGetTotal:            w.getTotal,
		types.BounceHandlerMethod: w.onBounce,
	}
}

func (Wallet) constructor(ctx runtime.InvocationContext, params []byte) []byte {
	var imm Immutable
	if err := encoding.Decode(ctx.ImmutableData(), &imm); err != nil {
		runtime.Abortf(ErrBadParams, "bad immutable data: %s", err)
	}

	var p ConstructorParams
	if len(params) > 0 {
		if err := encoding.Decode(params, &p); err != nil {
			runtime.Abortf(ErrBadParams, "bad constructor params: %s", err)
		}
	}

	st := State{
		Owner:        imm.Owner,
		PlatformCode: p.PlatformCode,
	}
	ctx.StateInstall(encoding.MustEncode(&st))
	return nil
}

// submit executes an owner-signed external instruction. The engine has
// already verified the signature against the message's signer key; the
// wallet only checks that key is its owner's.
func (Wallet) submit(ctx runtime.InvocationContext, params []byte) []byte {
	var st State
	ctx.StateReadonly(&st)

	msg := ctx.Message()
	if msg.Kind != types.External || !bytes.Equal(msg.SignerKey, st.Owner) {
		runtime.Abort(ErrNotOwner)
	}
	ctx.Accept()

	var p SubmitParams
	if err := encoding.Decode(params, &p); err != nil {
		runtime.Abortf(ErrBadParams, "bad submit params: %s", err)
	}
	ctx.Send(runtime.SendParams{
		To:     p.To,
		Body:   p.Body,
		Value:  p.Value,
		Bounce: p.Bounce,
	})
	return nil
}

// deposit accepts value from a peer wallet. The sender proves it is a peer
// by shipping its immutable data; the wallet re-derives the sender address
// with the pinned platform code and compares.
func (Wallet) deposit(ctx runtime.InvocationContext, params []byte) []byte {
	msg := ctx.Message()
	if msg.Kind != types.Internal {
		runtime.Abort(ErrNotPeer)
	}

	var p DepositParams
	if err := encoding.Decode(params, &p); err != nil {
		runtime.Abortf(ErrBadParams, "bad deposit params: %s", err)
	}

	var st State
	ctx.StateReadonly(&st)
	derived, err := ctx.DeriveAddress(st.PlatformCode, p.PeerData)
	if err != nil || derived != msg.From {
		runtime.Abortf(ErrNotPeer, "claimed peer data does not derive sender %s", msg.From)
	}

	ctx.StateTransaction(&st, func() {
		st.TotalReceived = st.TotalReceived.Add(msg.Value)
	})
	return nil
}

// getTotal answers a responsible call: instead of returning synchronously
// it sends (answerSelector, total) back to the caller.
func (Wallet) getTotal(ctx runtime.InvocationContext, params []byte) []byte {
	var p GetTotalParams
	if err := encoding.Decode(params, &p); err != nil {
		runtime.Abortf(ErrBadParams, "bad getTotal params: %s", err)
	}

	var st State
	ctx.StateReadonly(&st)
	ctx.Send(runtime.SendParams{
		To: ctx.Message().From,
		Body: types.Body{
			Selector: p.AnswerSelector,
			Params:   encoding.MustEncode(st.TotalReceived),
		},
		IgnoreErrors: true,
	})
	return encoding.MustEncode(st.TotalReceived)
}

func (Wallet) onBounce(ctx runtime.InvocationContext, _ []byte) []byte {
	var st State
	ctx.StateTransaction(&st, func() {
		st.BounceCount++
	})
	return nil
}
