package vm

import (
	"github.com/emberchain/ember/pkg/account"
	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/encoding"
	"github.com/emberchain/ember/pkg/types"
	"github.com/emberchain/ember/pkg/vm/dispatch"
	"github.com/emberchain/ember/pkg/vm/gas"
	"github.com/emberchain/ember/pkg/vm/runtime"
)

// invocationContext is the engine side of runtime.InvocationContext. One per
// transaction; it carries the working copy of the account, the gas tracker
// and the action buffer.
type invocationContext struct {
	vm   *VM
	msg  *types.Message
	acct *account.Account
	self address.Address
	now  types.Tick
	gt   *gas.Tracker

	// accepted is true once gas beyond the admission credit is
	// authorized. Internal messages start accepted.
	accepted bool

	actions []action

	// contract is the live dispatch target. SetCode with the immediate
	// flag swaps it mid-compute.
	contract dispatch.Contract
}

var _ runtime.InvocationContext = (*invocationContext)(nil)

func (ic *invocationContext) Message() *types.Message      { return ic.msg }
func (ic *invocationContext) CurrentTick() types.Tick      { return ic.now }
func (ic *invocationContext) Balance() types.TokenAmount   { return ic.acct.Balance }
func (ic *invocationContext) SelfAddress() address.Address { return ic.self }
func (ic *invocationContext) ImmutableData() []byte        { return ic.acct.ImmutableData }

func (ic *invocationContext) Accept() {
	if ic.accepted {
		return
	}
	ic.accepted = true
	// The watermark write sits inside the transaction snapshot: a later
	// rollback undoes it along with the rest of the state.
	ic.acct.LastAcceptedTimestamp = ic.msg.Timestamp
	if ic.vm.cfg.GasPricePerUnit > 0 {
		ic.gt.RaiseLimit(ic.gt.Used() + gas.Unit(uint64(ic.acct.Balance)/uint64(ic.vm.cfg.GasPricePerUnit)))
	} else {
		ic.gt.RaiseLimit(gas.NoLimit)
	}
}

func (ic *invocationContext) StateReadonly(obj interface{}) {
	ic.gt.Charge(gas.Unit(len(ic.acct.MutableState)) * gas.Unit(ic.vm.cfg.Prices.StateReadByte))
	if err := encoding.Decode(ic.acct.MutableState, obj); err != nil {
		runtime.Abortf(types.SysErrIllegalState, "failed to decode state: %s", err)
	}
}

func (ic *invocationContext) StateTransaction(obj interface{}, f func()) {
	ic.StateReadonly(obj)
	f()
	raw, err := encoding.Encode(obj)
	if err != nil {
		runtime.Abortf(types.SysErrIllegalState, "failed to encode state: %s", err)
	}
	ic.StateInstall(raw)
}

func (ic *invocationContext) StateInstall(raw []byte) {
	ic.gt.Charge(gas.Unit(len(raw)) * gas.Unit(ic.vm.cfg.Prices.StateWriteByte))
	ic.acct.MutableState = raw
}

func (ic *invocationContext) Send(p runtime.SendParams) {
	ic.stage(action{kind: actionSend, ignoreErrors: p.IgnoreErrors, send: p})
}

func (ic *invocationContext) Reserve(amount types.TokenAmount, mode runtime.ReserveMode, ignoreErrors bool) {
	ic.stage(action{kind: actionReserve, ignoreErrors: ignoreErrors, amount: amount, mode: mode})
}

func (ic *invocationContext) SetCode(code address.CodeHash, immediate bool) {
	contract, err := ic.vm.codes.Load(code)
	if err != nil {
		runtime.Abortf(types.SysErrIllegalArgument, "unknown code %s", code)
	}
	ic.stage(action{kind: actionSetCode, code: code, codeSize: ic.vm.codes.Size(code)})
	if immediate {
		// The rest of this compute dispatches against the new code.
		ic.contract = contract
	}
}

func (ic *invocationContext) DeriveAddress(code address.CodeHash, immutableData []byte) (address.Address, error) {
	return address.Derive(code, immutableData)
}

func (ic *invocationContext) stage(a action) {
	ic.gt.Charge(gas.Unit(ic.vm.cfg.Prices.ActionStaged))
	ic.actions = append(ic.actions, a)
}

// invoke runs one method under panic recovery. An Abort becomes its exit
// code; running out of the admission credit before Accept is reported
// separately; any other panic is an engine fault.
func (ic *invocationContext) invoke(method dispatch.Method, params []byte) (ret []byte, code types.ExitCode, discarded bool, fault error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if c, ok := runtime.AbortCodeOf(r); ok {
			code = c
			return
		}
		if _, ok := r.(gas.OutOfGas); ok {
			if !ic.accepted {
				discarded = true
				return
			}
			code = types.SysErrOutOfGas
			return
		}
		fault = NewFaultf("panic during compute: %v", r)
	}()

	ic.gt.Charge(gas.Unit(ic.vm.cfg.Prices.MethodInvocation))
	ret = method(ic, params)
	return ret, types.Ok, false, nil
}
