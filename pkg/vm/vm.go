// Package vm implements the transaction executor: admission, the rent
// debit, the compute phase, the all-or-nothing action phase, and bounce
// synthesis on failure.
package vm

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/emberchain/ember/pkg/account"
	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/config"
	"github.com/emberchain/ember/pkg/crypto"
	"github.com/emberchain/ember/pkg/metrics"
	"github.com/emberchain/ember/pkg/state"
	"github.com/emberchain/ember/pkg/types"
	"github.com/emberchain/ember/pkg/vm/dispatch"
	"github.com/emberchain/ember/pkg/vm/gas"
)

var vmlog = logging.Logger("vm")

// CodeLoader resolves code hashes to executable behavior.
type CodeLoader interface {
	Load(code address.CodeHash) (dispatch.Contract, error)
	// Size is the blob size counted against storage rent.
	Size(code address.CodeHash) uint64
}

// Outbox receives the outgoing messages of a committing transaction. The
// enqueue happens before the state commit, so a crash in between yields a
// duplicate delivery rather than a lost message.
type Outbox interface {
	Enqueue(ctx context.Context, msgs ...*types.Message) error
}

// ErrAccountNotFound is returned for queries and calls against missing or
// non-executable accounts.
var ErrAccountNotFound = errors.New("account not found or not executable")

// faultError marks an engine fault: malformed code, a non-abort panic, a
// storage failure. Fatal to the transaction, never bounced, never retried.
type faultError struct {
	msg string
}

func (f faultError) Error() string { return f.msg }

// NewFaultf builds an engine fault.
func NewFaultf(format string, args ...interface{}) error {
	return faultError{msg: errors.Errorf(format, args...).Error()}
}

// IsFault reports whether err is an engine fault.
func IsFault(err error) bool {
	var f faultError
	return errors.As(err, &f)
}

// VM applies one message at a time to the account state. Instances are
// stateless between messages; the scheduler guarantees no two transactions
// target the same account concurrently.
type VM struct {
	store   *state.Store
	codes   CodeLoader
	outbox  Outbox
	guard   *ReplayGuard
	bounces *BounceCoordinator
	cfg     *config.ExecConfig
}

func NewVM(store *state.Store, codes CodeLoader, outbox Outbox, verifier crypto.Verifier, cfg *config.ExecConfig) *VM {
	return &VM{
		store:   store,
		codes:   codes,
		outbox:  outbox,
		guard:   NewReplayGuard(verifier),
		bounces: NewBounceCoordinator(cfg.BounceBodyBudget, cfg.BounceFee),
		cfg:     cfg,
	}
}

// ApplyMessage runs one full transaction: admission, rent, value credit,
// compute, actions, commit or rollback. The receipt reports the
// user-visible outcome; a non-nil error is an engine fault or a rejected
// admission, never ordinary contract failure.
func (vm *VM) ApplyMessage(ctx context.Context, msg *types.Message, now types.Tick) (*types.Receipt, error) {
	// Admission. External messages that fail here never start a
	// transaction: no rent, no state change, no bounce.
	if msg.Kind == types.External {
		if receipt, err := vm.admit(ctx, msg, now); err != nil {
			return receipt, err
		}
	}

	// Rent accrues against elapsed logical time before compute and is
	// kept even if the transaction rolls back.
	rentDebited, err := vm.store.ApplyRent(ctx, msg.To, now)
	if err != nil {
		return nil, errors.Wrap(err, "rent debit failed")
	}

	// An internal message's attached value is credited before the
	// snapshot: the sender already paid it, so a rollback keeps it on the
	// destination and only a bounce moves it back out.
	if msg.Kind == types.Internal && !msg.Value.IsZero() {
		if err := vm.creditValue(ctx, msg, now); err != nil {
			return nil, err
		}
	}

	// The snapshot opens before any existence check: every failure from
	// here on funnels through dropOrBounce, which expects a layer to
	// revert.
	view := state.NewView(vm.store)
	view.Snapshot()

	acct, found, err := view.GetAccount(ctx, msg.To)
	if err != nil {
		return nil, err
	}
	if !found {
		if msg.Kind == types.Internal && msg.Init == nil {
			// Destination neither exists nor is creatable.
			return vm.dropOrBounce(ctx, view, msg, types.SysErrActorNotFound, 0, rentDebited)
		}
		acct = account.NewUninitialized(0, now)
		view.SetAccount(msg.To, acct)
	}

	// Activation and thaw both run inside the snapshot: a failing
	// constructor leaves the account uninitialized.
	if msg.Init != nil && acct.Lifecycle != account.Active {
		if code := vm.applyInit(acct, msg); code.IsError() {
			return vm.dropOrBounce(ctx, view, msg, code, 0, rentDebited)
		}
		view.SetAccount(msg.To, acct)
	}
	if !acct.IsExecutable() {
		return vm.dropOrBounce(ctx, view, msg, types.SysErrActorNotFound, 0, rentDebited)
	}

	contract, err := vm.codes.Load(acct.CodeHash)
	if err != nil {
		view.Revert()
		return nil, NewFaultf("account %s: code %s not registered", msg.To, acct.CodeHash)
	}

	ic := &invocationContext{
		vm:       vm,
		msg:      msg,
		acct:     acct,
		self:     msg.To,
		now:      now,
		accepted: msg.Kind == types.Internal,
		contract: contract,
	}
	switch msg.Kind {
	case types.External:
		ic.gt = gas.NewTracker(gas.Unit(vm.cfg.AdmissionGasCredit))
	default:
		ic.gt = gas.NewTracker(vm.balanceFundedLimit(acct.Balance))
	}

	selector := msg.Body.Selector
	if msg.Bounced {
		// A bounce is observed through the dedicated handler if the
		// code exports one; otherwise the returned value is simply
		// kept and the body dropped.
		if _, ok := contract.Exports()[types.BounceHandlerMethod]; !ok {
			view.ClearSnapshot()
			if err := view.Commit(ctx); err != nil {
				return nil, errors.Wrap(err, "commit failed")
			}
			metrics.TxCommitted.Inc()
			return &types.Receipt{Status: types.StatusCommitted, RentDebited: rentDebited}, nil
		}
		selector = types.BounceHandlerMethod
	}

	method, err := dispatch.Lookup(ic.contract, selector)
	if err != nil {
		return vm.dropOrBounce(ctx, view, msg, types.SysErrInvalidMethod, 0, rentDebited)
	}

	ret, code, discarded, fault := ic.invoke(method, msg.Body.Params)
	gasUsed := int64(ic.gt.Used())
	switch {
	case fault != nil:
		view.Revert()
		return nil, fault
	case discarded, msg.Kind == types.External && !ic.accepted:
		// Credit exhausted before accept, or the contract never
		// accepted: the message vanishes without a trace. The replay
		// watermark was never durably advanced.
		view.Revert()
		ec := code
		if discarded {
			ec = types.SysErrOutOfGas
		}
		return &types.Receipt{Status: types.StatusDiscarded, ExitCode: ec, GasUsed: gasUsed, RentDebited: rentDebited}, nil
	case code.IsError():
		return vm.dropOrBounce(ctx, view, msg, code, gasUsed, rentDebited)
	}

	// Action phase.
	outgoing, err := vm.applyActions(ic.acct, msg.To, ic.actions)
	if err != nil {
		if errors.Is(err, errActionFailed) {
			vmlog.Debugw("action phase rolled back", "to", msg.To, "err", err)
			return vm.dropOrBounce(ctx, view, msg, types.SysErrInsufficientFunds, gasUsed, rentDebited)
		}
		return nil, err
	}

	// Gas settles only at commit. A rolled-back transaction costs rent
	// alone.
	vm.settleGas(ic.acct, gasUsed)
	view.SetAccount(msg.To, ic.acct)
	view.ClearSnapshot()

	if len(outgoing) > 0 {
		if err := vm.outbox.Enqueue(ctx, outgoing...); err != nil {
			return nil, errors.Wrap(err, "failed to enqueue outgoing messages")
		}
	}
	if err := view.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit failed")
	}
	metrics.TxCommitted.Inc()
	return &types.Receipt{Status: types.StatusCommitted, Return: ret, GasUsed: gasUsed, RentDebited: rentDebited}, nil
}

// admit runs the replay guard for an external message. A returned error is
// paired with the admission receipt.
func (vm *VM) admit(ctx context.Context, msg *types.Message, now types.Tick) (*types.Receipt, error) {
	acct, found, err := vm.store.Load(ctx, msg.To)
	if err != nil {
		return nil, err
	}
	if !found || !acct.IsExecutable() {
		metrics.TxRejected.Inc()
		return &types.Receipt{Status: types.StatusRejected}, errors.Wrapf(ErrAccountNotFound, "destination %s", msg.To)
	}
	if err := vm.guard.Check(acct, msg, now); err != nil {
		metrics.TxRejected.Inc()
		status := types.StatusRejected
		if errors.Is(err, ErrExpired) {
			status = types.StatusExpired
		}
		return &types.Receipt{Status: status}, err
	}
	return nil, nil
}

// creditValue adds an internal message's attached value to the destination,
// creating an uninitialized holder account if needed. Write-through: the
// credit is durable regardless of the transaction's fate.
func (vm *VM) creditValue(ctx context.Context, msg *types.Message, now types.Tick) error {
	acct, found, err := vm.store.Load(ctx, msg.To)
	if err != nil {
		return err
	}
	if !found {
		acct = account.NewUninitialized(msg.Value, now)
	} else {
		acct.Balance = acct.Balance.Add(msg.Value)
		if acct.Lifecycle == account.Frozen {
			// A top-up re-bases the freeze grace window; deletion only
			// claims frozen accounts nobody funds.
			acct.FrozenAt = now
		}
	}
	return vm.store.Put(ctx, msg.To, acct)
}

// applyInit activates or thaws the account from the message's init payload.
func (vm *VM) applyInit(acct *account.Account, msg *types.Message) types.ExitCode {
	derived, err := address.Derive(msg.Init.CodeHash, msg.Init.ImmutableData)
	if err != nil || derived != msg.To {
		return types.SysErrIllegalArgument
	}
	if acct.Lifecycle == account.Frozen && acct.CodeHash != msg.Init.CodeHash {
		// Thaw requires the original init data; the retained hash is
		// the witness.
		return types.SysErrForbidden
	}
	if acct.Lifecycle == account.Deleted {
		return types.SysErrActorNotFound
	}
	acct.Activate(msg.Init.CodeHash, vm.codes.Size(msg.Init.CodeHash), msg.Init.ImmutableData)
	return types.Ok
}

// dropOrBounce finishes a failed transaction: revert to the snapshot, then
// either synthesize a bounce back to the sender or absorb the failure
// silently. The inbound value leaves with the bounce; absent one it stays
// where the pre-snapshot credit put it.
func (vm *VM) dropOrBounce(ctx context.Context, view *state.View, msg *types.Message, code types.ExitCode, gasUsed int64, rentDebited types.TokenAmount) (*types.Receipt, error) {
	view.Revert()

	if bounce := vm.bounces.Synthesize(msg); bounce != nil {
		acct, found, err := view.GetAccount(ctx, msg.To)
		if err != nil {
			return nil, err
		}
		// Debit the full inbound value back out; the fee difference is
		// burned. Rent may already have consumed part of it, in which
		// case the bounce is dropped.
		if found && !acct.Balance.LessThan(msg.Value) {
			acct.Balance = acct.Balance.Sub(msg.Value)
			view.SetAccount(msg.To, acct)
			if err := vm.outbox.Enqueue(ctx, bounce); err != nil {
				return nil, errors.Wrap(err, "failed to enqueue bounce")
			}
		}
	}

	if err := view.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit failed")
	}
	metrics.TxRolledBack.Inc()
	return &types.Receipt{Status: types.StatusRolledBack, ExitCode: code, GasUsed: gasUsed, RentDebited: rentDebited}, nil
}

func (vm *VM) balanceFundedLimit(balance types.TokenAmount) gas.Unit {
	if vm.cfg.GasPricePerUnit == 0 {
		return gas.NoLimit
	}
	return gas.Unit(uint64(balance) / uint64(vm.cfg.GasPricePerUnit))
}

// settleGas charges the gas fee at commit, clamped to the balance.
func (vm *VM) settleGas(acct *account.Account, gasUsed int64) {
	fee := types.TokenAmount(uint64(gasUsed) * uint64(vm.cfg.GasPricePerUnit))
	if acct.Balance.LessThan(fee) {
		fee = acct.Balance
	}
	acct.Balance = acct.Balance.Sub(fee)
}

// Call simulates a method invocation with unlimited gas and no balance
// constraints, capturing the messages the compute phase would send. Nothing
// is committed; this backs read-only remote getters.
func (vm *VM) Call(ctx context.Context, to address.Address, body types.Body, now types.Tick) ([]*types.Message, []byte, error) {
	view := state.NewView(vm.store)
	acct, found, err := view.GetAccount(ctx, to)
	if err != nil {
		return nil, nil, err
	}
	if !found || !acct.IsExecutable() {
		return nil, nil, errors.Wrapf(ErrAccountNotFound, "address %s", to)
	}

	contract, err := vm.codes.Load(acct.CodeHash)
	if err != nil {
		return nil, nil, NewFaultf("account %s: code %s not registered", to, acct.CodeHash)
	}

	msg := types.NewInternal(address.Undef, to, body, 0, false)
	ic := &invocationContext{
		vm:       vm,
		msg:      msg,
		acct:     acct,
		self:     to,
		now:      now,
		gt:       gas.NewTracker(gas.NoLimit),
		accepted: true,
		contract: contract,
	}

	method, err := dispatch.Lookup(contract, body.Selector)
	if err != nil {
		return nil, nil, err
	}

	ret, code, _, fault := ic.invoke(method, body.Params)
	if fault != nil {
		return nil, nil, fault
	}
	if code.IsError() {
		return nil, nil, errors.Errorf("call aborted with exit code %s", code)
	}

	var outgoing []*types.Message
	for _, a := range ic.actions {
		if a.kind != actionSend {
			continue
		}
		out := types.NewInternal(to, a.send.To, a.send.Body, a.send.Value, a.send.Bounce)
		out.Init = a.send.Init
		outgoing = append(outgoing, out)
	}
	return outgoing, ret, nil
}
