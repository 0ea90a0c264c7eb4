package vm

import (
	"github.com/pkg/errors"

	"github.com/emberchain/ember/pkg/account"
	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/types"
	"github.com/emberchain/ember/pkg/vm/runtime"
)

// actionKind tags a buffered effect.
type actionKind uint8

const (
	actionSend actionKind = iota
	actionReserve
	actionSetCode
)

// action is one intended effect recorded during compute. Actions apply in
// order during the action phase; an untagged failure rolls back the whole
// batch.
type action struct {
	kind         actionKind
	ignoreErrors bool

	// actionSend
	send runtime.SendParams

	// actionReserve
	amount types.TokenAmount
	mode   runtime.ReserveMode

	// actionSetCode
	code     address.CodeHash
	codeSize uint64
}

// errActionFailed marks a non-ignorable action failure. It triggers the
// all-or-nothing rollback.
var errActionFailed = errors.New("action failed")

// applyActions runs the buffered batch against the account. On success it
// returns the outgoing messages to enqueue and mutates acct's balance and
// code fields; on failure it returns an error wrapping errActionFailed and
// the account must be discarded via snapshot revert.
//
// Reserve carves value out of the spendable pool; reserved value stays on
// the balance but cannot fund later sends in the same batch. SendMessage
// debits attached value plus the flat send fee.
func (vm *VM) applyActions(acct *account.Account, self address.Address, actions []action) ([]*types.Message, error) {
	spendable := acct.Balance
	reserved := types.TokenAmount(0)
	var outgoing []*types.Message

	for i, a := range actions {
		switch a.kind {
		case actionReserve:
			amount := a.amount
			if a.mode == runtime.ReserveAllBut {
				if a.amount.LessThan(spendable) {
					amount = spendable.Sub(a.amount)
				} else {
					amount = 0
				}
			}
			if spendable.LessThan(amount) {
				if a.ignoreErrors {
					continue
				}
				return nil, errors.Wrapf(errActionFailed, "action %d: reserve %s exceeds spendable %s", i, amount, spendable)
			}
			spendable = spendable.Sub(amount)
			reserved = reserved.Add(amount)

		case actionSend:
			cost := a.send.Value.Add(vm.cfg.MessageSendFee)
			if spendable.LessThan(cost) {
				if a.ignoreErrors {
					continue
				}
				return nil, errors.Wrapf(errActionFailed, "action %d: send cost %s exceeds spendable %s", i, cost, spendable)
			}
			spendable = spendable.Sub(cost)
			msg := types.NewInternal(self, a.send.To, a.send.Body, a.send.Value, a.send.Bounce)
			msg.Init = a.send.Init
			outgoing = append(outgoing, msg)

		case actionSetCode:
			acct.CodeHash = a.code
			acct.CodeSize = a.codeSize
		}
	}

	acct.Balance = reserved.Add(spendable)
	return outgoing, nil
}
