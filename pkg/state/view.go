package state

import (
	"context"

	"github.com/pkg/errors"

	"github.com/emberchain/ember/pkg/account"
	"github.com/emberchain/ember/pkg/address"
)

// View is a transaction-scoped overlay on the Store with layered snapshots.
// All compute- and action-phase writes land in the top layer; Revert
// discards them in one step, making rollback of mutable state, balance and
// the replay watermark a single mechanism.
type View struct {
	store  *Store
	layers []*viewLayer
}

type viewLayer struct {
	accounts map[address.Address]*account.Account
}

func newViewLayer() *viewLayer {
	return &viewLayer{accounts: make(map[address.Address]*account.Account)}
}

// NewView opens a view with a single base layer.
func NewView(store *Store) *View {
	return &View{
		store:  store,
		layers: []*viewLayer{newViewLayer()},
	}
}

// GetAccount returns the account as seen by this view. The returned record
// is owned by the view; callers mutate it and write back via SetAccount.
func (v *View) GetAccount(ctx context.Context, addr address.Address) (*account.Account, bool, error) {
	for i := len(v.layers) - 1; i >= 0; i-- {
		if acct, ok := v.layers[i].accounts[addr]; ok {
			return acct.Clone(), true, nil
		}
	}

	acct, found, err := v.store.Load(ctx, addr)
	if err != nil || !found {
		return nil, false, err
	}
	v.layers[len(v.layers)-1].accounts[addr] = acct.Clone()
	return acct, true, nil
}

// SetAccount records a write in the top layer.
func (v *View) SetAccount(addr address.Address, acct *account.Account) {
	v.layers[len(v.layers)-1].accounts[addr] = acct.Clone()
}

// Snapshot pushes a new layer. Writes after this call are discarded by
// Revert or folded down by ClearSnapshot.
func (v *View) Snapshot() {
	v.layers = append(v.layers, newViewLayer())
}

// Revert discards every write since the matching Snapshot and pops it.
func (v *View) Revert() {
	v.layers[len(v.layers)-1] = nil
	v.layers = v.layers[:len(v.layers)-1]
}

// ClearSnapshot folds the top layer into the one beneath it.
func (v *View) ClearSnapshot() {
	last := v.layers[len(v.layers)-1]
	next := v.layers[len(v.layers)-2]
	for addr, acct := range last.accounts {
		next.accounts[addr] = acct
	}
	v.layers[len(v.layers)-1] = nil
	v.layers = v.layers[:len(v.layers)-1]
}

// Commit flushes the view to the store in one batch. It is an error to
// commit with snapshots still on the stack.
func (v *View) Commit(ctx context.Context) error {
	if len(v.layers) != 1 {
		return errors.New("tried to commit a view with snapshots on the stack")
	}
	if len(v.layers[0].accounts) == 0 {
		return nil
	}
	return v.store.commit(ctx, v.layers[0].accounts)
}
