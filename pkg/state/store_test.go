package state

import (
	"context"
	"testing"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchain/ember/pkg/account"
	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/types"
)

func newTestStore(t *testing.T, rent RentParams) *Store {
	t.Helper()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	store, err := NewStore(ds, rent)
	require.NoError(t, err)
	return store
}

func testAddr(t *testing.T, seed string) address.Address {
	t.Helper()
	addr, err := address.Derive(address.HashCode([]byte(seed)), []byte(seed))
	require.NoError(t, err)
	return addr
}

func TestLoadMissing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, RentParams{})

	_, found, err := store.Load(ctx, testAddr(t, "nobody"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, RentParams{})
	addr := testAddr(t, "acct")

	acct := account.NewUninitialized(500, 0)
	require.NoError(t, store.Put(ctx, addr, acct))

	got, found, err := store.Load(ctx, addr)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.TokenAmount(500), got.Balance)

	// loads return copies, not shared records
	got.Balance = 1
	again, _, err := store.Load(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, types.TokenAmount(500), again.Balance)
}

func TestApplyRentDebitsForElapsedTime(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, RentParams{PricePerByte: 2, FreezeGracePeriod: 100})
	addr := testAddr(t, "acct")

	acct := account.NewUninitialized(1000, 0)
	acct.Activate(address.HashCode([]byte("code")), 10, nil) // 10 stored bytes
	require.NoError(t, store.Put(ctx, addr, acct))

	// rate r=2/byte, size 10, elapsed t=5 => debit r*size*t = 100
	debited, err := store.ApplyRent(ctx, addr, 5)
	require.NoError(t, err)
	assert.Equal(t, types.TokenAmount(100), debited)

	got, _, err := store.Load(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, types.TokenAmount(900), got.Balance)
	assert.Equal(t, types.Tick(5), got.RentPaidThrough)

	// same tick again: nothing further due
	debited, err = store.ApplyRent(ctx, addr, 5)
	require.NoError(t, err)
	assert.Equal(t, types.TokenAmount(0), debited)
}

func TestApplyRentFreezesInsolventAccount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, RentParams{PricePerByte: 1, FreezeGracePeriod: 50})
	addr := testAddr(t, "poor")

	acct := account.NewUninitialized(10, 0)
	acct.Activate(address.HashCode([]byte("code")), 100, nil)
	acct.MutableState = []byte("busy state")
	require.NoError(t, store.Put(ctx, addr, acct))

	_, err := store.ApplyRent(ctx, addr, 10)
	require.NoError(t, err)

	got, _, err := store.Load(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, account.Frozen, got.Lifecycle)
	assert.Nil(t, got.MutableState, "frozen accounts discard state")
	assert.True(t, got.CodeHash.Defined(), "identity is retained")
	assert.Equal(t, types.TokenAmount(0), got.Balance)

	// within the grace period the account stays frozen
	_, err = store.ApplyRent(ctx, addr, 30)
	require.NoError(t, err)
	got, _, _ = store.Load(ctx, addr)
	assert.Equal(t, account.Frozen, got.Lifecycle)

	// past the grace period it is deleted
	_, err = store.ApplyRent(ctx, addr, 61)
	require.NoError(t, err)
	got, _, _ = store.Load(ctx, addr)
	assert.Equal(t, account.Deleted, got.Lifecycle)
	assert.False(t, got.CodeHash.Defined())
}

func TestViewRevertDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, RentParams{})
	addr := testAddr(t, "acct")

	acct := account.NewUninitialized(100, 0)
	acct.Activate(address.HashCode([]byte("code")), 1, nil)
	acct.MutableState = []byte("before")
	acct.LastAcceptedTimestamp = 7
	require.NoError(t, store.Put(ctx, addr, acct))

	view := NewView(store)
	view.Snapshot()

	loaded, found, err := view.GetAccount(ctx, addr)
	require.NoError(t, err)
	require.True(t, found)
	loaded.MutableState = []byte("after")
	loaded.Balance = 1
	loaded.LastAcceptedTimestamp = 99
	view.SetAccount(addr, loaded)

	view.Revert()
	require.NoError(t, view.Commit(ctx))

	got, _, err := store.Load(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), got.MutableState)
	assert.Equal(t, types.TokenAmount(100), got.Balance)
	assert.Equal(t, types.Tick(7), got.LastAcceptedTimestamp,
		"the replay watermark rolls back with everything else")
}

func TestViewClearSnapshotKeepsWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, RentParams{})
	addr := testAddr(t, "acct")

	require.NoError(t, store.Put(ctx, addr, account.NewUninitialized(100, 0)))

	view := NewView(store)
	view.Snapshot()

	loaded, _, err := view.GetAccount(ctx, addr)
	require.NoError(t, err)
	loaded.Balance = 42
	view.SetAccount(addr, loaded)

	view.ClearSnapshot()
	require.NoError(t, view.Commit(ctx))

	got, _, err := store.Load(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, types.TokenAmount(42), got.Balance)
}

func TestViewCommitWithSnapshotsFails(t *testing.T) {
	store := newTestStore(t, RentParams{})
	view := NewView(store)
	view.Snapshot()
	assert.Error(t, view.Commit(context.Background()))
}

func TestViewReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, RentParams{})
	addr := testAddr(t, "acct")

	view := NewView(store)
	acct := account.NewUninitialized(5, 0)
	view.SetAccount(addr, acct)

	got, found, err := view.GetAccount(ctx, addr)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.TokenAmount(5), got.Balance)
}
