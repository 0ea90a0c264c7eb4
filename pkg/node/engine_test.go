package node

import (
	"context"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/config"
	"github.com/emberchain/ember/pkg/contract"
	"github.com/emberchain/ember/pkg/contract/wallet"
	"github.com/emberchain/ember/pkg/crypto"
	"github.com/emberchain/ember/pkg/encoding"
	"github.com/emberchain/ember/pkg/repo"
	"github.com/emberchain/ember/pkg/types"
	"github.com/emberchain/ember/pkg/vm/dispatch"
	"github.com/emberchain/ember/pkg/vm/runtime"
)

const mAppend types.MethodNum = 1

// appendContract records the order messages arrive in.
type appendContract struct{}

func (c appendContract) Exports() dispatch.Exports {
	return dispatch.Exports{
		types.ConstructorMethod: c.ctor,
		mAppend:                 c.append,
	}
}

func (appendContract) ctor(ctx runtime.InvocationContext, _ []byte) []byte {
	ctx.StateInstall(encoding.MustEncode([]byte{}))
	return nil
}

func (appendContract) append(ctx runtime.InvocationContext, params []byte) []byte {
	var seen []byte
	ctx.StateTransaction(&seen, func() {
		seen = append(seen, params...)
	})
	return nil
}

type testEngine struct {
	*Engine
	t          *testing.T
	clk        *clock.Mock
	walletCode address.CodeHash
	appendCode address.CodeHash
	faucet     address.Address
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	r, err := repo.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	cfg := config.NewDefaultConfig()
	cfg.Exec.RentPricePerByte = 0
	cfg.Exec.GasPricePerUnit = 0
	cfg.Exec.MessageSendFee = 0

	reg := contract.NewRegistry()
	walletCode := reg.Register([]byte("wallet v1"), wallet.Wallet{})
	appendCode := reg.Register([]byte("append v1"), appendContract{})

	clk := clock.NewMock()
	clk.Add(time.Hour)

	eng, err := New(r, cfg, reg, &crypto.FakeVerifier{}, clk)
	require.NoError(t, err)

	return &testEngine{
		Engine:     eng,
		t:          t,
		clk:        clk,
		walletCode: walletCode,
		appendCode: appendCode,
		faucet:     address.Address{0xfa},
	}
}

func (e *testEngine) drain() {
	e.t.Helper()
	require.NoError(e.t, e.ProcessPending(context.Background()))
}

func (e *testEngine) deployWallet(owner []byte, nonce uint64, balance types.TokenAmount) address.Address {
	e.t.Helper()
	ctx := context.Background()
	imm := encoding.MustEncode(&wallet.Immutable{Owner: owner, Nonce: nonce})
	addr, err := e.DeriveAddress(e.walletCode, imm)
	require.NoError(e.t, err)

	msg := types.NewInternal(e.faucet, addr, types.Body{
		Selector: types.ConstructorMethod,
		Params:   encoding.MustEncode(&wallet.ConstructorParams{PlatformCode: e.walletCode}),
	}, balance, false)
	msg.Init = &types.InitPayload{CodeHash: e.walletCode, ImmutableData: imm}
	require.NoError(e.t, e.InjectInternal(ctx, msg))
	e.drain()

	snap, err := e.AccountSnapshot(ctx, addr)
	require.NoError(e.t, err)
	require.Equal(e.t, "Active", snap.Lifecycle)
	return addr
}

func (e *testEngine) walletState(addr address.Address) wallet.State {
	e.t.Helper()
	snap, err := e.AccountSnapshot(context.Background(), addr)
	require.NoError(e.t, err)
	var st wallet.State
	require.NoError(e.t, encoding.Decode(snap.MutableState, &st))
	return st
}

func TestEndToEndTransfer(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	immA := encoding.MustEncode(&wallet.Immutable{Owner: []byte("ka"), Nonce: 1})
	a := e.deployWallet([]byte("ka"), 1, 10_000)
	b := e.deployWallet([]byte("kb"), 2, 10_000)

	submit := &types.Message{
		Kind: types.External,
		To:   a,
		Body: types.Body{
			Selector: wallet.MethodSubmit,
			Params: encoding.MustEncode(&wallet.SubmitParams{
				To: b,
				Body: types.Body{
					Selector: wallet.MethodDeposit,
					Params:   encoding.MustEncode(&wallet.DepositParams{PeerData: immA}),
				},
				Value:  200,
				Bounce: true,
			}),
		},
		Timestamp: types.Tick(e.Now()) + 1,
		Expire:    types.Tick(e.Now()) + 100,
		SignerKey: []byte("ka"),
		Signature: []byte("sig"),
	}
	receipt, err := e.SubmitExternal(ctx, submit)
	require.NoError(t, err)
	require.Equal(t, types.StatusCommitted, receipt.Status)

	// the submitted receipt is pollable by message id
	id, err := submit.ID()
	require.NoError(t, err)
	polled, ok := e.Receipt(id)
	require.True(t, ok)
	assert.Equal(t, types.StatusCommitted, polled.Status)

	e.drain()

	assert.Equal(t, types.TokenAmount(200), e.walletState(b).TotalReceived)
	snapB, err := e.AccountSnapshot(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, types.TokenAmount(10_200), snapB.Balance)
}

func TestPerEdgeDeliveryOrder(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	imm := []byte("log")
	addr, err := e.DeriveAddress(e.appendCode, imm)
	require.NoError(t, err)
	deploy := types.NewInternal(e.faucet, addr, types.Body{Selector: types.ConstructorMethod}, 1000, false)
	deploy.Init = &types.InitPayload{CodeHash: e.appendCode, ImmutableData: imm}
	require.NoError(t, e.InjectInternal(ctx, deploy))

	for _, b := range []byte{'1', '2', '3', '4'} {
		msg := types.NewInternal(e.faucet, addr, types.Body{Selector: mAppend, Params: []byte{b}}, 0, false)
		require.NoError(t, e.InjectInternal(ctx, msg))
	}
	e.drain()

	snap, err := e.AccountSnapshot(ctx, addr)
	require.NoError(t, err)
	var seen []byte
	require.NoError(t, encoding.Decode(snap.MutableState, &seen))
	assert.Equal(t, []byte("1234"), seen)
}

func TestBounceReachesSenderHandler(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	a := e.deployWallet([]byte("ka"), 1, 10_000)

	// instruct the wallet to send value to an address nobody deployed
	submit := &types.Message{
		Kind: types.External,
		To:   a,
		Body: types.Body{
			Selector: wallet.MethodSubmit,
			Params: encoding.MustEncode(&wallet.SubmitParams{
				To:     address.Address{0x99},
				Body:   types.Body{Selector: 42},
				Value:  500,
				Bounce: true,
			}),
		},
		Timestamp: types.Tick(e.Now()) + 1,
		Expire:    types.Tick(e.Now()) + 100,
		SignerKey: []byte("ka"),
		Signature: []byte("sig"),
	}
	receipt, err := e.SubmitExternal(ctx, submit)
	require.NoError(t, err)
	require.Equal(t, types.StatusCommitted, receipt.Status)

	// the failed delivery bounces, and the bounce lands in the wallet's
	// handler
	e.drain()
	assert.Equal(t, uint64(1), e.walletState(a).BounceCount)

	// the bounce returned the value minus the bounce fee
	snap, err := e.AccountSnapshot(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, types.TokenAmount(10_000).Sub(e.cfg.Exec.BounceFee), snap.Balance)
}

func TestSimulateRemoteGetter(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	b := e.deployWallet([]byte("kb"), 2, 1000)

	outgoing, ret, err := e.Simulate(ctx, b, types.Body{
		Selector: wallet.MethodGetTotal,
		Params:   encoding.MustEncode(&wallet.GetTotalParams{AnswerSelector: 9}),
	})
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, types.MethodNum(9), outgoing[0].Body.Selector)

	var total types.TokenAmount
	require.NoError(t, encoding.Decode(ret, &total))
	assert.Zero(t, total)
}

func TestStartDeliversInBackground(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	a := e.deployWallet([]byte("ka"), 1, 10_000)

	e.Start(ctx)
	defer e.Close()

	msg := types.NewInternal(e.faucet, a, types.Body{Selector: 42}, 0, false)
	require.NoError(t, e.InjectInternal(ctx, msg))

	require.Eventually(t, func() bool {
		return e.bus.Pending() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
