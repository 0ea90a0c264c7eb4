package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/config"
	"github.com/emberchain/ember/pkg/contract"
	"github.com/emberchain/ember/pkg/contract/wallet"
	"github.com/emberchain/ember/pkg/crypto"
	"github.com/emberchain/ember/pkg/encoding"
	"github.com/emberchain/ember/pkg/node"
	"github.com/emberchain/ember/pkg/repo"
	"github.com/emberchain/ember/pkg/types"
)

type fixture struct {
	t          *testing.T
	server     *httptest.Server
	engine     *node.Engine
	walletCode address.CodeHash
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r, err := repo.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	cfg := config.NewDefaultConfig()
	cfg.Exec.RentPricePerByte = 0
	cfg.Exec.GasPricePerUnit = 0

	reg := contract.NewRegistry()
	walletCode := reg.Register([]byte("wallet v1"), wallet.Wallet{})

	clk := clock.NewMock()
	clk.Add(time.Hour)

	engine, err := node.New(r, cfg, reg, &crypto.FakeVerifier{}, clk)
	require.NoError(t, err)

	handler, err := NewHandler(engine)
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &fixture{t: t, server: server, engine: engine, walletCode: walletCode}
}

func (f *fixture) call(method string, args, reply interface{}) error {
	f.t.Helper()
	body, err := json2.EncodeClientRequest(method, args)
	require.NoError(f.t, err)

	resp, err := http.Post(f.server.URL+"/rpc", "application/json", bytes.NewReader(body))
	require.NoError(f.t, err)
	defer resp.Body.Close() //nolint:errcheck
	return json2.DecodeClientResponse(resp.Body, reply)
}

func (f *fixture) deployWallet(owner []byte) address.Address {
	f.t.Helper()
	ctx := context.Background()
	imm := encoding.MustEncode(&wallet.Immutable{Owner: owner, Nonce: 1})
	addr, err := f.engine.DeriveAddress(f.walletCode, imm)
	require.NoError(f.t, err)

	msg := types.NewInternal(address.Address{0xfa}, addr, types.Body{
		Selector: types.ConstructorMethod,
		Params:   encoding.MustEncode(&wallet.ConstructorParams{PlatformCode: f.walletCode}),
	}, 10_000, false)
	msg.Init = &types.InitPayload{CodeHash: f.walletCode, ImmutableData: imm}
	require.NoError(f.t, f.engine.InjectInternal(ctx, msg))
	require.NoError(f.t, f.engine.ProcessPending(ctx))
	return addr
}

func TestDeriveAddressOverRPC(t *testing.T) {
	f := newFixture(t)
	imm := encoding.MustEncode(&wallet.Immutable{Owner: []byte("ka"), Nonce: 1})

	var reply DeriveAddressReply
	err := f.call("ember.DeriveAddress", &DeriveAddressArgs{
		CodeHash:      f.walletCode.String(),
		ImmutableData: hex.EncodeToString(imm),
	}, &reply)
	require.NoError(t, err)

	want, err := address.Derive(f.walletCode, imm)
	require.NoError(t, err)
	assert.Equal(t, want.String(), reply.Address)
}

func TestAccountQueryOverRPC(t *testing.T) {
	f := newFixture(t)
	addr := f.deployWallet([]byte("ka"))

	var reply AccountReply
	err := f.call("ember.Account", &AccountArgs{Address: addr.String()}, &reply)
	require.NoError(t, err)
	assert.Equal(t, "Active", reply.Lifecycle)
	assert.Equal(t, types.TokenAmount(10_000), reply.Balance)
	assert.Equal(t, f.walletCode.String(), reply.CodeHash)
}

func TestAccountMissingIsError(t *testing.T) {
	f := newFixture(t)
	var reply AccountReply
	err := f.call("ember.Account", &AccountArgs{Address: address.Address{0x01}.String()}, &reply)
	require.Error(t, err)
}

func TestSubmitAndPollOverRPC(t *testing.T) {
	f := newFixture(t)
	a := f.deployWallet([]byte("ka"))
	b := f.deployWallet([]byte("kb"))

	now := f.engine.Now()
	params := encoding.MustEncode(&wallet.SubmitParams{
		To:    b,
		Body:  types.Body{Selector: 42},
		Value: 100,
	})

	var reply SubmitExternalReply
	err := f.call("ember.SubmitExternal", &SubmitExternalArgs{
		Destination: a.String(),
		Selector:    uint64(wallet.MethodSubmit),
		Params:      hex.EncodeToString(params),
		Timestamp:   now + 1,
		Expire:      now + 100,
		SignerKey:   hex.EncodeToString([]byte("ka")),
		Signature:   hex.EncodeToString([]byte("sig")),
	}, &reply)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCommitted, reply.Status)
	require.NotEmpty(t, reply.MessageID)

	var polled ReceiptReply
	err = f.call("ember.Receipt", &ReceiptArgs{MessageID: reply.MessageID}, &polled)
	require.NoError(t, err)
	assert.True(t, polled.Found)
	assert.Equal(t, types.StatusCommitted, polled.Status)
}

func TestSimulateOverRPC(t *testing.T) {
	f := newFixture(t)
	b := f.deployWallet([]byte("kb"))

	var reply SimulateReply
	err := f.call("ember.Simulate", &SimulateArgs{
		Address:  b.String(),
		Selector: uint64(wallet.MethodGetTotal),
		Params:   hex.EncodeToString(encoding.MustEncode(&wallet.GetTotalParams{AnswerSelector: 7})),
	}, &reply)
	require.NoError(t, err)
	require.Len(t, reply.Outgoing, 1)
	assert.Equal(t, uint64(7), reply.Outgoing[0].Selector)
}
