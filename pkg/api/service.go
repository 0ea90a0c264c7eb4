// Package api exposes the engine over JSON-RPC. The surface mirrors the
// engine boundary: submit an external message, poll its receipt, query an
// account snapshot, simulate a call, and derive an address.
package api

import (
	"encoding/hex"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/node"
	"github.com/emberchain/ember/pkg/types"
)

var log = logging.Logger("api")

// Service is the RPC receiver. All byte fields travel hex-encoded.
type Service struct {
	engine *node.Engine
}

func NewService(engine *node.Engine) *Service {
	return &Service{engine: engine}
}

// NewHandler mounts the JSON-RPC endpoint at /rpc and prometheus metrics at
// /metrics.
func NewHandler(engine *node.Engine) (http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	if err := server.RegisterService(NewService(engine), "ember"); err != nil {
		return nil, errors.Wrap(err, "failed to register rpc service")
	}

	mux := http.NewServeMux()
	mux.Handle("/rpc", server)
	mux.Handle("/metrics", promhttp.Handler())
	return mux, nil
}

type SubmitExternalArgs struct {
	Destination string     `json:"destination"`
	Selector    uint64     `json:"selector"`
	Params      string     `json:"params"`
	Timestamp   types.Tick `json:"timestamp"`
	Expire      types.Tick `json:"expire"`
	SignerKey   string     `json:"signerKey"`
	Signature   string     `json:"signature"`
}

type SubmitExternalReply struct {
	MessageID string              `json:"messageId"`
	Status    types.MessageStatus `json:"status"`
	ExitCode  uint64              `json:"exitCode"`
	GasUsed   int64               `json:"gasUsed"`
}

// SubmitExternal admits and executes an external message. Admission
// failures come back as RPC errors; executed messages report their status.
func (s *Service) SubmitExternal(r *http.Request, args *SubmitExternalArgs, reply *SubmitExternalReply) error {
	to, err := address.Decode(args.Destination)
	if err != nil {
		return err
	}
	params, err := hex.DecodeString(args.Params)
	if err != nil {
		return errors.Wrap(err, "invalid params hex")
	}
	signerKey, err := hex.DecodeString(args.SignerKey)
	if err != nil {
		return errors.Wrap(err, "invalid signerKey hex")
	}
	signature, err := hex.DecodeString(args.Signature)
	if err != nil {
		return errors.Wrap(err, "invalid signature hex")
	}

	msg := &types.Message{
		Kind:      types.External,
		To:        to,
		Body:      types.Body{Selector: types.MethodNum(args.Selector), Params: params},
		Timestamp: args.Timestamp,
		Expire:    args.Expire,
		SignerKey: signerKey,
		Signature: signature,
	}
	id, err := msg.ID()
	if err != nil {
		return err
	}

	receipt, err := s.engine.SubmitExternal(r.Context(), msg)
	if err != nil {
		log.Debugw("submission refused", "id", id, "err", err)
		if receipt != nil {
			reply.MessageID = id.String()
			reply.Status = receipt.Status
		}
		return err
	}

	reply.MessageID = id.String()
	reply.Status = receipt.Status
	reply.ExitCode = uint64(receipt.ExitCode)
	reply.GasUsed = receipt.GasUsed
	return nil
}

type ReceiptArgs struct {
	MessageID string `json:"messageId"`
}

type ReceiptReply struct {
	Found    bool                `json:"found"`
	Status   types.MessageStatus `json:"status"`
	ExitCode uint64              `json:"exitCode"`
	GasUsed  int64               `json:"gasUsed"`
	Return   string              `json:"return"`
}

// Receipt polls the recorded outcome of a previously submitted message.
func (s *Service) Receipt(_ *http.Request, args *ReceiptArgs, reply *ReceiptReply) error {
	raw, err := hex.DecodeString(args.MessageID)
	if err != nil || len(raw) != 32 {
		return errors.New("invalid message id")
	}
	var id types.MessageID
	copy(id[:], raw)

	receipt, ok := s.engine.Receipt(id)
	if !ok {
		return nil
	}
	reply.Found = true
	reply.Status = receipt.Status
	reply.ExitCode = uint64(receipt.ExitCode)
	reply.GasUsed = receipt.GasUsed
	reply.Return = hex.EncodeToString(receipt.Return)
	return nil
}

type AccountArgs struct {
	Address string `json:"address"`
}

type AccountReply struct {
	Lifecycle string            `json:"lifecycle"`
	Balance   types.TokenAmount `json:"balance"`
	CodeHash  string            `json:"codeHash"`
	State     string            `json:"state"`
}

// Account returns the snapshot of one account.
func (s *Service) Account(r *http.Request, args *AccountArgs, reply *AccountReply) error {
	addr, err := address.Decode(args.Address)
	if err != nil {
		return err
	}
	snap, err := s.engine.AccountSnapshot(r.Context(), addr)
	if err != nil {
		return err
	}
	reply.Lifecycle = snap.Lifecycle
	reply.Balance = snap.Balance
	reply.CodeHash = snap.CodeHash.String()
	reply.State = hex.EncodeToString(snap.MutableState)
	return nil
}

type SimulateArgs struct {
	Address  string `json:"address"`
	Selector uint64 `json:"selector"`
	Params   string `json:"params"`
}

type SimulatedMessage struct {
	To       string            `json:"to"`
	Selector uint64            `json:"selector"`
	Params   string            `json:"params"`
	Value    types.TokenAmount `json:"value"`
}

type SimulateReply struct {
	Return   string             `json:"return"`
	Outgoing []SimulatedMessage `json:"outgoing"`
}

// Simulate runs a read-only call against committed state and captures the
// messages it would send.
func (s *Service) Simulate(r *http.Request, args *SimulateArgs, reply *SimulateReply) error {
	addr, err := address.Decode(args.Address)
	if err != nil {
		return err
	}
	params, err := hex.DecodeString(args.Params)
	if err != nil {
		return errors.Wrap(err, "invalid params hex")
	}

	outgoing, ret, err := s.engine.Simulate(r.Context(), addr, types.Body{
		Selector: types.MethodNum(args.Selector),
		Params:   params,
	})
	if err != nil {
		return err
	}
	reply.Return = hex.EncodeToString(ret)
	for _, m := range outgoing {
		reply.Outgoing = append(reply.Outgoing, SimulatedMessage{
			To:       m.To.String(),
			Selector: uint64(m.Body.Selector),
			Params:   hex.EncodeToString(m.Body.Params),
			Value:    m.Value,
		})
	}
	return nil
}

type DeriveAddressArgs struct {
	CodeHash      string `json:"codeHash"`
	ImmutableData string `json:"immutableData"`
}

type DeriveAddressReply struct {
	Address string `json:"address"`
}

// DeriveAddress precomputes a not-yet-deployed account's identity.
func (s *Service) DeriveAddress(_ *http.Request, args *DeriveAddressArgs, reply *DeriveAddressReply) error {
	rawCode, err := hex.DecodeString(args.CodeHash)
	if err != nil || len(rawCode) != address.Length {
		return errors.New("invalid code hash")
	}
	var code address.CodeHash
	copy(code[:], rawCode)

	imm, err := hex.DecodeString(args.ImmutableData)
	if err != nil {
		return errors.Wrap(err, "invalid immutable data hex")
	}

	addr, err := s.engine.DeriveAddress(code, imm)
	if err != nil {
		return err
	}
	reply.Address = addr.String()
	return nil
}
