package types

import (
	"encoding/hex"

	blake2b "github.com/minio/blake2b-simd"
	"github.com/pkg/errors"

	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/encoding"
)

// MethodNum selects a function exported by an account's code.
type MethodNum uint64

// ConstructorMethod is the selector invoked when an account is first
// activated from an init payload.
const ConstructorMethod MethodNum = 0

// BounceHandlerMethod is the selector a contract exports to observe bounced
// messages. A code that does not export it still receives the bounced value;
// the body is dropped.
const BounceHandlerMethod MethodNum = ^MethodNum(0)

// Tick is a logical timestamp. External message headers (Timestamp, Expire)
// and rent accounting share this unit. The engine never reads the wall clock
// inside compute.
type Tick uint64

// MsgKind distinguishes how a message entered the system.
type MsgKind uint8

const (
	// External messages originate outside the account graph and carry
	// signature, timestamp and expiry headers.
	External MsgKind = iota
	// Internal messages are sent by one account to another and carry a
	// sender address and attached value.
	Internal
)

// MessageID identifies a message by the hash of its canonical encoding.
type MessageID [32]byte

func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}

// InitPayload carries the code and immutable data needed to activate the
// destination account. The destination address must equal the derivation of
// the pair, otherwise activation is refused.
type InitPayload struct {
	CodeHash      address.CodeHash
	ImmutableData []byte
}

// Body is a function selector plus its encoded arguments.
type Body struct {
	Selector MethodNum
	Params   []byte
}

// Message is a unit of communication between accounts, or from the outside
// world into an account. Immutable once enqueued.
type Message struct {
	Kind MsgKind
	To   address.Address
	Body Body

	// Init optionally deploys the destination. See InitPayload.
	Init *InitPayload

	// Internal-only fields.
	From   address.Address
	Value  TokenAmount
	Bounce bool
	// Bounced marks a message synthesized by the bounce coordinator.
	// Bounced messages are never themselves bounce-eligible.
	Bounced bool

	// External-only headers.
	Timestamp Tick
	Expire    Tick
	SignerKey []byte
	Signature []byte
}

// NewInternal builds an internal message.
func NewInternal(from, to address.Address, body Body, value TokenAmount, bounce bool) *Message {
	return &Message{
		Kind:   Internal,
		From:   from,
		To:     to,
		Body:   body,
		Value:  value,
		Bounce: bounce,
	}
}

// ID returns the message identity: the hash of the canonical encoding.
func (m *Message) ID() (MessageID, error) {
	raw, err := encoding.Encode(m)
	if err != nil {
		return MessageID{}, errors.Wrap(err, "failed to encode message")
	}
	return MessageID(blake2b.Sum256(raw)), nil
}

// SigningBytes returns the canonical encoding the external signature covers:
// the full message with the signature field zeroed.
func (m *Message) SigningBytes() ([]byte, error) {
	unsigned := *m
	unsigned.Signature = nil
	raw, err := encoding.Encode(&unsigned)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message for signing")
	}
	return raw, nil
}

// Marshal encodes the message into canonical bytes.
func (m *Message) Marshal() ([]byte, error) {
	return encoding.Encode(m)
}

// UnmarshalMessage decodes a message from canonical bytes.
func UnmarshalMessage(raw []byte) (*Message, error) {
	var m Message
	if err := encoding.Decode(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
