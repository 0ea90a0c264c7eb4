// Package account defines the persistent record of a single account: code
// identity, immutable constructor data, mutable state, balance and
// lifecycle. One record is persisted per address.
package account

import (
	"fmt"

	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/encoding"
	"github.com/emberchain/ember/pkg/types"
)

// Lifecycle is the account lifecycle state machine:
// Uninitialized -> Active -> Frozen -> Deleted, with Frozen -> Active on
// thaw. An address is never reassigned, even after deletion.
type Lifecycle uint8

const (
	// Uninitialized accounts may hold balance but have no code.
	Uninitialized Lifecycle = iota
	// Active accounts execute their code against inbound messages.
	Active
	// Frozen accounts ran out of balance for storage rent. The code and
	// data identity is retained, the mutable state is discarded.
	Frozen
	// Deleted accounts stayed frozen past the grace period.
	Deleted
)

func (l Lifecycle) String() string {
	switch l {
	case Uninitialized:
		return "Uninitialized"
	case Active:
		return "Active"
	case Frozen:
		return "Frozen"
	case Deleted:
		return "Deleted"
	default:
		return fmt.Sprintf("Lifecycle(%d)", uint8(l))
	}
}

// Account is the full persistent record for one address.
//
// Not safe for concurrent access; the scheduler guarantees one transaction
// per account at a time.
type Account struct {
	// CodeHash identifies the executable code. It may be replaced by a
	// SetCode action; replacement never changes the account's address.
	CodeHash address.CodeHash
	// CodeSize is the byte size of the code blob, counted for rent.
	CodeSize uint64
	// ImmutableData is the canonical encoding of the constructor-time
	// fields that participate in address derivation.
	ImmutableData []byte
	// MutableState is the opaque serialized state, decoded by the
	// account's code at the start of every transaction.
	MutableState []byte
	// Balance in native value units.
	Balance types.TokenAmount
	// Lifecycle state. See the Lifecycle type.
	Lifecycle Lifecycle
	// LastAcceptedTimestamp is the replay-protection watermark for
	// external messages. It is updated by Accept inside the transaction
	// snapshot, so a rollback also rolls the watermark back.
	LastAcceptedTimestamp types.Tick
	// RentPaidThrough is the logical tick storage rent has been charged
	// through.
	RentPaidThrough types.Tick
	// FrozenAt is the tick the account froze, for the deletion grace
	// period. Zero unless Frozen.
	FrozenAt types.Tick
}

// NewUninitialized returns an account record holding only balance.
func NewUninitialized(balance types.TokenAmount, now types.Tick) *Account {
	return &Account{
		Balance:         balance,
		Lifecycle:       Uninitialized,
		RentPaidThrough: now,
	}
}

// Activate installs code and immutable data. The caller has verified that
// the derived address matches the account's address.
func (a *Account) Activate(code address.CodeHash, codeSize uint64, immutableData []byte) {
	a.CodeHash = code
	a.CodeSize = codeSize
	a.ImmutableData = immutableData
	a.MutableState = nil
	a.Lifecycle = Active
	a.FrozenAt = 0
}

// Freeze discards the mutable state but keeps the code and data identity so
// the account can later be thawed from its original init payload.
func (a *Account) Freeze(now types.Tick) {
	a.MutableState = nil
	a.Lifecycle = Frozen
	a.FrozenAt = now
}

// StoredBytes is the size counted against storage rent.
func (a *Account) StoredBytes() uint64 {
	return a.CodeSize + uint64(len(a.ImmutableData)) + uint64(len(a.MutableState))
}

// IsExecutable reports whether the account can run a transaction.
func (a *Account) IsExecutable() bool {
	return a.Lifecycle == Active && a.CodeHash.Defined()
}

// Clone returns a deep copy. Snapshots store clones so a rolled-back
// transaction cannot leak writes through shared slices.
func (a *Account) Clone() *Account {
	dup := *a
	dup.ImmutableData = append([]byte(nil), a.ImmutableData...)
	dup.MutableState = append([]byte(nil), a.MutableState...)
	return &dup
}

// Marshal encodes the record into canonical bytes.
func (a *Account) Marshal() ([]byte, error) {
	return encoding.Encode(a)
}

// Unmarshal decodes a record from canonical bytes.
func (a *Account) Unmarshal(raw []byte) error {
	return encoding.Decode(raw, a)
}
