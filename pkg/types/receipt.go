package types

// MessageStatus is the user-visible outcome of a submitted external message.
// A client polling for an outcome observes exactly one of these.
type MessageStatus string

const (
	// StatusCommitted: admitted, computed and committed.
	StatusCommitted MessageStatus = "accepted-and-committed"
	// StatusRolledBack: admitted and accepted, but the transaction rolled
	// back. Note that the replay timestamp rolled back with it, so an
	// identical resubmission will be admitted again.
	StatusRolledBack MessageStatus = "accepted-and-rolled-back"
	// StatusRejected: refused at admission (stale, replayed or bad
	// signature); no transaction was started.
	StatusRejected MessageStatus = "rejected-at-admission"
	// StatusExpired: the expiry header lapsed before admission; no
	// transaction was started.
	StatusExpired MessageStatus = "expired-with-no-transaction"
	// StatusDiscarded: the admission gas credit ran out before the contract
	// accepted the message; it was dropped with no state change.
	StatusDiscarded MessageStatus = "discarded-before-accept"
)

// Receipt records the outcome of one transaction.
type Receipt struct {
	Status   MessageStatus
	ExitCode ExitCode
	Return   []byte
	GasUsed  int64
	// RentDebited is the storage rent charged before compute began. It
	// survives even when the transaction rolls back.
	RentDebited TokenAmount
}
