package vm

import (
	"github.com/pkg/errors"

	"github.com/emberchain/ember/pkg/account"
	"github.com/emberchain/ember/pkg/crypto"
	"github.com/emberchain/ember/pkg/types"
)

// Admission failures for external messages. The message never starts a
// transaction; no state changes and no bounce.
var (
	ErrExpired         = errors.New("message expired")
	ErrStaleOrReplayed = errors.New("timestamp at or below last accepted")
	ErrBadSignature    = errors.New("signature verification failed")
)

// IsAdmissionError reports whether err is one of the admission failures.
func IsAdmissionError(err error) bool {
	return errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrStaleOrReplayed) ||
		errors.Is(err, ErrBadSignature)
}

// ReplayGuard is admission control for externally originated messages.
//
// The watermark it checks against, Account.LastAcceptedTimestamp, is advanced
// by Accept inside the transaction's snapshot. A transaction that accepts and
// then rolls back therefore also rolls back the watermark, re-opening the
// same message to replay. This is deliberate, documented behavior; callers
// needing stronger guarantees must make their handlers idempotent.
type ReplayGuard struct {
	verifier crypto.Verifier
}

func NewReplayGuard(verifier crypto.Verifier) *ReplayGuard {
	return &ReplayGuard{verifier: verifier}
}

// Check admits or rejects an external message against the destination
// account's watermark at logical time now.
func (g *ReplayGuard) Check(acct *account.Account, msg *types.Message, now types.Tick) error {
	if now > msg.Expire {
		return errors.Wrapf(ErrExpired, "expire %d, now %d", msg.Expire, now)
	}
	if msg.Timestamp <= acct.LastAcceptedTimestamp {
		return errors.Wrapf(ErrStaleOrReplayed, "timestamp %d, watermark %d", msg.Timestamp, acct.LastAcceptedTimestamp)
	}
	payload, err := msg.SigningBytes()
	if err != nil {
		return errors.Wrap(err, "failed to encode message for verification")
	}
	if !g.verifier.Verify(msg.SignerKey, payload, msg.Signature) {
		return ErrBadSignature
	}
	return nil
}
