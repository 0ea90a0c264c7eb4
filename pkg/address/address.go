// Package address implements deterministic account identity.
//
// An account's address is the blake2b-256 hash of the canonical encoding of
// its code hash and immutable constructor data. The derivation is pure: it is
// used both to deploy a new account and to verify a peer's claimed identity
// by recomputation.
package address

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	blake2b "github.com/minio/blake2b-simd"
	"github.com/pkg/errors"

	"github.com/emberchain/ember/pkg/encoding"
)

// Length is the byte length of an address.
const Length = 32

// prefix tags the human-readable form of an address.
const prefix = "em1"

// ErrEncoding is returned by Derive when the immutable data cannot be
// canonically encoded.
var ErrEncoding = errors.New("immutable data is not canonically encodable")

// Address is the identity of an account. It never changes after first
// assignment, regardless of code replacement or state mutation.
type Address [Length]byte

// Undef is the zero-valued, undefined address.
var Undef = Address{}

// CodeHash identifies an executable code blob by its blake2b-256 digest.
type CodeHash [Length]byte

// UndefCodeHash is the zero-valued, undefined code hash.
var UndefCodeHash = CodeHash{}

// HashCode computes the identity of a code blob.
func HashCode(blob []byte) CodeHash {
	return CodeHash(blake2b.Sum256(blob))
}

func (c CodeHash) String() string {
	return hex.EncodeToString(c[:])
}

// Defined reports whether the code hash holds a value.
func (c CodeHash) Defined() bool {
	return c != UndefCodeHash
}

// preimage is the hashed pair. The toarray tag keeps the encoding positional
// rather than keyed by field name.
type preimage struct {
	_    struct{} `cbor:",toarray"`
	Code []byte
	Data []byte
}

// Derive computes the address bound to a (code, immutable data) pair. It is a
// pure function: identical inputs always return identical output.
// immutableData may be a pre-encoded []byte or any canonically encodable
// value; anything else fails with ErrEncoding.
func Derive(code CodeHash, immutableData interface{}) (Address, error) {
	data, ok := immutableData.([]byte)
	if !ok {
		var err error
		data, err = encoding.Encode(immutableData)
		if err != nil {
			return Undef, errors.Wrapf(ErrEncoding, "%s", err)
		}
	}

	raw, err := encoding.Encode(preimage{Code: code[:], Data: data})
	if err != nil {
		return Undef, errors.Wrapf(ErrEncoding, "%s", err)
	}
	return Address(blake2b.Sum256(raw)), nil
}

// NewFromBytes builds an address from its raw byte form.
func NewFromBytes(raw []byte) (Address, error) {
	if len(raw) != Length {
		return Undef, fmt.Errorf("invalid address length %d", len(raw))
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// Decode parses the human-readable form produced by String.
func Decode(s string) (Address, error) {
	if !strings.HasPrefix(s, prefix) {
		return Undef, fmt.Errorf("invalid address prefix in %q", s)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, prefix))
	if err != nil {
		return Undef, errors.Wrap(err, "invalid address encoding")
	}
	return NewFromBytes(raw)
}

// Bytes returns the raw byte form.
func (a Address) Bytes() []byte {
	return a[:]
}

func (a Address) String() string {
	return prefix + hex.EncodeToString(a[:])
}

// Defined reports whether the address holds a value.
func (a Address) Defined() bool {
	return a != Undef
}

// Less provides a stable ordering for addresses.
func (a Address) Less(other Address) bool {
	return bytes.Compare(a[:], other[:]) < 0
}
