// Package encoding provides the canonical serialization used across the
// engine. Address derivation hashes encoded bytes, so the encoding must be
// deterministic: two encodings of the same value are byte-identical.
package encoding

import (
	cbor "github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode encodes an object into its canonical byte form.
func Encode(obj interface{}) ([]byte, error) {
	raw, err := encMode.Marshal(obj)
	if err != nil {
		return nil, errors.Wrap(err, "canonical encode failed")
	}
	return raw, nil
}

// MustEncode encodes an object, panicking on failure. For values the caller
// knows to be encodable (fixed structs, byte slices).
func MustEncode(obj interface{}) []byte {
	raw, err := Encode(obj)
	if err != nil {
		panic(err)
	}
	return raw
}

// Decode populates obj from canonical bytes.
func Decode(raw []byte, obj interface{}) error {
	if err := decMode.Unmarshal(raw, obj); err != nil {
		return errors.Wrap(err, "decode failed")
	}
	return nil
}
