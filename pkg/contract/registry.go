// Package contract holds the code registry and the builtin contracts.
package contract

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/vm/dispatch"
)

// Registry maps code hashes to executable behavior. Code blobs are opaque
// to the engine; only their hash and size matter for addressing and rent.
type Registry struct {
	mu    sync.RWMutex
	codes map[address.CodeHash]registered
}

type registered struct {
	contract dispatch.Contract
	size     uint64
}

func NewRegistry() *Registry {
	return &Registry{codes: make(map[address.CodeHash]registered)}
}

// Register binds a code blob to its behavior and returns the hash accounts
// deploy and derive addresses with.
func (r *Registry) Register(blob []byte, impl dispatch.Contract) address.CodeHash {
	hash := address.HashCode(blob)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[hash] = registered{contract: impl, size: uint64(len(blob))}
	return hash
}

// Load resolves a code hash.
func (r *Registry) Load(code address.CodeHash) (dispatch.Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.codes[code]
	if !ok {
		return nil, errors.Errorf("code %s not registered", code)
	}
	return reg.contract, nil
}

// Size returns the registered blob's length, or zero for unknown code.
func (r *Registry) Size(code address.CodeHash) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.codes[code].size
}
