package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/types"
)

func TestLifecycleTransitions(t *testing.T) {
	a := NewUninitialized(100, 5)
	assert.Equal(t, Uninitialized, a.Lifecycle)
	assert.False(t, a.IsExecutable())

	code := address.HashCode([]byte("code"))
	a.Activate(code, 64, []byte("immutable"))
	assert.Equal(t, Active, a.Lifecycle)
	assert.True(t, a.IsExecutable())

	a.MutableState = []byte("state")
	a.Freeze(42)
	assert.Equal(t, Frozen, a.Lifecycle)
	assert.Nil(t, a.MutableState)
	assert.Equal(t, code, a.CodeHash, "identity is retained through freeze")

	// Thaw goes back through Activate with the original init data.
	a.Activate(code, 64, []byte("immutable"))
	assert.Equal(t, Active, a.Lifecycle)
}

func TestStoredBytes(t *testing.T) {
	a := NewUninitialized(0, 0)
	a.Activate(address.HashCode([]byte("code")), 10, []byte("12345"))
	a.MutableState = []byte("123")
	assert.Equal(t, uint64(18), a.StoredBytes())
}

func TestCloneIsDeep(t *testing.T) {
	a := NewUninitialized(7, 0)
	a.Activate(address.HashCode([]byte("code")), 1, []byte("data"))
	a.MutableState = []byte("state")

	dup := a.Clone()
	dup.MutableState[0] = 'X'
	dup.Balance = 1

	assert.Equal(t, []byte("state"), a.MutableState)
	assert.Equal(t, types.TokenAmount(7), a.Balance)
}

func TestMarshalRoundTrip(t *testing.T) {
	a := NewUninitialized(11, 3)
	a.Activate(address.HashCode([]byte("code")), 8, []byte("data"))
	a.MutableState = []byte("state")
	a.LastAcceptedTimestamp = 99

	raw, err := a.Marshal()
	require.NoError(t, err)

	var got Account
	require.NoError(t, got.Unmarshal(raw))
	assert.Equal(t, *a, got)
}
