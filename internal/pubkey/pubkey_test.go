package pubkey

import (
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	kp := FromSeed("owner")
	parsed, err := Parse(kp.Key().String())
	require.NoError(t, err)
	assert.Equal(t, kp.Key(), parsed)
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse("zz")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = Parse(strings.Repeat("ab", 31))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestZero(t *testing.T) {
	assert.True(t, Zero.IsZero())
	assert.False(t, FromSeed("x").Key().IsZero())
	assert.Equal(t, strings.Repeat("0", 64), Zero.String())
}

func TestKeyJSON(t *testing.T) {
	k := FromSeed("worker").Key()
	data, err := json.Marshal(map[string]Key{"k": k})
	require.NoError(t, err)

	var out map[string]Key
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, k, out["k"])
}

func TestDeriveDeterministic(t *testing.T) {
	id := binary.LittleEndian.AppendUint64(nil, 1)
	a := Derive([]byte("job"), id)
	b := Derive([]byte("job"), id)
	assert.Equal(t, a, b)

	other := Derive([]byte("job"), binary.LittleEndian.AppendUint64(nil, 2))
	assert.NotEqual(t, a, other)

	// Length prefixes keep seed boundaries significant.
	assert.NotEqual(t, Derive([]byte("ab"), []byte("c")), Derive([]byte("a"), []byte("bc")))
}

func TestSignVerify(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	msg := []byte("start_job")
	sig := kp.Sign(msg)
	assert.True(t, Verify(kp.Key(), msg, sig))
	assert.False(t, Verify(kp.Key(), []byte("other"), sig))
	assert.False(t, Verify(FromSeed("mallory").Key(), msg, sig))
	assert.False(t, Verify(kp.Key(), msg, sig[:10]))
}

func TestSaveLoadKeypair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owner.key")
	kp := FromSeed("owner")
	require.NoError(t, kp.Save(path))

	loaded, err := LoadKeypair(path)
	require.NoError(t, err)
	assert.Equal(t, kp.Key(), loaded.Key())

	resolved, err := Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, kp.Key(), resolved)

	resolved, err = Resolve(kp.Key().String())
	require.NoError(t, err)
	assert.Equal(t, kp.Key(), resolved)

	_, err = Resolve(filepath.Join(t.TempDir(), "missing.key"))
	assert.Error(t, err)
}
