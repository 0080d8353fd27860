package pow

import (
	"testing"

	"example.org/distpow/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func testHash(seed byte) wire.Hash {
	var h wire.Hash
	for i := range h {
		h[i] = seed + byte(i)
	}
	return h
}

func TestThreshold_MatchesManualDigest(t *testing.T) {
	hash := testHash(7)
	nonce := wire.WordFromUint64(0x0102030405060708)

	input := append([]byte{8, 7, 6, 5, 4, 3, 2, 1}, hash[:]...)
	h, err := blake2b.New(8, nil)
	require.NoError(t, err)
	h.Write(input)
	digest := h.Sum(nil)

	got := Threshold(hash, nonce)
	for i := 0; i < 8; i++ {
		assert.Equal(t, digest[7-i], got[i])
	}
}

func TestIsValid_Deterministic(t *testing.T) {
	hash := testHash(1)
	target := wire.WordFromUint64(0xC000000000000000)
	for n := uint64(0); n < 64; n++ {
		nonce := wire.WordFromUint64(n)
		first := IsValid(hash, nonce, target)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, IsValid(hash, nonce, target))
		}
	}
}

func TestIsValid_Boundaries(t *testing.T) {
	hash := testHash(3)
	nonce := wire.WordFromUint64(42)
	computed := Threshold(hash, nonce)

	assert.True(t, IsValid(hash, nonce, wire.Word{}), "zero target accepts everything")
	assert.True(t, IsValid(hash, nonce, computed), "equal threshold is accepted")

	if computed.Uint64() < ^uint64(0) {
		above := wire.WordFromUint64(computed.Uint64() + 1)
		assert.False(t, IsValid(hash, nonce, above))
	}
}

func TestIsValid_FindsSolution(t *testing.T) {
	hash := testHash(9)
	target := wire.WordFromUint64(0xF000000000000000)

	var found bool
	for n := uint64(0); n < 4096; n++ {
		if IsValid(hash, wire.WordFromUint64(n), target) {
			found = true
			assert.GreaterOrEqual(t, Threshold(hash, wire.WordFromUint64(n)).Uint64(), target.Uint64())
			break
		}
	}
	assert.True(t, found)
}

func TestCompare_Unsigned(t *testing.T) {
	assert.Equal(t, 1, Compare(wire.WordFromUint64(0x8000000000000000), wire.WordFromUint64(0x7FFFFFFFFFFFFFFF)))
	assert.Equal(t, -1, Compare(wire.WordFromUint64(1), wire.WordFromUint64(256)))
	assert.Equal(t, 0, Compare(wire.WordFromUint64(5), wire.WordFromUint64(5)))
}
