// Package pow validates proof-of-work submissions. The same check is used by
// the coordinator to accept work and by workers to know when to submit.
package pow

import (
	"bytes"

	"example.org/distpow/wire"
	"golang.org/x/crypto/blake2b"
)

// Threshold derives the 8 byte value a nonce achieves for a block hash:
// BLAKE2b-64 over the byte-reversed nonce followed by the hash, with the
// digest byte-reversed again.
func Threshold(hash wire.Hash, nonce wire.Word) wire.Word {
	var input [wire.WorkSize + wire.HashSize]byte
	for i := 0; i < wire.WorkSize; i++ {
		input[i] = nonce[wire.WorkSize-1-i]
	}
	copy(input[wire.WorkSize:], hash[:])

	h, err := blake2b.New(wire.WorkSize, nil)
	if err != nil {
		// only possible for an invalid digest size
		panic(err)
	}
	h.Write(input[:])
	digest := h.Sum(nil)

	var out wire.Word
	for i := 0; i < wire.WorkSize; i++ {
		out[i] = digest[wire.WorkSize-1-i]
	}
	return out
}

// IsValid reports whether nonce meets target for hash.
func IsValid(hash wire.Hash, nonce, target wire.Word) bool {
	return Compare(Threshold(hash, nonce), target) >= 0
}

// Compare orders two thresholds as unsigned big-endian integers. Every
// difficulty comparison in the system goes through it.
func Compare(a, b wire.Word) int {
	return bytes.Compare(a[:], b[:])
}
