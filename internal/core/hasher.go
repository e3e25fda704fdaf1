package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "DexMetrics:genesis:v1"

// GenesisHash is the chain tip before the first unit.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// StateHasher chains one hash per committed unit:
//
//	state[N] = SHA-256(state[N-1] || u64le(number) || len(hash) || hash || changeset_digest)
//
// Binding the source unit hash makes a reorged block with identical
// changeset rows still fork the chain.
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: GenesisHash()}
}

// ComputeHash advances the chain by one unit and returns the new tip.
func (h *StateHasher) ComputeHash(number uint64, unitHash string, digest []byte) [32]byte {
	h.tip = chainHash(h.tip, number, unitHash, digest)
	return h.tip
}

// GetPrevHash returns the current chain tip.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.tip
}

// SetPrevHash moves the chain tip, used when restoring a checkpoint.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.tip = hash
}

func chainHash(prev [32]byte, number uint64, unitHash string, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(prev[:])

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], number)
	hasher.Write(buf[:])

	binary.LittleEndian.PutUint64(buf[:], uint64(len(unitHash)))
	hasher.Write(buf[:])
	hasher.Write([]byte(unitHash))

	hasher.Write(digest)

	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}
