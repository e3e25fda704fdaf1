package core_test

import (
	"testing"

	"DexMetrics/internal/core"

	"github.com/stretchr/testify/assert"
)

func TestStateHasher_StartsAtGenesis(t *testing.T) {
	h := core.NewStateHasher()
	assert.Equal(t, core.GenesisHash(), h.GetPrevHash())
}

func TestStateHasher_BindsUnitHash(t *testing.T) {
	digest := []byte("same rows")

	a := core.NewStateHasher().ComputeHash(7, "0xaaa", digest)
	b := core.NewStateHasher().ComputeHash(7, "0xbbb", digest)
	assert.NotEqual(t, a, b, "a reorged unit must fork the chain")

	c := core.NewStateHasher().ComputeHash(7, "0xaaa", digest)
	assert.Equal(t, a, c)
}

func TestStateHasher_RestoreContinuesChain(t *testing.T) {
	full := core.NewStateHasher()
	full.ComputeHash(1, "0x1", []byte("d1"))
	tip := full.GetPrevHash()
	want := full.ComputeHash(2, "0x2", []byte("d2"))

	restored := core.NewStateHasher()
	restored.SetPrevHash(tip)
	assert.Equal(t, want, restored.ComputeHash(2, "0x2", []byte("d2")))
}
