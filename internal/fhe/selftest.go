package fhe

import (
	"fmt"
	"math"
)

// selfTestVector is a fixed, non-secret set of scores encrypted fresh on
// every boot and decrypted back through the loaded secret key. It never
// touches disk, it exists purely to catch a mismatched or corrupted key
// pair before the process reports READY, without needing a sixth on-disk
// artifact alongside the five the key store owns.
var selfTestVector = []float64{0.5, -0.25, 0, 1, -1}

const selfTestEpsilon = 1e-5

// SelfTest encrypts selfTestVector under encKey and decrypts it under
// handle, failing if the round trip does not reproduce the original values.
// Called once during keystore.LoadOrInit, for both the fresh-generation and the
// loaded-from-disk paths.
func (e *Engine) SelfTest(pk *EncKeyHandle, handle *SecretHandle) error {
	shard, err := e.EncryptShard(pk, 0, selfTestVector)
	if err != nil {
		return fmt.Errorf("fhe: self-test encrypt: %w", err)
	}
	blob := SerializeScores(uint32(e.dim), []ShardCiphertext{shard})

	sc, err := e.DeserializeScores(blob)
	if err != nil {
		return fmt.Errorf("fhe: self-test deserialize: %w", err)
	}
	entries, err := e.DecryptScores(handle, sc)
	if err != nil {
		return fmt.Errorf("fhe: self-test decrypt: %w", err)
	}
	if len(entries) != len(selfTestVector) {
		return fmt.Errorf("fhe: self-test round trip returned %d scores, want %d", len(entries), len(selfTestVector))
	}
	for i, want := range selfTestVector {
		got := entries[i].Score
		if math.IsNaN(got) || math.Abs(got-want) > selfTestEpsilon {
			return fmt.Errorf("fhe: self-test round trip mismatch at slot %d: got %v want %v", i, got, want)
		}
	}
	return nil
}
