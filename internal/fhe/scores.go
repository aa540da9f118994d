package fhe

import (
	"fmt"
	"math"

	"github.com/tuneinsight/lattigo/v4/bfv"
	"github.com/tuneinsight/lattigo/v4/rlwe"
)

// scoreScale fixed-points a float64 similarity score into the BFV plaintext
// integer domain. Scores are expected in a bounded range (similarity
// measures are conventionally in [-1, 1] or [0, 1]); six decimal digits of
// precision is ample and keeps the scaled value well inside the plaintext
// modulus for the parameter set in use.
const scoreScale = 1_000_000.0

// nanSentinel is the single reserved centered-plaintext value that decodes
// back to NaN, which sorts as smaller than any finite score. The encrypting
// side writes this exact value for a slot that has no score;
// no legitimate similarity score scaled by scoreScale can land exactly here
// because it sits at the extreme edge of the representable centered range.
func nanSentinel(t uint64) int64 { return int64(t/2) - 1 }

func encodeScore(t uint64, v float64) int64 {
	scaled := int64(math.Round(v * scoreScale))
	return scaled
}

func decodeScore(t uint64, raw int64) float64 {
	if raw == nanSentinel(t) {
		return math.NaN()
	}
	return float64(raw) / scoreScale
}

// centeredToUint maps a centered-representation int64 into the plaintext
// modulus ring, and the reverse. BFV plaintext slots are stored as elements
// of Z_t; negative scores need the standard centered lift.
func centeredToUint(t uint64, v int64) uint64 {
	if v < 0 {
		return uint64(int64(t) + v)
	}
	return uint64(v)
}

func uintToCentered(t uint64, v uint64) int64 {
	half := t / 2
	if v > half {
		return int64(v) - int64(t)
	}
	return int64(v)
}

// ScoreEntry is one decrypted, addressed similarity score.
type ScoreEntry struct {
	ShardIdx uint32
	RowIdx   uint32
	Score    float64
	IsNaN    bool
}

// DecryptScores decrypts every shard in sc using the process secret key and
// returns the flattened, addressed score entries in shard-then-row order
// (callers apply the top-k selection and the (score desc, shard asc, row
// asc) tie-break from there; this function does no ranking itself).
func (e *Engine) DecryptScores(handle *SecretHandle, sc *ScoreCiphertext) ([]ScoreEntry, error) {
	decryptor := bfv.NewDecryptor(e.params, handle.sk)
	encoder := bfv.NewEncoder(e.params)
	t := e.params.T()

	var out []ScoreEntry
	for _, shard := range sc.Shards {
		ct := rlwe.NewCiphertext(e.params.Parameters, 1, e.params.MaxLevel())
		if err := ct.UnmarshalBinary(shard.ctBytes); err != nil {
			return nil, fmt.Errorf("fhe: unmarshaling shard %d ciphertext: %w", shard.ShardIdx, err)
		}
		pt := decryptor.DecryptNew(ct)
		slots := make([]uint64, e.params.N())
		encoder.Decode(pt, slots)

		rowCount := int(shard.RowCount)
		if rowCount > len(slots) {
			return nil, fmt.Errorf("fhe: shard %d declares %d rows but ciphertext packs only %d slots", shard.ShardIdx, rowCount, len(slots))
		}
		for row := 0; row < rowCount; row++ {
			raw := uintToCentered(t, slots[row])
			score := decodeScore(t, raw)
			out = append(out, ScoreEntry{
				ShardIdx: shard.ShardIdx,
				RowIdx:   uint32(row),
				Score:    score,
				IsNaN:    math.IsNaN(score),
			})
		}
	}
	return out, nil
}

// EncryptShard packs a cleartext row of scores into a single ciphertext
// under the given public key. Used by the key store's startup self-test and
// by tests that need to synthesize a request payload; production score
// encryption happens entirely outside this process, by whatever system
// holds the plaintext similarity scores.
func (e *Engine) EncryptShard(pk *EncKeyHandle, shardIdx uint32, scores []float64) (ShardCiphertext, error) {
	if len(scores) > e.params.N() {
		return ShardCiphertext{}, fmt.Errorf("fhe: shard has %d rows, exceeds %d packed slots", len(scores), e.params.N())
	}
	t := e.params.T()
	slots := make([]uint64, e.params.N())
	for i, v := range scores {
		slots[i] = centeredToUint(t, encodeScore(t, v))
	}

	encoder := bfv.NewEncoder(e.params)
	pt := bfv.NewPlaintext(e.params, e.params.MaxLevel())
	encoder.Encode(slots, pt)

	encryptor := bfv.NewEncryptor(e.params, pk.pk)
	ct := rlwe.NewCiphertext(e.params.Parameters, 1, e.params.MaxLevel())
	encryptor.Encrypt(pt, ct)

	ctBytes, err := ct.MarshalBinary()
	if err != nil {
		return ShardCiphertext{}, fmt.Errorf("fhe: marshaling shard %d ciphertext: %w", shardIdx, err)
	}
	return ShardCiphertext{ShardIdx: shardIdx, RowCount: uint32(len(scores)), ctBytes: ctBytes}, nil
}
