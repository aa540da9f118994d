package fhe

import (
	"encoding/binary"
	"fmt"
)

// Wire layout for a serialized score ciphertext blob. The BFV scheme
// packs plaintext slots but has no notion of "shard" or "row";
// callers address results by position, so the blob carries a small
// cleartext index header in front of each packed ciphertext. Nothing in
// the header is encrypted or secret, only the scores themselves are.
//
//	magic      [4]byte  "FHS1"
//	dim        uint32   vector dimension the ciphertexts were packed for
//	shardCount uint32
//	per shard:
//	  shardIdx   uint32
//	  rowCount   uint32   number of valid slots in this shard's ciphertext
//	  ctLen      uint32
//	  ctBytes    [ctLen]byte
var wireMagic = [4]byte{'F', 'H', 'S', '1'}

// ShardCiphertext is one shard's packed, still-encrypted score vector.
type ShardCiphertext struct {
	ShardIdx uint32
	RowCount uint32
	ctBytes  []byte
}

// ScoreCiphertext is the deserialized, still-encrypted form of a
// decrypt_scores request payload.
type ScoreCiphertext struct {
	Dim    uint32
	Shards []ShardCiphertext
}

// DeserializeScores parses the wire blob without touching any key material.
// It validates the header shape and that the declared dimension matches the
// engine's configured dimension; it does not and cannot validate that
// the ciphertext bytes themselves are well-formed BFV ciphertexts, that is
// discovered only at decrypt time.
func (e *Engine) DeserializeScores(blob []byte) (*ScoreCiphertext, error) {
	if len(blob) < 12 || [4]byte{blob[0], blob[1], blob[2], blob[3]} != wireMagic {
		return nil, fmt.Errorf("fhe: malformed score ciphertext: bad magic")
	}
	dim := binary.BigEndian.Uint32(blob[4:8])
	if dim != uint32(e.dim) {
		return nil, fmt.Errorf("fhe: score ciphertext dimension %d does not match configured dimension %d", dim, e.dim)
	}
	shardCount := binary.BigEndian.Uint32(blob[8:12])
	off := 12
	shards := make([]ShardCiphertext, 0, shardCount)
	for i := uint32(0); i < shardCount; i++ {
		if off+12 > len(blob) {
			return nil, fmt.Errorf("fhe: malformed score ciphertext: truncated shard header")
		}
		shardIdx := binary.BigEndian.Uint32(blob[off : off+4])
		rowCount := binary.BigEndian.Uint32(blob[off+4 : off+8])
		ctLen := binary.BigEndian.Uint32(blob[off+8 : off+12])
		off += 12
		if uint64(off)+uint64(ctLen) > uint64(len(blob)) {
			return nil, fmt.Errorf("fhe: malformed score ciphertext: truncated ciphertext body")
		}
		ct := make([]byte, ctLen)
		copy(ct, blob[off:off+int(ctLen)])
		off += int(ctLen)
		shards = append(shards, ShardCiphertext{ShardIdx: shardIdx, RowCount: rowCount, ctBytes: ct})
	}
	if off != len(blob) {
		return nil, fmt.Errorf("fhe: malformed score ciphertext: trailing bytes")
	}
	return &ScoreCiphertext{Dim: dim, Shards: shards}, nil
}

// SerializeScores is the encrypting side's counterpart to DeserializeScores.
// It is used by the self-test (and by tests) to build a well-formed blob
// from freshly encrypted shards.
func SerializeScores(dim uint32, shards []ShardCiphertext) []byte {
	size := 12
	for _, s := range shards {
		size += 12 + len(s.ctBytes)
	}
	out := make([]byte, 0, size)
	out = append(out, wireMagic[:]...)
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], dim)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(shards)))
	out = append(out, hdr[:]...)
	for _, s := range shards {
		var sh [12]byte
		binary.BigEndian.PutUint32(sh[0:4], s.ShardIdx)
		binary.BigEndian.PutUint32(sh[4:8], s.RowCount)
		binary.BigEndian.PutUint32(sh[8:12], uint32(len(s.ctBytes)))
		out = append(out, sh[:]...)
		out = append(out, s.ctBytes...)
	}
	return out
}
