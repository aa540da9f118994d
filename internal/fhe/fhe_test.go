package fhe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(32)
	require.NoError(t, err)
	return e
}

func TestGenerateAndSelfTest(t *testing.T) {
	e := newTestEngine(t)
	mat, err := e.Generate()
	require.NoError(t, err)
	handle := mat.Seal()

	encKey, err := e.LoadEncKey(mat.EncKeyBytes)
	require.NoError(t, err)

	require.NoError(t, e.SelfTest(encKey, handle))
}

func TestSecretKeyRoundTripThroughStorage(t *testing.T) {
	e := newTestEngine(t)
	mat, err := e.Generate()
	require.NoError(t, err)
	handle := mat.Seal()

	stored, err := handle.MarshalForStorage()
	require.NoError(t, err)

	reloaded, err := e.LoadSecretHandle(stored)
	require.NoError(t, err)

	encKey, err := e.LoadEncKey(mat.EncKeyBytes)
	require.NoError(t, err)
	require.NoError(t, e.SelfTest(encKey, reloaded))
}

func TestEncryptDecryptScoresRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	mat, err := e.Generate()
	require.NoError(t, err)
	handle := mat.Seal()
	encKey, err := e.LoadEncKey(mat.EncKeyBytes)
	require.NoError(t, err)

	shardA, err := e.EncryptShard(encKey, 3, []float64{0.9, 0.1, -0.5})
	require.NoError(t, err)
	shardB, err := e.EncryptShard(encKey, 7, []float64{0.42})
	require.NoError(t, err)

	blob := SerializeScores(32, []ShardCiphertext{shardA, shardB})
	sc, err := e.DeserializeScores(blob)
	require.NoError(t, err)
	require.Equal(t, uint32(32), sc.Dim)

	entries, err := e.DecryptScores(handle, sc)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	require.Equal(t, uint32(3), entries[0].ShardIdx)
	require.Equal(t, uint32(0), entries[0].RowIdx)
	require.InDelta(t, 0.9, entries[0].Score, 1e-5)
	require.InDelta(t, -0.5, entries[2].Score, 1e-5)
	require.Equal(t, uint32(7), entries[3].ShardIdx)
	require.InDelta(t, 0.42, entries[3].Score, 1e-5)
}

func TestDeserializeScoresRejectsDimensionMismatch(t *testing.T) {
	e := newTestEngine(t)
	blob := SerializeScores(999, nil)
	_, err := e.DeserializeScores(blob)
	require.Error(t, err)
}

func TestDeserializeScoresRejectsBadMagic(t *testing.T) {
	e := newTestEngine(t)
	blob := []byte("not-a-score-blob-at-all")
	_, err := e.DeserializeScores(blob)
	require.Error(t, err)
}

func TestDeserializeScoresRejectsTruncated(t *testing.T) {
	e := newTestEngine(t)
	blob := SerializeScores(32, []ShardCiphertext{{ShardIdx: 0, RowCount: 1, ctBytes: []byte{1, 2, 3}}})
	_, err := e.DeserializeScores(blob[:len(blob)-1])
	require.Error(t, err)
}

func TestMetadataSealOpenRoundTrip(t *testing.T) {
	handle, err := GenerateMetadataKey()
	require.NoError(t, err)

	aad := []byte("row-id-42")
	wrapped, err := handle.SealMetadata([]byte("top secret description"), aad)
	require.NoError(t, err)

	pt, err := handle.OpenMetadata(wrapped, aad)
	require.NoError(t, err)
	require.Equal(t, "top secret description", string(pt))
}

func TestMetadataOpenFailsOnWrongAAD(t *testing.T) {
	handle, err := GenerateMetadataKey()
	require.NoError(t, err)

	wrapped, err := handle.SealMetadata([]byte("payload"), []byte("aad-a"))
	require.NoError(t, err)

	_, err = handle.OpenMetadata(wrapped, []byte("aad-b"))
	require.Error(t, err)
}

func TestMetadataOpenFailsOnWrongKey(t *testing.T) {
	h1, err := GenerateMetadataKey()
	require.NoError(t, err)
	h2, err := GenerateMetadataKey()
	require.NoError(t, err)

	wrapped, err := h1.SealMetadata([]byte("payload"), nil)
	require.NoError(t, err)

	_, err = h2.OpenMetadata(wrapped, nil)
	require.Error(t, err)
}

func TestMetadataKeyMustBe32Bytes(t *testing.T) {
	_, err := NewMetadataHandle([]byte("too-short"))
	require.Error(t, err)
}
