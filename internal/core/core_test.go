package core

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cryptolab/rune-vault/internal/executor"
	"github.com/cryptolab/rune-vault/internal/fhe"
	"github.com/cryptolab/rune-vault/internal/keystore"
	"github.com/cryptolab/rune-vault/internal/vaulterr"
)

func newTestService(t *testing.T, kMax, mMax int) (*Service, *fhe.Engine, *keystore.Store) {
	t.Helper()
	engine, err := fhe.NewEngine(32)
	require.NoError(t, err)
	store, err := keystore.LoadOrInit(t.TempDir(), engine, "")
	require.NoError(t, err)
	pool := executor.New(2, 8)
	t.Cleanup(pool.Close)
	svc := New(store, engine, pool, nil, kMax, mMax)
	svc.MarkReady()
	return svc, engine, store
}

func TestGetPublicKeyRequiresReady(t *testing.T) {
	engine, err := fhe.NewEngine(32)
	require.NoError(t, err)
	store, err := keystore.LoadOrInit(t.TempDir(), engine, "")
	require.NoError(t, err)
	pool := executor.New(1, 1)
	defer pool.Close()
	svc := New(store, engine, pool, nil, 10, 10)

	_, err = svc.GetPublicKey(context.Background())
	require.Error(t, err)
	var notReady *vaulterr.NotReady
	require.ErrorAs(t, err, &notReady)

	svc.MarkReady()
	bundle, err := svc.GetPublicKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, 32, bundle.Dim)
}

func encryptTestShards(t *testing.T, engine *fhe.Engine, store *keystore.Store, shards map[uint32][]float64) []byte {
	t.Helper()
	encKey, err := engine.LoadEncKey(store.PublicBundle().EncKeyBytes)
	require.NoError(t, err)
	var sc []fhe.ShardCiphertext
	for idx, scores := range shards {
		shard, err := engine.EncryptShard(encKey, idx, scores)
		require.NoError(t, err)
		sc = append(sc, shard)
	}
	return fhe.SerializeScores(32, sc)
}

func TestDecryptScoresSelectsTopK(t *testing.T) {
	svc, engine, store := newTestService(t, 10, 10)
	blob := encryptTestShards(t, engine, store, map[uint32][]float64{
		0: {0.1, 0.9, 0.5},
		1: {0.95, -0.2},
	})

	res, err := svc.DecryptScores(context.Background(), blob, 2)
	require.NoError(t, err)
	require.False(t, res.Clamped)
	require.Len(t, res.Entries, 2)
	require.InDelta(t, 0.95, res.Entries[0].Score, 1e-5)
	require.Equal(t, uint32(1), res.Entries[0].ShardIdx)
	require.InDelta(t, 0.9, res.Entries[1].Score, 1e-5)
}

func TestDecryptScoresClampsToKMax(t *testing.T) {
	svc, engine, store := newTestService(t, 2, 10)
	blob := encryptTestShards(t, engine, store, map[uint32][]float64{
		0: {0.1, 0.2, 0.3, 0.4},
	})

	res, err := svc.DecryptScores(context.Background(), blob, 100)
	require.NoError(t, err)
	require.True(t, res.Clamped)
	require.Len(t, res.Entries, 2)
}

func TestDecryptScoresRejectsNegativeTopK(t *testing.T) {
	svc, engine, store := newTestService(t, 10, 10)
	blob := encryptTestShards(t, engine, store, map[uint32][]float64{0: {0.1}})

	_, err := svc.DecryptScores(context.Background(), blob, -1)
	require.Error(t, err)
	var invalid *vaulterr.InvalidInput
	require.ErrorAs(t, err, &invalid)
}

func TestDecryptScoresRejectsMalformedBlob(t *testing.T) {
	svc, _, _ := newTestService(t, 10, 10)
	_, err := svc.DecryptScores(context.Background(), []byte("garbage"), 5)
	require.Error(t, err)
	var invalid *vaulterr.InvalidInput
	require.ErrorAs(t, err, &invalid)
}

func TestDecryptMetadataAllOrNothing(t *testing.T) {
	svc, _, store := newTestService(t, 10, 10)
	metaHandle := store.MetadataHandle()

	good, err := metaHandle.SealMetadata([]byte("row-1"), []byte("aad-1"))
	require.NoError(t, err)
	bad, err := metaHandle.SealMetadata([]byte("row-2"), []byte("aad-2"))
	require.NoError(t, err)
	bad[len(bad)-1] ^= 0xFF

	_, err = svc.DecryptMetadata(context.Background(), []MetadataItem{
		{Wrapped: good, AAD: []byte("aad-1")},
		{Wrapped: bad, AAD: []byte("aad-2")},
	})
	require.Error(t, err)
	var invalid *vaulterr.InvalidInput
	require.ErrorAs(t, err, &invalid)
}

func TestDecryptMetadataReturnsAllOnSuccess(t *testing.T) {
	svc, _, store := newTestService(t, 10, 10)
	metaHandle := store.MetadataHandle()

	w1, err := metaHandle.SealMetadata([]byte("row-1"), []byte("aad-1"))
	require.NoError(t, err)
	w2, err := metaHandle.SealMetadata([]byte("row-2"), []byte("aad-2"))
	require.NoError(t, err)

	out, err := svc.DecryptMetadata(context.Background(), []MetadataItem{
		{Wrapped: w1, AAD: []byte("aad-1")},
		{Wrapped: w2, AAD: []byte("aad-2")},
	})
	require.NoError(t, err)
	require.Equal(t, "row-1", string(out[0]))
	require.Equal(t, "row-2", string(out[1]))
}

func TestDecryptMetadataEnforcesMMax(t *testing.T) {
	svc, _, store := newTestService(t, 10, 1)
	metaHandle := store.MetadataHandle()
	w1, err := metaHandle.SealMetadata([]byte("a"), nil)
	require.NoError(t, err)
	w2, err := metaHandle.SealMetadata([]byte("b"), nil)
	require.NoError(t, err)

	_, err = svc.DecryptMetadata(context.Background(), []MetadataItem{{Wrapped: w1}, {Wrapped: w2}})
	require.Error(t, err)
}

func TestTopKTreatsNaNAsSmallest(t *testing.T) {
	entries := []fhe.ScoreEntry{
		{ShardIdx: 0, RowIdx: 0, Score: math.NaN(), IsNaN: true},
		{ShardIdx: 0, RowIdx: 1, Score: -100},
		{ShardIdx: 0, RowIdx: 2, Score: 5},
	}
	out := TopK(entries, 2)
	require.Len(t, out, 2)
	require.InDelta(t, 5, out[0].Score, 1e-9)
	require.InDelta(t, -100, out[1].Score, 1e-9)
}

func TestTopKBreaksTiesByShardThenRow(t *testing.T) {
	entries := []fhe.ScoreEntry{
		{ShardIdx: 2, RowIdx: 0, Score: 1},
		{ShardIdx: 1, RowIdx: 5, Score: 1},
		{ShardIdx: 1, RowIdx: 1, Score: 1},
	}
	out := TopK(entries, 3)
	require.Equal(t, uint32(1), out[0].ShardIdx)
	require.Equal(t, uint32(1), out[0].RowIdx)
	require.Equal(t, uint32(1), out[1].ShardIdx)
	require.Equal(t, uint32(5), out[1].RowIdx)
	require.Equal(t, uint32(2), out[2].ShardIdx)
}

func TestTopKWithZeroReturnsEmpty(t *testing.T) {
	require.Nil(t, TopK([]fhe.ScoreEntry{{Score: 1}}, 0))
}
