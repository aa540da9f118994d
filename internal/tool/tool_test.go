package tool

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/cryptolab/rune-vault/internal/authz"
	"github.com/cryptolab/rune-vault/internal/config"
	"github.com/cryptolab/rune-vault/internal/core"
	"github.com/cryptolab/rune-vault/internal/executor"
	"github.com/cryptolab/rune-vault/internal/fhe"
	"github.com/cryptolab/rune-vault/internal/keystore"
	"github.com/cryptolab/rune-vault/internal/ratelimit"
)

func newTestServer(t *testing.T, profile config.ScoreResultProfile) (*Server, *fhe.Engine, *keystore.Store) {
	t.Helper()
	engine, err := fhe.NewEngine(32)
	require.NoError(t, err)
	store, err := keystore.LoadOrInit(t.TempDir(), engine, "catalog")
	require.NoError(t, err)
	pool := executor.New(2, 8)
	t.Cleanup(pool.Close)
	svc := core.New(store, engine, pool, nil, 10, 10)
	svc.MarkReady()

	az := authz.New([]string{"good-token"})
	limiter := ratelimit.New(ratelimit.Config{PerSecond: 1000, Burst: 1000})
	srv := NewServer(svc, az, limiter, nil, log.New(io.Discard), profile, 5*time.Second)
	return srv, engine, store
}

// doJSON posts body (already expected to carry its own "token" field; the
// tool-call transport never reads a bearer token from a header) and
// returns the response.
func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHealthDoesNotRequireAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, config.ScoreResultStructured)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
	require.True(t, resp.KeysLoaded)
}

func TestGetPublicKeyRequiresAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, config.ScoreResultStructured)
	rec := doJSON(t, srv, http.MethodPost, "/v1/get_public_key", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetPublicKeyWithValidToken(t *testing.T) {
	srv, _, _ := newTestServer(t, config.ScoreResultStructured)
	rec := doJSON(t, srv, http.MethodPost, "/v1/get_public_key", getPublicKeyRequest{Token: "good-token"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp getPublicKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 32, resp.Dim)
	require.Equal(t, "catalog", resp.IndexName)
}

func TestGetPublicKeyRejectsUnknownToken(t *testing.T) {
	srv, _, _ := newTestServer(t, config.ScoreResultStructured)
	rec := doJSON(t, srv, http.MethodPost, "/v1/get_public_key", getPublicKeyRequest{Token: "bad-token"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDecryptScoresStructuredProfile(t *testing.T) {
	srv, engine, store := newTestServer(t, config.ScoreResultStructured)
	encKey, err := engine.LoadEncKey(store.PublicBundle().EncKeyBytes)
	require.NoError(t, err)
	shard, err := engine.EncryptShard(encKey, 0, []float64{0.9, 0.1})
	require.NoError(t, err)
	blob := fhe.SerializeScores(32, []fhe.ShardCiphertext{shard})

	rec := doJSON(t, srv, http.MethodPost, "/v1/decrypt_scores", decryptScoresRequest{Token: "good-token", Ciphertext: blob, TopK: 1})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp structuredScoresResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	require.InDelta(t, 0.9, resp.Entries[0].Score, 1e-5)
}

func TestDecryptScoresFlatProfile(t *testing.T) {
	srv, engine, store := newTestServer(t, config.ScoreResultFlat)
	encKey, err := engine.LoadEncKey(store.PublicBundle().EncKeyBytes)
	require.NoError(t, err)
	shard, err := engine.EncryptShard(encKey, 0, []float64{0.9, 0.1})
	require.NoError(t, err)
	blob := fhe.SerializeScores(32, []fhe.ShardCiphertext{shard})

	rec := doJSON(t, srv, http.MethodPost, "/v1/decrypt_scores", decryptScoresRequest{Token: "good-token", Ciphertext: blob, TopK: 1})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp flatScoresResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	require.Equal(t, uint64(0), resp.Entries[0].Index)
	require.InDelta(t, 0.9, resp.Entries[0].Score, 1e-5)
}

func TestDecryptMetadataRoundTrip(t *testing.T) {
	srv, _, store := newTestServer(t, config.ScoreResultStructured)
	wrapped, err := store.MetadataHandle().SealMetadata([]byte("secret row"), []byte("aad"))
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/v1/decrypt_metadata", decryptMetadataRequest{
		Token: "good-token",
		Items: []metadataItemJSON{{Wrapped: wrapped, AAD: []byte("aad")}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp decryptMetadataResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "secret row", string(resp.Plaintexts[0]))
}

func TestDecryptMetadataTamperedFailsAsBadRequest(t *testing.T) {
	srv, _, store := newTestServer(t, config.ScoreResultStructured)
	wrapped, err := store.MetadataHandle().SealMetadata([]byte("secret row"), []byte("aad"))
	require.NoError(t, err)
	wrapped[len(wrapped)-1] ^= 0xFF

	rec := doJSON(t, srv, http.MethodPost, "/v1/decrypt_metadata", decryptMetadataRequest{
		Token: "good-token",
		Items: []metadataItemJSON{{Wrapped: wrapped, AAD: []byte("aad")}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	srv, _, _ := newTestServer(t, config.ScoreResultStructured)
	rec := doJSON(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
