// Package core implements the Core Service: the transport-agnostic
// business logic both the binary RPC and JSON tool-call transports call
// into. Neither transport talks to the key store, the FHE adapter, or the
// executor pool directly, everything routes through here so the two
// transports stay thin adapters over one shared implementation.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/cryptolab/rune-vault/internal/executor"
	"github.com/cryptolab/rune-vault/internal/fhe"
	"github.com/cryptolab/rune-vault/internal/keystore"
	"github.com/cryptolab/rune-vault/internal/observability"
	"github.com/cryptolab/rune-vault/internal/vaulterr"
)

// Service is the shared core behind both transports.
type Service struct {
	store   *keystore.Store
	engine  *fhe.Engine
	pool    *executor.Pool
	metrics *observability.Metrics

	kMax int
	mMax int

	state    stateMachine
	readyAt  time.Time
}

// New builds a Service in the INITIALIZING state. Callers must call
// MarkReady once the key store has finished loading (and, for a fresh
// directory, generating and self-testing) before the service will accept
// requests.
func New(store *keystore.Store, engine *fhe.Engine, pool *executor.Pool, metrics *observability.Metrics, kMax, mMax int) *Service {
	return &Service{store: store, engine: engine, pool: pool, metrics: metrics, kMax: kMax, mMax: mMax}
}

// State returns the current lifecycle state.
func (s *Service) State() State { return s.state.get() }

// MarkReady transitions INITIALIZING -> READY. It is only valid to call
// this once, after the key store has been successfully loaded or generated
// (which itself runs the startup self-test decrypt).
func (s *Service) MarkReady() {
	s.readyAt = time.Now()
	s.state.set(StateReady)
	if s.metrics != nil {
		s.metrics.KeysLoaded.Set(1)
	}
}

// BeginStopping transitions READY -> STOPPING: new requests are rejected
// with NotReady, but the caller is expected to let in-flight work (already
// admitted to the executor pool) finish before calling MarkStopped.
func (s *Service) BeginStopping() { s.state.set(StateStopping) }

// MarkStopped transitions STOPPING -> STOPPED.
func (s *Service) MarkStopped() { s.state.set(StateStopped) }

func (s *Service) requireReady() error {
	if s.state.get() != StateReady {
		return &vaulterr.NotReady{}
	}
	return nil
}

// GetPublicKey returns the encryption and evaluation keys. It requires no
// authorization beyond whatever the transport layer's Authorizer already
// enforced, and reads no secret material.
func (s *Service) GetPublicKey(ctx context.Context) (keystore.PublicBundle, error) {
	if err := s.requireReady(); err != nil {
		return keystore.PublicBundle{}, err
	}
	return s.store.PublicBundle(), nil
}

// DecryptScoresResult is the output of DecryptScores: the selected top-k
// entries, and whether the caller's requested top_k was clamped to k_max.
type DecryptScoresResult struct {
	Entries []fhe.ScoreEntry
	Clamped bool
}

// DecryptScores deserializes the ciphertext, decrypts every packed score
// under the process secret key (on the bounded executor pool, never inline
// on the calling goroutine), then selects the top-k entries without fully
// sorting the candidate set.
func (s *Service) DecryptScores(ctx context.Context, blob []byte, topK int) (DecryptScoresResult, error) {
	if err := s.requireReady(); err != nil {
		return DecryptScoresResult{}, err
	}
	if topK < 0 {
		return DecryptScoresResult{}, &vaulterr.InvalidInput{Reason: "top_k must be non-negative"}
	}

	clamped := false
	effectiveK := topK
	if effectiveK > s.kMax {
		effectiveK = s.kMax
		clamped = true
	}

	sc, err := s.engine.DeserializeScores(blob)
	if err != nil {
		return DecryptScoresResult{}, &vaulterr.InvalidInput{Reason: err.Error()}
	}

	secret := s.store.SecretHandle()
	val, err := s.submit(ctx, func(ctx context.Context) (any, error) {
		return s.engine.DecryptScores(secret, sc)
	})
	if err != nil {
		return DecryptScoresResult{}, mapExecutorErr(err)
	}
	entries := val.([]fhe.ScoreEntry)

	selected := TopK(entries, effectiveK)
	if clamped && s.metrics != nil {
		s.metrics.ScoresClamped.Inc()
	}
	return DecryptScoresResult{Entries: selected, Clamped: clamped}, nil
}

// MetadataItem is one WrappedMetadata blob plus the associated authenticated
// data it was sealed with.
type MetadataItem struct {
	Wrapped []byte
	AAD     []byte
}

// DecryptMetadata authenticates and decrypts every item in the list.
// Authentication is all-or-nothing: the first failure aborts the whole
// request rather than returning a partial result, so callers never have
// to guess which entries are trustworthy.
func (s *Service) DecryptMetadata(ctx context.Context, items []MetadataItem) ([][]byte, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	if len(items) > s.mMax {
		return nil, &vaulterr.InvalidInput{Reason: fmt.Sprintf("metadata list length %d exceeds m_max %d", len(items), s.mMax)}
	}

	metaHandle := s.store.MetadataHandle()
	val, err := s.submit(ctx, func(ctx context.Context) (any, error) {
		out := make([][]byte, len(items))
		for i, item := range items {
			pt, err := metaHandle.OpenMetadata(item.Wrapped, item.AAD)
			if err != nil {
				return nil, &vaulterr.InvalidInput{Reason: "metadata authentication failed"}
			}
			out[i] = pt
		}
		return out, nil
	})
	if err != nil {
		return nil, mapExecutorErr(err)
	}
	return val.([][]byte), nil
}

// submit runs job on the executor pool and reports the post-submission
// backlog depth to the executor_queue_depth gauge, so the gauge reflects
// actual contention rather than sitting at a decorative zero.
func (s *Service) submit(ctx context.Context, job executor.Job) (any, error) {
	val, err := s.pool.Submit(ctx, job)
	if s.metrics != nil {
		s.metrics.ExecutorQueue.Set(float64(s.pool.Len()))
	}
	return val, err
}

// mapExecutorErr passes the Overloaded, InvalidInput, and Internal kinds and
// context cancellation/deadline errors through unchanged, and folds anything
// else into Internal, so transports never see a raw executor error type.
func mapExecutorErr(err error) error {
	switch err.(type) {
	case *vaulterr.Overloaded, *vaulterr.InvalidInput, *vaulterr.Internal:
		return err
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return err
	}
	return &vaulterr.Internal{CorrelationID: observability.NewCorrelationID()}
}
