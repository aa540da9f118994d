// Package fhe is the thin, side-effect-free bridge to the FHE scheme.
// Everything outside this package treats keys and ciphertexts as opaque
// bytes; the scheme itself (key generation, encryption, homomorphic
// evaluation) lives entirely behind this boundary, backed by lattigo's BFV
// implementation. The adapter never logs ciphertext contents and never
// includes key bytes in an error value.
package fhe

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v4/bfv"
	"github.com/tuneinsight/lattigo/v4/rlwe"
)

// paramsLiteralForDim returns BFV parameters sized for a vector dimension.
// A single default parameter set covers every dimension this service
// supports. BFV packs up to N/2 plaintext slots into one ciphertext, so we
// only need to verify dim fits and otherwise use one fixed parameter set.
func paramsLiteralForDim(dim int) (bfv.ParametersLiteral, error) {
	lit := bfv.PN13QP218
	maxSlots := 1 << (lit.LogN - 1)
	if dim <= 0 || dim > maxSlots {
		return bfv.ParametersLiteral{}, fmt.Errorf("fhe: dimension %d exceeds parameter slot capacity %d", dim, maxSlots)
	}
	return lit, nil
}

// Engine holds the BFV scheme parameters for a configured vector dimension.
// It is stateless beyond those parameters, all per-key material lives in
// KeyMaterial / SecretHandle / MetadataHandle, not here.
type Engine struct {
	dim    int
	params bfv.Parameters
}

// NewEngine builds the FHE scheme parameters for the configured dimension.
func NewEngine(dim int) (*Engine, error) {
	lit, err := paramsLiteralForDim(dim)
	if err != nil {
		return nil, err
	}
	params, err := bfv.NewParametersFromLiteral(lit)
	if err != nil {
		return nil, fmt.Errorf("fhe: building parameters: %w", err)
	}
	return &Engine{dim: dim, params: params}, nil
}

// Dim returns the configured vector dimension.
func (e *Engine) Dim() int { return e.dim }

// KeyMaterial is the full set of artifacts produced by a single key
// generation. EncKeyBytes and EvalKeyBytes are safe to persist and serve;
// secretKey must never leave this package except wrapped in a SecretHandle.
type KeyMaterial struct {
	EncKeyBytes  []byte
	EvalKeyBytes []byte
	secretKey    *rlwe.SecretKey
}

// Generate runs fresh BFV key generation: a secret key, its matching public
// encryption key, and a relinearization (evaluation) key for homomorphic
// multiplication. Generation draws randomness from the OS CSPRNG via
// lattigo's internal sampler; no seed is accepted so runs are never
// reproducible by anything outside the process.
func (e *Engine) Generate() (*KeyMaterial, error) {
	kgen := bfv.NewKeyGenerator(e.params)
	sk, pk := kgen.GenKeyPair()
	rlk := kgen.GenRelinearizationKey(sk, 1)

	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("fhe: marshaling encryption key: %w", err)
	}
	rlkBytes, err := rlk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("fhe: marshaling evaluation key: %w", err)
	}
	return &KeyMaterial{
		EncKeyBytes:  pkBytes,
		EvalKeyBytes: rlkBytes,
		secretKey:    sk,
	}, nil
}

// SecretHandle is a non-serializable, non-cloneable handle to the process's
// secret key. It deliberately has no exported fields, no String method, and
// no MarshalJSON/MarshalBinary implementation: there is no code path by
// which its contents can be formatted into a response, a log line, or a
// metric label. Only this package's Decrypt* functions may dereference it.
type SecretHandle struct {
	sk *rlwe.SecretKey
}

// Seal wraps generated key material's secret key into a SecretHandle, for use
// by the key store immediately after generation.
func (m *KeyMaterial) Seal() *SecretHandle {
	return &SecretHandle{sk: m.secretKey}
}

// LoadSecretHandle reconstructs a SecretHandle from its on-disk serialized
// form. Used at startup when loading an existing key directory.
func (e *Engine) LoadSecretHandle(data []byte) (*SecretHandle, error) {
	sk := rlwe.NewSecretKey(e.params.Parameters)
	if err := sk.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("fhe: unmarshaling secret key: %w", err)
	}
	return &SecretHandle{sk: sk}, nil
}

// MarshalForStorage serializes the secret key for at-rest persistence. It is
// intentionally named to stand out at call sites: the key store is the only
// caller, and only to write SecKey.json at mode 0600.
func (h *SecretHandle) MarshalForStorage() ([]byte, error) {
	return h.sk.MarshalBinary()
}

// EncKeyHandle wraps the public encryption key so callers outside this
// package never need to import the underlying scheme's key types directly.
type EncKeyHandle struct {
	pk *rlwe.PublicKey
}

// LoadEncKey reconstructs the public encryption key from its on-disk form.
// Used by the self-test at startup (encrypt a known vector, then decrypt it).
func (e *Engine) LoadEncKey(data []byte) (*EncKeyHandle, error) {
	pk := rlwe.NewPublicKey(e.params.Parameters)
	if err := pk.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("fhe: unmarshaling encryption key: %w", err)
	}
	return &EncKeyHandle{pk: pk}, nil
}
