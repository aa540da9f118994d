// Package keystore owns the on-disk key bundle lifecycle: first-boot
// generation, reload, and the in-memory handles the rest of the service
// reads from. It is the only package that touches the key directory on
// disk; everything downstream gets typed, non-serializable handles.
package keystore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cryptolab/rune-vault/internal/fhe"
	"github.com/cryptolab/rune-vault/internal/vaulterr"
)

const (
	encKeyFile      = "EncKey.json"
	evalKeyFile     = "EvalKey.json"
	metadataKeyFile = "MetadataKey.json"
	publicInfoFile  = "PublicInfo.json"
	secKeyFile      = "SecKey.json"
)

var allFiles = []string{encKeyFile, evalKeyFile, metadataKeyFile, publicInfoFile, secKeyFile}

// envelope is the on-disk shape of every opaque key artifact except
// PublicInfo.json, which is structured rather than a single blob.
type envelope struct {
	Version int    `json:"version"`
	Data    string `json:"data"`
}

// publicInfo is the structured, non-opaque public descriptor.
type publicInfo struct {
	Version   int    `json:"version"`
	Dim       int    `json:"dim"`
	IndexName string `json:"index_name,omitempty"`
}

// PublicBundle is what GetPublicKey hands back to callers: the encryption
// key, the evaluation key, and the public descriptor. None of it is secret.
type PublicBundle struct {
	EncKeyBytes  []byte
	EvalKeyBytes []byte
	Dim          int
	IndexName    string
}

// Store holds the loaded key material for one running process.
type Store struct {
	dir    string
	engine *fhe.Engine

	public   PublicBundle
	secret   *fhe.SecretHandle
	metadata *fhe.MetadataHandle
}

// PublicBundle returns the public key bundle. Safe to serve on every
// transport; no authorization beyond a valid token is required.
func (s *Store) PublicBundle() PublicBundle { return s.public }

// SecretHandle returns the process secret key handle for use by the FHE
// adapter's DecryptScores. It never leaves this process as bytes.
func (s *Store) SecretHandle() *fhe.SecretHandle { return s.secret }

// MetadataHandle returns the process metadata AEAD key handle for use by
// DecryptMetadata.
func (s *Store) MetadataHandle() *fhe.MetadataHandle { return s.metadata }

// LoadOrInit bootstraps or reopens the key store: if the key directory is
// empty, it generates a fresh key bundle; if all five artifacts are
// present, it loads them; any other combination is a fatal KeyStoreCorrupt
// error (a crash mid-generation leaves a partial directory, and restarting
// into a partial directory is never silently "fixed" by regenerating over it).
func LoadOrInit(dir string, engine *fhe.Engine, indexName string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &vaulterr.KeyStoreCorrupt{Reason: fmt.Sprintf("creating key directory: %v", err)}
	}

	present, err := presentFiles(dir)
	if err != nil {
		return nil, &vaulterr.KeyStoreCorrupt{Reason: fmt.Sprintf("reading key directory: %v", err)}
	}

	switch len(present) {
	case 0:
		return generate(dir, engine, indexName)
	case len(allFiles):
		return load(dir, engine)
	default:
		return nil, &vaulterr.KeyStoreCorrupt{
			Reason: fmt.Sprintf("key directory %s has %d of %d expected artifacts: %v", dir, len(present), len(allFiles), present),
		}
	}
}

func presentFiles(dir string) ([]string, error) {
	var present []string
	for _, name := range allFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			present = append(present, name)
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return present, nil
}

func generate(dir string, engine *fhe.Engine, indexName string) (*Store, error) {
	mat, err := engine.Generate()
	if err != nil {
		return nil, &vaulterr.KeyGenFailed{Reason: err.Error()}
	}
	metaHandle, err := fhe.GenerateMetadataKey()
	if err != nil {
		return nil, &vaulterr.KeyGenFailed{Reason: err.Error()}
	}
	secret := mat.Seal()
	secretBytes, err := secret.MarshalForStorage()
	if err != nil {
		return nil, &vaulterr.KeyGenFailed{Reason: err.Error()}
	}
	info := publicInfo{Version: 1, Dim: engine.Dim(), IndexName: indexName}

	encKey, err := engine.LoadEncKey(mat.EncKeyBytes)
	if err != nil {
		return nil, &vaulterr.KeyGenFailed{Reason: err.Error()}
	}
	if err := engine.SelfTest(encKey, secret); err != nil {
		return nil, &vaulterr.KeyGenFailed{Reason: fmt.Sprintf("self-test on freshly generated keys: %v", err)}
	}

	// Writes happen one artifact at a time, each atomic via tmp+rename. The
	// set as a whole is not transactional: a crash between writes leaves a
	// partial directory, which LoadOrInit detects and refuses to reconcile.
	if err := writeEnvelope(dir, encKeyFile, mat.EncKeyBytes, 0o644); err != nil {
		return nil, &vaulterr.KeyGenFailed{Reason: err.Error()}
	}
	if err := writeEnvelope(dir, evalKeyFile, mat.EvalKeyBytes, 0o644); err != nil {
		return nil, &vaulterr.KeyGenFailed{Reason: err.Error()}
	}
	if err := writeEnvelope(dir, metadataKeyFile, metaHandle.MarshalForStorage(), 0o600); err != nil {
		return nil, &vaulterr.KeyGenFailed{Reason: err.Error()}
	}
	if err := writeJSON(dir, publicInfoFile, info, 0o644); err != nil {
		return nil, &vaulterr.KeyGenFailed{Reason: err.Error()}
	}
	if err := writeEnvelope(dir, secKeyFile, secretBytes, 0o600); err != nil {
		return nil, &vaulterr.KeyGenFailed{Reason: err.Error()}
	}

	return &Store{
		dir:    dir,
		engine: engine,
		public: PublicBundle{
			EncKeyBytes:  mat.EncKeyBytes,
			EvalKeyBytes: mat.EvalKeyBytes,
			Dim:          info.Dim,
			IndexName:    info.IndexName,
		},
		secret:   secret,
		metadata: metaHandle,
	}, nil
}

func load(dir string, engine *fhe.Engine) (*Store, error) {
	encKeyBytes, err := readEnvelope(dir, encKeyFile)
	if err != nil {
		return nil, &vaulterr.KeyStoreCorrupt{Reason: err.Error()}
	}
	evalKeyBytes, err := readEnvelope(dir, evalKeyFile)
	if err != nil {
		return nil, &vaulterr.KeyStoreCorrupt{Reason: err.Error()}
	}
	metaKeyBytes, err := readEnvelope(dir, metadataKeyFile)
	if err != nil {
		return nil, &vaulterr.KeyStoreCorrupt{Reason: err.Error()}
	}
	secKeyBytes, err := readEnvelope(dir, secKeyFile)
	if err != nil {
		return nil, &vaulterr.KeyStoreCorrupt{Reason: err.Error()}
	}
	var info publicInfo
	if err := readJSON(dir, publicInfoFile, &info); err != nil {
		return nil, &vaulterr.KeyStoreCorrupt{Reason: err.Error()}
	}
	if info.Dim != engine.Dim() {
		return nil, &vaulterr.KeyStoreCorrupt{
			Reason: fmt.Sprintf("PublicInfo.json dim %d does not match configured fhe_dim %d", info.Dim, engine.Dim()),
		}
	}

	secret, err := engine.LoadSecretHandle(secKeyBytes)
	if err != nil {
		return nil, &vaulterr.KeyStoreCorrupt{Reason: err.Error()}
	}
	metaHandle, err := fhe.NewMetadataHandle(metaKeyBytes)
	if err != nil {
		return nil, &vaulterr.KeyStoreCorrupt{Reason: err.Error()}
	}
	encKey, err := engine.LoadEncKey(encKeyBytes)
	if err != nil {
		return nil, &vaulterr.KeyStoreCorrupt{Reason: err.Error()}
	}
	if err := engine.SelfTest(encKey, secret); err != nil {
		return nil, &vaulterr.KeyStoreCorrupt{Reason: fmt.Sprintf("self-test on loaded keys: %v", err)}
	}

	return &Store{
		dir:    dir,
		engine: engine,
		public: PublicBundle{
			EncKeyBytes:  encKeyBytes,
			EvalKeyBytes: evalKeyBytes,
			Dim:          info.Dim,
			IndexName:    info.IndexName,
		},
		secret:   secret,
		metadata: metaHandle,
	}, nil
}

func writeEnvelope(dir, name string, data []byte, perm os.FileMode) error {
	env := envelope{Version: 1, Data: base64.StdEncoding.EncodeToString(data)}
	return writeJSON(dir, name, env, perm)
}

func readEnvelope(dir, name string) ([]byte, error) {
	var env envelope
	if err := readJSON(dir, name, &env); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed base64 payload: %w", name, err)
	}
	return data, nil
}

func writeJSON(dir, name string, v any, perm os.FileMode) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: marshaling: %w", name, err)
	}
	final := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("%s: creating temp file: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: writing temp file: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: syncing temp file: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%s: closing temp file: %w", name, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%s: setting permissions: %w", name, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%s: renaming into place: %w", name, err)
	}
	return nil
}

func readJSON(dir, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: malformed JSON: %w", name, err)
	}
	return nil
}
