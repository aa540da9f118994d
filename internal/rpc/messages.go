package rpc

import "math"

// wireMessage is implemented by every request/response type in this
// package; it is the contract the custom codec relies on.
type wireMessage interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

// GetPublicKeyRequest carries the bearer token. The token travels in the
// message body rather than a transport header so the same Authorizer call
// path serves both transports identically.
type GetPublicKeyRequest struct {
	Token string
}

func (m *GetPublicKeyRequest) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.putString(m.Token)
	return w.Bytes(), nil
}

func (m *GetPublicKeyRequest) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if m.Token, err = r.string(); err != nil {
		return err
	}
	return r.done()
}

// GetPublicKeyResponse is the public key bundle.
type GetPublicKeyResponse struct {
	EncKey    []byte
	EvalKey   []byte
	Dim       uint32
	IndexName string
}

func (m *GetPublicKeyResponse) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.putBytes(m.EncKey)
	w.putBytes(m.EvalKey)
	w.putUint32(m.Dim)
	w.putString(m.IndexName)
	return w.Bytes(), nil
}

func (m *GetPublicKeyResponse) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if m.EncKey, err = r.bytes(); err != nil {
		return err
	}
	if m.EvalKey, err = r.bytes(); err != nil {
		return err
	}
	if m.Dim, err = r.uint32(); err != nil {
		return err
	}
	if m.IndexName, err = r.string(); err != nil {
		return err
	}
	return r.done()
}

// DecryptScoresRequest carries the score ciphertext blob and the caller's
// requested top_k.
type DecryptScoresRequest struct {
	Token      string
	Ciphertext []byte
	TopK       int32
}

func (m *DecryptScoresRequest) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.putString(m.Token)
	w.putBytes(m.Ciphertext)
	w.putUint32(uint32(m.TopK))
	return w.Bytes(), nil
}

func (m *DecryptScoresRequest) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if m.Token, err = r.string(); err != nil {
		return err
	}
	if m.Ciphertext, err = r.bytes(); err != nil {
		return err
	}
	tk, err := r.uint32()
	if err != nil {
		return err
	}
	m.TopK = int32(tk)
	return r.done()
}

// ScoreEntryWire is one decrypted, addressed score.
type ScoreEntryWire struct {
	ShardIdx uint32
	RowIdx   uint32
	Score    float64
	IsNaN    bool
}

// DecryptScoresResponse is the selected top-k entries plus the clamp flag.
type DecryptScoresResponse struct {
	Entries []ScoreEntryWire
	Clamped bool
}

func (m *DecryptScoresResponse) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.putUint32(uint32(len(m.Entries)))
	for _, e := range m.Entries {
		w.putUint32(e.ShardIdx)
		w.putUint32(e.RowIdx)
		w.putUint64(math.Float64bits(e.Score))
		w.putBool(e.IsNaN)
	}
	w.putBool(m.Clamped)
	return w.Bytes(), nil
}

func (m *DecryptScoresResponse) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	n, err := r.uint32()
	if err != nil {
		return err
	}
	m.Entries = make([]ScoreEntryWire, n)
	for i := range m.Entries {
		shard, err := r.uint32()
		if err != nil {
			return err
		}
		row, err := r.uint32()
		if err != nil {
			return err
		}
		bits, err := r.uint64()
		if err != nil {
			return err
		}
		isNaN, err := r.boolean()
		if err != nil {
			return err
		}
		m.Entries[i] = ScoreEntryWire{ShardIdx: shard, RowIdx: row, Score: math.Float64frombits(bits), IsNaN: isNaN}
	}
	if m.Clamped, err = r.boolean(); err != nil {
		return err
	}
	return r.done()
}

// MetadataItemWire is one WrappedMetadata blob plus its associated data.
type MetadataItemWire struct {
	Wrapped []byte
	AAD     []byte
}

// DecryptMetadataRequest carries the list of metadata items to decrypt.
type DecryptMetadataRequest struct {
	Token string
	Items []MetadataItemWire
}

func (m *DecryptMetadataRequest) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.putString(m.Token)
	w.putUint32(uint32(len(m.Items)))
	for _, it := range m.Items {
		w.putBytes(it.Wrapped)
		w.putBytes(it.AAD)
	}
	return w.Bytes(), nil
}

func (m *DecryptMetadataRequest) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if m.Token, err = r.string(); err != nil {
		return err
	}
	n, err := r.uint32()
	if err != nil {
		return err
	}
	m.Items = make([]MetadataItemWire, n)
	for i := range m.Items {
		wrapped, err := r.bytes()
		if err != nil {
			return err
		}
		aad, err := r.bytes()
		if err != nil {
			return err
		}
		m.Items[i] = MetadataItemWire{Wrapped: wrapped, AAD: aad}
	}
	return r.done()
}

// DecryptMetadataResponse is the decrypted plaintext for every requested item.
type DecryptMetadataResponse struct {
	Plaintexts [][]byte
}

func (m *DecryptMetadataResponse) MarshalBinary() ([]byte, error) {
	w := &binWriter{}
	w.putBytesSlice(m.Plaintexts)
	return w.Bytes(), nil
}

func (m *DecryptMetadataResponse) UnmarshalBinary(b []byte) error {
	r := newBinReader(b)
	var err error
	if m.Plaintexts, err = r.bytesSlice(); err != nil {
		return err
	}
	return r.done()
}
