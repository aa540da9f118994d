// Package tool is the JSON tool-call HTTP transport, a gin router
// exposing the same three operations as the binary RPC transport. Binary
// fields round-trip as base64 the same way encoding/json already handles
// []byte, so no custom wire format is needed on this side.
package tool

// getPublicKeyRequest is get_public_key's JSON request body: just the
// bearer token. Every tool-call method takes a JSON object with a `token`
// field, never a transport header.
type getPublicKeyRequest struct {
	Token string `json:"token"`
}

// getPublicKeyResponse is get_public_key's JSON response body.
type getPublicKeyResponse struct {
	EncKey    []byte `json:"enc_key"`
	EvalKey   []byte `json:"eval_key"`
	Dim       int    `json:"dim"`
	IndexName string `json:"index_name,omitempty"`
}

// decryptScoresRequest is decrypt_scores' JSON request body.
type decryptScoresRequest struct {
	Token      string `json:"token"`
	Ciphertext []byte `json:"ciphertext"`
	TopK       int    `json:"top_k"`
}

// scoreEntryJSON is one entry in the structured decrypt_scores response.
type scoreEntryJSON struct {
	ShardIdx uint32  `json:"shard_idx"`
	RowIdx   uint32  `json:"row_idx"`
	Score    float64 `json:"score"`
	IsNaN    bool    `json:"is_nan"`
}

// structuredScoresResponse is decrypt_scores' default JSON response shape:
// an array of entry objects.
type structuredScoresResponse struct {
	Entries []scoreEntryJSON `json:"entries"`
	Clamped bool             `json:"clamped"`
}

// flatScoreEntryJSON is one entry in the --score-result-profile=flat
// response: a single flattened index rather than a (shard_idx, row_idx)
// pair. The index packs shard_idx into the high 32 bits and row_idx into
// the low 32 bits, so it stays a lossless encoding of the structured form's
// addressing without a second field.
type flatScoreEntryJSON struct {
	Index uint64  `json:"index"`
	Score float64 `json:"score"`
}

// flatScoresResponse is the --score-result-profile=flat alternative to
// structuredScoresResponse: an array of {index, score} objects.
type flatScoresResponse struct {
	Entries []flatScoreEntryJSON `json:"entries"`
	Clamped bool                 `json:"clamped"`
}

// metadataItemJSON mirrors core.MetadataItem for the wire.
type metadataItemJSON struct {
	Wrapped []byte `json:"wrapped"`
	AAD     []byte `json:"aad,omitempty"`
}

type decryptMetadataRequest struct {
	Token string             `json:"token"`
	Items []metadataItemJSON `json:"items"`
}

type decryptMetadataResponse struct {
	Plaintexts [][]byte `json:"plaintexts"`
}

// errorBody is the nested {code, message} shape every tool-call error
// carries. code is a stable taxonomy name a client can branch on; message
// is human-readable and carries no key, ciphertext, or token bytes.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// healthResponse's Status is a small fixed vocabulary
// ("healthy"|"starting"|"stopping"|"stopped"), never the internal
// state-machine name.
type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	KeysLoaded    bool    `json:"keys_loaded"`
}
