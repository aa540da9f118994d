package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cryptolab/rune-vault/internal/vaulterr"
)

func TestGetPublicKeyResponseRoundTrip(t *testing.T) {
	want := &GetPublicKeyResponse{EncKey: []byte{1, 2, 3}, EvalKey: []byte{4, 5}, Dim: 32, IndexName: "catalog"}
	data, err := want.MarshalBinary()
	require.NoError(t, err)

	got := &GetPublicKeyResponse{}
	require.NoError(t, got.UnmarshalBinary(data))
	require.Equal(t, want, got)
}

func TestDecryptScoresResponseRoundTrip(t *testing.T) {
	want := &DecryptScoresResponse{
		Entries: []ScoreEntryWire{
			{ShardIdx: 1, RowIdx: 2, Score: 0.5, IsNaN: false},
			{ShardIdx: 3, RowIdx: 4, Score: -0.25, IsNaN: false},
		},
		Clamped: true,
	}
	data, err := want.MarshalBinary()
	require.NoError(t, err)

	got := &DecryptScoresResponse{}
	require.NoError(t, got.UnmarshalBinary(data))
	require.Equal(t, want, got)
}

func TestDecryptMetadataRequestRoundTrip(t *testing.T) {
	want := &DecryptMetadataRequest{Items: []MetadataItemWire{
		{Wrapped: []byte("wrapped-1"), AAD: []byte("aad-1")},
		{Wrapped: []byte("wrapped-2"), AAD: nil},
	}}
	data, err := want.MarshalBinary()
	require.NoError(t, err)

	got := &DecryptMetadataRequest{}
	require.NoError(t, got.UnmarshalBinary(data))
	require.Equal(t, len(want.Items), len(got.Items))
	require.Equal(t, want.Items[0].Wrapped, got.Items[0].Wrapped)
}

func TestUnmarshalRejectsTruncatedFrame(t *testing.T) {
	want := &GetPublicKeyResponse{EncKey: []byte{1, 2, 3}, EvalKey: []byte{4, 5}, Dim: 32, IndexName: "x"}
	data, err := want.MarshalBinary()
	require.NoError(t, err)

	got := &GetPublicKeyResponse{}
	require.Error(t, got.UnmarshalBinary(data[:len(data)-1]))
}

func TestCodecRoundTrip(t *testing.T) {
	c := vaultCodec{}
	want := &DecryptMetadataResponse{Plaintexts: [][]byte{[]byte("a"), []byte("b")}}
	data, err := c.Marshal(want)
	require.NoError(t, err)

	got := &DecryptMetadataResponse{}
	require.NoError(t, c.Unmarshal(data, got))
	require.Equal(t, want, got)
}

func TestMapErrorTranslatesVaulterrKinds(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{&vaulterr.Unauthorized{}, codes.Unauthenticated},
		{&vaulterr.InvalidInput{Reason: "x"}, codes.InvalidArgument},
		{&vaulterr.RateLimited{}, codes.ResourceExhausted},
		{&vaulterr.Overloaded{}, codes.ResourceExhausted},
		{&vaulterr.NotReady{}, codes.Unavailable},
		{&vaulterr.Internal{CorrelationID: "x"}, codes.Internal},
		{context.Canceled, codes.Canceled},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
	}
	for _, tc := range cases {
		st, ok := status.FromError(mapError(tc.err))
		require.True(t, ok)
		require.Equal(t, tc.code, st.Code())
	}
}

func TestGetPublicKeyRequestRoundTrip(t *testing.T) {
	want := &GetPublicKeyRequest{Token: "t-alpha"}
	data, err := want.MarshalBinary()
	require.NoError(t, err)

	got := &GetPublicKeyRequest{}
	require.NoError(t, got.UnmarshalBinary(data))
	require.Equal(t, want, got)
}

func TestDecryptScoresRequestRoundTrip(t *testing.T) {
	want := &DecryptScoresRequest{Token: "t-alpha", Ciphertext: []byte{1, 2, 3}, TopK: 5}
	data, err := want.MarshalBinary()
	require.NoError(t, err)

	got := &DecryptScoresRequest{}
	require.NoError(t, got.UnmarshalBinary(data))
	require.Equal(t, want, got)
}
