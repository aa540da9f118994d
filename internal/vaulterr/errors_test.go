package vaulterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorStrings(t *testing.T) {
	require.Equal(t, "unauthorized", (&Unauthorized{}).Error())
	require.Equal(t, "invalid input", (&InvalidInput{}).Error())
	require.Equal(t, "invalid input: bad ciphertext", (&InvalidInput{Reason: "bad ciphertext"}).Error())
	require.Equal(t, "rate limited", (&RateLimited{}).Error())
	require.Equal(t, "overloaded", (&Overloaded{}).Error())
	require.Equal(t, "not ready", (&NotReady{}).Error())
	require.Equal(t, "internal error (correlation_id=abc-123)", (&Internal{CorrelationID: "abc-123"}).Error())
	require.Equal(t, "key store corrupt: partial directory", (&KeyStoreCorrupt{Reason: "partial directory"}).Error())
	require.Equal(t, "key generation failed: rng unavailable", (&KeyGenFailed{Reason: "rng unavailable"}).Error())
}

func TestErrorsAsUnwrapsWrappedKinds(t *testing.T) {
	wrapped := fmt.Errorf("decoding request: %w", &InvalidInput{Reason: "truncated"})

	var invalid *InvalidInput
	require.True(t, errors.As(wrapped, &invalid))
	require.Equal(t, "truncated", invalid.Reason)

	var unauthorized *Unauthorized
	require.False(t, errors.As(wrapped, &unauthorized))
}
