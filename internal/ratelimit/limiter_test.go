package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cryptolab/rune-vault/internal/vaulterr"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(Config{PerSecond: 10, Burst: 3})
	require.NoError(t, l.Allow("tok-a"))
	require.NoError(t, l.Allow("tok-a"))
	require.NoError(t, l.Allow("tok-a"))
}

func TestAllowRejectsOverBurst(t *testing.T) {
	l := New(Config{PerSecond: 1, Burst: 1})
	require.NoError(t, l.Allow("tok-a"))
	err := l.Allow("tok-a")
	require.Error(t, err)
	var rateLimited *vaulterr.RateLimited
	require.ErrorAs(t, err, &rateLimited)
}

func TestAllowTracksTokensIndependently(t *testing.T) {
	l := New(Config{PerSecond: 1, Burst: 1})
	require.NoError(t, l.Allow("tok-a"))
	require.NoError(t, l.Allow("tok-b"))
	require.Error(t, l.Allow("tok-a"))
	require.Error(t, l.Allow("tok-b"))
}

func TestNewDefaultsInvalidConfig(t *testing.T) {
	l := New(Config{})
	require.NoError(t, l.Allow("tok-a"))
}
