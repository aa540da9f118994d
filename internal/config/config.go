// Package config holds process-wide configuration for the vault service.
package config

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"time"
)

// ScoreResultProfile selects the on-wire shape of decrypt_scores results on
// the tool-call transport. The RPC transport always uses the structured form.
type ScoreResultProfile string

const (
	ScoreResultStructured ScoreResultProfile = "structured"
	ScoreResultFlat       ScoreResultProfile = "flat"
)

// Config holds all configuration for the vault service.
type Config struct {
	// BindRPC is the listen address for the binary RPC transport.
	BindRPC string
	// BindTool is the listen address for the JSON tool-call HTTP transport.
	BindTool string

	// KeyDir is the on-disk directory holding the key bundle and secret key.
	KeyDir string

	// Tokens is the allow-list of bearer tokens accepted by the authorizer.
	// The process refuses to start if this is empty.
	Tokens []string

	// KMax hard-caps DecryptScores' top_k.
	KMax int
	// MMax hard-caps DecryptMetadata's input list length.
	MMax int

	// Deadline is the per-request deadline applied by both transports.
	Deadline time.Duration

	// ExecutorWidth sizes the blocking FHE-decrypt worker pool.
	ExecutorWidth int
	// ExecutorQueueDepth bounds the backlog before Overloaded is returned.
	ExecutorQueueDepth int

	// MaxFrameBytes bounds inbound/outbound RPC message size.
	MaxFrameBytes int64

	// FHEDim is the vector dimension passed to key generation.
	FHEDim int

	// ScoreResultProfile is the tool-call transport's decrypt_scores wire shape.
	ScoreResultProfile ScoreResultProfile

	// DrainTimeout bounds how long STOPPING waits for in-flight requests (>= 5s).
	DrainTimeout time.Duration

	// RateLimitPerSecond and RateLimitBurst configure the per-token token bucket.
	RateLimitPerSecond float64
	RateLimitBurst     int

	// MetricsLabels are constant labels applied to every Prometheus metric.
	MetricsLabels map[string]string

	// IndexName is the optional bundle-level hint written to PublicInfo.json
	// at first boot.
	IndexName string

	// LogLevel controls the root logger's verbosity (debug|info|warn|error).
	LogLevel string

	// ResourceSampleInterval controls how often the CPU/RSS gauges refresh.
	ResourceSampleInterval time.Duration
}

// DefaultConfig returns a Config populated with the service's defaults.
func DefaultConfig() Config {
	width := runtime.NumCPU()
	if width > 4 {
		width = 4
	}
	if width < 1 {
		width = 1
	}
	return Config{
		BindRPC:            "0.0.0.0:50051",
		BindTool:           "0.0.0.0:50080",
		KeyDir:             "./vault_keys",
		KMax:               10,
		MMax:               10,
		Deadline:           30 * time.Second,
		ExecutorWidth:      width,
		ExecutorQueueDepth: width * 8,
		MaxFrameBytes:      256 * 1024 * 1024,
		FHEDim:             1024,
		ScoreResultProfile: ScoreResultStructured,
		DrainTimeout:       5 * time.Second,
		RateLimitPerSecond: 50,
		RateLimitBurst:     100,
		MetricsLabels:      map[string]string{"service": "rune-vault"},
		LogLevel:           "info",
		ResourceSampleInterval: 10 * time.Second,
	}
}

// ParseTokens splits a comma-separated allow-list, trimming whitespace and
// dropping empties.
func ParseTokens(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		t := strings.TrimSpace(part)
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

// ParseScoreResultProfile validates a --score-result-profile flag value.
func ParseScoreResultProfile(raw string) (ScoreResultProfile, error) {
	switch ScoreResultProfile(strings.TrimSpace(strings.ToLower(raw))) {
	case ScoreResultStructured, "":
		return ScoreResultStructured, nil
	case ScoreResultFlat:
		return ScoreResultFlat, nil
	default:
		return "", &InvalidProfileError{Value: raw}
	}
}

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// constant Prometheus labels. Returns nil for an empty string.
func ParseMetricsLabels(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	labels := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

// InvalidProfileError reports an unrecognized score_result_profile value.
type InvalidProfileError struct{ Value string }

func (e *InvalidProfileError) Error() string {
	return "invalid score_result_profile: " + e.Value + " (want structured|flat)"
}
