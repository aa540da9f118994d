package observability

import "github.com/google/uuid"

// NewCorrelationID mints a random id attached to every request log line and
// surfaced to callers only inside vaulterr.Internal (never alongside key or
// ciphertext material).
func NewCorrelationID() string {
	return uuid.NewString()
}
