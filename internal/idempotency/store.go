// Package idempotency deduplicates state-changing requests. Clients supply an
// Idempotency-Key header; a replay with the same key and payload returns the
// recorded response, a replay with a different payload conflicts.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Response is the replayable outcome of a completed request.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Store records request outcomes keyed by idempotency key.
type Store interface {
	// Check looks up a previous outcome. When the key exists with the same
	// input hash the recorded response is returned; with a different hash a
	// CONFLICT error is returned.
	Check(ctx context.Context, key, inputHash string) (resp *Response, found bool, err error)

	// Record saves an outcome under the key for the given TTL.
	Record(ctx context.Context, key, inputHash string, resp Response, ttl time.Duration) error
}

type entry struct {
	InputHash string   `json:"input_hash"`
	Response  Response `json:"response"`
}

// HashInput derives the dedup hash for a request payload.
func HashInput(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// FormatKey builds the namespaced store key for a request.
func FormatKey(method, path, key string) string {
	return fmt.Sprintf("qms:idem:%s:%s:%s", method, path, key)
}
