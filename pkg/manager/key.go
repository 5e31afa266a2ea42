package manager

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeParams returns a copy of params with nil-valued keys dropped,
// recursing into nested maps and slices. Serializing the result with
// encoding/json yields canonical key order, so two semantically identical
// parameter sets always produce the same bytes regardless of insertion
// order. Used for cache-key generation and diagnostic display.
func NormalizeParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}

	normalized := make(map[string]any, len(params))
	for k, v := range params {
		if v == nil {
			continue
		}
		normalized[k] = normalizeValue(v)
	}
	return normalized
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return NormalizeParams(val)
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return v
	}
}

// GenerateCacheKey derives the deterministic cache key for one request.
// Format: client:endpoint:sha256(normalized params). Key generation is
// order-independent over params: {a:1,b:2} and {b:2,a:1} hash identically.
func GenerateCacheKey(client, endpoint string, params map[string]any) (string, error) {
	normalized := NormalizeParams(params)

	payload, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("serialize params: %w", err)
	}

	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%s:%s:%s", client, strings.Trim(endpoint, "/"), hex.EncodeToString(sum[:])), nil
}
