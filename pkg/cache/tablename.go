package cache

import (
	"regexp"
	"strings"
)

const (
	// DefaultTablePrefix prefixes every generated response table name.
	DefaultTablePrefix = "api_cache_"

	// MaxIdentifierLength is the identifier budget shared by the supported
	// storage engines (MySQL's 64-character limit is the tightest).
	MaxIdentifierLength = 64

	responsesSuffix  = "_responses"
	compressedSuffix = "_compressed"
)

var (
	invalidIdentChars = regexp.MustCompile(`[^a-z0-9_]+`)
	repeatedSep       = regexp.MustCompile(`_{2,}`)
)

// sanitizeClient maps a client identifier onto the [a-z0-9_] charset,
// collapsing runs of separators and trimming leading/trailing ones.
func sanitizeClient(client string) string {
	s := strings.ToLower(client)
	s = invalidIdentChars.ReplaceAllString(s, "_")
	s = repeatedSep.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "client"
	}
	return s
}

// TableName derives the response table name for a client under the given
// compression mode. The mapping is deterministic: the same client and mode
// always produce the same identifier, truncated so prefix, client, and
// suffixes together respect MaxIdentifierLength.
func TableName(prefix, client string, compressed bool) string {
	suffix := responsesSuffix
	if compressed {
		suffix += compressedSuffix
	}

	name := sanitizeClient(client)
	budget := MaxIdentifierLength - len(prefix) - len(suffix)
	if budget < 1 {
		budget = 1
	}
	if len(name) > budget {
		name = strings.TrimRight(name[:budget], "_")
	}

	return prefix + name + suffix
}
