package cache

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates no non-expired row exists for the requested key.
// A miss is expected control flow on the request path, not a failure.
var ErrNotFound = errors.New("cache entry not found")

// ValidationError indicates required metadata was missing on Store.
type ValidationError struct {
	Field string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// MalformedDataError indicates a stored payload decoded successfully but
// had an unexpected shape, e.g. headers that are valid JSON but not an
// object. Headers are defined to always be key-value maps, so this is a
// hard error rather than a silent nil.
type MalformedDataError struct {
	Reason string
}

// Error implements the error interface.
func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("malformed cached data: %s", e.Reason)
}

// Entry is one cached API response row. Header maps and the body are in
// their decoded form once DecodeEntry has run; raw columns hold whatever
// the table stores (possibly compressed).
type Entry struct {
	ID                 int64
	Key                string
	Client             string
	Version            string
	Endpoint           string
	BaseURL            string
	FullURL            string
	Method             string
	RequestHeaders     map[string]any
	RequestBody        []byte
	ResponseStatusCode int
	ResponseHeaders    map[string]any
	ResponseBody       []byte
	ResponseSize       int
	ResponseTime       float64
	ExpiresAt          *time.Time
	ProcessedAt        *time.Time
	ProcessedStatus    *string

	CreatedAt time.Time
	UpdatedAt time.Time

	// raw payloads as stored; consumed by DecodeEntry
	rawRequestHeaders  []byte
	rawResponseHeaders []byte
	rawRequestBody     []byte
	rawResponseBody    []byte
	decoded            bool
}

// Decoded reports whether the entry's payloads have been decompressed and
// its header blobs decoded into maps.
func (e *Entry) Decoded() bool {
	return e.decoded
}

// Metadata is the input to Store. Endpoint and ResponseBody are required;
// everything else defaults to null or a computed value.
type Metadata struct {
	Version            string
	Endpoint           string
	BaseURL            string
	FullURL            string
	Method             string
	RequestHeaders     map[string]any
	RequestBody        []byte
	ResponseStatusCode int
	ResponseHeaders    map[string]any
	ResponseBody       []byte

	// ResponseSize is the size of the uncompressed body. Defaults to
	// len(ResponseBody) when nil.
	ResponseSize *int

	// ResponseTime is the upstream call duration in seconds.
	ResponseTime float64
}
