// Package compression provides transparent gzip compression for cached
// request and response payloads. A disabled service passes data through
// unchanged, so callers never branch on the compression mode themselves.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// gzip magic bytes, used to reject payloads that were never compressed.
var gzipMagic = []byte{0x1f, 0x8b}

// DecompressionError indicates a payload could not be decompressed because
// it is corrupt or was not gzip data to begin with.
type DecompressionError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *DecompressionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decompression failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decompression failed: %s", e.Reason)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DecompressionError) Unwrap() error {
	return e.Err
}

// Service compresses and decompresses byte payloads. It holds no mutable
// state and is safe for concurrent use.
type Service struct {
	enabled bool
	logger  zerolog.Logger
}

// NewService creates a compression service. When enabled is false both
// Compress and Decompress are identity transforms.
func NewService(enabled bool, logger zerolog.Logger) *Service {
	return &Service{enabled: enabled, logger: logger}
}

// Enabled reports whether compression is active.
func (s *Service) Enabled() bool {
	return s.enabled
}

// Compress gzips raw when the service is enabled, otherwise returns raw
// unchanged. The context string is used for diagnostics only and never
// affects the output bytes.
func (s *Service) Compress(raw []byte, context string) ([]byte, error) {
	if !s.enabled || raw == nil {
		return raw, nil
	}

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("compress %s: %w", context, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress %s: %w", context, err)
	}

	s.logger.Debug().
		Str("context", context).
		Int("raw_bytes", len(raw)).
		Int("compressed_bytes", buf.Len()).
		Msg("Payload compressed")

	return buf.Bytes(), nil
}

// Decompress reverses Compress. Enabled services reject payloads that do
// not carry the gzip header instead of returning garbage.
func (s *Service) Decompress(data []byte) ([]byte, error) {
	if !s.enabled || data == nil {
		return data, nil
	}

	if len(data) < len(gzipMagic) || !bytes.Equal(data[:len(gzipMagic)], gzipMagic) {
		return nil, &DecompressionError{Reason: "payload is not gzip data"}
	}

	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &DecompressionError{Reason: "invalid gzip header", Err: err}
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, &DecompressionError{Reason: "truncated or corrupt gzip stream", Err: err}
	}

	return raw, nil
}
