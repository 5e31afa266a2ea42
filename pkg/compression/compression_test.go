package compression

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestService_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		input   []byte
	}{
		{name: "enabled small payload", enabled: true, input: []byte(`{"a":1}`)},
		{name: "enabled empty payload", enabled: true, input: []byte{}},
		{name: "enabled repetitive payload", enabled: true, input: bytes.Repeat([]byte("keyword "), 1000)},
		{name: "disabled payload", enabled: false, input: []byte(`{"a":1}`)},
		{name: "disabled empty payload", enabled: false, input: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.enabled, zerolog.Nop())

			compressed, err := svc.Compress(tt.input, "test")
			if err != nil {
				t.Fatalf("Compress failed: %v", err)
			}

			raw, err := svc.Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}

			if !bytes.Equal(raw, tt.input) {
				t.Errorf("round trip mismatch: got %q, want %q", raw, tt.input)
			}
		})
	}
}

func TestService_NilPassthrough(t *testing.T) {
	svc := NewService(true, zerolog.Nop())

	out, err := svc.Compress(nil, "test")
	if err != nil {
		t.Fatalf("Compress(nil) failed: %v", err)
	}
	if out != nil {
		t.Errorf("Compress(nil) = %v, want nil", out)
	}

	out, err = svc.Decompress(nil)
	if err != nil {
		t.Fatalf("Decompress(nil) failed: %v", err)
	}
	if out != nil {
		t.Errorf("Decompress(nil) = %v, want nil", out)
	}
}

func TestService_DisabledIsIdentity(t *testing.T) {
	svc := NewService(false, zerolog.Nop())
	input := []byte("not compressed at all")

	compressed, err := svc.Compress(input, "test")
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if !bytes.Equal(compressed, input) {
		t.Errorf("disabled Compress changed the payload")
	}
}

func TestService_CompressActuallyShrinks(t *testing.T) {
	svc := NewService(true, zerolog.Nop())
	input := bytes.Repeat([]byte("organic result "), 500)

	compressed, err := svc.Compress(input, "test")
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if len(compressed) >= len(input) {
		t.Errorf("compressed size %d >= raw size %d", len(compressed), len(input))
	}
}

func TestService_DecompressRejectsPlainData(t *testing.T) {
	svc := NewService(true, zerolog.Nop())

	_, err := svc.Decompress([]byte("this was never compressed"))
	if err == nil {
		t.Fatal("expected error for non-gzip payload")
	}

	var decompErr *DecompressionError
	if !errors.As(err, &decompErr) {
		t.Errorf("error type = %T, want *DecompressionError", err)
	}
	if !strings.Contains(err.Error(), "not gzip") {
		t.Errorf("error message %q should mention non-gzip payload", err.Error())
	}
}

func TestService_DecompressRejectsTruncatedStream(t *testing.T) {
	svc := NewService(true, zerolog.Nop())

	compressed, err := svc.Compress(bytes.Repeat([]byte("x"), 4096), "test")
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	_, err = svc.Decompress(compressed[:len(compressed)/2])
	var decompErr *DecompressionError
	if !errors.As(err, &decompErr) {
		t.Fatalf("error = %v, want *DecompressionError", err)
	}
}

func TestService_ContextDoesNotAffectOutput(t *testing.T) {
	svc := NewService(true, zerolog.Nop())
	input := []byte(`{"tasks":[]}`)

	a, err := svc.Compress(input, "response_body")
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	b, err := svc.Compress(input, "request_headers")
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	if !bytes.Equal(a, b) {
		t.Error("context string changed compressed output")
	}
}
