package manager

import (
	"reflect"
	"testing"
)

func TestGenerateCacheKey_OrderIndependent(t *testing.T) {
	a := map[string]any{"keyword": "coffee", "location_code": 2840, "language_code": "en"}
	b := map[string]any{"language_code": "en", "keyword": "coffee", "location_code": 2840}

	keyA, err := GenerateCacheKey("dataforseo", "serp/google/organic/live", a)
	if err != nil {
		t.Fatalf("GenerateCacheKey failed: %v", err)
	}
	keyB, err := GenerateCacheKey("dataforseo", "serp/google/organic/live", b)
	if err != nil {
		t.Fatalf("GenerateCacheKey failed: %v", err)
	}

	if keyA != keyB {
		t.Errorf("keys differ for identical params: %q vs %q", keyA, keyB)
	}
}

func TestGenerateCacheKey_NilValuesIgnored(t *testing.T) {
	with := map[string]any{"keyword": "coffee", "device": nil}
	without := map[string]any{"keyword": "coffee"}

	keyWith, err := GenerateCacheKey("c", "/e", with)
	if err != nil {
		t.Fatalf("GenerateCacheKey failed: %v", err)
	}
	keyWithout, err := GenerateCacheKey("c", "/e", without)
	if err != nil {
		t.Fatalf("GenerateCacheKey failed: %v", err)
	}

	if keyWith != keyWithout {
		t.Errorf("nil-valued key changed the cache key: %q vs %q", keyWith, keyWithout)
	}
}

func TestGenerateCacheKey_DistinctInputsDiffer(t *testing.T) {
	base := map[string]any{"keyword": "coffee"}

	key1, _ := GenerateCacheKey("c", "/e", base)
	key2, _ := GenerateCacheKey("c", "/e", map[string]any{"keyword": "tea"})
	key3, _ := GenerateCacheKey("c", "/other", base)
	key4, _ := GenerateCacheKey("other", "/e", base)

	keys := map[string]bool{key1: true, key2: true, key3: true, key4: true}
	if len(keys) != 4 {
		t.Errorf("expected 4 distinct keys, got %d: %v", len(keys), keys)
	}
}

func TestGenerateCacheKey_EndpointTrimmed(t *testing.T) {
	key1, _ := GenerateCacheKey("c", "/users/", nil)
	key2, _ := GenerateCacheKey("c", "users", nil)

	if key1 != key2 {
		t.Errorf("endpoint slashes changed the key: %q vs %q", key1, key2)
	}
}

func TestNormalizeParams(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   map[string]any
	}{
		{
			name:   "nil map stays nil",
			params: nil,
			want:   nil,
		},
		{
			name:   "drops nil values",
			params: map[string]any{"a": 1, "b": nil},
			want:   map[string]any{"a": 1},
		},
		{
			name: "recurses into nested maps",
			params: map[string]any{
				"filters": map[string]any{"device": nil, "depth": 10},
			},
			want: map[string]any{
				"filters": map[string]any{"depth": 10},
			},
		},
		{
			name: "recurses into slices",
			params: map[string]any{
				"items": []any{map[string]any{"x": nil, "y": 2}, nil, "z"},
			},
			want: map[string]any{
				"items": []any{map[string]any{"y": 2}, "z"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeParams(tt.params)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NormalizeParams() = %v, want %v", got, tt.want)
			}
		})
	}
}
