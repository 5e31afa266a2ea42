package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CACHE_ETL_TEST_STR", "value")
	t.Setenv("CACHE_ETL_TEST_INT", "42")
	t.Setenv("CACHE_ETL_TEST_BOOL", "true")
	t.Setenv("CACHE_ETL_TEST_DUR", "5m")
	t.Setenv("CACHE_ETL_TEST_BAD", "not-a-number")

	if got := getEnv("CACHE_ETL_TEST_STR", "fallback"); got != "value" {
		t.Errorf("getEnv = %q, want value", got)
	}
	if got := getEnv("CACHE_ETL_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("getEnv = %q, want fallback", got)
	}

	if got := getEnvInt("CACHE_ETL_TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt = %d, want 42", got)
	}
	if got := getEnvInt("CACHE_ETL_TEST_BAD", 7); got != 7 {
		t.Errorf("getEnvInt = %d, want default 7 on parse failure", got)
	}

	if got := getEnvBool("CACHE_ETL_TEST_BOOL", false); !got {
		t.Error("getEnvBool = false, want true")
	}
	if got := getEnvBool("CACHE_ETL_TEST_BAD", true); !got {
		t.Error("getEnvBool = false, want default true on parse failure")
	}

	if got := getEnvDuration("CACHE_ETL_TEST_DUR", 0); got != 5*time.Minute {
		t.Errorf("getEnvDuration = %v, want 5m", got)
	}
	if got := getEnvDuration("CACHE_ETL_TEST_BAD", time.Second); got != time.Second {
		t.Errorf("getEnvDuration = %v, want default on parse failure", got)
	}
}
