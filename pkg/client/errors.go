package client

import "fmt"

// APIError is a non-success upstream response surfaced by PostJSON. The
// response is cached like any other; the error only signals that the
// caller did not get usable data.
type APIError struct {
	Client     string
	Endpoint   string
	StatusCode int
	Body       []byte
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("upstream %s error on %s (status %d)", e.Client, e.Endpoint, e.StatusCode)
}

// IsClientError reports whether the status is a 4xx.
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsServerError reports whether the status is a 5xx.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500
}
