package mars

import (
	"fmt"
	"net/http"
)

// APIError is returned when the web API rejects a call or a request ends in a
// non-complete state (for example "aborted").
type APIError struct {
	Operation  string // submit, status, download or delete
	StatusCode int    // HTTP status code, if applicable (0 for request state failures)
	Message    string // Reason reported by the API
	Err        error  // Underlying error, if any
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("mars %s failed (HTTP %d): %s", e.Operation, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("mars %s failed: %s", e.Operation, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Unauthorized reports whether the API refused the credential.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
