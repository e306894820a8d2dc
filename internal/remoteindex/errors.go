package remoteindex

import (
	"fmt"
	"net/http"

	"notesync/internal/notesync"
)

// HTTPError is a non-2xx response from the index API.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the shared error taxonomy: 404 is
// notesync.ErrNotFound; auth failures, throttling and server errors are
// notesync.ErrUnreachable.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case notesync.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case notesync.ErrUnreachable:
		return e.StatusCode == http.StatusUnauthorized ||
			e.StatusCode == http.StatusForbidden ||
			e.StatusCode == http.StatusTooManyRequests ||
			e.StatusCode >= 500
	}
	return false
}
