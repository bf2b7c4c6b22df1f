package strava

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// APIError is any non-2xx Strava response other than 429
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("strava api error (status %d): %s", e.StatusCode, e.Body)
}

// RateLimitError is a 429 from Strava. It is distinct from APIError because
// the queue worker retries it without consuming attempt budget. ResetAt is
// derived from the Retry-After header when present.
type RateLimitError struct {
	ResetAt *time.Time
}

func (e *RateLimitError) Error() string {
	if e.ResetAt != nil {
		return fmt.Sprintf("strava rate limited (429), resets at %s", e.ResetAt.Format(time.RFC3339))
	}
	return "strava rate limited (429)"
}

// IsRateLimited reports whether err is a 429 translation
func IsRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// IsNotFound reports whether err is a 404 from Strava
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 from Strava
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
