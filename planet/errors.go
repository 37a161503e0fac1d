package planet

import (
	"errors"
	"fmt"
	"net/http"
)

// Validation errors returned by Build and friends.
var (
	ErrInvalidGeometry     = errors.New("invalid area of interest")
	ErrInvalidDateFormat   = errors.New("invalid date format")
	ErrInvalidDateRange    = errors.New("invalid date range")
	ErrInvalidCloudCeiling = errors.New("invalid cloud ceiling")
	ErrInvalidPermission   = errors.New("invalid permission")
)

// ErrUnknownAsset is returned when an item does not offer the requested asset type.
var ErrUnknownAsset = errors.New("asset type not available for item")

// APIError is a non-2xx response from the Data API.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("planet api %s", e.Status)
	}
	return fmt.Sprintf("planet api %s: %q", e.Status, e.Body)
}

// IsClientError reports whether err is a request the service refused outright
// and that would fail again if repeated. Rate limiting (429) is not included.
func IsClientError(err error) bool {
	if errors.Is(err, ErrUnknownAsset) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
}
