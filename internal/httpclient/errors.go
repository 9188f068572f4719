package httpclient

import "fmt"

// HTTPError represents a non-2xx HTTP response
type HTTPError struct {
	// StatusCode is the HTTP status code returned by the remote
	StatusCode int

	// URL is the requested URL
	URL string

	// Status is the HTTP status line
	Status string
}

// NewHTTPError creates a new HTTPError
func NewHTTPError(statusCode int, url, status string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Status:     status,
	}
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP request to %s failed: %s", e.URL, e.Status)
}

// IsClientError reports whether the status is in the 4xx range
func (e *HTTPError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsServerError reports whether the status is in the 5xx range
func (e *HTTPError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}
