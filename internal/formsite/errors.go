package formsite

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrInvalidAuthentication = errors.New("invalid authentication, check that token, server and directory are correct")
	ErrForbidden             = errors.New("forbidden")
	ErrFormNotFound          = errors.New("path or form not found")
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrRateLimited           = errors.New("too many requests")
	ErrInternal              = errors.New("unexpected formsite internal error")

	ErrInvalidDateFormat = errors.New("invalid date format")
	ErrInvalidTimezone   = errors.New("invalid timezone")
	ErrMissingFormID     = errors.New("form id is required")
	ErrNoResults         = errors.New("no results in specified parameters")
	ErrMissingCredential = errors.New("token, server and directory are required")
)

// APIError is a non-2xx response from the Formsite API.
type APIError struct {
	StatusCode int
	URL        string
	Body       string
	kind       error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
	if e.kind != nil {
		msg += ": " + e.kind.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.kind
}

// checkResponse maps a response status to an *APIError wrapping the matching
// sentinel error. 2xx responses return nil.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		u := *resp.Request.URL
		u.RawQuery = ""
		apiErr.URL = u.String()
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		apiErr.kind = ErrInvalidAuthentication
	case resp.StatusCode == http.StatusForbidden:
		apiErr.kind = ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		apiErr.kind = ErrFormNotFound
	case resp.StatusCode == http.StatusUnprocessableEntity:
		apiErr.kind = ErrInvalidParameter
	case resp.StatusCode == http.StatusTooManyRequests:
		apiErr.kind = ErrRateLimited
	case resp.StatusCode >= 500:
		apiErr.kind = ErrInternal
	}

	return apiErr
}
