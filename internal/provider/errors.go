package provider

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when the provider URL or token is missing.
var ErrNotConfigured = errors.New("provider not configured")

// UpstreamError carries the status, body and target of a failed provider call.
// Status 0 marks an aborted/timed-out call rather than an upstream rejection.
type UpstreamError struct {
	Status int
	Body   string
	URL    string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("provider call to %s aborted: %s", e.URL, e.Body)
	}
	return fmt.Sprintf("provider returned %d from %s: %s", e.Status, e.URL, e.Body)
}

// Timeout reports whether the error represents an aborted or timed-out call.
func (e *UpstreamError) Timeout() bool { return e.Status == 0 }

// AsUpstream unwraps err into an *UpstreamError if possible.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
