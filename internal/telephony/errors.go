package telephony

import (
	"errors"
	"fmt"
)

// APIError is a classified provider API failure.
// Code is the provider's own error code when one was returned (e.g. Twilio
// 20404 not-found, 21422 number-not-available); Status is the HTTP status.
type APIError struct {
	Op      string
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider %s failed: %s (status %d, code %d)", e.Op, e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("provider %s failed: %s (status %d)", e.Op, e.Message, e.Status)
}

// Twilio error codes the workflows branch on.
const (
	codeNotFound          = 20404
	codeNumberUnavailable = 21422
	codeAddressRequired   = 21615
	codePendingEmergency  = 21628
)

// IsNotFound reports whether err is a provider not-found response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == 404 || apiErr.Code == codeNotFound
}

// IsNumberUnavailable reports a transient "no longer available" purchase
// failure, the race where another buyer took the number between search and
// purchase. Callers retry with a same-type replacement.
func IsNumberUnavailable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeNumberUnavailable
}

// IsAddressRequired reports a purchase rejected for lacking a regulatory
// address.
func IsAddressRequired(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeAddressRequired
}

// IsEmergencyPending reports that an emergency-address change is still being
// processed by the provider.
func IsEmergencyPending(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codePendingEmergency
}
