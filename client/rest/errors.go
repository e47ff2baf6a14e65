package rest

import (
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/tidwall/gjson"
)

// ErrorKind classifies an APIError.
type ErrorKind int

// The following constants define the closed set of error kinds returned by
// the client.
const (
	KindInternal ErrorKind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindTooManyRequests
	KindTimeout
)

// ErrorKindNames contains the names of error kinds.
var ErrorKindNames = map[ErrorKind]string{
	KindInternal:        "InternalError",
	KindValidation:      "ValidationError",
	KindUnauthorized:    "UnauthorizedError",
	KindForbidden:       "ForbiddenError",
	KindNotFound:        "NotFoundError",
	KindConflict:        "ConflictError",
	KindTooManyRequests: "TooManyRequestsError",
	KindTimeout:         "TimeoutError",
}

// String returns the name of the kind, as used in metric labels.
func (k ErrorKind) String() string {
	if name, ok := ErrorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ThrottleMetadata accompanies TooManyRequests errors.
type ThrottleMetadata struct {
	// Type of the exceeded limit, e.g. LIMIT_REQUEST_RATE_PER_USER.
	Type                     string
	PeriodInMinutes          int
	RequestsPerPeriodAllowed int
	RecommendedRetryTime     time.Time
}

// APIError is the error returned for every failed request: error responses
// from the service, local timeouts and transport failures.
type APIError struct {
	Kind    ErrorKind
	Status  int
	Message string
	URL     string

	// Details holds the raw JSON of field-level details of validation
	// errors.
	Details json.RawMessage

	// Metadata is set for KindTooManyRequests when the server sent it.
	Metadata *ThrottleMetadata

	// hostLevel is set when the host could not be reached at all.
	hostLevel bool
	err       error
}

// Error returns the message, status and URL; never the token.
func (e *APIError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.URL)
}

// Unwrap returns the underlying transport error, if any.
func (e *APIError) Unwrap() error {
	return e.err
}

// Retryable reports whether repeating the request may succeed.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindInternal, KindTooManyRequests, KindTimeout:
		return true
	}
	return false
}

// HostLevel reports whether the error means the host itself is unreachable
// (connection failure or timeout) as opposed to an error response.
func (e *APIError) HostLevel() bool {
	return e.hostLevel
}

// RecommendedRetryDelay returns how long from now the server asked the
// client to wait, if it did.
func (e *APIError) RecommendedRetryDelay(now time.Time) (time.Duration, bool) {
	if e.Metadata == nil || e.Metadata.RecommendedRetryTime.IsZero() {
		return 0, false
	}
	d := e.Metadata.RecommendedRetryTime.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// MapResponse translates a non-2xx response into an APIError.
func MapResponse(status int, body []byte, url string) *APIError {
	e := &APIError{
		Status: status,
		URL:    url,
	}

	parsed := gjson.ParseBytes(body)
	if gjson.ValidBytes(body) && parsed.IsObject() {
		e.Message = parsed.Get("message").String()
	} else if len(body) > 0 && len(body) < 512 {
		e.Message = string(body)
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("unexpected status %d", status)
	}

	switch {
	case status == http.StatusBadRequest:
		e.Kind = KindValidation
		if d := parsed.Get("details"); d.Exists() {
			e.Details = json.RawMessage(d.Raw)
		}
	case status == http.StatusUnauthorized:
		e.Kind = KindUnauthorized
	case status == http.StatusForbidden:
		e.Kind = KindForbidden
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusConflict:
		e.Kind = KindConflict
	case status == http.StatusTooManyRequests:
		e.Kind = KindTooManyRequests
		e.Metadata = parseThrottleMetadata(parsed.Get("metadata"))
	default:
		e.Kind = KindInternal
	}

	return e
}

func parseThrottleMetadata(md gjson.Result) *ThrottleMetadata {
	if !md.IsObject() {
		return nil
	}

	ret := &ThrottleMetadata{
		Type:                     md.Get("type").String(),
		PeriodInMinutes:          int(md.Get("periodInMinutes").Int()),
		RequestsPerPeriodAllowed: int(md.Get("requestsPerPeriodAllowed").Int()),
	}

	if t := md.Get("recommendedRetryTime").String(); t != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			ret.RecommendedRetryTime = parsed
		}
	}

	return ret
}

// NewValidationError returns a KindValidation error for arguments rejected
// before any request is made.
func NewValidationError(message string, details json.RawMessage) *APIError {
	return &APIError{
		Kind:    KindValidation,
		Status:  http.StatusBadRequest,
		Message: message,
		Details: details,
	}
}

func newTimeoutError(url string, err error) *APIError {
	return &APIError{
		Kind:      KindTimeout,
		Message:   "request timed out",
		URL:       url,
		hostLevel: true,
		err:       err,
	}
}

func newTransportError(url string, err error) *APIError {
	return &APIError{
		Kind:      KindInternal,
		Message:   "request failed",
		URL:       url,
		hostLevel: true,
		err:       err,
	}
}

// AsAPIError returns the APIError err was produced from, if any.
func AsAPIError(err error) (*APIError, bool) {
	if err == nil {
		return nil, false
	}
	if e, ok := errors.Cause(err).(*APIError); ok {
		return e, true
	}
	var e *APIError
	if stdErrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasKind reports whether err is an APIError of the given kind.
func HasKind(err error, kind ErrorKind) bool {
	e, ok := AsAPIError(err)
	return ok && e.Kind == kind
}

// IsValidation reports whether err is a ValidationError (400).
func IsValidation(err error) bool { return HasKind(err, KindValidation) }

// IsUnauthorized reports whether err is an UnauthorizedError (401).
func IsUnauthorized(err error) bool { return HasKind(err, KindUnauthorized) }

// IsForbidden reports whether err is a ForbiddenError (403).
func IsForbidden(err error) bool { return HasKind(err, KindForbidden) }

// IsNotFound reports whether err is a NotFoundError (404).
func IsNotFound(err error) bool { return HasKind(err, KindNotFound) }

// IsConflict reports whether err is a ConflictError (409).
func IsConflict(err error) bool { return HasKind(err, KindConflict) }

// IsTooManyRequests reports whether err is a TooManyRequestsError (429).
func IsTooManyRequests(err error) bool { return HasKind(err, KindTooManyRequests) }

// IsInternal reports whether err is an InternalError: 5xx, an unknown
// status or a network failure.
func IsInternal(err error) bool { return HasKind(err, KindInternal) }

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool { return HasKind(err, KindTimeout) }

// IsHostFailure reports whether err means the host could not be reached.
func IsHostFailure(err error) bool {
	e, ok := AsAPIError(err)
	return ok && e.hostLevel
}
