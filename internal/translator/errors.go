package translator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/valpere/tabletran/internal/retry"
)

var (
	ErrTransient     = errors.New("transient backend error")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrValidation    = errors.New("response failed validation")
)

// StatusError is a non-2xx reply from an HTTP provider.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Code, body)
}

// CallError is returned when a backend gives up on a request.
type CallError struct {
	Backend  string
	Class    retry.Class
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempt(s) (%s): %v", e.Backend, e.Attempts, e.Class, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

var quotaMarkers = []string{
	"quota exceeded",
	"exceeded your current quota",
	"resource exhausted",
	"resource_exhausted",
	"rate limit",
	"ratelimit",
	"too many requests",
	"429",
}

// Classify maps a provider failure onto a retry class.
func Classify(err error) retry.Class {
	switch {
	case err == nil:
		return retry.Permanent
	case errors.Is(err, context.Canceled):
		return retry.Permanent
	case errors.Is(err, ErrQuotaExceeded):
		return retry.Quota
	case errors.Is(err, ErrValidation):
		return retry.Validation
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return retry.Transient
	}

	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.Code, se.Body)
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return classifyStatus(ge.Code, ge.Message)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return retry.Transient
	}
	if hasQuotaMarker(err.Error()) {
		return retry.Quota
	}
	return retry.Transient
}

func classifyStatus(code int, body string) retry.Class {
	switch {
	case code == http.StatusTooManyRequests,
		code == http.StatusUnauthorized,
		code == http.StatusForbidden,
		code == http.StatusPaymentRequired:
		return retry.Quota
	case code >= 500, code == http.StatusRequestTimeout:
		return retry.Transient
	case hasQuotaMarker(body):
		return retry.Quota
	}
	return retry.Permanent
}

func hasQuotaMarker(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
