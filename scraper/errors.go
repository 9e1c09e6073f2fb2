package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ValidationError reports malformed caller input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ExternalServiceError reports a failed call to a marketplace: a non-success
// status, or a network failure when StatusCode is zero.
type ExternalServiceError struct {
	Marketplace string
	StatusCode  int
	Err         error
}

func (e ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: external service error (status %d): %v", e.Marketplace, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: external service error: %v", e.Marketplace, e.Err)
}

func (e ExternalServiceError) Unwrap() error {
	return e.Err
}

// ErrRateLimited is the cause carried by RateLimitedError when the
// marketplace answered with HTTP 429.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitedError indicates the marketplace rate-limited the request. It
// unwraps to an ExternalServiceError so it can be handled as one.
type RateLimitedError struct {
	Marketplace string
	Err         error
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limit exceeded", e.Marketplace)
}

func (e RateLimitedError) Unwrap() error {
	cause := e.Err
	if cause == nil {
		cause = ErrRateLimited
	}
	return ExternalServiceError{Marketplace: e.Marketplace, StatusCode: http.StatusTooManyRequests, Err: cause}
}

// ConfigurationError reports a deployment mismatch such as an unregistered
// marketplace name. It is fatal to the call and never retried.
type ConfigurationError struct {
	Marketplace string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("unsupported marketplace %q", e.Marketplace)
}

// IsRetryable reports whether an adapter should retry after err. Rate limits
// are left to callers so a throttled marketplace is not hammered further.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rateLimited RateLimitedError
	if errors.As(err, &rateLimited) {
		return false
	}
	var validation ValidationError
	if errors.As(err, &validation) {
		return false
	}
	var configuration ConfigurationError
	if errors.As(err, &configuration) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var external ExternalServiceError
	if errors.As(err, &external) {
		// 4xx other than 408 will not change on retry.
		if external.StatusCode >= 400 && external.StatusCode < 500 && external.StatusCode != http.StatusRequestTimeout {
			return false
		}
	}
	return true
}

// UserMessage renders err for end users without leaking internals.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var rateLimited RateLimitedError
	if errors.As(err, &rateLimited) {
		return fmt.Sprintf("%s: rate limit exceeded, try again later", rateLimited.Marketplace)
	}
	var external ExternalServiceError
	if errors.As(err, &external) {
		return fmt.Sprintf("%s: marketplace is unavailable, try again later", external.Marketplace)
	}
	var validation ValidationError
	if errors.As(err, &validation) {
		return validation.Error()
	}
	var configuration ConfigurationError
	if errors.As(err, &configuration) {
		return configuration.Error()
	}
	return "something went wrong, try again later"
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var rateLimited RateLimitedError
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "connection"
	}
	var external ExternalServiceError
	if errors.As(err, &external) {
		switch {
		case external.StatusCode == http.StatusForbidden:
			return "forbidden"
		case external.StatusCode == http.StatusNotFound:
			return "not_found"
		case external.StatusCode >= 500:
			return "server_error"
		case external.StatusCode != 0:
			return "status"
		}
		return "network"
	}
	var validation ValidationError
	if errors.As(err, &validation) {
		return "validation"
	}
	return "other"
}

// classifyError maps a transport error and status code onto the error
// taxonomy for marketplace.
func classifyError(marketplace string, err error, statusCode int) error {
	if err == nil && (statusCode == 0 || statusCode < http.StatusBadRequest) {
		return nil
	}
	if statusCode == http.StatusTooManyRequests {
		return RateLimitedError{Marketplace: marketplace, Err: err}
	}
	if err == nil {
		err = fmt.Errorf("http status %d", statusCode)
	}
	if statusCode < http.StatusBadRequest {
		statusCode = 0
	}
	return ExternalServiceError{Marketplace: marketplace, StatusCode: statusCode, Err: err}
}
