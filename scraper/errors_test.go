package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "rate limited", err: RateLimitedError{Marketplace: "jumia"}, want: false},
		{name: "wrapped rate limited", err: fmt.Errorf("search: %w", RateLimitedError{Marketplace: "jumia"}), want: false},
		{name: "validation", err: ValidationError{Field: "query", Reason: "empty"}, want: false},
		{name: "configuration", err: ConfigurationError{Marketplace: "amazon"}, want: false},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "not found", err: ExternalServiceError{Marketplace: "jumia", StatusCode: http.StatusNotFound}, want: false},
		{name: "forbidden", err: ExternalServiceError{Marketplace: "jumia", StatusCode: http.StatusForbidden}, want: false},
		{name: "request timeout", err: ExternalServiceError{Marketplace: "jumia", StatusCode: http.StatusRequestTimeout}, want: true},
		{name: "server error", err: ExternalServiceError{Marketplace: "jumia", StatusCode: http.StatusBadGateway}, want: true},
		{name: "network", err: ExternalServiceError{Marketplace: "jumia", Err: errors.New("reset")}, want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRateLimitedErrorIsExternal(t *testing.T) {
	cause := errors.New("Too Many Requests")
	err := fmt.Errorf("search: %w", RateLimitedError{Marketplace: "jumia", Err: cause})

	var external ExternalServiceError
	if !errors.As(err, &external) {
		t.Fatalf("rate limit should be an ExternalServiceError")
	}
	if external.StatusCode != http.StatusTooManyRequests || external.Marketplace != "jumia" {
		t.Fatalf("unexpected external error: %+v", external)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost through unwrap chain")
	}
	if !errors.Is(RateLimitedError{Marketplace: "jumia"}, ErrRateLimited) {
		t.Fatalf("bare rate limit should unwrap to ErrRateLimited")
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "rate limited", err: RateLimitedError{Marketplace: "jumia"}, want: "jumia: rate limit exceeded, try again later"},
		{
			name: "external",
			err:  ExternalServiceError{Marketplace: "jumia", StatusCode: 502, Err: errors.New("upstream 10.0.0.4 refused")},
			want: "jumia: marketplace is unavailable, try again later",
		},
		{name: "validation", err: ValidationError{Field: "query", Reason: "must not be empty"}, want: "invalid query: must not be empty"},
		{name: "configuration", err: ConfigurationError{Marketplace: "amazon"}, want: `unsupported marketplace "amazon"`},
		{name: "unknown", err: errors.New("nil pointer somewhere"), want: "something went wrong, try again later"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Fatalf("UserMessage = %q, want %q", got, tt.want)
			}
		})
	}
}
