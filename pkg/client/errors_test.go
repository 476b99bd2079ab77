package client

import (
	"errors"
	"fmt"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{"client error should not retry", ErrorClassClient, false},
		{"server error should retry", ErrorClassServer, true},
		{"rate limit should retry", ErrorClassRateLimit, true},
		{"network error should retry", ErrorClassNetwork, true},
		{"decode error should not retry", ErrorClassDecode, false},
		{"open circuit should not retry", ErrorClassCircuitOpen, false},
		{"unexpected status should not retry", ErrorClassUnexpected, false},
		{"empty error class should not retry", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shouldRetry(tt.errorClass)
			if result != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, result, tt.expected)
			}
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		apiError *APIError
		expected string
	}{
		{
			name: "error with wrapped error",
			apiError: &APIError{
				StatusCode: 500,
				ErrorClass: ErrorClassServer,
				Message:    "500 Internal Server Error",
				Err:        errors.New("upstream timeout"),
			},
			expected: "jobs API server error (status 500): 500 Internal Server Error: upstream timeout",
		},
		{
			name: "error without wrapped error",
			apiError: &APIError{
				StatusCode: 404,
				ErrorClass: ErrorClassClient,
				Message:    "404 Not Found",
			},
			expected: "jobs API client error (status 404): 404 Not Found",
		},
		{
			name: "rate limit error",
			apiError: &APIError{
				StatusCode: 429,
				ErrorClass: ErrorClassRateLimit,
				Message:    "429 Too Many Requests",
			},
			expected: "jobs API rate_limit error (status 429): 429 Too Many Requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.apiError.Error()
			if result != tt.expected {
				t.Errorf("Error() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	wrappedErr := errors.New("wrapped error")
	apiError := &APIError{
		StatusCode: 500,
		ErrorClass: ErrorClassServer,
		Message:    "server error",
		Err:        wrappedErr,
	}

	if unwrapped := apiError.Unwrap(); unwrapped != wrappedErr {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, wrappedErr)
	}
	if !errors.Is(apiError, wrappedErr) {
		t.Error("errors.Is should work with wrapped error")
	}
}

func TestAPIError_UnwrapNil(t *testing.T) {
	apiError := &APIError{StatusCode: 404, ErrorClass: ErrorClassClient, Message: "not found"}

	if unwrapped := apiError.Unwrap(); unwrapped != nil {
		t.Errorf("Unwrap() = %v, want nil", unwrapped)
	}
}

func TestClassOfAndIsRetryable(t *testing.T) {
	wrapped := fmt.Errorf("page 3: %w", &APIError{StatusCode: 503, ErrorClass: ErrorClassServer})

	if ClassOf(wrapped) != ErrorClassServer {
		t.Errorf("ClassOf() = %q, want server", ClassOf(wrapped))
	}
	if !IsRetryable(wrapped) {
		t.Error("IsRetryable() = false for wrapped server error")
	}

	plain := errors.New("boom")
	if ClassOf(plain) != "" {
		t.Errorf("ClassOf(plain) = %q, want empty", ClassOf(plain))
	}
	if IsRetryable(plain) {
		t.Error("IsRetryable(plain) = true, want false")
	}
	if IsRetryable(nil) {
		t.Error("IsRetryable(nil) = true, want false")
	}
}
