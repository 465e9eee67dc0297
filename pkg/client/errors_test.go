package client

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorClass
	}{
		{200, ""},
		{201, ""},
		{204, ""},
		{304, ErrorClassUnexpected},
		{400, ErrorClassClient},
		{404, ErrorClassClient},
		{408, ErrorClassNetwork},
		{422, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{502, ErrorClassServer},
		{503, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			if got := classifyStatus(tt.status); got != tt.expected {
				t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		config     RetryConfig
		errorClass ErrorClass
		expected   bool
	}{
		{"client error retried by default", DefaultRetryConfig(), ErrorClassClient, true},
		{"client error terminal when configured", RetryConfig{StopOnClientError: true}, ErrorClassClient, false},
		{"server error", RetryConfig{StopOnClientError: true}, ErrorClassServer, true},
		{"rate limit", RetryConfig{StopOnClientError: true}, ErrorClassRateLimit, true},
		{"network", RetryConfig{StopOnClientError: true}, ErrorClassNetwork, true},
		{"unexpected", DefaultRetryConfig(), ErrorClassUnexpected, true},
		{"empty class", DefaultRetryConfig(), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.shouldRetry(tt.errorClass); got != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, got, tt.expected)
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
				Class:   ErrorClassNetwork,
				Method:  "GET",
				Target:  "/contacts?limit=100",
				Message: "transport failure",
				Err:     errors.New("connection refused"),
			},
			expected: "GET /contacts?limit=100: network error (status 0): transport failure: connection refused",
		},
		{
			name: "error without wrapped error",
			apiError: &APIError{
				StatusCode: 404,
				Class:      ErrorClassClient,
				Method:     "DELETE",
				Target:     "/contactTags/9",
				Message:    "404 Not Found",
			},
			expected: "DELETE /contactTags/9: client error (status 404): 404 Not Found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.apiError.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	apiErr := &APIError{StatusCode: 500, Class: ErrorClassServer, Err: baseErr}

	if !errors.Is(apiErr, baseErr) {
		t.Error("errors.Is() should find wrapped error")
	}

	var target *APIError
	if !errors.As(fmt.Errorf("outer: %w", apiErr), &target) {
		t.Fatal("errors.As() should find APIError")
	}
	if target.StatusCode != 500 {
		t.Errorf("StatusCode = %d, want 500", target.StatusCode)
	}
}

func TestStatusCode(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", &APIError{StatusCode: 429, Class: ErrorClassRateLimit})
	if got := StatusCode(wrapped); got != 429 {
		t.Errorf("StatusCode() = %d, want 429", got)
	}
	if got := StatusCode(errors.New("plain")); got != 0 {
		t.Errorf("StatusCode() = %d, want 0", got)
	}
}
