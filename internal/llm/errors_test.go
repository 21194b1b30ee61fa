package llm

import (
	"errors"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		expected string
	}{
		{
			name:     "unsupported provider - anthropic",
			provider: "anthropic",
			expected: "unsupported LLM provider: anthropic",
		},
		{
			name:     "unsupported provider - empty",
			provider: "",
			expected: "unsupported LLM provider: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ErrUnsupportedProvider{Provider: tt.provider}
			if err.Error() != tt.expected {
				t.Errorf("expected error message '%s', got '%s'", tt.expected, err.Error())
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	var err error = &StatusError{StatusCode: 429, Status: "429 Too Many Requests"}
	if err.Error() != "LLM request failed: 429 Too Many Requests" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	wrapped := errors.Join(errors.New("step 0"), &StatusError{StatusCode: 500, Status: "500 Internal Server Error", Body: "boom"})
	var statusErr *StatusError
	if !errors.As(wrapped, &statusErr) {
		t.Fatal("expected errors.As to find StatusError")
	}
	if statusErr.StatusCode != 500 {
		t.Errorf("expected status 500, got %d", statusErr.StatusCode)
	}
	if statusErr.Error() != "LLM request failed: 500 Internal Server Error: boom" {
		t.Errorf("unexpected message: %s", statusErr.Error())
	}
}
