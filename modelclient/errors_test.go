package modelclient

import (
	"errors"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		errMsg string
		check  func(error) bool
		want   string
	}{
		{"401 Unauthorized", func(e error) bool { var x *AuthenticationError; return errors.As(e, &x) }, "AuthenticationError"},
		{"invalid api key", func(e error) bool { var x *AuthenticationError; return errors.As(e, &x) }, "AuthenticationError"},
		{"403 Forbidden", func(e error) bool { var x *AccessDeniedError; return errors.As(e, &x) }, "AccessDeniedError"},
		{"model not found", func(e error) bool { var x *NotFoundError; return errors.As(e, &x) }, "NotFoundError"},
		{"429 rate limit exceeded", func(e error) bool { var x *RateLimitError; return errors.As(e, &x) }, "RateLimitError"},
		{"context length exceeded", func(e error) bool { var x *ContextLengthError; return errors.As(e, &x) }, "ContextLengthError"},
		{"prompt has too many tokens", func(e error) bool { var x *ContextLengthError; return errors.As(e, &x) }, "ContextLengthError"},
		{"500 internal server error", func(e error) bool { var x *ServerError; return errors.As(e, &x) }, "ServerError"},
		{"timeout waiting for response", func(e error) bool { var x *RequestTimeoutError; return errors.As(e, &x) }, "RequestTimeoutError"},
		{"content filter triggered", func(e error) bool { var x *ContentFilterError; return errors.As(e, &x) }, "ContentFilterError"},
		{"something unknown", func(e error) bool { var x *ProviderError; return errors.As(e, &x) }, "ProviderError"},
	}

	for _, tt := range tests {
		err := classifyError("openai", errors.New(tt.errMsg))
		if err == nil {
			t.Errorf("expected non-nil error for %q", tt.errMsg)
			continue
		}
		if !tt.check(err) {
			t.Errorf("for %q: expected %s, got %T", tt.errMsg, tt.want, err)
		}
	}
}

func TestClassifyErrorNil(t *testing.T) {
	if got := classifyError("openai", nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestClassifyErrorPreservesCause(t *testing.T) {
	cause := errors.New("429 rate limit")
	err := classifyError("anthropic", cause)
	if !errors.Is(err, cause) {
		t.Error("expected classified error to wrap its cause")
	}
}

func TestIsRetryable(t *testing.T) {
	retryAfter := 2.0
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"authentication", classifyError("openai", errors.New("401 unauthorized")), false},
		{"access denied", classifyError("openai", errors.New("403 forbidden")), false},
		{"not found", classifyError("openai", errors.New("404 not found")), false},
		{"context length", classifyError("openai", errors.New("context length exceeded")), false},
		{"content filter", classifyError("openai", errors.New("content filter triggered")), false},
		{"rate limit", &RateLimitError{ProviderError: ProviderError{Retryable: true, RetryAfter: &retryAfter}}, true},
		{"server error", classifyError("openai", errors.New("500 internal server error")), true},
		{"timeout", classifyError("openai", errors.New("timeout")), true},
		{"generic provider", classifyError("openai", errors.New("weird transient thing")), true},
		{"plain error", errors.New("opaque"), true},
		{"abort", &AbortError{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsContextLength(t *testing.T) {
	if !IsContextLength(classifyError("openai", errors.New("maximum context window reached"))) {
		t.Error("expected context-length classification")
	}
	if IsContextLength(errors.New("other")) {
		t.Error("did not expect context-length classification")
	}
}
