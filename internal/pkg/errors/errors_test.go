package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New(CodeValidation, "invalid input"),
			want: "VALIDATION_ERROR: invalid input",
		},
		{
			name: "with wrapped error",
			err:  Wrap(CodeInternal, "something failed", errors.New("underlying")),
			want: "INTERNAL_ERROR: something failed: underlying",
		},
		{
			name: "upstream fetch failure",
			err:  UpstreamError("fetch schedule", errors.New("connection refused")),
			want: "UPSTREAM_ERROR: fetch schedule: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeInternal, "wrapped", underlying)

	if unwrapped := err.Unwrap(); unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}
}

func TestAppError_HTTPStatus(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeInvalidRequest, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeUpstream, http.StatusBadGateway},
		{CodeInternal, http.StatusInternalServerError},
		{CodeEmitter, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test")
			if got := err.HTTPStatus(); got != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestAppError_WithDetail(t *testing.T) {
	err := New(CodeValidation, "bad payload").WithDetail("field", "routeId")

	if err.Details["field"] != "routeId" {
		t.Errorf("WithDetail() did not set detail, got %v", err.Details)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(NotFoundError("schedule")) {
		t.Error("IsNotFound() = false for not found error")
	}
	if IsNotFound(ValidationError("bad")) {
		t.Error("IsNotFound() = true for validation error")
	}
	if IsNotFound(errors.New("plain")) {
		t.Error("IsNotFound() = true for plain error")
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(TimeoutError("fetch")) {
		t.Error("IsTimeout() = false for timeout error")
	}
	if IsTimeout(InternalError("x", nil)) {
		t.Error("IsTimeout() = true for internal error")
	}
}

func TestRateLimitedError(t *testing.T) {
	err := RateLimitedError(30)
	if err.Code != CodeRateLimited {
		t.Errorf("Code = %s, want %s", err.Code, CodeRateLimited)
	}
	if err.Details["retry_after"] != "30" {
		t.Errorf("retry_after = %s, want 30", err.Details["retry_after"])
	}
}
