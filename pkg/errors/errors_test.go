package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestErrorTypes(t *testing.T) {
	tests := []struct {
		name         string
		err          *Error
		expectedType ErrorType
	}{
		{
			name:         "Connection Error",
			err:          NewConnectionError("example.com", 443, fmt.Errorf("connection refused")),
			expectedType: ErrorTypeConnection,
		},
		{
			name:         "Timeout Error",
			err:          NewTimeoutError("connect", 5*time.Second),
			expectedType: ErrorTypeTimeout,
		},
		{
			name:         "Protocol Error",
			err:          NewProtocolError("parse_request_line", 400, "invalid status line", fmt.Errorf("parse error")),
			expectedType: ErrorTypeProtocol,
		},
		{
			name:         "IO Error",
			err:          NewIOError("reading", fmt.Errorf("broken pipe")),
			expectedType: ErrorTypeIO,
		},
		{
			name:         "Validation Error",
			err:          NewValidationError("host cannot be empty"),
			expectedType: ErrorTypeValidation,
		},
		{
			name:         "Disconnected Error",
			err:          NewDisconnectedError("recv", nil),
			expectedType: ErrorTypeDisconnected,
		},
		{
			name:         "Response Parse Error",
			err:          NewResponseParseError("parse_status_line", "bad status line", nil),
			expectedType: ErrorTypeResponseParse,
		},
		{
			name:         "Client Logic Error",
			err:          NewClientLogicError("request", "request already in flight"),
			expectedType: ErrorTypeClientLogic,
		},
		{
			name:         "Response Misuse Error",
			err:          NewResponseMisuseError("respond", "already responded"),
			expectedType: ErrorTypeResponseMisuse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.expectedType {
				t.Errorf("expected type %v, got %v", tt.expectedType, tt.err.Type)
			}
			if tt.err.Error() == "" {
				t.Error("error message should not be empty")
			}
			if tt.err.Timestamp.IsZero() {
				t.Error("timestamp should be set")
			}
		})
	}
}

func TestProtocolErrorCarriesStatus(t *testing.T) {
	err := NewProtocolError("parse_headers", 431, "headers too large", nil)
	if GetStatus(err) != 431 {
		t.Errorf("expected status 431, got %d", GetStatus(err))
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := NewConnectionError("example.com", 443, cause)

	if err.Unwrap() != cause {
		t.Errorf("expected unwrapped error to be %v, got %v", cause, err.Unwrap())
	}
}

func TestErrorIs(t *testing.T) {
	err1 := NewConnectionError("example.com", 443, fmt.Errorf("refused"))
	err2 := &Error{Type: ErrorTypeConnection}

	if !err1.Is(err2) {
		t.Error("errors with same type should match")
	}

	err3 := &Error{Type: ErrorTypeTimeout}
	if err1.Is(err3) {
		t.Error("errors with different types should not match")
	}
}

func TestIsTimeoutError(t *testing.T) {
	timeoutErr := NewTimeoutError("connect", 5*time.Second)
	if !IsTimeoutError(timeoutErr) {
		t.Error("should identify timeout error")
	}

	connErr := NewConnectionError("example.com", 443, fmt.Errorf("refused"))
	if IsTimeoutError(connErr) {
		t.Error("should not identify connection error as timeout")
	}
}

func TestIsTransientAndDisconnected(t *testing.T) {
	transient := NewTransientError("recv", nil)
	if !IsTransient(transient) {
		t.Error("should identify transient error")
	}
	if IsDisconnected(transient) {
		t.Error("transient error should not be classified as disconnected")
	}

	disc := NewDisconnectedError("recv", nil)
	if !IsDisconnected(disc) {
		t.Error("should identify disconnected error")
	}
}

func TestGetErrorType(t *testing.T) {
	err := NewValidationError("test")
	errType := GetErrorType(err)

	if errType != ErrorTypeValidation {
		t.Errorf("expected %v, got %v", ErrorTypeValidation, errType)
	}

	regularErr := fmt.Errorf("regular error")
	errType = GetErrorType(regularErr)

	if errType != "" {
		t.Errorf("expected empty type for regular error, got %v", errType)
	}
}
