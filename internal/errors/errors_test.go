package errors

import (
	"errors"
	"testing"
)

func TestNewError(t *testing.T) {
	err := NewError(11001, "test error")

	if err.Code != 11001 {
		t.Errorf("Expected code 11001, got %d", err.Code)
	}
	if err.Message != "test error" {
		t.Errorf("Expected message 'test error', got '%s'", err.Message)
	}
	if err.Err != nil {
		t.Error("Expected Err to be nil")
	}
}

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			err:      NewError(11001, "test error"),
			expected: "[11001] test error",
		},
		{
			name:     "with wrapped error",
			err:      NewError(11001, "test error").Wrap(errors.New("original error")),
			expected: "[11001] test error: original error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, got)
			}
		})
	}
}

func TestAppError_Wrap(t *testing.T) {
	originalErr := errors.New("original error")
	appErr := ErrMessageNotFound.Wrap(originalErr)

	if appErr.Code != ErrMessageNotFound.Code {
		t.Errorf("Expected code %d, got %d", ErrMessageNotFound.Code, appErr.Code)
	}
	if appErr.Message != ErrMessageNotFound.Message {
		t.Errorf("Expected message '%s', got '%s'", ErrMessageNotFound.Message, appErr.Message)
	}
	if appErr.Err != originalErr {
		t.Error("Expected wrapped error to be the original error")
	}
}

func TestAppError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	appErr := ErrMessageNotFound.Wrap(originalErr)

	unwrapped := errors.Unwrap(appErr)
	if unwrapped != originalErr {
		t.Error("Expected unwrapped error to be the original error")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   *AppError
		expected bool
	}{
		{
			name:     "same error",
			err:      ErrMessageNotFound,
			target:   ErrMessageNotFound,
			expected: true,
		},
		{
			name:     "wrapped same error",
			err:      ErrMessageNotFound.Wrap(errors.New("wrapped")),
			target:   ErrMessageNotFound,
			expected: true,
		},
		{
			name:     "different error",
			err:      ErrNotParticipant,
			target:   ErrMessageNotFound,
			expected: false,
		},
		{
			name:     "non-app error",
			err:      errors.New("standard error"),
			target:   ErrMessageNotFound,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.target); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "app error",
			err:      ErrMessageNotFound,
			expected: CodeMessageNotFound,
		},
		{
			name:     "wrapped app error",
			err:      ErrNotSender.Wrap(errors.New("wrapped")),
			expected: CodeNotSender,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: CodeServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		forbidden  bool
		notFound   bool
		upstream   bool
	}{
		{name: "validation", err: ErrEmptyContent, validation: true},
		{name: "forbidden", err: ErrNotParticipant, forbidden: true},
		{name: "not found", err: ErrConversationNotFound, notFound: true},
		{name: "upstream", err: ErrDBError.Wrap(errors.New("conn refused")), upstream: true},
		{name: "standard error defaults to upstream", err: errors.New("boom"), upstream: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidation(tt.err); got != tt.validation {
				t.Errorf("IsValidation: expected %v, got %v", tt.validation, got)
			}
			if got := IsForbidden(tt.err); got != tt.forbidden {
				t.Errorf("IsForbidden: expected %v, got %v", tt.forbidden, got)
			}
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound: expected %v, got %v", tt.notFound, got)
			}
			if got := IsUpstream(tt.err); got != tt.upstream {
				t.Errorf("IsUpstream: expected %v, got %v", tt.upstream, got)
			}
		})
	}
}

func TestPredefinedErrors(t *testing.T) {
	// 验证预定义错误的 Code 是否正确
	predefinedErrors := map[*AppError]int{
		ErrInvalidParams:        CodeInvalidParams,
		ErrEmptyContent:         CodeEmptyContent,
		ErrInvalidMediaURL:      CodeInvalidMediaURL,
		ErrMalformedPacket:      CodeMalformedPacket,
		ErrInvalidCursor:        CodeInvalidCursor,
		ErrNotParticipant:       CodeNotParticipant,
		ErrNotSender:            CodeNotSender,
		ErrCapabilityDenied:     CodeCapabilityDenied,
		ErrTokenInvalid:         CodeTokenInvalid,
		ErrTokenExpired:         CodeTokenExpired,
		ErrNotAuthed:            CodeNotAuthed,
		ErrMessageNotFound:      CodeMessageNotFound,
		ErrConversationNotFound: CodeConversationNotFound,
		ErrServerError:          CodeServerError,
		ErrDBError:              CodeDBError,
		ErrUpstreamError:        CodeUpstreamError,
	}

	for err, expectedCode := range predefinedErrors {
		if err.Code != expectedCode {
			t.Errorf("Error %s: expected code %d, got %d", err.Message, expectedCode, err.Code)
		}
	}
}
