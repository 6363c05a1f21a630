package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestKindOf tests error kind classification
func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{
			name:     "Nil",
			err:      nil,
			expected: "",
		},
		{
			name:     "Invalid",
			err:      Invalid("bad argument"),
			expected: InvalidInput,
		},
		{
			name:     "Missing",
			err:      Missing("entity Person/p1"),
			expected: NotFound,
		},
		{
			name:     "Duplicated",
			err:      Duplicated("entity Person/p1 exists"),
			expected: Duplicate,
		},
		{
			name:     "Unavailable",
			err:      Unavailable(errors.New("connection refused"), "neo4j down"),
			expected: BackendUnavailable,
		},
		{
			name:     "PlainError",
			err:      errors.New("something broke"),
			expected: Internal,
		},
		{
			name:     "WrappedWithFmt",
			err:      fmt.Errorf("handler: %w", Blocked("vault unwritable")),
			expected: GovernanceBlocked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

// TestUnwrap tests that the cause stays reachable through errors.Is
func TestUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := Unavailable(cause, "graph connection lost")

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, errors.Unwrap(err))
}

// TestIsKind tests kind matching through wrapping layers
func TestIsKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", Expired(errors.New("deadline"), "query timed out"))

	assert.True(t, IsKind(err, Timeout))
	assert.False(t, IsKind(err, NotFound))
}

// TestRetryable tests the retry policy per taxonomy kind
func TestRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "Timeout", err: Expired(nil, "t"), retryable: true},
		{name: "Unavailable", err: Unavailable(nil, "u"), retryable: true},
		{name: "InvalidInput", err: Invalid("i"), retryable: false},
		{name: "NotFound", err: Missing("n"), retryable: false},
		{name: "Blocked", err: Blocked("b"), retryable: false},
		{name: "BadRecord", err: BadRecord("r"), retryable: false},
		{name: "Internal", err: Unexpected(nil, "x"), retryable: false},
		{name: "Nil", err: nil, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, Retryable(tt.err))
		})
	}
}

// TestHTTPStatus tests the taxonomy to status code mapping
func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "InvalidInput", err: Invalid("i"), expected: http.StatusBadRequest},
		{name: "NotFound", err: Missing("n"), expected: http.StatusNotFound},
		{name: "Blocked", err: Blocked("b"), expected: http.StatusLocked},
		{name: "Unavailable", err: Unavailable(nil, "u"), expected: http.StatusServiceUnavailable},
		{name: "Timeout", err: Expired(nil, "t"), expected: http.StatusServiceUnavailable},
		{name: "Duplicate", err: Duplicated("d"), expected: http.StatusInternalServerError},
		{name: "BadRecord", err: BadRecord("r"), expected: http.StatusInternalServerError},
		{name: "Plain", err: errors.New("x"), expected: http.StatusInternalServerError},
		{name: "Nil", err: nil, expected: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}

// TestErrorString tests the rendered message
func TestErrorString(t *testing.T) {
	err := Wrap(NotFound, errors.New("no rows"), "entity %s/%s", "Person", "p1")
	assert.Contains(t, err.Error(), "not_found")
	assert.Contains(t, err.Error(), "Person/p1")
	assert.Contains(t, err.Error(), "no rows")
}
