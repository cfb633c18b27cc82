package api

import (
	"fmt"
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/aegis-siem/aegis/pkg/services"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "validation error maps to 400",
			err:        services.NewValidationError("source", "missing field"),
			expectCode: http.StatusBadRequest,
			expectMsg:  "missing field",
		},
		{
			name:       "invalid input maps to 400",
			err:        fmt.Errorf("wrapped: %w", services.ErrInvalidInput),
			expectCode: http.StatusBadRequest,
			expectMsg:  "invalid input",
		},
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", services.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "blocked maps to 403",
			err:        fmt.Errorf("%w: 10.0.0.9", services.ErrBlocked),
			expectCode: http.StatusForbidden,
			expectMsg:  "source address is blocked",
		},
		{
			name:       "rate limited maps to 429",
			err:        fmt.Errorf("%w: 10.0.0.9 sent 1001 requests this minute", services.ErrRateLimited),
			expectCode: http.StatusTooManyRequests,
			expectMsg:  "rate limit exceeded",
		},
		{
			name:       "unavailable maps to 503",
			err:        fmt.Errorf("%w: blocklist check: connection refused", services.ErrUnavailable),
			expectCode: http.StatusServiceUnavailable,
			expectMsg:  "backing service unavailable",
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.IsType(t, &echo.HTTPError{}, he)
			assert.Equal(t, tt.expectCode, he.Code)
			assert.Contains(t, he.Error(), tt.expectMsg)
		})
	}
}
