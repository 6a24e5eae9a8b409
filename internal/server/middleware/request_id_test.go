package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	serve := func(t *testing.T, header, value string) (*httptest.ResponseRecorder, string) {
		t.Helper()
		e := echo.New()
		var seen string
		e.GET("/", func(c echo.Context) error {
			seen = RequestIDFromContext(c.Request().Context())
			assert.Equal(t, seen, c.Get(XRequestID))
			return c.NoContent(http.StatusOK)
		})
		e.Use(RequestIDWithConfig(RequestIDConfig{Generator: func() string { return "generated" }}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set(header, value)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		return rec, seen
	}

	t.Run("keeps the caller id", func(t *testing.T) {
		rec, seen := serve(t, XRequestID, "req-1")
		assert.Equal(t, "req-1", seen)
		assert.Equal(t, "req-1", rec.Header().Get(XRequestID))
	})

	t.Run("accepts a correlation id", func(t *testing.T) {
		rec, seen := serve(t, XCorrelationID, "corr-1")
		assert.Equal(t, "corr-1", seen)
		assert.Equal(t, "corr-1", rec.Header().Get(XRequestID))
	})

	t.Run("generates one when absent", func(t *testing.T) {
		rec, seen := serve(t, "", "")
		assert.Equal(t, "generated", seen)
		assert.Equal(t, "generated", rec.Header().Get(XRequestID))
	})
}
