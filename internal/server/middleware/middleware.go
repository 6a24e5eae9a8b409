// Package middleware holds the echo plumbing of the host API: request ids,
// binding and validation, the response envelope, error mapping, request
// logs and metrics.
package middleware

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Skipper func(c echo.Context) bool

func skipNone(echo.Context) bool { return false }

// Logger is the subset of a sugared zap logger the middlewares write to.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// Response is the success envelope of every API route.
type Response struct {
	Status  int         `json:"-"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(data interface{}) *Response {
	return &Response{Status: http.StatusOK, Success: true, Data: data}
}

// ResponseError is the failure envelope. Handlers may return one directly
// to pick the status and code themselves.
type ResponseError struct {
	Status       int         `json:"-"`
	Err          error       `json:"-"`
	Success      bool        `json:"success"`
	ErrorCode    string      `json:"error_code,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	ErrorData    interface{} `json:"error_data,omitempty"`
}

func NewResponseError(status int, code string, err error) *ResponseError {
	return &ResponseError{
		Status:       status,
		Err:          err,
		ErrorCode:    code,
		ErrorMessage: err.Error(),
	}
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("status %d code %q: %v", e.Status, e.ErrorCode, e.Err)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}
