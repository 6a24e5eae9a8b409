package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var httpStatusByCode = map[codes.Code]int{
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.FailedPrecondition: http.StatusPreconditionFailed,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
	codes.Unimplemented:      http.StatusNotImplemented,
}

// ErrorHandler return custom http error handler.
func ErrorHandler(log Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if err == nil || c.Response().Committed {
			return
		}

		resp := &ResponseError{
			Status:       http.StatusInternalServerError,
			Success:      false,
			Err:          err,
			ErrorMessage: http.StatusText(http.StatusInternalServerError),
		}

		var (
			he *echo.HTTPError
			re *ResponseError
		)
		switch {
		case errors.As(err, &he):
			resp.Status = he.Code
			resp.ErrorMessage = fmt.Sprint(he.Message)
		case errors.As(err, &re):
			resp = re
		case errors.Is(err, context.Canceled) && c.Request().Context().Err() == context.Canceled:
			// detect canceled request error
			resp.Status = 499
		default:
			if st, ok := status.FromError(err); ok {
				if code, ok := httpStatusByCode[st.Code()]; ok {
					resp.Status = code
					resp.ErrorCode = st.Code().String()
					resp.ErrorMessage = err.Error()
				}
			}
		}

		if resp.Status == http.StatusNotFound && isNotFoundHandler(c.Handler()) {
			resp.ErrorMessage = "no route matched"
		}
		if resp.Status >= http.StatusInternalServerError {
			log.Errorw("request failed", "code", resp.Status, "error", err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(resp.Status)
		} else {
			err = c.JSON(resp.Status, resp)
		}
		if err != nil {
			log.Errorw("could not response", "code", resp.Status, "response_body", resp)
		}
	}
}
