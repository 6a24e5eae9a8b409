package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// WrapHandler turns a typed handler into an echo handler. The request is
// bound and validated into Req before fn runs; the result is written in the
// success envelope unless fn already committed a response.
func WrapHandler[Req, Res any](fn func(echo.Context, Req) (Res, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req Req
		if err := BindAndValidate(c, &req); err != nil {
			return err
		}
		res, err := fn(c, req)
		if err != nil {
			return err
		}
		return writeSuccess(c, res)
	}
}

// WrapAction is WrapHandler for handlers without a result.
func WrapAction[Req any](fn func(echo.Context, Req) error) echo.HandlerFunc {
	return WrapHandler(func(c echo.Context, req Req) (any, error) {
		return nil, fn(c, req)
	})
}

func writeSuccess(c echo.Context, data any) error {
	if c.Response().Committed {
		return nil
	}
	resp, ok := data.(*Response)
	if !ok {
		resp = Success(data)
	}
	if c.Request().Method == http.MethodHead {
		return c.NoContent(resp.Status)
	}
	return c.JSON(resp.Status, resp)
}
