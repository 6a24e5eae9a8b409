package middleware

import (
	"fmt"
	"net/http"
	"reflect"

	"github.com/cstockton/go-conv"
	"github.com/labstack/echo/v4"
)

// BindAndValidate fills req from the path params, query, body and the
// fields tagged `header:"name"`, then validates it. Both failures answer
// bad request.
func BindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	if err := bindHeader(c.Request().Header, req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// bindHeader converts header values into the tagged fields of the struct
// dst points to. Absent headers leave the field untouched.
func bindHeader(header http.Header, dst interface{}) error {
	ptr := reflect.ValueOf(dst)
	if ptr.Kind() != reflect.Ptr {
		return fmt.Errorf("bind header: %T is not a pointer", dst)
	}
	v := ptr.Elem()
	if v.Kind() != reflect.Struct {
		return nil
	}

	t := v.Type()
	for i := range t.NumField() {
		name := t.Field(i).Tag.Get("header")
		if name == "" || name == "-" {
			continue
		}
		raw := header.Get(name)
		if raw == "" {
			continue
		}
		if err := conv.Infer(v.Field(i), raw); err != nil {
			return fmt.Errorf("header %s: cannot convert %q to %s: %w", name, raw, v.Field(i).Type(), err)
		}
	}
	return nil
}
