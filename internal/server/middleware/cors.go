package middleware

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

type CORSConfig struct {
	AllowOrigin  *regexp.Regexp
	AllowMethods []string
	AllowHeaders []string
	MaxAge       int
}

var DefaultCORSConfig = CORSConfig{
	AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, XRequestID},
	MaxAge:       600,
}

// CORS answers browsers whose origin matches pattern.
func CORS(pattern *regexp.Regexp) echo.MiddlewareFunc {
	conf := DefaultCORSConfig
	conf.AllowOrigin = pattern
	return CORSWithConfig(conf)
}

func CORSWithConfig(conf CORSConfig) echo.MiddlewareFunc {
	methods := strings.Join(conf.AllowMethods, ", ")
	headers := strings.Join(conf.AllowHeaders, ", ")
	maxAge := strconv.Itoa(conf.MaxAge)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Add(echo.HeaderVary, echo.HeaderOrigin)

			origin := c.Request().Header.Get(echo.HeaderOrigin)
			if origin == "" || conf.AllowOrigin == nil || !conf.AllowOrigin.MatchString(origin) {
				return next(c)
			}
			h.Set(echo.HeaderAccessControlAllowOrigin, origin)
			h.Set(echo.HeaderAccessControlExposeHeaders, XRequestID)
			if c.Request().Method != http.MethodOptions {
				return next(c)
			}

			h.Set(echo.HeaderAccessControlAllowMethods, methods)
			h.Set(echo.HeaderAccessControlAllowHeaders, headers)
			if conf.MaxAge > 0 {
				h.Set(echo.HeaderAccessControlMaxAge, maxAge)
			}
			return c.NoContent(http.StatusNoContent)
		}
	}
}
