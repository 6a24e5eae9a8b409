package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// maxLoggedBody caps logged bodies; change batches can be large.
const maxLoggedBody = 4 << 10

type LogRequestConfig struct {
	Logger       Logger
	Enabled      func(c echo.Context) bool
	RequestBody  func(c echo.Context) bool
	ResponseBody func(c echo.Context) bool
	ParamValues  func(c echo.Context) bool
}

type bodyDumpWriter struct {
	io.Writer
	http.ResponseWriter
}

// LogRequest writes one line per request: info below 400, warn below 500,
// error above. JSON bodies are included up to maxLoggedBody.
func LogRequest(conf LogRequestConfig) echo.MiddlewareFunc {
	if conf.Logger == nil {
		panic("LogRequest requires a Logger")
	}
	always := func(echo.Context) bool { return true }
	if conf.Enabled == nil {
		conf.Enabled = always
	}
	if conf.RequestBody == nil {
		conf.RequestBody = always
	}
	if conf.ResponseBody == nil {
		conf.ResponseBody = always
	}
	if conf.ParamValues == nil {
		conf.ParamValues = always
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !conf.Enabled(c) {
				return next(c)
			}
			start := time.Now()
			req := c.Request()
			res := c.Response()

			var reqBody []byte
			logReqBody := conf.RequestBody(c) && isJSON(req.Header.Get(echo.HeaderContentType))
			if logReqBody {
				reqBody, _ = io.ReadAll(req.Body)
				req.Body = io.NopCloser(bytes.NewReader(reqBody))
			}
			var resBuf bytes.Buffer
			logResBody := conf.ResponseBody(c)
			if logResBody {
				res.Writer = &bodyDumpWriter{Writer: io.MultiWriter(res.Writer, &resBuf), ResponseWriter: res.Writer}
			}

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			args := []interface{}{
				"status", res.Status,
				"method", req.Method,
				"uri", req.RequestURI,
				"latency_ms", time.Since(start).Milliseconds(),
				"real_ip", c.RealIP(),
				"request_id", GetRequestID(c),
			}
			if conf.ParamValues(c) && len(c.ParamNames()) > 0 {
				params := make(map[string]string, len(c.ParamNames()))
				for _, name := range c.ParamNames() {
					params[name] = c.Param(name)
				}
				args = append(args, "params", params)
			}
			if logReqBody && len(reqBody) > 0 {
				args = append(args, "request_body", loggedBody(reqBody))
			}
			if logResBody && isJSON(res.Header().Get(echo.HeaderContentType)) {
				args = append(args, "response_body", loggedBody(resBuf.Bytes()))
			}

			switch {
			case res.Status >= http.StatusInternalServerError:
				if err != nil {
					args = append(args, "error", err.Error())
				}
				conf.Logger.Errorw("request", args...)
			case res.Status >= http.StatusBadRequest:
				conf.Logger.Warnw("request", args...)
			default:
				conf.Logger.Infow("request", args...)
			}
			return err
		}
	}
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(contentType, echo.MIMEApplicationJSON)
}

// loggedBody keeps small bodies as raw JSON and truncates the rest.
func loggedBody(b []byte) interface{} {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "...(truncated)"
	}
	if !json.Valid(b) {
		return string(b)
	}
	return json.RawMessage(b)
}

func (w *bodyDumpWriter) WriteHeader(code int) {
	w.ResponseWriter.WriteHeader(code)
}

func (w *bodyDumpWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func (w *bodyDumpWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *bodyDumpWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.ResponseWriter.(http.Hijacker).Hijack()
}
