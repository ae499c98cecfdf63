package handlers

import (
	"io"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// requestLogFormat is echo's default access log with the path in place of the
// full URI. The stream endpoint takes the ID token in its query string.
const requestLogFormat = `{"time":"${time_rfc3339_nano}","id":"${id}","remote_ip":"${remote_ip}",` +
	`"host":"${host}","method":"${method}","path":"${path}","user_agent":"${user_agent}",` +
	`"status":${status},"error":"${error}","latency":${latency},"latency_human":"${latency_human}",` +
	`"bytes_in":${bytes_in},"bytes_out":${bytes_out}}` + "\n"

// RequestLogger writes one JSON line per request to out.
func RequestLogger(out io.Writer) echo.MiddlewareFunc {
	return middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: requestLogFormat,
		Output: out,
	})
}
