// Package ctx carries the request-scoped logger and id through echo handlers.
package ctx

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Context wraps echo.Context with a request-scoped sugared logger and the
// generated request id. Installed by the track middleware; handlers downcast
// with c.(*ctx.Context).
type Context struct {
	echo.Context
	Log   *zap.SugaredLogger
	Reqid string
}
