package omega

import (
	"errors"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"hivehub.dev/common"
	"hivehub.dev/fault"
)

// Middleware journals http_request and http_request_result records
// around each request, blocking it when the pre-record cannot be written
// under the configured policy. Install it on dispatch routes only; probe
// and scrape endpoints stay outside governance.
func (o *Omega) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			action := c.Request().Method + " " + c.Request().URL.Path

			if err := o.PreCheck(); err != nil {
				return err
			}
			pre := NewRecord(TypeHTTPRequest, "http", action, map[string]interface{}{
				"remote_ip":  c.RealIP(),
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			})
			if _, err := o.Commit(pre); err != nil {
				return err
			}

			err := next(c)

			data := map[string]interface{}{"status": c.Response().Status}
			if err != nil {
				data["error"] = err.Error()
				var he *echo.HTTPError
				if errors.As(err, &he) {
					data["status"] = he.Code
				} else {
					data["status"] = fault.HTTPStatus(err)
				}
			}
			post := NewRecord(TypeHTTPRequestResult, "http", action, data)
			if _, commitErr := o.Commit(post); commitErr != nil {
				common.Logger.WithFields(logrus.Fields{
					"path":  action,
					"error": commitErr.Error(),
				}).Warn("Governance result record failed")
			}
			return err
		}
	}
}
