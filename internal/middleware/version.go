package middleware

import (
	"github.com/labstack/echo/v4"
)

// VersionHeader stamps responses with the API version and the build that served them.
func VersionHeader(apiVersion, build string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-API-Version", apiVersion)
			if build != "" {
				c.Response().Header().Set("X-Build-Version", build)
			}
			return next(c)
		}
	}
}

// VersionRoute creates a version-prefixed route group carrying the version header.
func VersionRoute(e *echo.Echo, apiVersion, build string, m ...echo.MiddlewareFunc) *echo.Group {
	return e.Group("/"+apiVersion, append([]echo.MiddlewareFunc{VersionHeader(apiVersion, build)}, m...)...)
}
