package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets the response headers every endpoint must carry.
// Responses hold patient records and NHIA codes, so nothing may be cached
// or embedded by a browser.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")

			// Legacy XSS filter off; the CSP below covers it.
			h.Set("X-XSS-Protection", "0")

			// JSON only, so the page may load nothing and frame nothing.
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

			// One year of HTTPS, subdomains included.
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			// Codes and clinical data must not land in intermediary caches.
			h.Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}
