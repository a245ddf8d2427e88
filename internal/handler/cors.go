package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// setCORS applies the permissive policy media players need to read proxied
// playlists, segments and images from any page.
func setCORS(h http.Header) {
	h.Set(echo.HeaderAccessControlAllowOrigin, "*")
	h.Set(echo.HeaderAccessControlAllowMethods, "GET, OPTIONS")
	h.Set(echo.HeaderAccessControlAllowHeaders, "*")
	h.Set(echo.HeaderAccessControlExposeHeaders, "*")
}

// Preflight answers CORS preflight requests for the proxy routes.
func Preflight(c echo.Context) error {
	setCORS(c.Response().Header())
	return c.NoContent(http.StatusOK)
}
