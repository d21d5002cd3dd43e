package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderAuthorization},
		ExposeHeaders: []string{echo.HeaderContentDisposition, "X-Downloads-Count"},
	}))
	e.Use(RequestLogger())

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	files := e.Group("/api/files")
	files.POST("/upload", handler.HandleUpload)
	files.GET("/info/:token", handler.HandleInfo)
	files.GET("/download/:token", handler.HandleDownload)
	files.GET("/user/:owner", handler.HandleListByOwner)
	files.POST("/transfer/:from/:to", handler.HandleTransfer)
	files.PATCH("/:token", handler.HandleUpdatePolicy)
	files.DELETE("/:token", handler.HandleDelete)

	return e
}
