// Package server - Router und Server-Struktur fuer den dfnet-Inferenzserver
// Beinhaltet: Server-Struct, NewServer, Router-Registrierung
package server

import (
	"net"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/deepfusion/dfnet/envconfig"
	"github.com/deepfusion/dfnet/runner"
	"github.com/deepfusion/dfnet/version"
)

var mode string = gin.DebugMode

// Server verbindet HTTP-Handler mit einem geladenen Runner
type Server struct {
	addr      net.Addr
	runner    *runner.Runner
	queue     *admission
	maxPixels uint64
}

func init() {
	switch mode {
	case gin.DebugMode:
	case gin.ReleaseMode:
	case gin.TestMode:
	default:
		mode = gin.DebugMode
	}

	gin.SetMode(mode)
}

// NewServer erstellt einen Server; Limits kommen aus der Umgebung
func NewServer(r *runner.Runner, addr net.Addr) *Server {
	return &Server{
		addr:      addr,
		runner:    r,
		queue:     newAdmission(envconfig.NumParallel(), envconfig.MaxQueue()),
		maxPixels: envconfig.MaxPixels(),
	}
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() (http.Handler, error) {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
		requestIDHeader,
	}
	corsConfig.ExposeHeaders = []string{requestIDHeader}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
		requestIDMiddleware(),
	)

	// General
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "dfnet is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "dfnet is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })

	// Model
	r.GET("/api/show", s.ShowHandler)
	r.POST("/api/show", s.ShowHandler)

	// Inference
	r.POST("/api/inpaint", s.InpaintHandler)
	r.POST("/api/inpaint/form", s.InpaintFormHandler)

	return r, nil
}
