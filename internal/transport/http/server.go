package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/quizwire/internal/auth"
	"github.com/vovakirdan/quizwire/internal/config"
	"github.com/vovakirdan/quizwire/internal/core"
	"github.com/vovakirdan/quizwire/internal/store"
	"github.com/vovakirdan/quizwire/internal/transport/ws"
)

// Host is the hosting node as used by the control API and the WebSocket
// endpoint.
type Host interface {
	core.Sink
	AddConnection(c core.Connection) error
	Connections() []core.ConnectionInfo
	Bans() []store.Ban
	Kick(name string, permanent bool) string
	Unban(banID string) bool
}

// NewServer builds the admin HTTP server: health, login, the protected
// control API and the WebSocket peer endpoint.
func NewServer(host Host, authService *auth.Service, cfg *config.Config, wsOpts ws.Options, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	api := NewAPIHandlers(host, authService, logger)
	login := newLoginLimiter(5, 10)

	router.GET("/health", healthHandler)
	router.POST("/api/login", login.Middleware(), api.Login)

	protected := router.Group("/api", AuthMiddleware(authService, logger))
	{
		protected.GET("/connections", api.Connections)
		protected.GET("/bans", api.Bans)
		protected.POST("/kick", api.Kick)
		protected.DELETE("/bans/:id", api.Unban)
	}

	// The WebSocket upgrade hijacks the socket, which gin's writer refuses
	// once headers are set, so /ws lives on the mux beside the router.
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(host, wsOpts, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.AdminAddr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
