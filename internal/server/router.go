package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/worship-room/internal/auth"
	"github.com/worship-room/internal/config"
	"github.com/worship-room/internal/room"
	"github.com/worship-room/internal/ws"
	"github.com/worship-room/pkg/jwt"
)

// NewRouter mounts the health check, the auth endpoints and the protected
// room API and websocket under /api/v1.
func NewRouter(cfg *config.Config, logger zerolog.Logger, svc *room.Service, hub *ws.Hub, signer *jwt.Signer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	addHealth(r)

	v1 := r.Group("/api/v1")
	auth.NewHandler(signer, cfg.App.IsDevelop()).RegisterRoutes(v1)

	protected := v1.Group("/")
	protected.Use(auth.Middleware(signer))
	{
		room.NewHandler(svc).RegisterRoutes(protected)
		protected.GET("/ws/:roomId", hub.Handler(svc))
	}
	return r
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
}

// requestLogger attaches logger to the request context and logs each
// request once it completes.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()

		event := logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("user_id", c.GetString("user_id")).
			Msg("request")
	}
}
