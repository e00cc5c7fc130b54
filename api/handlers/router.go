package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/dashboard/internal/auth"
)

// RouterConfig holds what NewRouter needs to build the HTTP surface.
type RouterConfig struct {
	Sessions SessionLister
	Conns    ConnectionHandler
	Gate     *auth.Gate
	Logger   *zap.Logger

	// StaticDir is served under / when set.
	StaticDir string

	// AuthStatic puts the static files behind the token header.
	AuthStatic bool

	// LogLevel, when set, is exposed at /api/log-level: GET reports the
	// level, PUT {"level":"debug"} changes it.
	LogLevel http.Handler
}

// NewRouter builds the gin engine: /health is open, /ws authenticates in
// its own handshake, /api requires the token header.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(RequestLogger(logger), Recovery(logger), corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	NewWebSocketHandler(cfg.Conns).RegisterRoutes(r)

	requireAuth := cfg.Gate.Middleware(rejectUnauthorized)

	api := r.Group("/api", requireAuth)
	{
		NewSessionHandler(cfg.Sessions).RegisterRoutes(api)
		if cfg.LogLevel != nil {
			api.GET("/log-level", gin.WrapH(cfg.LogLevel))
			api.PUT("/log-level", gin.WrapH(cfg.LogLevel))
		}
	}

	if cfg.StaticDir != "" {
		files := http.FileServer(http.Dir(cfg.StaticDir))
		serve := func(c *gin.Context) {
			if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
				sendError(c, http.StatusNotFound, "NOT_FOUND", "Not found")
				return
			}
			files.ServeHTTP(c.Writer, c.Request)
		}
		if cfg.AuthStatic {
			r.NoRoute(requireAuth, serve)
		} else {
			r.NoRoute(serve)
		}
	}

	return r
}

func rejectUnauthorized(c *gin.Context, status int, err error) {
	code := "FORBIDDEN"
	if status == http.StatusUnauthorized {
		code = "UNAUTHORIZED"
	}
	sendError(c, status, code, err.Error())
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}

// Recovery turns a handler panic into a 500 and logs it.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("panic in handler", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	})
}

// corsMiddleware allows the dashboard UI to be served from another origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+auth.HeaderToken)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
