package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"secure-auth/internal/session"
	"secure-auth/internal/telemetry"
)

// NewRouter configura el router de Gin con middlewares y rutas de cuenta.
func NewRouter(
	logger *zap.Logger,
	accountH *AccountHandler,
	sessions *session.Issuer,
) *gin.Engine {
	r := gin.New()

	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), metricsMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	account := r.Group("/account", jsonContentTypeMiddleware())
	account.POST("/register", accountH.Register)
	account.GET("/confirm-email", accountH.ConfirmEmail)
	account.GET("/confirmemail", accountH.ConfirmEmail)
	account.POST("/resend-confirmation", accountH.ResendConfirmation)
	account.POST("/login", accountH.Login)
	account.POST("/forgotpassword", accountH.ForgotPassword)
	account.POST("/resetpassword", accountH.ResetPassword)
	account.POST("/google-login", accountH.GoogleLogin)
	account.POST("/googlelogin", accountH.GoogleLogin)

	authed := account.Group("", RequireSession(sessions))
	authed.POST("/change-password", accountH.ChangePassword)
	authed.GET("/me", accountH.Me)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// metricsMiddleware usa la ruta registrada como etiqueta para no explotar la cardinalidad.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		telemetry.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
