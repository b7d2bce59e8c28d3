package server

import (
	"net/http"
	"time"

	"github.com/UlleongUlleong/server-sub000/internal/config"
	"github.com/UlleongUlleong/server-sub000/internal/directory"
	"github.com/UlleongUlleong/server-sub000/internal/metrics"
	"github.com/UlleongUlleong/server-sub000/internal/mw"
	"github.com/UlleongUlleong/server-sub000/internal/token"
	"github.com/UlleongUlleong/server-sub000/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// AuthMiddleware 校验 Bearer access token 并确认账号可用。
func AuthMiddleware(tokens *token.Manager, dir *directory.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := tokens.Parse(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		user, err := dir.ActiveUser(claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		c.Set("userID", user.ID)
		c.Next()
	}
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, h *Handler, tokens *token.Manager, dir *directory.Directory, gw *ws.Gateway) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率，避免认证接口被刷爆。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)
	api.POST("/auth/email/request", h.RequestVerification)
	api.POST("/auth/email/verify", h.ConfirmVerification)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(AuthMiddleware(tokens, dir))
	authed.POST("/auth/logout", h.Logout)
	authed.GET("/rooms", h.ListRooms)
	authed.GET("/themes", h.ListThemes)
	authed.GET("/categories", h.ListCategories)

	r.GET("/ws", ws.Serve(gw))

	return r
}
