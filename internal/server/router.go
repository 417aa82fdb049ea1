package server

import (
	"net/http"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/auth"
	"github.com/PedroFSampaio/chat-interno/internal/config"
	"github.com/PedroFSampaio/chat-interno/internal/metrics"
	"github.com/PedroFSampaio/chat-interno/internal/mw"
	"github.com/PedroFSampaio/chat-interno/internal/service"
	"github.com/PedroFSampaio/chat-interno/internal/store"
	"github.com/PedroFSampaio/chat-interno/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// New 用给定的存储与广播通道组装全部服务，并返回路由。
// fan 为空时直接使用本节点的 hub。
func New(cfg config.Config, st store.Gateway, hub *ws.Hub, fan service.Fanout) *gin.Engine {
	if fan == nil {
		fan = hub
	}
	summaries := service.NewSummaryService(st, fan, cfg.StoreTimeout)
	convs := service.NewConversationService(st, summaries, cfg.StoreTimeout, "")
	msgs := service.NewMessageService(st, fan, summaries, cfg.StoreTimeout)
	users := service.NewUserService(st, cfg, hub)
	binder := auth.NewBinder(cfg.JWTSecret, st)

	h := NewHandler(users, convs, msgs, summaries)
	gw := NewGateway(binder, hub, fan, convs, msgs, cfg.WSEventsPerSecond)
	up := NewUploads(cfg.UploadDir, cfg.MaxUploadMB)
	return SetupRouter(cfg, binder, h, gw, up)
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, binder *auth.Binder, h *Handler, gw *Gateway, up *Uploads) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))
	// 控制单个 IP+路由的速率。
	r.Use(mw.RateLimit(mw.NewLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/login", h.Login)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(binder))
	authed.GET("/me", h.Me)
	authed.GET("/users", h.ListUsers)
	authed.GET("/conversations", h.ListConversations)
	authed.POST("/conversations", h.CreateConversation)
	authed.GET("/conversations/:id/messages", h.ListMessages)
	authed.GET("/support", h.Support)
	authed.POST("/upload", up.Upload)
	authed.GET("/download/:filename", up.Download)

	admin := authed.Group("/admin")
	admin.Use(auth.RequireAdmin())
	admin.POST("/users", h.CreateUser)

	r.GET("/ws", gw.Serve)
	return r
}
