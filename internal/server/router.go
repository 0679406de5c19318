package server

import (
	"net/http"
	"time"

	"dmchat/internal/auth"
	"dmchat/internal/config"
	"dmchat/internal/metrics"
	"dmchat/internal/mw"
	"dmchat/internal/presence"
	"dmchat/internal/service"
	"dmchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 是组合根：显式构造 service 依赖链并挂载全部路由。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *ws.Hub, pres *presence.Store) *gin.Engine {
	userSvc := service.NewUserService(db, cfg)
	roomSvc := service.NewRoomService(db)
	msgSvc := service.NewMessageService(db, roomSvc)
	h := NewHandler(userSvc, roomSvc, msgSvc, pres, hub)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))

	authed.GET("/users/me", h.Me)
	authed.PATCH("/users/me", h.UpdateMe)
	authed.GET("/users/:id", h.GetUser)

	msgs := authed.Group("/messages")
	msgs.POST("", h.CreateMessage)
	msgs.GET("/room/:roomId", h.ListMessages)
	msgs.PATCH("/:id", h.EditMessage)
	msgs.DELETE("/:id", h.DeleteMessage)
	msgs.POST("/rooms/direct", h.CreateDirectRoom)
	msgs.GET("/rooms", h.ListRooms)
	msgs.GET("/rooms/:id", h.GetRoom)
	msgs.POST("/rooms/:id/members", h.AddMember)
	msgs.DELETE("/rooms/:id/leave", h.LeaveRoom)
	msgs.DELETE("/rooms/:id", h.DeleteRoom)
	msgs.GET("/online-users", h.OnlineUsers)

	r.GET("/ws", ws.Serve(hub, db, cfg, pres, roomSvc, msgSvc))

	return r
}
