package api

import (
	"github.com/gin-gonic/gin"
	"github.com/wfunc/loci-palace/internal/anchor"
	"github.com/wfunc/loci-palace/internal/experience"
	"github.com/wfunc/loci-palace/internal/game"
	"github.com/wfunc/loci-palace/internal/middleware"
	"github.com/wfunc/loci-palace/internal/repository"
	"github.com/wfunc/loci-palace/internal/service"
	ws "github.com/wfunc/loci-palace/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RouterConfig 路由器依赖
type RouterConfig struct {
	DB          *gorm.DB
	AuthService service.AuthService
	Sessions    *game.SessionManager
	Hub         *ws.Hub
	Standings   repository.StandingRepository
	Experiences experience.Store
	// Platform/AnchorConfig 抹除体验时连带擦掉平台侧锚点
	Platform     anchor.Platform
	AnchorConfig anchor.Config
	Log          *zap.Logger
}

// Router API路由器
type Router struct {
	engine            *gin.Engine
	db                *gorm.DB
	authHandler       *AuthHandler
	sessionHandler    *SessionHandler
	standingHandler   *StandingHandler
	experienceHandler *ExperienceHandler
	wsHandler         *WebSocketHandler
	authMiddleware    *middleware.AuthMiddleware
	log               *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(cfg *RouterConfig) *Router {
	// 创建Gin引擎
	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	router := &Router{
		engine:            engine,
		db:                cfg.DB,
		authHandler:       NewAuthHandler(cfg.AuthService),
		sessionHandler:    NewSessionHandler(cfg.Sessions, cfg.Log),
		standingHandler:   NewStandingHandler(cfg.Standings, cfg.Log),
		experienceHandler: NewExperienceHandler(cfg.Experiences, cfg.Platform, cfg.AnchorConfig, cfg.Log),
		wsHandler:         NewWebSocketHandler(cfg.Hub, cfg.Log),
		authMiddleware:    middleware.NewAuthMiddleware(cfg.AuthService),
		log:               cfg.Log,
	}

	// 设置路由
	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		// 认证相关路由（不需要认证）
		auth := v1.Group("/auth")
		{
			auth.POST("/login", r.authHandler.Login)
			auth.POST("/refresh", r.authHandler.RefreshToken)
		}

		// 会话相关路由（需要认证）
		sessions := v1.Group("/sessions")
		sessions.Use(r.authMiddleware.RequireAuth())
		{
			sessions.POST("", r.sessionHandler.CreateSession)
			sessions.GET("/:id", r.sessionHandler.GetSession)
			sessions.DELETE("/:id", r.sessionHandler.DeleteSession)
			sessions.POST("/:id/phase", r.sessionHandler.ChangePhase)
			sessions.GET("/:id/magnets", r.sessionHandler.GetMagnets)
			sessions.POST("/:id/concepts", r.sessionHandler.RegisterConcept)
			sessions.GET("/:id/standings", r.sessionHandler.GetStandings)
		}

		// 全局排行榜，读不需要认证
		standings := v1.Group("/standings")
		{
			standings.GET("", r.standingHandler.List)

			admin := standings.Group("")
			admin.Use(r.authMiddleware.RequireRole(service.OperatorRole))
			{
				admin.DELETE("/:username", r.standingHandler.DeleteStanding)
			}
		}

		// 体验存档管理（仅运维角色）
		experiences := v1.Group("/experiences")
		experiences.Use(r.authMiddleware.RequireRole(service.OperatorRole))
		{
			experiences.GET("", r.experienceHandler.ListExperiences)
			experiences.DELETE("", r.experienceHandler.EraseExperiences)
		}
	}

	// WebSocket路由，令牌放query里，握手前OptionalAuth提取
	wsGroup := r.engine.Group("/ws")
	wsGroup.Use(r.authMiddleware.OptionalAuth())
	{
		wsGroup.GET("/game", r.wsHandler.GameWebSocket)
	}

	// 静态文件服务
	r.engine.Static("/static", "./static")

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	// 检查数据库连接
	sqlDB, err := r.db.DB()
	if err != nil {
		c.JSON(500, gin.H{
			"status":  "unhealthy",
			"message": "数据库连接失败",
		})
		return
	}

	if err := sqlDB.Ping(); err != nil {
		c.JSON(500, gin.H{
			"status":  "unhealthy",
			"message": "数据库ping失败",
		})
		return
	}

	c.JSON(200, gin.H{
		"status":  "healthy",
		"message": "服务运行正常",
	})
}

// Run 运行服务器
func (r *Router) Run(addr string) error {
	r.log.Info("Starting API server", zap.String("address", addr))
	return r.engine.Run(addr)
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
