package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/loci-palace/internal/anchor"
	"github.com/wfunc/loci-palace/internal/api"
	"github.com/wfunc/loci-palace/internal/config"
	"github.com/wfunc/loci-palace/internal/database"
	"github.com/wfunc/loci-palace/internal/errors"
	"github.com/wfunc/loci-palace/internal/experience"
	"github.com/wfunc/loci-palace/internal/game"
	"github.com/wfunc/loci-palace/internal/geometry"
	"github.com/wfunc/loci-palace/internal/logger"
	"github.com/wfunc/loci-palace/internal/object"
	"github.com/wfunc/loci-palace/internal/repository"
	"github.com/wfunc/loci-palace/internal/room"
	"github.com/wfunc/loci-palace/internal/service"
	"github.com/wfunc/loci-palace/internal/utils"
	ws "github.com/wfunc/loci-palace/internal/websocket"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务组件
	repos       *repository.Manager
	experiences experience.Store
	platform    anchor.Platform
	hub         *ws.Hub
	sessions    *game.SessionManager
	router      *api.Router
	httpServer  *http.Server

	// 关闭控制
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	// 显示版本信息
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// 显示帮助信息
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	// 设置系统参数
	setupSystem(&cfg.System)

	// 打印启动信息
	printStartInfo(cfg)

	// 创建服务器实例
	server := NewServer(cfg)

	// 启动服务器
	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	// 等待退出信号
	server.WaitForShutdown()

	// 优雅关闭
	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:        cfg,
		logger:     logger.GetLogger(),
		shutdownCh: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动记忆宫殿游戏服务器...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	// 初始化各个组件
	if err := s.initComponents(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "初始化组件失败")
	}

	// 启动各个服务
	if err := s.startServices(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "启动服务失败")
	}

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)))

	return nil
}

// initComponents 初始化组件
func (s *Server) initComponents() error {
	s.logger.Info("初始化组件...")

	// 初始化数据库
	if err := s.initDatabase(); err != nil {
		return err
	}

	s.repos = repository.NewManager(database.GetDB())
	s.experiences = experience.NewFileStore(s.cfg.Game.Loci.ExperienceFile, s.logger)

	// 锚点平台整个进程共享，同一局重开时才能找回已物化的锚点
	s.platform = anchor.NewMemoryPlatform()

	// WebSocket中心与游戏事件桥
	s.hub = ws.NewHub(s.logger)

	// 会话管理器
	s.sessions = game.NewSessionManager(&game.SessionManagerConfig{
		Logger:         s.logger,
		Persister:      game.NewDatabasePhasePersister(database.GetDB()),
		Factory:        s.managerFactory(),
		SessionTimeout: s.cfg.Game.Session.Timeout,
		MaxSessions:    s.cfg.Game.Session.MaxSessions,
	})

	// 客户端消息经Hub转发给游戏会话
	ws.NewLociHandler(s.hub, s.sessions, s.logger)

	// 认证
	jwtManager := utils.NewJWTManager(
		s.cfg.Security.JWT.Secret,
		time.Duration(s.cfg.Security.JWT.ExpireHours)*time.Hour,
		time.Duration(s.cfg.Security.JWT.RefreshHours)*time.Hour,
	)
	authService := service.NewAuthService(s.cfg.Security.Operator, jwtManager, s.logger)

	// 路由
	s.router = api.NewRouter(&api.RouterConfig{
		DB:          database.GetDB(),
		AuthService: authService,
		Sessions:    s.sessions,
		Hub:         s.hub,
		Standings:    s.repos.Standing(),
		Experiences:  s.experiences,
		Platform:     s.platform,
		AnchorConfig: s.anchorConfig(),
		Log:          s.logger,
	})

	s.logger.Info("所有组件初始化完成")
	return nil
}

// managerFactory 按会话装配一局游戏
func (s *Server) managerFactory() game.ManagerFactory {
	return func(sessionID, userID string, r *room.Room) (*game.LociManager, error) {
		lociCfg := s.lociConfig()

		if area := r.Area(); area < s.cfg.Game.Loci.MinRoomArea {
			return nil, errors.New(errors.ErrRoomAreaInvalid,
				fmt.Sprintf("房间面积 %.1f㎡ 小于下限 %.1f㎡", area, s.cfg.Game.Loci.MinRoomArea))
		}

		key := experience.Key{
			RoomCode:     r.Code,
			UserID:       userID,
			ExperienceID: sessionID,
		}
		anchors := anchor.NewManager(s.platform, s.experiences, key, s.anchorConfig(), s.logger)

		clock := game.NewRealClock()
		scheduler := game.NewScheduler(clock, s.logger)
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))

		bus := game.NewEventBus()
		bus.Subscribe(ws.NewEventBridge(s.hub))

		return game.NewLociManager(lociCfg, game.LociManagerDeps{
			SessionID: sessionID,
			UserID:    userID,
			Room:      r,
			Registry:  object.NewRegistry(s.logger),
			Anchors:   anchors,
			Placer:    game.NewPlacer(r, rng, s.logger),
			Scheduler: scheduler,
			Dialogs:   game.NewDialogCenter(scheduler, s.cfg.Game.Dialog.AutoDismiss, s.logger),
			Bus:       bus,
			Standings: game.NewRepositoryStandings(s.repos.Standing()),
			Clock:     clock,
			RNG:       rng,
			Logger:    s.logger,
		}), nil
	}
}

// anchorConfig 锚点管理器配置，会话装配和体验抹除共用
func (s *Server) anchorConfig() anchor.Config {
	return anchor.Config{
		EraseChunkSize:  s.cfg.Anchor.EraseChunkSize,
		LoadChunkSize:   s.cfg.Anchor.LoadChunkSize,
		LocalizeTimeout: s.cfg.Anchor.LocalizeTimeout,
	}
}

// lociConfig 把配置文件里的玩法参数转成一局参数
func (s *Server) lociConfig() game.LociConfig {
	c := s.cfg.Game.Loci
	size := c.MagnetSize
	if size <= 0 {
		size = 0.1
	}
	return game.LociConfig{
		MagnetCount:         c.MagnetCount,
		MagnetBounds:        geometry.NewBounds(geometry.Vec3{}, geometry.Vec3{X: size, Y: size, Z: size}),
		AttachDistance:      c.AttachDistance,
		TableClearance:      c.TableClearance,
		MainPhaseDuration:   c.MainPhaseDuration,
		WrongDetachDelay:    c.WrongDetachDelay,
		IdlePenaltyInterval: c.IdlePenaltyInterval.Seconds(),
		UseRoomAreaTime:     c.UseRoomAreaTime,
		StandingsPageSize:   s.cfg.Game.Standings.PageSize,
	}
}

// initDatabase 初始化数据库
func (s *Server) initDatabase() error {
	s.logger.Info("初始化数据库...")

	// 初始化数据库连接
	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	// 自动迁移数据库
	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	// 检查数据库连接
	if !database.IsConnected() {
		return errors.New(errors.ErrDatabaseConnect, "数据库连接检查失败")
	}

	s.logger.Info("数据库初始化完成")
	return nil
}

// startServices 启动服务
func (s *Server) startServices() error {
	s.logger.Info("启动服务...")

	// WebSocket消息泵
	go s.hub.Run()

	// 不活跃会话回收
	s.sessions.StartCleanupTask(s.ctx, s.cfg.Game.Session.CleanupInterval)

	// HTTP服务器
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.router.GetEngine(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP服务监听中", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()

	s.logger.Info("所有服务启动完成")
	return nil
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	// 创建信号通道
	sigCh := make(chan os.Signal, 1)

	// 监听系统信号
	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
		syscall.SIGQUIT, // Ctrl+\
	)

	// 等待信号
	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))

	// 发送关闭信号
	close(s.shutdownCh)
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	// 创建超时上下文
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接收新请求
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP服务关闭失败", zap.Error(err))
		}
	}

	// 在线会话落一份最终快照
	s.saveAllSnapshots(shutdownCtx)

	// 取消主上下文，触发所有goroutine退出
	s.cancel()

	// 等待所有服务关闭
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	// 等待关闭完成或超时
	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return errors.New(errors.ErrTimeout, "关闭超时")
	}

	// 关闭各个组件
	if err := s.closeComponents(); err != nil {
		s.logger.Error("关闭组件失败", zap.Error(err))
		return err
	}

	// 同步日志
	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}

	return nil
}

// saveAllSnapshots 关机前保存全部会话快照
func (s *Server) saveAllSnapshots(ctx context.Context) {
	if s.sessions == nil {
		return
	}
	for _, id := range s.sessions.SessionIDs() {
		if err := s.sessions.SaveSnapshot(ctx, id); err != nil {
			s.logger.Warn("保存会话快照失败",
				zap.String("session_id", id),
				zap.Error(err))
		}
	}
}

// closeComponents 关闭组件
func (s *Server) closeComponents() error {
	s.logger.Info("关闭组件...")

	// 关闭数据库连接
	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}

	s.logger.Info("所有组件已关闭")
	return nil
}

// reloadConfig 重新加载配置
func (s *Server) reloadConfig(newCfg *config.Config) {
	s.cfg = newCfg

	// 新配置只影响之后创建的会话，进行中的一局参数不变

	s.logger.Info("配置重新加载完成")
}

// setupSystem 设置系统参数
func setupSystem(cfg *config.SystemConfig) {
	// 设置时区
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			time.Local = loc
		}
	}

	// 设置最大处理器数
	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}

	// 设置文件描述符限制（Unix系统）
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err == nil {
		rLimit.Cur = rLimit.Max
		syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("记忆宫殿游戏服务器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("记忆宫殿游戏服务器")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  loci-palace-server [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  LOCI_PALACE_SERVER_MODE    运行模式 (development/production/test)")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  loci-palace-server -config=/path/to/config.yaml")
	fmt.Println("  loci-palace-server -version")
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	banner := `
╔═══════════════════════════════════════════════════════╗
║                                                       ║
║    _                _   ____       _                  ║
║   | |    ___   ___ (_) |  _ \ __ _| | __ _  ___ ___   ║
║   | |   / _ \ / __|| | | |_) / _` + "`" + ` | |/ _` + "`" + ` |/ __/ _ \  ║
║   | |__| (_) | (__ | | |  __/ (_| | | (_| | (_|  __/  ║
║   |_____\___/ \___||_| |_|   \__,_|_|\__,_|\___\___|  ║
║                                                       ║
║                记忆宫殿游戏后端服务器                 ║
║                                                       ║
╚═══════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
	fmt.Printf("版本: %s | 模式: %s | PID: %d\n", Version, cfg.Server.Mode, os.Getpid())
	fmt.Println("═══════════════════════════════════════════════════════════════")
}
