package server

import (
	"context"
	"net/http"

	"photo-fusion/app/config"
	"photo-fusion/app/database"
	"photo-fusion/app/filewatcher"
	"photo-fusion/app/handler"
	"photo-fusion/app/logger"
	"photo-fusion/app/mediainfo"
	"photo-fusion/app/middleware"
	"photo-fusion/app/ml"
	"photo-fusion/app/model"
	"photo-fusion/app/plugin"
	"photo-fusion/app/service"
	"photo-fusion/app/thumbnail"
	"photo-fusion/app/vectorindex"

	"github.com/gin-gonic/gin"
)

// Server 表示 HTTP 服务器，同时是所有后台组件的装配点
type Server struct {
	Config *config.Config
	Logger *logger.Logger
	gin    *gin.Engine
	http   *http.Server

	orch      *service.Orchestrator
	cluster   *service.ClusterService
	scheduler *service.Scheduler
	watcher   *filewatcher.LibraryWatcher
}

// New 创建一个新的 Server 实例并装配全部后台组件
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	router := gin.Default()

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config: cfg,
		Logger: log,
	}

	if err := s.setupTasks(); err != nil {
		return nil, err
	}
	s.setupRoutes()

	return s, nil
}

// setupTasks 装配任务编排器和各个任务引擎
func (s *Server) setupTasks() error {
	cfg := s.Config
	log := s.Logger
	db := database.GetDB()

	s.orch = service.NewOrchestrator(db, cfg, log)
	lock := s.orch.Lock()

	prober := mediainfo.NewProber(cfg.Library.ImageExtensions, cfg.Library.VideoExtensions)
	decoder := mediainfo.NewDecoder(prober)
	thumbs := thumbnail.New("data/thumbnails", cfg.Library.ThumbnailSize)

	mlClient := ml.NewClient(cfg.Processing.MLBaseURL)
	stages := plugin.BuildRegistry(cfg.Processing.ActivePlugins,
		plugin.NewFacesStage(mlClient, log),
		plugin.NewEmbeddingStage(mlClient, log),
		plugin.NewAutoTagStage(mlClient, log),
	)

	index := vectorindex.New()
	s.cluster = service.NewClusterService(db, cfg, log, lock, index)
	if err := s.cluster.LoadIndex(); err != nil {
		return err
	}

	scan := service.NewScanService(db, cfg, log, lock, prober, thumbs)
	clean := service.NewCleanService(db, cfg, log, lock, thumbs)
	processing := service.NewProcessingService(db, cfg, log, lock, decoder, stages)
	duplicates := service.NewDuplicateService(db, cfg, log, lock)

	s.orch.Register(model.TaskTypeScan, scan.Run)
	s.orch.Register(model.TaskTypeCleanMissingFiles, clean.Run)
	s.orch.Register(model.TaskTypeProcessMedia, processing.Run)
	s.orch.Register(model.TaskTypeClusterPersons, s.cluster.Run)
	s.orch.Register(model.TaskTypeFindDuplicates, duplicates.Run)
	s.orch.Register(model.TaskTypeAutoTagCustom, func(tc *service.TaskContext) error {
		stage := plugin.NewCustomTagStage(mlClient, cfg.Processing.CustomLabels, log)
		return processing.RunCustomTag(tc, stage)
	})

	scheduler, err := service.NewScheduler(&cfg.Scheduler, s.orch, log)
	if err != nil {
		return err
	}
	s.scheduler = scheduler

	watcher, err := filewatcher.New(cfg, s.orch, log)
	if err != nil {
		return err
	}
	s.watcher = watcher

	return nil
}

// Start 启动服务器
func (s *Server) Start() error {
	s.scheduler.Start()
	if err := s.watcher.Start(); err != nil {
		s.Logger.Errorf("启动媒体库监控失败: %v", err)
	}

	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown 停止后台组件并关闭服务器
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.watcher.Stop(); err != nil {
		s.Logger.Errorf("停止媒体库监控失败: %v", err)
	}
	s.scheduler.Stop()

	err := s.http.Shutdown(ctx)

	// 任务通过状态轮询感知不到进程退出，等它们自己跑完再关数据库
	s.orch.Wait()
	if dbErr := database.Close(); dbErr != nil {
		s.Logger.Errorf("关闭数据库连接失败: %v", dbErr)
	}
	return err
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes() {
	db := database.GetDB()

	authHandler := handler.NewAuthHandler(s.Config)
	taskHandler := handler.NewTaskHandler(s.orch)
	personHandler := handler.NewPersonHandler(db, s.cluster)
	duplicateHandler := handler.NewDuplicateHandler(db)
	mediaHandler := handler.NewMediaHandler(db)

	api := s.gin.Group("/api")

	// 认证相关路由（不需要JWT验证）
	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
	}

	// 需要JWT验证的路由
	protected := api.Group("/")
	protected.Use(middleware.JWTAuth(s.Config))
	{
		protected.GET("/me", authHandler.Me)

		// 后台任务
		tasks := protected.Group("/tasks")
		{
			tasks.POST("/", taskHandler.Start)
			tasks.GET("/", taskHandler.List)
			tasks.GET("/active", taskHandler.Active)
			tasks.GET("/:id", taskHandler.Get)
			tasks.POST("/:id/cancel", taskHandler.Cancel)
		}

		// 人物
		persons := protected.Group("/persons")
		{
			persons.GET("/", personHandler.List)
			persons.GET("/:id", personHandler.Get)
			persons.PUT("/:id", personHandler.Rename)
			persons.POST("/merge", personHandler.Merge)
			persons.GET("/:id/relations", personHandler.Relations)
		}

		// 重复组
		duplicates := protected.Group("/duplicates")
		{
			duplicates.GET("/", duplicateHandler.List)
		}

		// 媒体库
		media := protected.Group("/media")
		{
			media.GET("/", mediaHandler.List)
			media.GET("/:id", mediaHandler.Get)
		}

		// 处理失败记录
		protected.GET("/failures", mediaHandler.Failures)
	}
}
