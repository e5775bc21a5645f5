package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/al-shafii/registry-api/api/swagger"
	"github.com/al-shafii/registry-api/internal/handler"
	"github.com/al-shafii/registry-api/internal/middleware"
	"github.com/al-shafii/registry-api/internal/repository"
	"github.com/al-shafii/registry-api/internal/service"
	"github.com/al-shafii/registry-api/pkg/cache"
	"github.com/al-shafii/registry-api/pkg/config"
	"github.com/al-shafii/registry-api/pkg/database"
	"github.com/al-shafii/registry-api/pkg/export"
	"github.com/al-shafii/registry-api/pkg/logger"
	corsmiddleware "github.com/al-shafii/registry-api/pkg/middleware/cors"
	reqidmiddleware "github.com/al-shafii/registry-api/pkg/middleware/requestid"
)

// @title Student Registry API
// @version 1.0.0
// @description Student registration directory with spreadsheet import/export
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		if cfg.Stats.CacheEnabled {
			logr.Sugar().Fatalw("failed to connect to redis", "error", err)
		}
		logr.Sugar().Warnw("redis unavailable, stats served uncached", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	studentRepo := repository.NewStudentRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, validate, cfg.JWT, logr)
	directorySvc := service.NewDirectoryService(studentRepo, validate, cfg.Roster, logr)
	statsSvc := service.NewStatsService(studentRepo, cacheRepo, cfg.Stats, cfg.Points, logr)
	directorySvc.SetChangeHook(func(ctx context.Context, ownerID string) {
		statsSvc.Invalidate(ctx, ownerID)
	})

	xlsxExporter := export.NewXLSXExporter()
	pdfExporter := export.NewPDFExporter()
	importSvc := service.NewImportService(directorySvc, xlsxExporter, cfg.Import, logr)
	reportSvc := service.NewReportService(studentRepo, xlsxExporter, pdfExporter, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(directorySvc, cfg.Points)
	importHandler := handler.NewImportHandler(importSvc, metricsSvc)
	reportHandler := handler.NewReportHandler(reportSvc, directorySvc)
	statsHandler := handler.NewStatsHandler(statsSvc)
	streamHandler := handler.NewStreamHandler(directorySvc, metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))
	{
		secured.GET("/auth/me", authHandler.Me)

		secured.GET("/students", studentHandler.List)
		secured.POST("/students", studentHandler.Create)
		secured.GET("/students/search", studentHandler.FindOne)
		secured.GET("/students/stream", streamHandler.Stream)
		secured.GET("/students/export", reportHandler.ExportDirectory)
		secured.PATCH("/students/bulk", studentHandler.BulkUpdate)
		secured.GET("/students/:id", studentHandler.Get)
		secured.PATCH("/students/:id", studentHandler.Update)
		secured.DELETE("/students/:id", studentHandler.Delete)
		secured.POST("/students/:id/points", studentHandler.AddPoints)

		secured.POST("/imports", importHandler.Commit)
		secured.POST("/imports/preview", importHandler.Preview)
		secured.GET("/imports/template", importHandler.Template)

		secured.GET("/reports", reportHandler.Build)
		secured.GET("/reports/export", reportHandler.Export)

		secured.GET("/stats", statsHandler.Get)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
