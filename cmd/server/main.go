package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/file-organizer/api/handlers"
	"github.com/feichai0017/file-organizer/api/routes"
	"github.com/feichai0017/file-organizer/config"
	"github.com/feichai0017/file-organizer/internal/bootstrap"
	"github.com/feichai0017/file-organizer/internal/pipeline"
	"github.com/feichai0017/file-organizer/internal/service/files"
	"github.com/feichai0017/file-organizer/internal/utils/validator"
	"github.com/feichai0017/file-organizer/pkg/logger"
	"github.com/feichai0017/file-organizer/pkg/queue"
)

func main() {
	cfg := config.GetAppConfig()

	// init logger
	log, err := bootstrap.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()
	comp, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to build pipeline", logger.Error(err))
	}
	defer comp.Close()

	// queue mode hands sessions to cmd/worker
	var dispatcher pipeline.Dispatcher
	if cfg.DispatchMode == "queue" {
		q := queue.NewAsynqQueue(bootstrap.QueueConfig(), log)
		defer q.Close()
		dispatcher = q
	}
	orchestrator := comp.Orchestrator(dispatcher, log)

	uploads := validator.NewUploadValidator(log, validator.ConfigFor(cfg.MaxUploadFiles, cfg.MaxFileSize, cfg.AllowedTypes))
	fileService := files.NewService(orchestrator, comp.Store, comp.Storage, uploads, log, nil)

	// init handlers
	h := handlers.NewHandlers(fileService, log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, cfg.CORSOrigins, log)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting",
			logger.String("addr", cfg.ListenAddr),
			logger.String("dispatchMode", cfg.DispatchMode),
			logger.String("storage", cfg.StorageBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		log.Error("Sessions still running at shutdown", logger.Error(err))
	}
}
