package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"sitter-safety/internal/config"
	"sitter-safety/internal/logger"
	"sitter-safety/internal/service"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "sitter-safety")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	if cfg.Emergency.PartyID == "" {
		log.Fatal("EMERGENCY_PARTY_ID environment variable is required")
	}

	// 3. 创建服务
	safetyService, err := service.NewSafetyService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create sitter safety service",
			zap.Error(err),
		)
	}
	defer safetyService.Stop()

	// 4. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 启动服务（在 goroutine 中）
	serviceErrChan := make(chan error, 1)
	go func() {
		serviceErrChan <- safetyService.Start(ctx)
	}()

	// 6. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel()
		// 等待 HTTP 服务和发件箱退出
		<-serviceErrChan
	case err := <-serviceErrChan:
		if err != nil {
			log.Error("Service error",
				zap.Error(err),
			)
		}
	}

	log.Info("Sitter safety service stopped")
}
