package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaos-io/nobg/cache"
	"github.com/chaos-io/nobg/config"
	"github.com/chaos-io/nobg/rembg"
	"github.com/chaos-io/nobg/schedule"
	"github.com/chaos-io/nobg/server"
	"github.com/chaos-io/nobg/task"
	"github.com/chaos-io/nobg/util"
	"github.com/chaos-io/nobg/workbench"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.New(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := util.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.Sync()

	util.Logger.Info("starting nobg",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch),
		zap.String("config", configSource(cfg)),
		zap.String("rembg", cfg.Rembg.BaseURL),
		zap.String("model", cfg.Rembg.Model))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis 可选，连不上就不缓存
	var resultCache rembg.ResultCache
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedis(&cfg.Redis)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisCache.Ping(pingCtx)
		cancel()
		if err != nil {
			util.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
			_ = redisCache.Close()
		} else {
			util.Logger.Info("redis connected successfully", zap.String("addr", cfg.Redis.Addr))
			resultCache = redisCache
			defer redisCache.Close()
		}
	}

	backend := rembg.NewServerBackend(cfg.Rembg.BaseURL,
		rembg.WithTimeout(cfg.Rembg.Timeout),
		rembg.WithWarmup(cfg.Rembg.Warmup))
	adapter := rembg.NewAdapter(backend)
	if _, err := adapter.SwitchModel(ctx, cfg.Rembg.Model); err != nil {
		// 服务端可能还没起来，首次处理时会再建会话
		util.Logger.Warn("failed to open model session", zap.String("model", cfg.Rembg.Model), zap.Error(err))
	}

	runner := task.NewRunner()
	wb := workbench.New(adapter, runner, workbench.Config{
		Model:       cfg.Rembg.Model,
		Settings:    cfg.Settings,
		MassCropDir: cfg.Output.MassCropDir,
		Cache:       resultCache,
	})

	if cfg.Watch.Enabled {
		watcher, err := schedule.New(cfg.Watch.Spec, cfg.Watch.Source, cfg.Watch.Dest, wb)
		if err != nil {
			util.Logger.Fatal("failed to create watcher", zap.Error(err))
		}
		watcher.Start()
		defer func() { <-watcher.Stop().Done() }()
	}

	gin.SetMode(cfg.Server.Mode)
	router := server.NewRouter(wb, server.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
	})

	if err := server.Run(ctx, cfg.Server.Port, router); err != nil {
		util.Logger.Error("server stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		util.Logger.Warn("task did not stop in time", zap.Error(err))
	}
	util.Logger.Info("bye")
}

func configSource(cfg *config.Config) string {
	if cfg.Source == "" {
		return "defaults"
	}
	return cfg.Source
}
