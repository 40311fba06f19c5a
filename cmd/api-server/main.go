// Package main API Server 入口
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatch-admin/internal/apiserver/auth"
	"dispatch-admin/internal/apiserver/server"
	"dispatch-admin/internal/classify"
	"dispatch-admin/internal/config"
	"dispatch-admin/internal/dispatch"
	"dispatch-admin/internal/ratelimit"
	"dispatch-admin/internal/shared/eventbus"
	redisbus "dispatch-admin/internal/shared/eventbus/redis"
	"dispatch-admin/internal/upstream"
	"dispatch-admin/pkg/logging"
)

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 切换 yaml 层）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())
	if !cfg.External.Ready() {
		log.Println("WARNING: external endpoint configuration incomplete, jobs will be accepted but fail immediately")
	}

	// 事件总线：单副本用内存广播，配置了 Redis 时切换到 Streams 后端
	var bus eventbus.Bus
	if cfg.RedisURL != "" {
		rbus, err := redisbus.NewBus(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		bus = rbus
		log.Println("Event bus: redis streams")
	} else {
		bus = eventbus.NewMemoryBus()
		log.Println("Event bus: in-memory broadcast")
	}
	defer bus.Close()

	// 全局限流器：所有任务共享
	limiter := ratelimit.New(cfg.Limiter.MinInterval, cfg.Limiter.MaxConcurrent)

	// 外部端点客户端
	caller := upstream.NewClient(cfg.External, logging.Default("upstream"))

	authCfg := auth.Config{
		JWTSecret:      cfg.JWTSecret,
		AccessTokenTTL: cfg.Auth.AccessTokenTTL,
		AdminUsername:  cfg.AdminUsername,
		AdminPassword:  cfg.AdminPassword,
	}

	// HTTP Handler（指标实例同时接收任务指标）
	h := server.NewHandler(nil, bus, authCfg, cfg.Stream)

	// 后台任务执行器
	runner := dispatch.NewRunner(limiter, caller, bus, dispatch.Options{
		ExternalReady: cfg.External.Ready(),
		ItemDelay:     cfg.Dispatch.ItemDelay,
		Classify:      classify.Classify,
		Metrics:       h.GetMetrics(),
	})
	h.SetRunner(runner)

	srv := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// WriteTimeout 留空：SSE/WebSocket 是长连接
	}

	// 优雅关闭：先停 HTTP，再等在途任务
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.ShutdownGrace)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if err := runner.Shutdown(ctx); err != nil {
			log.Printf("Jobs still in flight after grace period: %v", err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}
