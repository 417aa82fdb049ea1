package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/auth"
	"github.com/PedroFSampaio/chat-interno/internal/config"
	"github.com/PedroFSampaio/chat-interno/internal/db"
	clog "github.com/PedroFSampaio/chat-interno/internal/log"
	"github.com/PedroFSampaio/chat-interno/internal/models"
	"github.com/PedroFSampaio/chat-interno/internal/relay"
	"github.com/PedroFSampaio/chat-interno/internal/server"
	"github.com/PedroFSampaio/chat-interno/internal/service"
	"github.com/PedroFSampaio/chat-interno/internal/store"
	"github.com/PedroFSampaio/chat-interno/internal/store/memstore"
	"github.com/PedroFSampaio/chat-interno/internal/ws"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接存储并启动 Gin 服务。
	_ = godotenv.Load()
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("open store")
	}

	hub := ws.NewHub()
	var fan service.Fanout = hub
	if cfg.RedisURL != "" {
		rl, err := relay.NewRedis(cfg.RedisURL, cfg.RedisChannel, hub)
		if err != nil {
			log.Fatal().Err(err).Msg("redis relay")
		}
		defer rl.Close()
		go func() {
			if err := rl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("redis relay stopped")
			}
		}()
		fan = rl
		log.Info().Str("channel", cfg.RedisChannel).Msg("redis relay enabled")
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: server.New(cfg, st, hub, fan)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server run")
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Gateway, error) {
	if cfg.DatabaseDriver == "memory" {
		return memoryStore(cfg)
	}
	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	if err := db.SeedAdmin(ctx, gdb, cfg.AdminUser, cfg.AdminPass, cfg.AdminName); err != nil {
		return nil, err
	}
	return store.NewGormStore(gdb), nil
}

// memoryStore 只用于本地体验，重启后数据丢失。
func memoryStore(cfg config.Config) (store.Gateway, error) {
	st := memstore.New()
	hash, err := auth.HashPassword(cfg.AdminPass)
	if err != nil {
		return nil, err
	}
	if _, err := st.AddUser(models.User{Name: cfg.AdminName, Username: cfg.AdminUser, PasswordHash: hash, Role: models.RoleAdmin}); err != nil {
		return nil, err
	}
	log.Warn().Msg("using in-memory store, data is not persisted")
	return st, nil
}
