package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/auth"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/chat"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/database"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/directory"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/presence"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/realtime"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/server"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/session"
	"github.com/abusaleh34/care-booking-windsurf-sub001/pkg/config"
	"github.com/abusaleh34/care-booking-windsurf-sub001/pkg/logging"
)

func main() {
	bootLogger := logging.New(slog.LevelInfo)

	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level))
	slog.SetDefault(logger)

	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.Error("failed to connect database", slog.Any("error", err))
		os.Exit(1)
	}

	dir := directory.New(db)
	store := chat.NewGormStore(db)
	if err := dir.Migrate(); err != nil {
		logger.Error("failed to migrate directory tables", slog.Any("error", err))
		os.Exit(1)
	}
	if err := store.Migrate(); err != nil {
		logger.Error("failed to migrate chat tables", slog.Any("error", err))
		os.Exit(1)
	}

	registry := session.NewRegistry(logger)
	fanout := realtime.NewFanout(registry, logger)
	chats := chat.NewService(store, fanout, cfg.Database.QueryTimeout, logger)

	coordinator := buildCoordinator(logger, cfg, dir)

	verifier := auth.NewVerifier(cfg.Server.Auth.JWTSecret)
	issuer := auth.NewIssuer(cfg.Server.Auth.JWTSecret, cfg.Server.Auth.TokenTTL)
	router := realtime.NewRouter(logger, registry, chats, coordinator, verifier, fanout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, server.Deps{
		Registry:  registry,
		Router:    router,
		Chats:     chats,
		Directory: dir,
		Verifier:  verifier,
		Issuer:    issuer,
	})
	if err := app.Run(); err != nil {
		logger.Error("application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("application shut down successfully.")
}

func buildCoordinator(logger *slog.Logger, cfg *config.Config, dir *directory.Directory) *presence.Coordinator {
	mirrors := []presence.Mirror{
		presence.MirrorFunc(func(ctx context.Context, userID, status string, at time.Time) {
			if err := dir.TouchLastSeen(ctx, userID, at); err != nil {
				logger.Warn("last-seen mirror write failed", slog.String("userID", userID), slog.Any("error", err))
			}
		}),
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		mirrors = append(mirrors, presence.NewRedisMirror(client, cfg.Redis.PresenceTTL, logger))
	}
	return presence.NewCoordinator(logger, mirrors...)
}
