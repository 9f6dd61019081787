package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/nearby/internal/channel"
	"github.com/HammerMeetNail/nearby/internal/config"
	"github.com/HammerMeetNail/nearby/internal/database"
	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/middleware"
	"github.com/HammerMeetNail/nearby/internal/mute"
	"github.com/HammerMeetNail/nearby/internal/pubsub"
	"github.com/HammerMeetNail/nearby/internal/services"
	"github.com/HammerMeetNail/nearby/internal/session"
	"github.com/HammerMeetNail/nearby/internal/ws"
)

func main() {
	if err := run(); err != nil {
		logging.Error("Application error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	logger := logging.New()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Unknown LOG_LEVEL; using info", map[string]interface{}{"value": cfg.Server.LogLevel})
	}
	logger.SetLevel(level)
	logging.SetDefaultLevel(level)

	logger.Info("Starting nearby server...", map[string]interface{}{"env": cfg.Server.Environment})
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty; every authenticated request will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Connecting to PostgreSQL", map[string]interface{}{
		"host": cfg.Database.Host,
		"port": cfg.Database.Port,
	})
	db, err := database.NewPostgresDB(ctx, cfg.Database.DSN(), database.DefaultPoolOptions())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	version, err := database.Migrate(cfg.Database.DSN(), "migrations")
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("Migrations completed", map[string]interface{}{"version": version})

	logger.Info("Connecting to Redis", map[string]interface{}{"addr": cfg.Redis.Addr()})
	redisOpts := database.DefaultRedisOptions()
	redisOpts.Password = cfg.Redis.Password
	redisOpts.DB = cfg.Redis.DB
	redisDB, err := database.NewRedisDB(ctx, cfg.Redis.Addr(), redisOpts)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() { _ = redisDB.Close() }()

	bus := pubsub.NewRedisBus(redisDB.Client)
	defer func() { _ = bus.Close() }()
	notifier := pubsub.NewNotifier(bus)

	dbAdapter := services.NewPoolAdapter(db.Pool)
	userService := services.NewUserService(dbAdapter)
	roomService := services.NewEventRoomService(dbAdapter)
	invitationService := services.NewInvitationService(dbAdapter)
	invitationService.SetNotifier(notifier)
	messageService := services.NewMessageService(dbAdapter)
	messageService.SetPublisher(notifier)
	muteBackend := mute.NewRedisBackend(redisDB.Client)

	sessionCfg := sessionConfig(cfg.Chat)
	hub := ws.NewHub(func(userID uuid.UUID, listener session.Listener) *session.Session {
		return session.New(userID, session.Deps{
			Invitations:   invitationService,
			Messages:      messageService,
			Rooms:         roomService,
			Bus:           bus,
			Typing:        notifier,
			MuteBackend:   muteBackend,
			MutePublisher: notifier,
		}, sessionCfg, listener)
	}, userService, cfg.Chat.MaxConnections)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	handler := newServer(routerDeps{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		redis:       redisDB,
		hub:         hub,
		users:       userService,
		invitations: invitationService,
		messages:    messageService,
		rooms:       roomService,
		mutes:       muteBackend,
		muteNotify:  notifier,
		limiter:     middleware.NewRateLimiter(redisDB.Client, cfg.Chat.RateLimit, cfg.Chat.RateWindow, "nearby:ratelimit:api:", nil, false),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
		// Upgraded websocket connections are hijacked and outlive these.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", map[string]interface{}{"addr": addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Server is shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	server.SetKeepAlivesEnabled(false)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Could not gracefully shutdown the server", map[string]interface{}{
			"error": err.Error(),
		})
	}

	// Sessions persist read markers on close; wait for them before the pool goes.
	stopHub()
	select {
	case <-hub.Done():
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for websocket sessions to close")
	}

	logger.Info("Server stopped")
	return nil
}

func sessionConfig(chat config.ChatConfig) session.Config {
	return session.Config{
		Channel: channel.Config{
			MaxLength:       chat.MaxMessageLength,
			ReconcileWindow: chat.ReconcileWindow,
			SendTimeout:     chat.SendTimeout,
		},
		TypingIdle:   chat.TypingIdle,
		PollInterval: chat.InboxPoll,
		HistoryLimit: chat.HistoryLimit,
	}
}
