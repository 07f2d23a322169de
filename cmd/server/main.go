package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rigidity/lobby-backend/internal/config"
	"github.com/rigidity/lobby-backend/internal/httpapi"
	"github.com/rigidity/lobby-backend/internal/lobby"
	"github.com/rigidity/lobby-backend/internal/matchmaking"
	"github.com/rigidity/lobby-backend/internal/room"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.Dev)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal("opening store", zap.Error(err))
	}

	mm := matchmaking.NewHTTPClient(matchmaking.Config{
		BaseURL: cfg.MatchmakingURL,
		APIKey:  cfg.MatchmakingKey,
		Timeout: cfg.MatchmakingTimeout,
	}, logger)

	lb := lobby.NewLobby(ctx, logger)
	svc := room.NewService(store, mm, lb, logger)
	lb.SetCleanup(func(ctx context.Context, userID int64) {
		if err := svc.HandleDisconnect(ctx, userID); err != nil {
			logger.Warn("disconnect cleanup failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	})

	handlers := httpapi.NewHandlers(svc, cfg.MatchmakingKey, logger)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpapi.SetupRoutes(handlers, lb, logger),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		lb.Inbox() <- lobby.Shutdown{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newStore(cfg *config.Config, logger *zap.Logger) (room.Store, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage; state is lost on restart")
		return room.NewMemoryStore(), nil
	}
	db, err := room.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := room.Migrate(db); err != nil {
			return nil, err
		}
	}
	return room.NewGormStore(db, logger), nil
}
