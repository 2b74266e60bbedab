// Package engine parses engine command flags and starts the write-path runtime.
package engine

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	api "github.com/openagora/agora/internal/api/http"
	"github.com/openagora/agora/internal/app"
	"github.com/openagora/agora/internal/claim"
	"github.com/openagora/agora/internal/events"
	"github.com/openagora/agora/internal/grant"
	"github.com/openagora/agora/internal/kv"
	entrypoint "github.com/openagora/agora/internal/platform/cmd"
	"github.com/openagora/agora/internal/replay"
	"github.com/openagora/agora/internal/storage/sqlite"
)

const shutdownGrace = 10 * time.Second

// Config holds engine command configuration.
type Config struct {
	Addr          string `env:"AGORA_HTTP_ADDR" envDefault:":8080"`
	DBPath        string `env:"AGORA_DB_PATH"`
	RedisAddr     string `env:"AGORA_REDIS_ADDR"`
	RedisPassword string `env:"AGORA_REDIS_PASSWORD"`
	GrantIssuer   string `env:"AGORA_GRANT_ISSUER"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The engine HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the sqlite database file")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for replay/claim state (empty: in-memory)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the engine HTTP service.
func Run(ctx context.Context, cfg Config) error {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("AGORA_DB_PATH is required")
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEngine, func(ctx context.Context) error {
		return serve(ctx, cfg)
	})
}

func serve(ctx context.Context, cfg Config) error {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Printf("close store: %v", err)
		}
	}()

	shared, closeKV, err := openKV(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeKV(); err != nil {
			logger.Printf("close kv: %v", err)
		}
	}()

	bus := events.NewBus()
	defer bus.Close()

	opts := []app.Option{}
	if strings.TrimSpace(cfg.GrantIssuer) != "" {
		grantCfg, err := grant.LoadConfigFromEnv(nil)
		if err != nil {
			return fmt.Errorf("load grant config: %w", err)
		}
		opts = append(opts, app.WithGrantConfig(grantCfg))
	} else {
		logger.Printf("claim-token issuance disabled: AGORA_GRANT_ISSUER not set")
	}

	service := app.NewService(store, claim.NewMachine(shared), bus, opts...)
	server := api.NewServer(service, replay.NewGuard(shared), replay.NewCache(shared), logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("engine listening addr=%s db=%s", cfg.Addr, cfg.DBPath)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

func openKV(ctx context.Context, cfg Config, logger *log.Logger) (kv.Store, func() error, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		logger.Printf("replay/claim state in memory: AGORA_REDIS_ADDR not set")
		return kv.NewMemory(), func() error { return nil }, nil
	}
	store, err := kv.Dial(ctx, addr, cfg.RedisPassword)
	if err != nil {
		return nil, nil, fmt.Errorf("dial redis %s: %w", addr, err)
	}
	return store, store.Close, nil
}
