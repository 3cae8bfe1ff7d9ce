package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"roomrelay/internal/auth"
	"roomrelay/internal/chat"
	"roomrelay/internal/config"
	"roomrelay/internal/db"
	"roomrelay/internal/server"
	"roomrelay/internal/store"
)

var cfg = config.Load()

var rootCmd = &cobra.Command{
	Use:          "roomrelay",
	Short:        "Multi-room persistent chat relay",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.IntVar(&cfg.Port, "port", cfg.Port, "HTTP port for the UI, websocket and API (env APP_PORT)")
	flags.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "durable store: pebble, postgres or memory (env STORE_DRIVER)")
	flags.StringVar(&cfg.DataPath, "data-path", cfg.DataPath, "pebble data directory (env DATA_PATH)")
	flags.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "postgres connection string (env DATABASE_URL)")
	flags.StringVar(&cfg.StaticDir, "static-dir", cfg.StaticDir, "directory with the browser UI (env STATIC_DIR)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (env LOG_LEVEL)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "console or json (env LOG_FORMAT)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute roomrelay")
	}
}

func setupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		return store.NewPostgres(pool).OwnPool(), nil
	case config.StoreMemory:
		log.Warn().Msg("[chat] memory store: state is lost on restart")
		return store.NewMemory(), nil
	default:
		return store.OpenPebble(cfg.DataPath)
	}
}

func run(cmd *cobra.Command, args []string) error {
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("[chat] store close error")
		}
	}()

	authSvc := auth.NewService(cfg)
	chatSvc := chat.NewService(chat.Options{
		Store:          st,
		Credentials:    authSvc,
		Location:       cfg.Location(),
		MaxEventBytes:  cfg.MaxEventBytes,
		AllowedOrigins: cfg.CORSOrigins(),
	})
	if err := chatSvc.Load(ctx); err != nil {
		return err
	}
	if cfg.Env == "dev" && cfg.DemoSeed {
		if err := chatSvc.SeedDemo(ctx); err != nil {
			log.Error().Err(err).Msg("dev-seed error")
		}
	}

	addr := ":" + strconv.Itoa(cfg.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           server.New(cfg, chatSvc, authSvc),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Str("store", cfg.StoreDriver).Msg("roomrelay listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	chatSvc.Shutdown()
	log.Info().Msg("shutdown complete")
	return nil
}
