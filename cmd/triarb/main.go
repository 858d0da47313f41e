// Command triarb runs the MEXC triangular arbitrage bot. It loads
// configuration, validates it, sets up signal handling, and starts the
// application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mobelieve/mexc-triarb/internal/app"
	"github.com/mobelieve/mexc-triarb/internal/config"
	"github.com/mobelieve/mexc-triarb/internal/crypto"
)

func main() {
	configPath := flag.String("config", os.Getenv("TRIARB_CONFIG"), "path to TOML configuration file (optional)")
	encryptOut := flag.String("encrypt-secret", "", "encrypt TRIARB_MEXC_SECRET_KEY with TRIARB_MEXC_SECRET_PASSWORD into this file and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	if *encryptOut != "" {
		if err := encryptSecret(cfg, *encryptOut); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stdout, "wrote %s\n", *encryptOut)
		return
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("triarb starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error",
			slog.String("error", err.Error()),
		)
		application.Close()
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("triarb stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// encryptSecret writes the configured secret key, encrypted with the
// configured password, to path.
func encryptSecret(cfg *config.Config, path string) error {
	if cfg.Mexc.SecretKey == "" || cfg.Mexc.SecretPassword == "" {
		return errors.New("TRIARB_MEXC_SECRET_KEY and TRIARB_MEXC_SECRET_PASSWORD must be set")
	}
	data, err := crypto.EncryptSecret(cfg.Mexc.SecretKey, cfg.Mexc.SecretPassword)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
