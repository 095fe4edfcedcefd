// Command carbonex is the entry point of the carbon credit exchange. It loads
// configuration, validates it, wires dependencies, sets up signal handling, and
// starts the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/carbonex/internal/app"
	"github.com/alanyoungcy/carbonex/internal/config"
	"github.com/alanyoungcy/carbonex/internal/crypto"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file (optional)")
	encryptKeyPath := flag.String("encrypt-key", "", "write exchange.private_key, sealed with exchange.key_password, to this path and exit")
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

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if *encryptKeyPath != "" {
		if err := writeKeyFile(*encryptKeyPath, cfg); err != nil {
			logger.Error("failed to write key file", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("carbonex starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = application.Run(ctx)
	application.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error",
			slog.String("error", err.Error()),
		)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("carbonex stopped")
}

// writeKeyFile seals the configured raw authority key so deployments can
// switch to exchange.encrypted_key_path.
func writeKeyFile(path string, cfg *config.Config) error {
	if cfg.Exchange.PrivateKey == "" {
		return errors.New("exchange.private_key (or CARBONEX_EXCHANGE_PRIVATE_KEY) is required")
	}
	blob, err := crypto.EncryptKey(cfg.Exchange.PrivateKey, cfg.Exchange.KeyPassword)
	if err != nil {
		return err
	}
	addr, err := crypto.KeyFileAddress(blob)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	slog.Info("authority key file written",
		slog.String("path", path),
		slog.String("address", addr.Hex()),
	)
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
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
