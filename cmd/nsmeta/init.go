package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"nsmeta/pkg/config"
)

// initConfig загружает конфиг из файла YAML. Если файл не найден, используется config.Default().
// Переменные окружения применяются поверх файла.
func initConfig(path string) (config.Config, error) {
	cfg := config.Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		slog.Info("config file not found, using default config", "path", path)
	case err != nil:
		return cfg, err
	default:
		if cfg, err = config.Parse(data); err != nil {
			return cfg, err
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// initLogger настраивает глобальный slog.Logger (JSON или текстовый).
func initLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{AddSource: true, Level: parseLevel(cfg.Logger.Level)}

	var handler slog.Handler
	if cfg.Logger.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With("node", cfg.Node.ID)
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)
}
