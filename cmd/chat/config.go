package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MegaGrindStone/evaldash/internal/reveal"
	"gopkg.in/yaml.v3"
)

type config struct {
	GatewayURL       string        `yaml:"gatewayURL"`
	UserID           string        `yaml:"userID"`
	LogFile          string        `yaml:"logFile"`
	LogLevel         string        `yaml:"logLevel"`
	Reveal           revealConfig  `yaml:"reveal"`
	HistoricalWindow time.Duration `yaml:"historicalWindow"`
	NarrowWidth      int           `yaml:"narrowWidth"`
	ReadAloudCommand []string      `yaml:"readAloudCommand"`
	PlainReplies     bool          `yaml:"plainReplies"`
}

type revealConfig struct {
	BaseDelay time.Duration `yaml:"baseDelay"`
	Jitter    time.Duration `yaml:"jitter"`
}

const (
	defaultGatewayURL = "http://localhost:8080"
	configDirName     = "evaldash"
)

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, configDirName, "chat.yaml")
}

// loadConfig reads the config at path. A missing file is only an error when required is set.
func loadConfig(path string, required bool) (config, error) {
	cfg := config{}
	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !required:
		case err != nil:
			return config{}, fmt.Errorf("error opening config file: %w", err)
		default:
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
				return config{}, fmt.Errorf("error decoding config file: %w", err)
			}
		}
	}
	cfg.applyDefaults(path)
	return cfg, nil
}

func (c *config) applyDefaults(path string) {
	if c.GatewayURL == "" {
		c.GatewayURL = defaultGatewayURL
	}
	if c.UserID == "" {
		c.UserID = os.Getenv("USER")
	}
	if c.LogFile == "" && path != "" {
		c.LogFile = filepath.Join(filepath.Dir(path), "chat.log")
	}
}

func (c config) pacer() reveal.Pacer {
	if c.Reveal.BaseDelay <= 0 && c.Reveal.Jitter <= 0 {
		return reveal.DefaultPacer()
	}
	return reveal.Pacer{Base: c.Reveal.BaseDelay, Jitter: c.Reveal.Jitter}
}

func (c config) logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
