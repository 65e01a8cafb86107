package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/MegaGrindStone/evaldash/internal/gateway"
	"github.com/MegaGrindStone/evaldash/internal/history"
	"github.com/MegaGrindStone/evaldash/internal/reveal"
	"github.com/MegaGrindStone/evaldash/internal/session"
	"github.com/MegaGrindStone/evaldash/internal/tui"
	"github.com/MegaGrindStone/evaldash/internal/view"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

type flags struct {
	configPath string
	userID     string
	gatewayURL string
}

const (
	errLoggerKey     = "error"
	watchRetryDelay  = 3 * time.Second
	gatewayTimeout   = 2 * time.Minute
	logFilePerm      = 0600
	logDirPermission = 0755
)

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant from the terminal",
		Long: `A terminal client for the conversation gateway.

Conversations are listed by date in the history panel, replies are revealed as they
are typed, and every change made from another client shows up immediately.

Keys:
  enter      send the message
  tab        move between the input and the history panel
  ctrl+b     show or hide the history panel
  ctrl+n     start a new conversation
  ctrl+y     copy the last reply
  ctrl+r     read the last reply aloud
  d          delete the selected conversation (history panel)`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.config()
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().StringVar(&f.configPath, "config", "", "Path to the config file (default is the user config dir)")
	cmd.PersistentFlags().StringVar(&f.userID, "user", "", "User id whose conversations are shown")
	cmd.PersistentFlags().StringVar(&f.gatewayURL, "gateway", "", "Base URL of the conversation gateway")

	cmd.AddCommand(newAskCmd(&f))
	return cmd
}

// config loads the config file and applies flag overrides.
func (f flags) config() (config, error) {
	path, required := f.configPath, true
	if path == "" {
		path, required = defaultConfigPath(), false
	}
	cfg, err := loadConfig(path, required)
	if err != nil {
		return config{}, err
	}
	if f.userID != "" {
		cfg.UserID = f.userID
	}
	if f.gatewayURL != "" {
		cfg.GatewayURL = f.gatewayURL
	}
	if cfg.UserID == "" {
		return config{}, fmt.Errorf("a user id is required, set userID or pass --user")
	}
	return cfg, nil
}

// openLogger opens the log file. The terminal belongs to the UI, so nothing is logged there.
func openLogger(cfg config) (*slog.Logger, func(), error) {
	if cfg.LogFile == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), logDirPermission); err != nil {
		return nil, nil, fmt.Errorf("error creating log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening log file: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: cfg.logLevel()}))
	return logger, func() { _ = f.Close() }, nil
}

func runChat(ctx context.Context, cfg config) error {
	logger, closeLog, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpGW := gateway.NewHTTP(cfg.GatewayURL, &http.Client{Timeout: gatewayTimeout}, logger)
	cache := gateway.NewCache(httpGW)
	inbox := tui.NewInbox()
	userID := func() string { return cfg.UserID }

	sess := session.New(cache, session.Options{
		UserID:           userID,
		HistoricalWindow: cfg.HistoricalWindow,
		OnChange:         func(session.State) { inbox.Post(tui.StateChangedMsg{}) },
		Logger:           logger,
	})
	hist := history.New(cache, sess, history.Options{
		UserID:     userID,
		Invalidate: cache.Invalidate,
		OnWelcome:  func() { inbox.Post(tui.WelcomeMsg{}) },
		Notifier:   inbox,
		Location:   time.Local,
		Logger:     logger,
	})
	orch := view.New(sess, hist, view.Options{
		NarrowWidth: cfg.NarrowWidth,
		Logger:      logger,
	})

	// The change feed has no timeout of its own.
	feed := gateway.NewHTTP(cfg.GatewayURL, &http.Client{}, logger)
	go watch(ctx, feed, cache, inbox, logger)

	engine := reveal.NewEngine(cfg.pacer())
	model := tui.New(orch, tui.Options{
		Context:          ctx,
		Engine:           engine,
		Inbox:            inbox,
		ReadAloudCommand: cfg.ReadAloudCommand,
		Markdown:         !cfg.PlainReplies,
		Logger:           logger,
	})

	logger.Info("Starting chat", slog.String("gateway", cfg.GatewayURL), slog.String("user", cfg.UserID))
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running chat: %w", err)
	}
	return nil
}

// watch follows the gateway's change feed until ctx is done, reconnecting when the stream breaks.
// Every change drops the cached list and asks the UI to refresh its history.
func watch(ctx context.Context, gw gateway.HTTP, cache *gateway.Cache, inbox *tui.Inbox, logger *slog.Logger) {
	for {
		err := gw.Watch(ctx, func(string) {
			cache.InvalidateAll()
			inbox.Post(tui.HistoryChangedMsg{})
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("Change feed disconnected", slog.String(errLoggerKey, err.Error()))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(watchRetryDelay):
		}
	}
}
