package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/remote-agent-terminal/dashboard/api/handlers"
	"github.com/remote-agent-terminal/dashboard/internal/auth"
	"github.com/remote-agent-terminal/dashboard/internal/command"
	"github.com/remote-agent-terminal/dashboard/internal/config"
	"github.com/remote-agent-terminal/dashboard/internal/executor"
	"github.com/remote-agent-terminal/dashboard/internal/logging"
	"github.com/remote-agent-terminal/dashboard/internal/session"
	"github.com/remote-agent-terminal/dashboard/internal/status"
	"github.com/remote-agent-terminal/dashboard/internal/tmux"
	"github.com/remote-agent-terminal/dashboard/internal/ws"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:          "tmux-dashboard",
		Short:        "Stream live tmux sessions to authenticated browsers",
		Long:         "tmux-dashboard polls a tmux server, streams every session's screen and approval status over WebSocket, and forwards typed input and approval decisions back into the sessions.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(viper.New(), cmd.Flags(), configFile)
			if err != nil {
				return err
			}

			logger, level, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger, level)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	config.BindFlags(cmd.Flags())

	return cmd
}

// run wires the components and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, level zap.AtomicLevel) error {
	exec := executor.New(cfg.CommandTimeout)
	tmuxClient := tmux.NewClient(exec, cfg.TmuxBin, cfg.TmuxSocket, logger.Named("tmux"))

	var prober status.Prober
	if cfg.StatusScript != "" {
		prober = status.NewScriptProber(exec, cfg.StatusScript, logger.Named("status"))
	} else {
		logger.Info("no status script configured, inferring status from pane content")
		prober = status.NewClassifier()
	}
	if cfg.ApprovalScript == "" {
		logger.Warn("no approval script configured, approvals will be refused")
	}

	hub := ws.NewHub(logger.Named("hub"))
	defer hub.Close()

	reconciler := session.NewReconciler(tmuxClient, tmuxClient, prober, hub, logger.Named("reconciler"), session.Config{
		PollInterval: cfg.PollInterval,
	})
	router := command.NewRouter(tmuxClient, exec, cfg.ApprovalScript, logger.Named("command"))
	gate := auth.NewGate(cfg.Token)

	wsHandler := ws.NewHandler(hub, reconciler, router, gate, logger.Named("ws"), ws.Config{
		AuthTimeout:    cfg.AuthTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	gin.SetMode(gin.ReleaseMode)
	engine := handlers.NewRouter(handlers.RouterConfig{
		Sessions:   reconciler,
		Conns:      wsHandler,
		Gate:       gate,
		Logger:     logger.Named("http"),
		StaticDir:  cfg.StaticDir,
		AuthStatic: cfg.AuthStatic,
		LogLevel:   level,
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return reconciler.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", server.Addr),
			zap.Duration("poll_interval", cfg.PollInterval),
			zap.String("tmux_socket", cfg.TmuxSocket),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked WebSocket connections are not closed by Shutdown.
		hub.Close()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
