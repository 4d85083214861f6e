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

	"github.com/spf13/cobra"

	"proof-capture-app/internal/broker"
	"proof-capture-app/internal/config"
	"proof-capture-app/internal/storage"
	ws "proof-capture-app/internal/websocket"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "proof-broker",
	Short:        "Session broker for proof-of-work captures",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Issue sessions, accept uploads and push capture notifications",
	Long: `Serve starts the HTTP broker. Desktop initiators request sessions and
subscribe to the per-session push channel; capture devices upload images to
the session's upload route.

Settings come from the YAML config file, then .env, then PROOF_* variables.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "config file")
	rootCmd.AddCommand(serveCmd)
}

// App owns the broker's long-lived resources.
type App struct {
	cfg    *config.Config
	db     *storage.DB
	hub    *ws.Hub
	broker *broker.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := cfg.NewLogger()

	db, err := storage.InitDB(cfg.Broker.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	hub := ws.NewHub(logger)
	srv, err := broker.New(broker.Config{
		Endpoints:      cfg.Server,
		UploadDir:      cfg.Broker.UploadDir,
		SessionTTL:     cfg.Broker.SessionTTL,
		MaxUploadBytes: cfg.Broker.MaxUploadBytes,
		Logger:         logger,
	}, db, hub)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &App{cfg: cfg, db: db, hub: hub, broker: srv}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	app, err := NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.db.Close()

	logger := cfg.NewLogger()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go app.hub.Run(ctx)

	server := &http.Server{
		Addr:              cfg.Broker.Listen,
		Handler:           app.broker.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("proof broker starting", "listen", cfg.Broker.Listen, "pairing_base", cfg.Server.FrontendBaseURL())
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
