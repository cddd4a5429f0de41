package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	ragadmin "github.com/tedhappy/ragflow-admin"
	"github.com/tedhappy/ragflow-admin/auth"
	"github.com/tedhappy/ragflow-admin/cascade"
	"github.com/tedhappy/ragflow-admin/console"
	"github.com/tedhappy/ragflow-admin/observability"
	"github.com/tedhappy/ragflow-admin/ragflow"
	"github.com/tedhappy/ragflow-admin/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	sessionSweepInterval = 10 * time.Minute
	// Clients with no login attempt for this long lose their rate limiter.
	limiterIdle = time.Hour
)

var (
	configPath string
	listenAddr string

	rootCmd = &cobra.Command{
		Use:           "ragflow-admin",
		Short:         "Administration console backend for a RAGFlow deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP server",
		RunE:  runServe,
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Test the database connection and the RAGFlow API, then exit",
		RunE:  runCheck,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to config file (YAML)")
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address (overrides server.host and server.port)")
	rootCmd.AddCommand(serveCmd, checkCmd, versionCmd)
}

// logLevel is raised to debug once the config says so.
var logLevel = new(slog.LevelVar)

func main() {
	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// backends holds everything built from the configuration.
type backends struct {
	cfg     ragadmin.Config
	store   *store.Store
	remote  *ragflow.Client
	console console.Console
}

func (b *backends) Close() {
	if err := b.store.Close(); err != nil {
		slog.Error("closing store", "error", err)
	}
}

func loadBackends(ctx context.Context) (*backends, error) {
	cfg, err := ragadmin.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Server.Debug {
		logLevel.Set(slog.LevelDebug)
	}

	st, err := store.New(cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	if cfg.MySQL.Driver == "sqlite3" && st.Configured() {
		if err := st.Bootstrap(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("bootstrapping sqlite database: %w", err)
		}
	}
	if !st.Configured() {
		slog.Warn("database not configured, listings fall back to the ragflow api")
	}

	remote := ragflow.New(cfg.RAGFlow, ragflow.WithCountCache(ragflow.NewCountCache(cfg.Console.CountCacheTTL)))
	if !remote.Configured() {
		slog.Warn("ragflow api not configured")
	}

	engine := cascade.New(st, cascade.WithObserver(observability.CascadeObserver{}))
	return &backends{
		cfg:     cfg,
		store:   st,
		remote:  remote,
		console: console.New(cfg, st, engine, remote),
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	b, err := loadBackends(cmd.Context())
	if err != nil {
		return err
	}
	defer b.Close()

	if !b.cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if b.cfg.Admin.Password == ragadmin.DefaultConfig().Admin.Password {
		slog.Warn("admin password is the default, change it before exposing the console")
	}

	sessions := auth.NewSessions(b.cfg.Admin)
	limiter := auth.NewLoginLimiter()
	h := newHandler(b.console, sessions, limiter)
	router := newRouter(h, b.cfg.Server.CORSOrigins)

	addr := listenAddr
	if addr == "" {
		addr = b.cfg.Server.Addr()
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // cascades over large owners can be slow
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweep(ctx, sessions, limiter, sessionSweepInterval)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

// sweep drops expired sessions and idle login limiters until ctx is done.
func sweep(ctx context.Context, sessions *auth.Sessions, limiter *auth.Limiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(); n > 0 {
				slog.Info("expired sessions removed", "count", n)
			}
			if n := limiter.Prune(limiterIdle); n > 0 {
				slog.Debug("idle login limiters removed", "count", n)
			}
		}
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	b, err := loadBackends(cmd.Context())
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	h := b.console.Health(ctx)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(h); err != nil {
		return err
	}
	if h.Status == "unavailable" {
		return errors.New("neither the database nor the ragflow api is reachable")
	}
	return nil
}
