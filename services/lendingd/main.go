package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"p2plend/config"
	"p2plend/core/state"
	nativecommon "p2plend/native/common"
	"p2plend/observability/logging"
	telemetry "p2plend/observability/otel"
	lendingdconfig "p2plend/services/lendingd/config"
	"p2plend/services/lendingd/journal"
	"p2plend/services/lendingd/server"
	"p2plend/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PLEND_ENV"))

	cfg, err := lendingdconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup("lendingd", env, cfg.Log.File)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("lendingd", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	protocol, err := config.Load(cfg.ProtocolFile)
	if err != nil {
		log.Fatalf("load protocol config: %v", err)
	}
	allocations, err := protocol.Allocations()
	if err != nil {
		log.Fatalf("protocol genesis: %v", err)
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		log.Fatalf("open state: %v", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	applied, err := manager.ApplyGenesis(allocations)
	if err != nil {
		log.Fatalf("apply genesis: %v", err)
	}
	if applied {
		logger.Info("genesis applied", "allocations", len(allocations))
	}

	events, err := journal.Open(cfg.Journal.DSN)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer events.Close()

	srv := server.New(server.Config{
		State:     manager,
		Journal:   events,
		Pauses:    nativecommon.NewPauses(protocol.PauseMap()),
		Logger:    logger,
		APITokens: cfg.Auth.APITokens,
		RateLimit: server.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		},
	})

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}
	listener = netutil.LimitListener(listener, cfg.MaxConnections)

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
	if cfg.TLS.Enabled() {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "addr", listener.Addr().String(), "tls", cfg.TLS.Enabled())
		if cfg.TLS.Enabled() {
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

// openDatabase returns a LevelDB store under dataDir, or an in-memory store
// when no directory is configured.
func openDatabase(dataDir string) (storage.Database, error) {
	if dataDir == "" {
		return storage.NewMemDB(), nil
	}
	return storage.NewLevelDB(dataDir)
}
