package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/fenetre/admin"
	"github.com/hazyhaar/fenetre/host/rodhost"
	"github.com/hazyhaar/fenetre/kvstore"
	"github.com/hazyhaar/fenetre/syncbridge"
	"github.com/hazyhaar/fenetre/tracker"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		dbPath     = flag.String("db", "", "override the snapshot database path")
		addr       = flag.String("addr", "", "override the admin listen address")
		browserWS  = flag.String("browser", "", "WebSocket URL of a running Chrome (empty launches one)")
		headless   = flag.Bool("headless", false, "launch Chrome without a visible window")
		logLevel   = flag.String("log-level", env("LOG_LEVEL", "info"), "debug, info, warn or error")
		mcpStdio   = flag.Bool("mcp", false, "serve MCP tools on stdin/stdout")
		listOnly   = flag.Bool("list", false, "print tracked sessions as JSON and exit")
		exportOnly = flag.Bool("export", false, "print the session export document and exit")
	)
	flag.Parse()

	// Logging. MCP stdio owns stdout, so logs move to stderr in that mode.
	var lvl slog.Level
	switch *logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logOut := os.Stdout
	if *mcpStdio {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Configuration, with flag overrides on top.
	cfg := tracker.DefaultConfig()
	if *configPath != "" {
		loaded, err := tracker.LoadConfigFile(*configPath)
		if err != nil {
			slog.Error("load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = *loaded
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *addr != "" {
		cfg.Admin.Addr = *addr
	}
	if *browserWS != "" {
		cfg.Browser.Remote = *browserWS
	}

	// Snapshot database.
	kv, err := kvstore.Open(cfg.Store.Path,
		kvstore.WithMkdirAll(),
		kvstore.WithQuota(cfg.Store.QuotaBytes),
		kvstore.WithArea(kvstore.AreaLocal))
	if err != nil {
		slog.Error("open store", "path", cfg.Store.Path, "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	// One-shot modes read the store and exit without touching the browser.
	if *listOnly || *exportOnly {
		tr := tracker.New(cfg, nil, kv, logger)
		if err := oneShot(ctx, tr, *exportOnly); err != nil {
			slog.Error("one-shot", "error", err)
			os.Exit(1)
		}
		return
	}

	// Browser.
	h, err := rodhost.Open(ctx, rodhost.Config{
		Remote:   cfg.Browser.Remote,
		Headless: *headless,
		Logger:   logger,
	})
	if err != nil {
		slog.Error("open browser", "error", err)
		os.Exit(1)
	}
	defer h.Close()

	tr := tracker.New(cfg, h, kv, logger)

	// Optional sync: a second store holds the replicated document, the
	// subscriber fills it from peers and the publisher pushes local changes.
	if cfg.Sync.Enabled {
		syncKV, err := kvstore.Open(cfg.Store.Path+".sync",
			kvstore.WithMkdirAll(),
			kvstore.WithArea(kvstore.AreaSync))
		if err != nil {
			slog.Error("open sync store", "error", err)
			os.Exit(1)
		}
		defer syncKV.Close()
		tr.AttachSyncStore(syncKV)

		var serverTLS *tls.Config
		if cfg.Sync.CertFile != "" && cfg.Sync.KeyFile != "" {
			serverTLS, err = syncbridge.SyncTLSConfig(cfg.Sync.CertFile, cfg.Sync.KeyFile)
		} else {
			serverTLS, err = syncbridge.SelfSignedTLSConfig()
		}
		if err != nil {
			slog.Error("sync TLS", "error", err)
			os.Exit(1)
		}

		sub := syncbridge.NewSubscriber(syncKV, cfg.Sync.Listen, serverTLS, logger)
		go func() {
			if sErr := sub.Start(ctx); sErr != nil && ctx.Err() == nil {
				slog.Error("sync subscriber", "error", sErr)
			}
		}()

		if len(cfg.Sync.Peers) > 0 {
			clientTLS := syncbridge.ClientTLSConfig(cfg.Sync.Insecure)
			if cfg.Sync.CertFile != "" && !cfg.Sync.Insecure {
				clientTLS, err = syncbridge.ClientTLSConfigWithCA(cfg.Sync.CertFile)
				if err != nil {
					slog.Error("sync client TLS", "error", err)
					os.Exit(1)
				}
			}
			pub := syncbridge.NewPublisher(kv, cfg.Sync.Peers, clientTLS, logger)
			go func() {
				if pErr := pub.Start(ctx); pErr != nil && ctx.Err() == nil {
					slog.Error("sync publisher", "error", pErr)
				}
			}()
		}
	}

	// Optional MCP over stdio.
	if *mcpStdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "fenetre",
			Version: "1.0.0",
		}, nil)
		tr.RegisterMCP(mcpSrv)
		go func() {
			slog.Info("MCP stdio starting")
			if sErr := mcpSrv.Run(ctx, &mcp.StdioTransport{}); sErr != nil && ctx.Err() == nil {
				slog.Error("MCP stdio", "error", sErr)
			}
		}()
	}

	// Event loop.
	go func() {
		if rErr := tr.Run(ctx); rErr != nil && ctx.Err() == nil {
			slog.Error("tracker", "error", rErr)
		}
	}()

	// Admin HTTP server.
	adm := admin.NewServer(tr, cfg.Admin.PasswordHash, logger)
	srv := &http.Server{
		Addr:              cfg.Admin.Addr,
		Handler:           adm.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("admin starting", "addr", cfg.Admin.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("stopped")
}

// oneShot prints either the export document or a per-session summary.
func oneShot(ctx context.Context, tr *tracker.Tracker, export bool) error {
	if export {
		doc, err := tr.Export(ctx)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(doc)
		return err
	}

	snaps, invalid, err := tr.List(ctx)
	if err != nil {
		return err
	}
	type row struct {
		ID       string `json:"id"`
		Name     string `json:"name,omitempty"`
		Tabs     int    `json:"tabs"`
		Captured string `json:"captured"`
		Starred  bool   `json:"starred,omitempty"`
	}
	rows := make([]row, 0, len(snaps))
	for id, snap := range snaps {
		rows = append(rows, row{
			ID:       string(id),
			Name:     snap.CustomName,
			Tabs:     len(snap.Tabs),
			Captured: time.UnixMilli(snap.Timestamp).Format(time.RFC3339),
			Starred:  snap.Starred,
		})
	}
	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if n := len(invalid); n > 0 {
		fmt.Fprintf(os.Stderr, "%d invalid snapshot(s) skipped\n", n)
	}
	return nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
