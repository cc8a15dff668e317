package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-image-cache/internal/config"
	"github.com/tendant/simple-image-cache/internal/handlers"
	"github.com/tendant/simple-image-cache/internal/ledger"
	"github.com/tendant/simple-image-cache/pkg/optimizer"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

var flagNames = []string{
	"http-addr", "handler-path", "snapshot-path", "image-root",
	"cache-dir", "workers", "metrics-path", "database-url",
}

func newRootCmd() *cobra.Command {
	// Load .env file if it exists (silently ignore if not found)
	config.LoadEnvFiles(".env")

	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "imagecache-server",
		Short: "Serve resized and blurred versions of static images",
		Long: `imagecache-server resizes source images on first request, stores the
result on disk and serves it with immutable cache headers. Blur placeholders
are also published as a JSON snapshot for page renderers to inline.

Every flag can also be set as IMAGECACHE_<FLAG> in the environment or in .env.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("http-addr", v.GetString("http_addr"), "HTTP listen address")
	flags.String("handler-path", v.GetString("handler_path"), "URL prefix for optimized images")
	flags.String("snapshot-path", v.GetString("snapshot_path"), "URL of the placeholder snapshot")
	flags.String("image-root", v.GetString("image_root"), "directory source images are read from")
	flags.String("cache-dir", v.GetString("cache_dir"), "directory built images are stored in")
	flags.Int("workers", v.GetInt("workers"), "maximum concurrent builds")
	flags.String("metrics-path", v.GetString("metrics_path"), "URL of Prometheus metrics, empty to disable")
	flags.String("database-url", "", "PostgreSQL URL for the build ledger, empty to disable")

	for _, name := range flagNames {
		if err := v.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name)); err != nil {
			log.Fatalf("Failed to bind flag %s: %v", name, err)
		}
	}

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log.Printf("Image cache server")
	log.Printf("  Image root: %s", cfg.ImageRoot)
	log.Printf("  Cache directory: %s", cfg.CacheDir)
	log.Printf("  Workers: %d", cfg.Workers)
	log.Printf("  HTTP address: %s", cfg.HTTPAddr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	optCfg := optimizer.Config{
		HandlerPath: cfg.HandlerPath,
		ImageRoot:   cfg.ImageRoot,
		CacheDir:    cfg.CacheDir,
		Workers:     cfg.Workers,
		Registerer:  reg,
	}

	if cfg.DatabaseURL != "" {
		tracker, err := ledger.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open build ledger: %w", err)
		}
		defer tracker.Close()
		optCfg.Recorder = tracker
		log.Printf("✓ Build ledger enabled")
	}

	opt, err := optimizer.New(optCfg)
	if err != nil {
		return err
	}

	published, err := opt.Warm(ctx)
	if err != nil {
		return fmt.Errorf("failed to warm placeholder index: %w", err)
	}
	log.Printf("✓ Published %d stored placeholders", published)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	opt.Mount(mux, cfg.SnapshotPath)
	if cfg.MetricsPath != "" {
		mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gzhttp.GzipHandler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("✓ Image cache ready on %s", cfg.HTTPAddr)
		log.Printf("")
		log.Printf("Available endpoints:")
		log.Printf("  GET  /health")
		log.Printf("  GET  %s/{key}", opt.HandlerPath())
		log.Printf("  GET  %s", cfg.SnapshotPath)
		if cfg.MetricsPath != "" {
			log.Printf("  GET  %s", cfg.MetricsPath)
		}
		log.Printf("")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}
