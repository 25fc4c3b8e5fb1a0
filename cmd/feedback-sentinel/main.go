package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/raaihank/feedback-sentinel/internal/cache"
	"github.com/raaihank/feedback-sentinel/internal/config"
	"github.com/raaihank/feedback-sentinel/internal/logger"
	"github.com/raaihank/feedback-sentinel/internal/server"
	"github.com/raaihank/feedback-sentinel/internal/termlib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
		healthURL   = flag.String("health-url", "http://localhost:8080/health", "URL probed by -health-check")
	)
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("Feedback-Sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	// Perform health check and exit
	if *healthCheck {
		performHealthCheck(*healthURL)
		return
	}

	// Load .env file if it exists
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Feedback-Sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
		zap.String("terms_source", cfg.Terms.Source),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	library, err := loadLibrary(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to load term library", zap.Error(err))
	}

	analysisCache, closeCache := openCache(cfg, log)
	defer closeCache()

	srv, err := server.New(cfg, library, analysisCache, log)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	config.Watch(func(newCfg *config.Config) {
		log.Info("Configuration file changed")
		srv.Reload(newCfg)
	}, func(err error) {
		log.Warn("Ignoring configuration change", zap.Error(err))
	})

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		return srv.Start(gCtx)
	})

	if cfg.Terms.Source == "file" && cfg.Terms.Watch {
		g.Go(func() error {
			watchLibrary(gCtx, library, cfg.Terms.Path, log)
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("Shutdown signal received")

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Server shutdown complete")
}

// loadLibrary reads the initial term library from the configured source
func loadLibrary(ctx context.Context, cfg *config.Config, log *logger.Logger) (*termlib.Library, error) {
	switch cfg.Terms.Source {
	case "database":
		store, err := termlib.NewStore(cfg.Database, log.Logger)
		if err != nil {
			return nil, err
		}
		defer store.Close()

		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		terms, err := store.List(ctx)
		if err != nil {
			return nil, err
		}
		return termlib.NewLibrary(terms, "database", log), nil

	default:
		terms, err := termlib.LoadFile(cfg.Terms.Path)
		if err != nil {
			return nil, err
		}
		if err := termlib.Validate(terms); err != nil {
			return nil, fmt.Errorf("term library %s is invalid: %w", cfg.Terms.Path, err)
		}
		return termlib.NewLibrary(terms, "file:"+cfg.Terms.Path, log), nil
	}
}

// watchLibrary hot-reloads the term file until ctx is done. A watcher that
// cannot start only disables hot reload; the loaded library keeps serving.
func watchLibrary(ctx context.Context, library *termlib.Library, path string, log *logger.Logger) {
	if err := library.Watch(ctx, path); err != nil {
		log.Warn("Term library hot reload disabled", zap.String("path", path), zap.Error(err))
	}
}

// openCache connects the Redis analysis cache. Failure to connect disables
// caching rather than stopping the service.
func openCache(cfg *config.Config, log *logger.Logger) (server.AnalysisCache, func()) {
	noop := func() {}
	if !cfg.Cache.Enabled {
		return nil, noop
	}

	ac, err := cache.NewAnalysisCache(cfg.Cache, log.Logger)
	if err != nil {
		log.Warn("Analysis cache unavailable, continuing without it", zap.Error(err))
		return nil, noop
	}

	return ac, func() { ac.Close() }
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(url string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
