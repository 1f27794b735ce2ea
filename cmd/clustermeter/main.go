// clustermeter reconstructs cluster billing timelines and attributes cluster
// cost to job runs. By default it computes one window and exits; with -serve
// it also keeps the REST API up afterwards.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/clustermeter/clustermeter/internal/apiserver"
	"github.com/clustermeter/clustermeter/internal/config"
	"github.com/clustermeter/clustermeter/internal/pipeline"
	"github.com/clustermeter/clustermeter/internal/store"
	"github.com/clustermeter/clustermeter/pkg/billing"
)

func main() {
	var (
		configFile string
		fromArg    string
		untilArg   string
		serve      bool
		debug      bool
	)
	flag.StringVar(&configFile, "config", "/etc/clustermeter/config.yaml", "Path to config file")
	flag.StringVar(&fromArg, "from", "", "Window start, RFC3339 or epoch ms (default: derived from -until and windowHours)")
	flag.StringVar(&untilArg, "until", "", "Window end, RFC3339 or epoch ms (default: current hour)")
	flag.BoolVar(&serve, "serve", false, "Keep the REST API running after the window completes")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		logger.Warn("config file not loaded, using defaults and env", "path", configFile, "error", err)
		cfg = config.DefaultConfig()
	}
	if verr := config.ValidateDetailed(cfg); verr != nil {
		logger.Error("invalid configuration", "error", verr)
		os.Exit(1)
	}

	window, err := resolveWindow(fromArg, untilArg, cfg.Pipeline.WindowHours)
	if err != nil {
		logger.Error("invalid window arguments", "error", err)
		os.Exit(1)
	}

	db, err := store.Open(store.Config{
		Path:          cfg.Database.Path,
		RetentionDays: cfg.Database.RetentionDays,
	})
	if err != nil {
		logger.Error("opening database failed", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCtx := ctx
	if cfg.Pipeline.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Pipeline.RunTimeout)
		defer cancel()
	}

	runner := pipeline.NewRunner(db, logger, cfg.Pipeline.SeedLookbackDays)
	res, err := runner.Run(runCtx, window)
	if err != nil {
		logger.Error("pipeline run failed", "error", err)
		if !serve {
			os.Exit(1)
		}
	} else {
		logger.Info("pipeline run finished",
			"invocation", res.InvocationID,
			"events", res.Events, "slices", res.Slices, "runs", res.Runs)
	}

	if err := db.Cleanup(); err != nil {
		logger.Warn("retention cleanup failed", "error", err)
	}

	if !serve || !cfg.APIServer.Enabled {
		return
	}

	srv := apiserver.NewServer(cfg, db)
	go func() {
		logger.Info("starting API server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// resolveWindow turns the -from/-until flags into a half-open window. Missing
// -until defaults to the current hour boundary; missing -from backs off by the
// configured window length.
func resolveWindow(fromArg, untilArg string, windowHours int) (billing.Window, error) {
	var until int64
	if untilArg == "" {
		until = time.Now().UTC().Truncate(time.Hour).UnixMilli()
	} else {
		var err error
		until, err = parseTimestamp(untilArg)
		if err != nil {
			return billing.Window{}, fmt.Errorf("parsing -until: %w", err)
		}
	}

	var from int64
	if fromArg == "" {
		from = until - int64(windowHours)*int64(time.Hour/time.Millisecond)
	} else {
		var err error
		from, err = parseTimestamp(fromArg)
		if err != nil {
			return billing.Window{}, fmt.Errorf("parsing -from: %w", err)
		}
	}

	if until <= from {
		return billing.Window{}, fmt.Errorf("window end %d must be after start %d", until, from)
	}
	return billing.Window{From: from, Until: until}, nil
}

func parseTimestamp(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("%q is neither epoch ms nor RFC3339", s)
	}
	return t.UnixMilli(), nil
}
