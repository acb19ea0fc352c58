// Command regsift crawls configured publication sources, converts what it
// finds and files it into a content-addressed store plus an SQLite index.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/regsift/regsift/analyze"
	"github.com/regsift/regsift/blobstore"
	"github.com/regsift/regsift/convert"
	"github.com/regsift/regsift/crawl"
	"github.com/regsift/regsift/fetch"
	"github.com/regsift/regsift/index"
	"github.com/regsift/regsift/sources/bafin"
	"github.com/regsift/regsift/sources/eurlex"
	"github.com/regsift/regsift/sources/newsfeed"
)

func main() {
	configPath := flag.String("config", "regsift.yaml", "configuration file")
	only := flag.String("source", "", "run a single source by name")
	initial := flag.Bool("initial", false, "force a full walk of every source")
	limit := flag.Int("limit", 0, "cap documents per source (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	blobs, err := blobstore.New(cfg.DataDir, logger)
	if err != nil {
		slog.Error("blob store", "error", err)
		os.Exit(1)
	}

	idx, err := index.Open(cfg.IndexDB, logger)
	if err != nil {
		slog.Error("index", "error", err)
		os.Exit(1)
	}
	defer idx.Close()

	fetcher := fetch.New(fetch.Config{
		Timeout:       cfg.Fetch.Timeout,
		MaxRetries:    cfg.Fetch.MaxRetries,
		BackoffUnit:   cfg.Fetch.Backoff,
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Logger:        logger,
	})

	converter := convert.NewRegistry(convert.Config{
		HTMLTool:       cfg.Convert.HTMLTool,
		HTMLToolArgs:   cfg.Convert.HTMLToolArgs,
		OfficeTool:     cfg.Convert.OfficeTool,
		OfficeToolArgs: cfg.Convert.OfficeToolArgs,
		DiscardUnknown: cfg.Convert.DiscardUnknown,
		Logger:         logger,
	})

	analyzer := analyze.New(logger)

	registry := crawl.NewRegistry()
	registry.Register("eurlex", eurlex.New)
	registry.Register("bafin", bafin.New)
	for _, sc := range cfg.Sources {
		if sc.kind() == "newsfeed" {
			registry.Register(sc.Name, newsfeed.Factory(newsfeed.Config{
				Name:        sc.Name,
				URL:         sc.FeedURL,
				FollowLinks: sc.FollowLinks,
			}))
		}
	}

	deps := crawl.Deps{Fetcher: fetcher, Logger: logger}

	exitCode := 0
	for _, sc := range cfg.Sources {
		if !sc.enabled() || (*only != "" && sc.Name != *only) {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		plugin, err := registry.New(sc.Name, deps)
		if err != nil {
			slog.Error("source setup failed", "source", sc.Name, "error", err)
			exitCode = 1
			continue
		}

		orch := crawl.NewOrchestrator(plugin, fetcher, converter, analyzer, blobs, idx, crawl.Config{
			QueueSize: cfg.QueueSize,
			Workers:   cfg.Workers,
			Logger:    logger,
		})

		params := crawl.RunParams{
			Limit:   sc.Limit,
			Initial: sc.Initial || *initial,
		}
		if *limit > 0 {
			params.Limit = *limit
		}

		sum, err := orch.Run(ctx, params)
		if err != nil && ctx.Err() == nil {
			slog.Error("run failed", "source", sc.Name, "error", err)
			exitCode = 1
		}
		slog.Info("source done", "source", sc.Name,
			"discovered", sum.Discovered, "stored", sum.Stored,
			"skipped", sum.Skipped, "failed", sum.Failed)
	}

	os.Exit(exitCode)
}
