package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Callejox/watch-my-bag-scraper/config"
	"github.com/Callejox/watch-my-bag-scraper/scraper"
	"github.com/Callejox/watch-my-bag-scraper/scraper/browser"
	"github.com/Callejox/watch-my-bag-scraper/scraper/chrono24"
	"github.com/Callejox/watch-my-bag-scraper/scraper/flaresolverr"
	"github.com/Callejox/watch-my-bag-scraper/services"
	"github.com/Callejox/watch-my-bag-scraper/storage"
	"github.com/Callejox/watch-my-bag-scraper/utils"
)

func main() {
	var (
		doScrape = flag.Bool("scrape", false, "collect today's snapshots and detect sales")
		doAudit  = flag.Bool("audit", false, "check detected sales for integrity defects")
		doRepair = flag.Bool("repair", false, "repair duplicate and false-positive sales (backup first)")
		doStats  = flag.Bool("stats", false, "print store statistics")
		schedule = flag.String("schedule", "", "cron expression; run -scrape on this schedule")
	)
	flag.Parse()

	cfg := config.Load()
	logger := utils.NewLoggerAt(utils.ParseLevel(cfg.LogLevel))

	if !*doScrape && !*doAudit && !*doRepair && !*doStats && *schedule == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger.Info("=== Marketplace sale detection starting ===")

	store, err := storage.NewPostgresStore(cfg.DSN(), logger)
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		logger.Error("Make sure Docker is running: docker compose up -d")
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	exitCode := 0

	if *doAudit {
		if err := runAudit(store, logger); err != nil {
			logger.Error("Audit failed: %v", err)
			exitCode = 1
		}
	}

	if *doRepair {
		if err := runRepair(store, logger); err != nil {
			logger.Error("Repair failed: %v", err)
			exitCode = 1
		}
	}

	if *doScrape {
		if err := runScrape(ctx, cfg, store, logger); err != nil {
			logger.Error("Scrape failed: %v", err)
			exitCode = 1
		}
	}

	if *doStats {
		statsSvc := services.NewStatsService(store, logger)
		report, err := statsSvc.Generate()
		if err != nil {
			logger.Error("Stats failed: %v", err)
			exitCode = 1
		} else {
			statsSvc.Print(report)
		}
	}

	if *schedule != "" {
		if err := runScheduled(ctx, *schedule, cfg, store, logger); err != nil {
			logger.Error("Scheduler failed: %v", err)
			exitCode = 1
		}
	}

	os.Exit(exitCode)
}

// runScheduled runs the scrape on a cron schedule until interrupted.
func runScheduled(ctx context.Context, spec string, cfg *config.Config, store storage.Store, logger *utils.Logger) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := runScrape(ctx, cfg, store, logger); err != nil {
			logger.Error("Scheduled scrape failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	logger.Info("Scheduler running with %q, waiting for next trigger", spec)
	c.Start()
	<-ctx.Done()
	logger.Info("Shutting down scheduler")
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

// runScrape collects every enabled source's queries for today and runs each
// collection through the coverage gate and sale detection.
func runScrape(ctx context.Context, cfg *config.Config, store storage.Store, logger *utils.Logger) error {
	sources, err := config.LoadSources(cfg.SourcesPath)
	if err != nil {
		return err
	}
	enabled := sources.Enabled()
	if len(enabled) == 0 {
		logger.Warn("No enabled sources in %s, nothing to do", cfg.SourcesPath)
		return nil
	}

	br, err := browser.New(cfg.ChromeBin, logger)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer br.Close()

	var solver *flaresolverr.Client
	if cfg.SolverEnabled {
		solver = flaresolverr.New(cfg.SolverURL,
			time.Duration(cfg.SolverTimeoutSec)*time.Second,
			time.Duration(cfg.SolverMinGapMs)*time.Millisecond,
			logger)
	}

	validator := services.NewCoverageValidator(cfg.MaxCoverageChangePct, cfg.MinPageCoveragePct, cfg.MinItemsAbsolute, logger)
	pipeline := services.NewPipeline(store, validator, cfg.RetentionDays, logger)
	queryDelay := cfg.QueryDelay()
	day := today()

	for _, srcCfg := range enabled {
		src, err := buildSource(srcCfg, logger)
		if err != nil {
			logger.Error("Skipping source %q: %v", srcCfg.Name, err)
			continue
		}

		for i, term := range srcCfg.Queries() {
			if i > 0 {
				if err := queryDelay.Wait(ctx); err != nil {
					return err
				}
			}
			if err := scrapeQuery(ctx, cfg, srcCfg, src, solver, br, pipeline, term, day, logger); err != nil {
				if ctx.Err() != nil {
					return err
				}
				// Store failures abort the whole run; the daily snapshot is
				// useless if it cannot be persisted.
				return err
			}
		}
	}
	return nil
}

// scrapeQuery runs collection and the pipeline for a single query term,
// using one tab so session cookies persist across its pages.
func scrapeQuery(ctx context.Context, cfg *config.Config, srcCfg config.SourceConfig, src scraper.Source, solver *flaresolverr.Client, br *browser.Browser, pipeline *services.Pipeline, term string, day time.Time, logger *utils.Logger) error {
	tab := br.NewTab()
	defer tab.Close()

	strategies := []scraper.Strategy{
		&scraper.DirectStrategy{Tab: tab, Timeout: cfg.PageTimeout()},
		&scraper.ClickStrategy{Tab: tab, Timeout: cfg.PageTimeout()},
	}
	if solver != nil {
		strategies = append(strategies, &scraper.SolverStrategy{Client: solver, Tab: tab, Logger: logger})
	}

	humanize := func(hctx context.Context) {
		if err := tab.SimulateReading(hctx); err != nil {
			logger.Debug("Reading simulation skipped: %v", err)
		}
	}

	navigator := scraper.NewNavigator(strategies, src.CountListings, cfg.MinItemsPerPage, humanize, cfg.AttemptDelay(), logger)
	estimator := scraper.NewEstimator(src, logger)

	maxPages := cfg.MaxPages
	if srcCfg.MaxPages > 0 && (maxPages == 0 || srcCfg.MaxPages < maxPages) {
		maxPages = srcCfg.MaxPages
	}
	collector := scraper.NewCollector(src, navigator, estimator, cfg.PageDelay(), maxPages, logger)

	items, meta, err := collector.Collect(ctx, term, day)
	if err != nil {
		return err
	}

	outcome, err := pipeline.ProcessRun(ctx, src, items, meta, day)
	if err != nil {
		return err
	}
	if !outcome.Verdict.Accepted && !outcome.Verdict.FirstRun {
		logger.Warn("Run for %s/%q rejected: %s", src.Name(), term, outcome.Verdict.Reason)
	}
	return nil
}

func buildSource(srcCfg config.SourceConfig, logger *utils.Logger) (scraper.Source, error) {
	switch srcCfg.Name {
	case chrono24.SourceName:
		return chrono24.New("", srcCfg.PageSize, srcCfg.ExcludeCountries, logger), nil
	default:
		return nil, fmt.Errorf("unknown source %q", srcCfg.Name)
	}
}

func runAudit(store storage.Store, logger *utils.Logger) error {
	auditor := services.NewIntegrityAuditor(store, logger)
	report, err := auditor.Audit()
	if err != nil {
		return err
	}
	if report.Clean() {
		logger.Info("Audit clean: no defects found")
	} else {
		logger.Warn("Audit found defects, run with -repair to fix duplicates and false positives")
	}
	return nil
}

func runRepair(store storage.Store, logger *utils.Logger) error {
	auditor := services.NewIntegrityAuditor(store, logger)
	if _, err := auditor.RepairDuplicates(); err != nil {
		return err
	}
	if _, err := auditor.RepairFalsePositives(); err != nil {
		return err
	}
	return nil
}

// today returns the current UTC date at midnight, the snapshot day key.
func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
