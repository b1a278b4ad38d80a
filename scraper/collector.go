package scraper

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Callejox/watch-my-bag-scraper/models"
	"github.com/Callejox/watch-my-bag-scraper/utils"
)

// maxConsecutiveFailures aborts a run once this many pages in a row fail.
// Consecutive failures mean the source is blocking or down; isolated ones
// are just a flaky page and the run continues.
const maxConsecutiveFailures = 2

// PageFetcher fetches one result page. Satisfied by Navigator.
type PageFetcher interface {
	Fetch(ctx context.Context, target Target) (string, error)
}

// Collector runs the full collection for one query: detect the expected
// universe, then walk result pages sequentially until done, capped, or the
// consecutive-failure breaker trips.
type Collector struct {
	source    Source
	fetcher   PageFetcher
	estimator *Estimator
	pageDelay utils.DelayPolicy
	maxPages  int // 0 = no cap
	logger    *utils.Logger
}

func NewCollector(source Source, fetcher PageFetcher, estimator *Estimator, pageDelay utils.DelayPolicy, maxPages int, logger *utils.Logger) *Collector {
	return &Collector{
		source:    source,
		fetcher:   fetcher,
		estimator: estimator,
		pageDelay: pageDelay,
		maxPages:  maxPages,
		logger:    logger,
	}
}

// Collect fetches every result page for a query term. It always returns
// metadata describing what actually happened; a collection that got nothing
// is a valid outcome for the coverage gate to judge, not an error.
func (c *Collector) Collect(ctx context.Context, term string, day time.Time) ([]*models.ListingSnapshot, *models.RunMetadata, error) {
	meta := &models.RunMetadata{
		RunID:     uuid.NewString(),
		Source:    c.source.Name(),
		Query:     term,
		StartedAt: time.Now().UTC(),
	}

	c.logger.Info("[collector] %s: collecting %q", c.source.Name(), term)

	firstHTML, err := c.fetcher.Fetch(ctx, Target{URL: c.source.SearchURL(term, 1), PageNum: 1})
	if err != nil {
		if ctx.Err() != nil {
			return nil, meta, ctx.Err()
		}
		c.logger.Error("[collector] %s: first page of %q unreachable: %v", c.source.Name(), term, err)
		meta.ConsecutiveFailuresAtStop = 1
		return nil, meta, nil
	}

	universe := c.estimator.Estimate(firstHTML)
	meta.PagesExpected = universe.Pages

	seen := utils.NewStringSet()
	var items []*models.ListingSnapshot
	items = c.appendPage(items, seen, firstHTML, day, 1)
	meta.PagesCollected = 1

	lastPage := universe.Pages
	if c.maxPages > 0 && c.maxPages < lastPage {
		c.logger.Info("[collector] Capping run at %d of %d pages", c.maxPages, lastPage)
		lastPage = c.maxPages
	}

	consecutive := 0
	for page := 2; page <= lastPage; page++ {
		if err := c.pageDelay.Wait(ctx); err != nil {
			return items, meta, err
		}

		html, err := c.fetcher.Fetch(ctx, Target{URL: c.source.SearchURL(term, page), PageNum: page})
		if err != nil {
			if ctx.Err() != nil {
				return items, meta, ctx.Err()
			}
			consecutive++
			c.logger.Warn("[collector] Page %d/%d failed (%d consecutive): %v", page, lastPage, consecutive, err)
			if consecutive >= maxConsecutiveFailures {
				c.logger.Error("[collector] %s: aborting %q after %d consecutive page failures", c.source.Name(), term, consecutive)
				meta.ConsecutiveFailuresAtStop = consecutive
				break
			}
			continue
		}

		consecutive = 0
		items = c.appendPage(items, seen, html, day, page)
		meta.PagesCollected++
	}

	meta.ItemsCollected = len(items)
	c.logger.Info("[collector] %s: %q done, %d items across %d/%d pages",
		c.source.Name(), term, meta.ItemsCollected, meta.PagesCollected, meta.PagesExpected)
	return items, meta, nil
}

// appendPage parses a page and merges its listings, keeping the first
// observation when a listing id repeats across pages.
func (c *Collector) appendPage(items []*models.ListingSnapshot, seen *utils.StringSet, html string, day time.Time, page int) []*models.ListingSnapshot {
	parsed, err := c.source.ParseListings(html, day)
	if err != nil {
		c.logger.Warn("[collector] Page %d parsed with error: %v", page, err)
	}

	added := 0
	for _, item := range parsed {
		if seen.Contains(item.ListingID) {
			continue
		}
		seen.Add(item.ListingID)
		items = append(items, item)
		added++
	}
	c.logger.Debug("[collector] Page %d contributed %d new listings (%d duplicates)", page, added, len(parsed)-added)
	return items
}
