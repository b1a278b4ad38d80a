package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Callejox/watch-my-bag-scraper/models"
	"github.com/Callejox/watch-my-bag-scraper/scraper"
	"github.com/Callejox/watch-my-bag-scraper/storage"
	"github.com/Callejox/watch-my-bag-scraper/utils"
)

// RunOutcome summarises what one pipeline pass did with a collection.
type RunOutcome struct {
	Verdict       models.CoverageVerdict
	SnapshotSaved int
	SalesDetected int
	NewListings   int
	PriceUpdates  int
}

// Pipeline takes a finished collection through the coverage gate, the delta
// comparison and persistence. Storage failures are the only errors it
// returns; a rejected run is a normal outcome.
type Pipeline struct {
	store         storage.Store
	validator     *CoverageValidator
	retentionDays int
	logger        *utils.Logger
}

func NewPipeline(store storage.Store, validator *CoverageValidator, retentionDays int, logger *utils.Logger) *Pipeline {
	return &Pipeline{
		store:         store,
		validator:     validator,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// ProcessRun gates, diffs and persists one collection run.
//
// Rejected runs never produce sales. A rejection for an empty collection
// additionally saves no snapshot, so the last trustworthy day stays the
// comparison baseline; any other rejection saves the snapshot (tomorrow can
// diff against it) but skips detection for today.
func (p *Pipeline) ProcessRun(ctx context.Context, src scraper.Source, items []*models.ListingSnapshot, meta *models.RunMetadata, day time.Time) (*RunOutcome, error) {
	prev, err := p.store.GetSnapshot(meta.Source, day.AddDate(0, 0, -1))
	if err != nil {
		return nil, fmt.Errorf("pipeline: load previous snapshot: %w", err)
	}
	firstRun := len(prev) == 0

	outcome := &RunOutcome{Verdict: p.validator.Validate(meta, len(prev), firstRun)}

	if !outcome.Verdict.Accepted {
		if outcome.Verdict.Reason == models.ReasonEmptyCollection {
			// Nothing worth keeping; the baseline must not move.
			if err := p.logRun(meta, day, models.StatusFailed, 0, string(outcome.Verdict.Reason)); err != nil {
				return nil, err
			}
			return outcome, nil
		}

		saved, err := p.store.SaveSnapshot(meta.Source, items, day)
		if err != nil {
			return nil, fmt.Errorf("pipeline: save rejected snapshot: %w", err)
		}
		outcome.SnapshotSaved = saved
		if err := p.logRun(meta, day, models.StatusSkipped, 0, string(outcome.Verdict.Reason)); err != nil {
			return nil, err
		}
		return outcome, nil
	}

	if firstRun {
		saved, err := p.store.SaveSnapshot(meta.Source, items, day)
		if err != nil {
			return nil, fmt.Errorf("pipeline: save baseline snapshot: %w", err)
		}
		outcome.SnapshotSaved = saved
		if err := p.logRun(meta, day, models.StatusSuccess, 0, ""); err != nil {
			return nil, err
		}
		return outcome, nil
	}

	delta := Compare(prev, items, day)
	outcome.NewListings = len(delta.New)
	outcome.PriceUpdates = len(delta.Updated)

	p.confirmSalePrices(ctx, src, delta.Sold)

	saved, sales, err := p.store.SaveRunResults(meta.Source, items, delta.Sold, day)
	if err != nil {
		return nil, fmt.Errorf("pipeline: save run results: %w", err)
	}
	outcome.SnapshotSaved = saved
	outcome.SalesDetected = sales

	if p.retentionDays > 0 {
		cutoff := day.AddDate(0, 0, -p.retentionDays)
		purged, err := p.store.PurgeSnapshotsBefore(cutoff)
		if err != nil {
			return nil, fmt.Errorf("pipeline: purge old snapshots: %w", err)
		}
		if purged > 0 {
			p.logger.Info("[pipeline] Purged %d snapshot rows older than %s", purged, cutoff.Format("2006-01-02"))
		}
	}

	if err := p.logRun(meta, day, models.StatusSuccess, sales, ""); err != nil {
		return nil, err
	}

	p.logger.Info("[pipeline] %s/%s: %d sold, %d new, %d price updates",
		meta.Source, meta.Query, len(delta.Sold), len(delta.New), len(delta.Updated))
	return outcome, nil
}

// confirmSalePrices upgrades estimated sale prices for sources that can
// read the final figure from the delisted item's page. Lookup failures keep
// the estimate.
func (p *Pipeline) confirmSalePrices(ctx context.Context, src scraper.Source, sold []*models.DetectedSale) {
	lookup, ok := src.(scraper.SalePriceLookup)
	if !ok {
		return
	}
	for _, sale := range sold {
		if sale.URL == "" {
			continue
		}
		price, err := lookup.LookupSalePrice(ctx, sale.URL)
		if err != nil {
			p.logger.Debug("[pipeline] Sale price lookup failed for %s: %v", sale.ListingID, err)
			continue
		}
		sale.SalePrice = &price
		sale.PriceIsEstimated = false
	}
}

func (p *Pipeline) logRun(meta *models.RunMetadata, day time.Time, status models.RunStatus, sales int, reason string) error {
	rec := &models.RunRecord{
		RunID:           meta.RunID,
		Source:          meta.Source,
		RunDate:         day,
		Status:          status,
		ItemsCollected:  meta.ItemsCollected,
		SalesDetected:   sales,
		RejectionReason: reason,
		DurationSeconds: time.Since(meta.StartedAt).Seconds(),
	}
	if err := p.store.LogRun(rec); err != nil {
		return fmt.Errorf("pipeline: log run: %w", err)
	}
	return nil
}
