package services

import (
	"fmt"
	"math"

	"github.com/Callejox/watch-my-bag-scraper/models"
	"github.com/Callejox/watch-my-bag-scraper/utils"
)

// CoverageValidator is the gate between collection and comparison. A partial
// collection compared against a complete one would manufacture phantom
// sales, so any run whose coverage looks suspect is rejected and its day
// produces no deltas.
type CoverageValidator struct {
	maxChangePct   float64
	minPageCovPct  float64
	minItems       int
	logger         *utils.Logger
}

// NewCoverageValidator builds a validator with the three gate thresholds:
// the allowed day-over-day size change, the minimum share of expected pages
// that must have been collected, and the absolute item floor.
func NewCoverageValidator(maxChangePct, minPageCovPct float64, minItems int, logger *utils.Logger) *CoverageValidator {
	return &CoverageValidator{
		maxChangePct:  maxChangePct,
		minPageCovPct: minPageCovPct,
		minItems:      minItems,
		logger:        logger,
	}
}

// Validate judges one run's coverage. firstRun accepts unconditionally since
// there is no baseline to be volatile against and no deltas will be drawn.
// An empty collection is rejected before any other check: zero items means
// the scrape failed, never that the market emptied overnight.
func (v *CoverageValidator) Validate(meta *models.RunMetadata, yesterdayCount int, firstRun bool) models.CoverageVerdict {
	if firstRun {
		v.logger.Info("[validator] %s/%s: first run, accepting %d items as baseline",
			meta.Source, meta.Query, meta.ItemsCollected)
		return models.CoverageVerdict{Accepted: true, FirstRun: true}
	}

	if meta.ItemsCollected == 0 {
		return v.reject(meta, models.ReasonEmptyCollection, "collected 0 items")
	}

	if yesterdayCount > 0 {
		changePct := math.Abs(float64(meta.ItemsCollected-yesterdayCount)) / float64(yesterdayCount) * 100
		if changePct > v.maxChangePct {
			return v.reject(meta, models.ReasonVolatility,
				fmt.Sprintf("count moved %.1f%% (%d -> %d), limit %.1f%%",
					changePct, yesterdayCount, meta.ItemsCollected, v.maxChangePct))
		}
	}

	if meta.PagesExpected > 0 {
		covPct := float64(meta.PagesCollected) / float64(meta.PagesExpected) * 100
		if covPct < v.minPageCovPct {
			return v.reject(meta, models.ReasonPageCoverage,
				fmt.Sprintf("collected %d of %d expected pages (%.1f%%), floor %.1f%%",
					meta.PagesCollected, meta.PagesExpected, covPct, v.minPageCovPct))
		}
	}

	if meta.ItemsCollected < v.minItems {
		return v.reject(meta, models.ReasonAbsoluteFloor,
			fmt.Sprintf("collected %d items, floor %d", meta.ItemsCollected, v.minItems))
	}

	v.logger.Info("[validator] %s/%s: coverage accepted (%d items, %d/%d pages)",
		meta.Source, meta.Query, meta.ItemsCollected, meta.PagesCollected, meta.PagesExpected)
	return models.CoverageVerdict{Accepted: true}
}

func (v *CoverageValidator) reject(meta *models.RunMetadata, reason models.RejectionReason, detail string) models.CoverageVerdict {
	v.logger.Warn("[validator] %s/%s: coverage rejected (%s): %s", meta.Source, meta.Query, reason, detail)
	return models.CoverageVerdict{Reason: reason, Detail: detail}
}
