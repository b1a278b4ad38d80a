package scraper

import (
	"context"
	"time"

	"github.com/Callejox/watch-my-bag-scraper/models"
)

// Source is a marketplace adapter. It knows how to build search URLs and how
// to turn a rendered result page into listing snapshots.
type Source interface {
	Name() string

	// SearchURL builds the result-page URL for a query term and 1-based page.
	SearchURL(term string, page int) string

	// ParseListings extracts all listings from a rendered result page.
	ParseListings(html string, day time.Time) ([]*models.ListingSnapshot, error)

	// CountListings returns how many listing records the page contains,
	// without full parsing. Used to validate that a navigation attempt
	// actually produced a result page.
	CountListings(html string) int

	// ParseUniverse reads the expected result universe (total items, total
	// pages) from a first result page. Zero fields mean "not found".
	ParseUniverse(html string) models.ExpectedUniverse

	// PageSize is the nominal number of listings per result page.
	PageSize() int
}

// SalePriceLookup is implemented by sources that can recover the final sale
// price of a delisted item, e.g. from a "sold" detail page. Sources without
// this capability leave detected sale prices estimated.
type SalePriceLookup interface {
	LookupSalePrice(ctx context.Context, listingURL string) (float64, error)
}
