package storage

import (
	"time"

	"github.com/Callejox/watch-my-bag-scraper/models"
)

// DuplicateGroup is one violated (source, listing_id, detection_date) key
// in detected_sales, with the row ids that share it in ascending order.
type DuplicateGroup struct {
	Source        string
	ListingID     string
	DetectionDate time.Time
	IDs           []int64
}

// SaleKey identifies one detected sale by its logical key.
type SaleKey struct {
	Source        string
	ListingID     string
	DetectionDate time.Time
}

// DailyCount is the number of snapshot rows one source produced on one day.
type DailyCount struct {
	Source string
	Date   time.Time
	Count  int
}

// Store is the persistent store the engine writes snapshots, sales and run
// logs to. All write operations are transactional at call granularity.
type Store interface {
	// SaveSnapshot persists one day's snapshot for a source in a single
	// transaction, replacing any existing observation with the same key.
	SaveSnapshot(source string, items []*models.ListingSnapshot, day time.Time) (int, error)

	// SaveRunResults persists a day's snapshot and its detected sales as a
	// single logical transaction, so a crash mid-run never leaves a
	// half-written snapshot. Returns (snapshots, sales) written.
	SaveRunResults(source string, items []*models.ListingSnapshot, sales []*models.DetectedSale, day time.Time) (int, int, error)

	GetSnapshot(source string, day time.Time) ([]*models.ListingSnapshot, error)
	GetSales(from, to time.Time, source string) ([]*models.DetectedSale, error)
	LogRun(rec *models.RunRecord) error
	PurgeSnapshotsBefore(cutoff time.Time) (int64, error)

	// Audit surface.
	DuplicateSales() ([]DuplicateGroup, error)
	FalsePositiveSales() ([]*models.DetectedSale, error)
	DeleteSalesByIDs(ids []int64) (int64, error)
	DeleteSales(keys []SaleKey) (int64, error)
	DailySnapshotCounts() ([]DailyCount, error)
	Backup(tag string) (string, error)

	Stats() (*models.StoreStats, error)
	Close() error
}
