package models

import "time"

// ListingSnapshot is one observation of a listing on one calendar day:
// "this listing was for sale on this date, at this price". The key
// (source, listing_id, snapshot_date) is unique; re-inserting the same key
// replaces that day's observation.
type ListingSnapshot struct {
	ID            int64
	Source        string
	ListingID     string
	SnapshotDate  time.Time
	GenericModel  string
	SpecificModel string
	Reference     string
	SellerID      string
	Condition     string
	Price         *float64
	Currency      string
	UploadDate    *time.Time
	Location      string
	URL           string
	CreatedAt     time.Time
}

// DetectedSale records a listing that was present yesterday and absent
// today, inferred to be sold. Descriptive fields mirror the last snapshot.
// (source, listing_id, detection_date) must be unique; violations are a
// defect the integrity auditor detects and repairs.
type DetectedSale struct {
	ID               int64
	Source           string
	ListingID        string
	DetectionDate    time.Time
	GenericModel     string
	SpecificModel    string
	Reference        string
	SellerID         string
	Condition        string
	SalePrice        *float64
	Currency         string
	PriceIsEstimated bool
	DaysOnSale       int
	UploadDate       *time.Time
	Location         string
	URL              string
	CreatedAt        time.Time
}

// PriceUpdate is emitted for a listing present on both sides of a diff with
// a changed, non-null price. Informational only; never persisted as a sale.
type PriceUpdate struct {
	Source    string
	ListingID string
	OldPrice  float64
	NewPrice  float64
	Delta     float64
}
