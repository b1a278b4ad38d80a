package models

import "time"

// ExpectedUniverse is the pre-collection estimate of how many items and
// pages a query's result set spans. Items may be an estimate derived from
// Pages × page size when no explicit total is advertised.
type ExpectedUniverse struct {
	Items int
	Pages int
}

// RunMetadata summarises one collection run for a single query. It is
// consumed exactly once by the coverage validator and then recorded in the
// run log.
type RunMetadata struct {
	RunID                     string
	Source                    string
	Query                     string
	ItemsCollected            int
	PagesCollected            int
	PagesExpected             int
	ConsecutiveFailuresAtStop int
	StartedAt                 time.Time
}

// RejectionReason names why a coverage verdict rejected a run.
type RejectionReason string

const (
	ReasonEmptyCollection RejectionReason = "empty collection"
	ReasonVolatility      RejectionReason = "day-over-day volatility"
	ReasonPageCoverage    RejectionReason = "page coverage ratio"
	ReasonAbsoluteFloor   RejectionReason = "absolute floor"
)

// CoverageVerdict is the gate decision over a run: either the collected
// data is trustworthy enough to diff, or sale detection is skipped for the
// day. Rejections are ordinary values, never errors.
type CoverageVerdict struct {
	Accepted bool
	FirstRun bool
	Reason   RejectionReason
	Detail   string
}

// RunStatus is the outcome recorded in the run log.
type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusPartial RunStatus = "partial"
	StatusFailed  RunStatus = "failed"
	StatusSkipped RunStatus = "skipped"
)

// RunRecord is the single log row every run produces.
type RunRecord struct {
	ID              int64
	RunID           string
	Source          string
	RunDate         time.Time
	Status          RunStatus
	ItemsCollected  int
	SalesDetected   int
	RejectionReason string
	DurationSeconds float64
	CreatedAt       time.Time
}

// StoreStats aggregates store-wide counters for the stats report.
type StoreStats struct {
	TotalSnapshots  int64
	TotalSales      int64
	SalesBySource   map[string]int64
	EstimatedPrices int64
	RealPrices      int64
	OldestSnapshot  *time.Time
	NewestSnapshot  *time.Time
	LastRun         *RunRecord
}
