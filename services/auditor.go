package services

import (
	"fmt"
	"time"

	"github.com/Callejox/watch-my-bag-scraper/models"
	"github.com/Callejox/watch-my-bag-scraper/storage"
	"github.com/Callejox/watch-my-bag-scraper/utils"
)

// AuditStore is the slice of the store the auditor needs.
type AuditStore interface {
	DuplicateSales() ([]storage.DuplicateGroup, error)
	FalsePositiveSales() ([]*models.DetectedSale, error)
	DeleteSalesByIDs(ids []int64) (int64, error)
	DeleteSales(keys []storage.SaleKey) (int64, error)
	DailySnapshotCounts() ([]storage.DailyCount, error)
	Backup(tag string) (string, error)
}

// VolumeCollapse flags one day whose snapshot count fell off a cliff
// relative to the previous observed day for the same source. Collapses are
// reported, never repaired; the coverage gate should have caught them.
type VolumeCollapse struct {
	Source    string
	Date      time.Time
	PrevCount int
	Count     int
	DropPct   float64
}

// AuditReport is the read-only outcome of one audit pass.
type AuditReport struct {
	DuplicateGroups []storage.DuplicateGroup
	DuplicateRows   int
	FalsePositives  []*models.DetectedSale
	VolumeCollapses []VolumeCollapse
}

// Clean reports whether the audit found nothing to repair or flag.
func (r *AuditReport) Clean() bool {
	return len(r.DuplicateGroups) == 0 && len(r.FalsePositives) == 0 && len(r.VolumeCollapses) == 0
}

// collapseThresholdPct marks a day-over-day snapshot drop as a collapse.
const collapseThresholdPct = 90.0

// IntegrityAuditor finds and repairs historical defects in detected sales:
// duplicate sale keys, sales contradicted by later snapshots, and collapsed
// snapshot days. Repairs take a table backup first and are idempotent.
type IntegrityAuditor struct {
	store  AuditStore
	logger *utils.Logger
}

func NewIntegrityAuditor(store AuditStore, logger *utils.Logger) *IntegrityAuditor {
	return &IntegrityAuditor{store: store, logger: logger}
}

// Audit runs every check and returns the findings without modifying data.
func (a *IntegrityAuditor) Audit() (*AuditReport, error) {
	report := &AuditReport{}

	groups, err := a.store.DuplicateSales()
	if err != nil {
		return nil, fmt.Errorf("audit duplicates: %w", err)
	}
	report.DuplicateGroups = groups
	for _, g := range groups {
		report.DuplicateRows += len(g.IDs) - 1
	}

	fps, err := a.store.FalsePositiveSales()
	if err != nil {
		return nil, fmt.Errorf("audit false positives: %w", err)
	}
	report.FalsePositives = fps

	collapses, err := a.volumeCollapses()
	if err != nil {
		return nil, fmt.Errorf("audit volume: %w", err)
	}
	report.VolumeCollapses = collapses

	a.logger.Info("[auditor] Audit complete: %d duplicate groups (%d extra rows), %d false positives, %d volume collapses",
		len(report.DuplicateGroups), report.DuplicateRows, len(report.FalsePositives), len(report.VolumeCollapses))
	for _, c := range report.VolumeCollapses {
		a.logger.Warn("[auditor] %s snapshot collapsed on %s: %d -> %d (%.1f%% drop)",
			c.Source, c.Date.Format("2006-01-02"), c.PrevCount, c.Count, c.DropPct)
	}
	return report, nil
}

// RepairDuplicates removes redundant rows from duplicated sale keys, keeping
// the row with the lowest id in each group (the earliest insertion). A
// backup of the sales table is taken before any deletion. With no
// duplicates present it deletes nothing and takes no backup, so running the
// repair twice is safe.
func (a *IntegrityAuditor) RepairDuplicates() (int64, error) {
	groups, err := a.store.DuplicateSales()
	if err != nil {
		return 0, fmt.Errorf("repair duplicates: %w", err)
	}
	if len(groups) == 0 {
		a.logger.Info("[auditor] No duplicate sales found, nothing to repair")
		return 0, nil
	}

	backup, err := a.store.Backup("dup_repair")
	if err != nil {
		return 0, fmt.Errorf("repair duplicates: backup: %w", err)
	}
	a.logger.Info("[auditor] Backup written to %s", backup)

	var toDelete []int64
	for _, g := range groups {
		// IDs arrive ascending; everything after the first is redundant.
		toDelete = append(toDelete, g.IDs[1:]...)
	}

	deleted, err := a.store.DeleteSalesByIDs(toDelete)
	if err != nil {
		return 0, fmt.Errorf("repair duplicates: delete: %w", err)
	}
	a.logger.Info("[auditor] Removed %d duplicate sale rows across %d groups", deleted, len(groups))
	return deleted, nil
}

// RepairFalsePositives removes sales contradicted by a snapshot observed
// after the detection date: if the listing reappeared, it was never sold.
// Backup-first and idempotent like RepairDuplicates.
func (a *IntegrityAuditor) RepairFalsePositives() (int64, error) {
	fps, err := a.store.FalsePositiveSales()
	if err != nil {
		return 0, fmt.Errorf("repair false positives: %w", err)
	}
	if len(fps) == 0 {
		a.logger.Info("[auditor] No false-positive sales found, nothing to repair")
		return 0, nil
	}

	backup, err := a.store.Backup("fp_repair")
	if err != nil {
		return 0, fmt.Errorf("repair false positives: backup: %w", err)
	}
	a.logger.Info("[auditor] Backup written to %s", backup)

	keys := make([]storage.SaleKey, 0, len(fps))
	for _, s := range fps {
		keys = append(keys, storage.SaleKey{
			Source:        s.Source,
			ListingID:     s.ListingID,
			DetectionDate: s.DetectionDate,
		})
	}

	deleted, err := a.store.DeleteSales(keys)
	if err != nil {
		return 0, fmt.Errorf("repair false positives: delete: %w", err)
	}
	a.logger.Info("[auditor] Removed %d false-positive sales", deleted)
	return deleted, nil
}

// volumeCollapses walks daily snapshot counts per source in date order and
// flags any day that dropped more than collapseThresholdPct from the
// previous observed day.
func (a *IntegrityAuditor) volumeCollapses() ([]VolumeCollapse, error) {
	counts, err := a.store.DailySnapshotCounts()
	if err != nil {
		return nil, err
	}

	var collapses []VolumeCollapse
	prev := make(map[string]storage.DailyCount)
	for _, dc := range counts {
		if p, ok := prev[dc.Source]; ok && p.Count > 0 {
			dropPct := float64(p.Count-dc.Count) / float64(p.Count) * 100
			if dropPct > collapseThresholdPct {
				collapses = append(collapses, VolumeCollapse{
					Source:    dc.Source,
					Date:      dc.Date,
					PrevCount: p.Count,
					Count:     dc.Count,
					DropPct:   dropPct,
				})
			}
		}
		prev[dc.Source] = dc
	}
	return collapses, nil
}
