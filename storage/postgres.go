package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/Callejox/watch-my-bag-scraper/models"
	"github.com/Callejox/watch-my-bag-scraper/utils"
)

// PostgresStore persists snapshots, detected sales and run logs to PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *utils.Logger
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresStore.
func NewPostgresStore(dsn string, logger *utils.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	retry := &utils.RetryConfig{MaxAttempts: 10, BaseDelay: time.Second, Logger: logger}
	if err := retry.Do(context.Background(), "postgres ping", db.Ping); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	ps := &PostgresStore{db: db, logger: logger}
	if err := ps.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return ps, nil
}

func (ps *PostgresStore) migrate() error {
	_, err := ps.db.Exec(`
		CREATE TABLE IF NOT EXISTS listing_snapshots (
			id             BIGSERIAL PRIMARY KEY,
			source         VARCHAR(50) NOT NULL,
			listing_id     TEXT        NOT NULL,
			snapshot_date  DATE        NOT NULL,
			generic_model  TEXT        NOT NULL DEFAULT '',
			specific_model TEXT        NOT NULL DEFAULT '',
			reference      TEXT        NOT NULL DEFAULT '',
			seller_id      TEXT        NOT NULL DEFAULT '',
			condition      TEXT        NOT NULL DEFAULT '',
			price          NUMERIC(12,2),
			currency       VARCHAR(8)  NOT NULL DEFAULT 'EUR',
			upload_date    DATE,
			location       TEXT        NOT NULL DEFAULT '',
			url            TEXT        NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(source, listing_id, snapshot_date)
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_source_date ON listing_snapshots(source, snapshot_date);
		CREATE INDEX IF NOT EXISTS idx_snapshots_listing     ON listing_snapshots(listing_id);

		CREATE TABLE IF NOT EXISTS detected_sales (
			id                 BIGSERIAL PRIMARY KEY,
			source             VARCHAR(50) NOT NULL,
			listing_id         TEXT        NOT NULL,
			detection_date     DATE        NOT NULL,
			generic_model      TEXT        NOT NULL DEFAULT '',
			specific_model     TEXT        NOT NULL DEFAULT '',
			reference          TEXT        NOT NULL DEFAULT '',
			seller_id          TEXT        NOT NULL DEFAULT '',
			condition          TEXT        NOT NULL DEFAULT '',
			sale_price         NUMERIC(12,2),
			currency           VARCHAR(8)  NOT NULL DEFAULT 'EUR',
			price_is_estimated BOOLEAN     NOT NULL DEFAULT TRUE,
			days_on_sale       INTEGER     NOT NULL DEFAULT 0,
			upload_date        DATE,
			location           TEXT        NOT NULL DEFAULT '',
			url                TEXT        NOT NULL DEFAULT '',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_sales_source_date ON detected_sales(source, detection_date);
		CREATE INDEX IF NOT EXISTS idx_sales_listing     ON detected_sales(source, listing_id);

		CREATE TABLE IF NOT EXISTS scrape_runs (
			id               BIGSERIAL PRIMARY KEY,
			run_id           VARCHAR(40) NOT NULL,
			source           VARCHAR(50) NOT NULL,
			run_date         DATE        NOT NULL,
			status           VARCHAR(20) NOT NULL,
			items_collected  INTEGER     NOT NULL DEFAULT 0,
			sales_detected   INTEGER     NOT NULL DEFAULT 0,
			rejection_reason TEXT        NOT NULL DEFAULT '',
			duration_seconds NUMERIC(10,2) NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// SaveSnapshot inserts or replaces one day's observations in a single
// transaction. The unique key makes a re-run of the same day an update,
// never a duplicate.
func (ps *PostgresStore) SaveSnapshot(source string, items []*models.ListingSnapshot, day time.Time) (int, error) {
	tx, err := ps.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	n, err := insertSnapshotsTx(tx, source, items, day)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgres: commit snapshot: %w", err)
	}
	return n, nil
}

// SaveRunResults writes the day's snapshot and its sale batch atomically.
func (ps *PostgresStore) SaveRunResults(source string, items []*models.ListingSnapshot, sales []*models.DetectedSale, day time.Time) (int, int, error) {
	tx, err := ps.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: begin: %w", err)
	}
	ns, err := insertSnapshotsTx(tx, source, items, day)
	if err != nil {
		_ = tx.Rollback()
		return 0, 0, err
	}
	nd, err := insertSalesTx(tx, sales)
	if err != nil {
		_ = tx.Rollback()
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("postgres: commit run results: %w", err)
	}
	return ns, nd, nil
}

func insertSnapshotsTx(tx *sql.Tx, source string, items []*models.ListingSnapshot, day time.Time) (int, error) {
	stmt, err := tx.Prepare(`
		INSERT INTO listing_snapshots (
			source, listing_id, snapshot_date, generic_model, specific_model,
			reference, seller_id, condition, price, currency, upload_date,
			location, url
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (source, listing_id, snapshot_date) DO UPDATE SET
			generic_model  = EXCLUDED.generic_model,
			specific_model = EXCLUDED.specific_model,
			reference      = EXCLUDED.reference,
			seller_id      = EXCLUDED.seller_id,
			condition      = EXCLUDED.condition,
			price          = EXCLUDED.price,
			currency       = EXCLUDED.currency,
			upload_date    = EXCLUDED.upload_date,
			location       = EXCLUDED.location,
			url            = EXCLUDED.url
	`)
	if err != nil {
		return 0, fmt.Errorf("postgres: prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, it := range items {
		if _, err := stmt.Exec(
			source, it.ListingID, dateOnly(day), it.GenericModel, it.SpecificModel,
			it.Reference, it.SellerID, it.Condition, nullFloat(it.Price), it.Currency,
			nullDate(it.UploadDate), it.Location, it.URL,
		); err != nil {
			return 0, fmt.Errorf("postgres: insert snapshot %s: %w", it.ListingID, err)
		}
		count++
	}
	return count, nil
}

// insertSalesTx inserts plainly, without an ON CONFLICT clause: duplicate
// sale keys are a defect the auditor must be able to see and repair, not
// something to paper over at write time.
func insertSalesTx(tx *sql.Tx, sales []*models.DetectedSale) (int, error) {
	if len(sales) == 0 {
		return 0, nil
	}
	stmt, err := tx.Prepare(`
		INSERT INTO detected_sales (
			source, listing_id, detection_date, generic_model, specific_model,
			reference, seller_id, condition, sale_price, currency,
			price_is_estimated, days_on_sale, upload_date, location, url
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`)
	if err != nil {
		return 0, fmt.Errorf("postgres: prepare sale insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, s := range sales {
		if _, err := stmt.Exec(
			s.Source, s.ListingID, dateOnly(s.DetectionDate), s.GenericModel, s.SpecificModel,
			s.Reference, s.SellerID, s.Condition, nullFloat(s.SalePrice), s.Currency,
			s.PriceIsEstimated, s.DaysOnSale, nullDate(s.UploadDate), s.Location, s.URL,
		); err != nil {
			return 0, fmt.Errorf("postgres: insert sale %s: %w", s.ListingID, err)
		}
		count++
	}
	return count, nil
}

// GetSnapshot retrieves all observations for one source on one day.
func (ps *PostgresStore) GetSnapshot(source string, day time.Time) ([]*models.ListingSnapshot, error) {
	rows, err := ps.db.Query(`
		SELECT id, source, listing_id, snapshot_date, generic_model, specific_model,
		       reference, seller_id, condition, price, currency, upload_date,
		       location, url, created_at
		FROM listing_snapshots
		WHERE source = $1 AND snapshot_date = $2
		ORDER BY listing_id
	`, source, dateOnly(day))
	if err != nil {
		return nil, fmt.Errorf("postgres: get snapshot: %w", err)
	}
	defer rows.Close()

	var items []*models.ListingSnapshot
	for rows.Next() {
		it := &models.ListingSnapshot{}
		var price sql.NullFloat64
		var upload sql.NullTime
		if err := rows.Scan(
			&it.ID, &it.Source, &it.ListingID, &it.SnapshotDate, &it.GenericModel,
			&it.SpecificModel, &it.Reference, &it.SellerID, &it.Condition, &price,
			&it.Currency, &upload, &it.Location, &it.URL, &it.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		if price.Valid {
			v := price.Float64
			it.Price = &v
		}
		if upload.Valid {
			t := upload.Time
			it.UploadDate = &t
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetSales retrieves detected sales in [from, to], optionally filtered by source.
func (ps *PostgresStore) GetSales(from, to time.Time, source string) ([]*models.DetectedSale, error) {
	query := `
		SELECT id, source, listing_id, detection_date, generic_model, specific_model,
		       reference, seller_id, condition, sale_price, currency,
		       price_is_estimated, days_on_sale, upload_date, location, url, created_at
		FROM detected_sales
		WHERE detection_date BETWEEN $1 AND $2`
	args := []interface{}{dateOnly(from), dateOnly(to)}
	if source != "" {
		query += " AND source = $3"
		args = append(args, source)
	}
	query += " ORDER BY detection_date, source, listing_id"

	rows, err := ps.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: get sales: %w", err)
	}
	defer rows.Close()
	return scanSales(rows)
}

func scanSales(rows *sql.Rows) ([]*models.DetectedSale, error) {
	var sales []*models.DetectedSale
	for rows.Next() {
		s := &models.DetectedSale{}
		var price sql.NullFloat64
		var upload sql.NullTime
		if err := rows.Scan(
			&s.ID, &s.Source, &s.ListingID, &s.DetectionDate, &s.GenericModel,
			&s.SpecificModel, &s.Reference, &s.SellerID, &s.Condition, &price,
			&s.Currency, &s.PriceIsEstimated, &s.DaysOnSale, &upload,
			&s.Location, &s.URL, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan sale: %w", err)
		}
		if price.Valid {
			v := price.Float64
			s.SalePrice = &v
		}
		if upload.Valid {
			t := upload.Time
			s.UploadDate = &t
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

// LogRun records the single log row every run produces.
func (ps *PostgresStore) LogRun(rec *models.RunRecord) error {
	_, err := ps.db.Exec(`
		INSERT INTO scrape_runs (
			run_id, source, run_date, status, items_collected,
			sales_detected, rejection_reason, duration_seconds
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rec.RunID, rec.Source, dateOnly(rec.RunDate), string(rec.Status),
		rec.ItemsCollected, rec.SalesDetected, rec.RejectionReason, rec.DurationSeconds)
	if err != nil {
		return fmt.Errorf("postgres: log run: %w", err)
	}
	return nil
}

// PurgeSnapshotsBefore deletes snapshot rows older than the cutoff date.
func (ps *PostgresStore) PurgeSnapshotsBefore(cutoff time.Time) (int64, error) {
	res, err := ps.db.Exec(`DELETE FROM listing_snapshots WHERE snapshot_date < $1`, dateOnly(cutoff))
	if err != nil {
		return 0, fmt.Errorf("postgres: purge snapshots: %w", err)
	}
	return res.RowsAffected()
}

// DuplicateSales finds every (source, listing_id, detection_date) key held
// by more than one row, ids ascending.
func (ps *PostgresStore) DuplicateSales() ([]DuplicateGroup, error) {
	rows, err := ps.db.Query(`
		SELECT source, listing_id, detection_date, array_to_string(array_agg(id ORDER BY id), ',')
		FROM detected_sales
		GROUP BY source, listing_id, detection_date
		HAVING COUNT(*) > 1
		ORDER BY source, detection_date, listing_id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: duplicate sales: %w", err)
	}
	defer rows.Close()

	var groups []DuplicateGroup
	for rows.Next() {
		var g DuplicateGroup
		var ids string
		if err := rows.Scan(&g.Source, &g.ListingID, &g.DetectionDate, &ids); err != nil {
			return nil, fmt.Errorf("postgres: scan duplicate group: %w", err)
		}
		for _, part := range strings.Split(ids, ",") {
			var id int64
			if _, err := fmt.Sscanf(part, "%d", &id); err == nil {
				g.IDs = append(g.IDs, id)
			}
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// FalsePositiveSales finds sales whose listing reappears in a snapshot
// strictly after the detection date, proving the item was never sold.
func (ps *PostgresStore) FalsePositiveSales() ([]*models.DetectedSale, error) {
	rows, err := ps.db.Query(`
		SELECT s.id, s.source, s.listing_id, s.detection_date, s.generic_model,
		       s.specific_model, s.reference, s.seller_id, s.condition, s.sale_price,
		       s.currency, s.price_is_estimated, s.days_on_sale, s.upload_date,
		       s.location, s.url, s.created_at
		FROM detected_sales s
		WHERE EXISTS (
			SELECT 1 FROM listing_snapshots d
			WHERE d.source = s.source
			  AND d.listing_id = s.listing_id
			  AND d.snapshot_date > s.detection_date
		)
		ORDER BY s.detection_date DESC, s.source, s.listing_id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: false positives: %w", err)
	}
	defer rows.Close()
	return scanSales(rows)
}

// DeleteSalesByIDs removes sale rows by primary key.
func (ps *PostgresStore) DeleteSalesByIDs(ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	res, err := ps.db.Exec(
		fmt.Sprintf("DELETE FROM detected_sales WHERE id IN (%s)", strings.Join(placeholders, ",")),
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete sales by id: %w", err)
	}
	return res.RowsAffected()
}

// DeleteSales removes sale rows by logical key.
func (ps *PostgresStore) DeleteSales(keys []SaleKey) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	tx, err := ps.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	stmt, err := tx.Prepare(`
		DELETE FROM detected_sales
		WHERE source = $1 AND listing_id = $2 AND detection_date = $3
	`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("postgres: prepare delete: %w", err)
	}
	defer stmt.Close()

	var total int64
	for _, k := range keys {
		res, err := stmt.Exec(k.Source, k.ListingID, dateOnly(k.DetectionDate))
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("postgres: delete sale %s/%s: %w", k.Source, k.ListingID, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgres: commit deletes: %w", err)
	}
	return total, nil
}

// DailySnapshotCounts returns per-source per-day snapshot row counts,
// ordered by source then date, for the volume-collapse audit.
func (ps *PostgresStore) DailySnapshotCounts() ([]DailyCount, error) {
	rows, err := ps.db.Query(`
		SELECT source, snapshot_date, COUNT(*)
		FROM listing_snapshots
		GROUP BY source, snapshot_date
		ORDER BY source, snapshot_date
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: daily counts: %w", err)
	}
	defer rows.Close()

	var counts []DailyCount
	for rows.Next() {
		var c DailyCount
		if err := rows.Scan(&c.Source, &c.Date, &c.Count); err != nil {
			return nil, fmt.Errorf("postgres: scan daily count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Backup copies both data tables into dated backup tables before any
// destructive repair touches them. Returns the table suffix used.
func (ps *PostgresStore) Backup(tag string) (string, error) {
	suffix := fmt.Sprintf("%s_%s", tag, time.Now().Format("20060102_150405"))
	for _, table := range []string{"detected_sales", "listing_snapshots"} {
		stmt := fmt.Sprintf("CREATE TABLE %s_backup_%s AS SELECT * FROM %s", table, suffix, table)
		if _, err := ps.db.Exec(stmt); err != nil {
			return "", fmt.Errorf("postgres: backup %s: %w", table, err)
		}
	}
	ps.logger.Info("[storage] Backup tables created with suffix %s", suffix)
	return suffix, nil
}

// Stats aggregates store-wide counters for the stats report.
func (ps *PostgresStore) Stats() (*models.StoreStats, error) {
	stats := &models.StoreStats{SalesBySource: make(map[string]int64)}

	if err := ps.db.QueryRow(`SELECT COUNT(*) FROM listing_snapshots`).Scan(&stats.TotalSnapshots); err != nil {
		return nil, fmt.Errorf("postgres: stats snapshots: %w", err)
	}
	if err := ps.db.QueryRow(`SELECT COUNT(*) FROM detected_sales`).Scan(&stats.TotalSales); err != nil {
		return nil, fmt.Errorf("postgres: stats sales: %w", err)
	}
	if err := ps.db.QueryRow(`
		SELECT COALESCE(SUM(CASE WHEN price_is_estimated THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN price_is_estimated THEN 0 ELSE 1 END), 0)
		FROM detected_sales
	`).Scan(&stats.EstimatedPrices, &stats.RealPrices); err != nil {
		return nil, fmt.Errorf("postgres: stats prices: %w", err)
	}

	rows, err := ps.db.Query(`SELECT source, COUNT(*) FROM detected_sales GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("postgres: stats by source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var n int64
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan stats row: %w", err)
		}
		stats.SalesBySource[source] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldest, newest sql.NullTime
	if err := ps.db.QueryRow(`SELECT MIN(snapshot_date), MAX(snapshot_date) FROM listing_snapshots`).
		Scan(&oldest, &newest); err != nil {
		return nil, fmt.Errorf("postgres: stats date range: %w", err)
	}
	if oldest.Valid {
		stats.OldestSnapshot = &oldest.Time
	}
	if newest.Valid {
		stats.NewestSnapshot = &newest.Time
	}

	last := &models.RunRecord{}
	var status string
	err = ps.db.QueryRow(`
		SELECT id, run_id, source, run_date, status, items_collected,
		       sales_detected, rejection_reason, duration_seconds, created_at
		FROM scrape_runs ORDER BY created_at DESC LIMIT 1
	`).Scan(&last.ID, &last.RunID, &last.Source, &last.RunDate, &status,
		&last.ItemsCollected, &last.SalesDetected, &last.RejectionReason,
		&last.DurationSeconds, &last.CreatedAt)
	switch err {
	case nil:
		last.Status = models.RunStatus(status)
		stats.LastRun = last
	case sql.ErrNoRows:
	default:
		return nil, fmt.Errorf("postgres: stats last run: %w", err)
	}

	return stats, nil
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullDate(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: dateOnly(*t), Valid: true}
}
