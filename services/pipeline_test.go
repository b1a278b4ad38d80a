package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Callejox/watch-my-bag-scraper/models"
	"github.com/Callejox/watch-my-bag-scraper/storage"
)

// fakeStore implements storage.Store in memory, keyed by snapshot day.
type fakeStore struct {
	snapshots map[string][]*models.ListingSnapshot
	sales     []*models.DetectedSale
	runs      []*models.RunRecord
	purged    []time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{snapshots: make(map[string][]*models.ListingSnapshot)}
}

func snapKey(source string, day time.Time) string {
	return source + "|" + day.Format("2006-01-02")
}

func (f *fakeStore) SaveSnapshot(source string, items []*models.ListingSnapshot, day time.Time) (int, error) {
	f.snapshots[snapKey(source, day)] = items
	return len(items), nil
}

func (f *fakeStore) SaveRunResults(source string, items []*models.ListingSnapshot, sales []*models.DetectedSale, day time.Time) (int, int, error) {
	f.snapshots[snapKey(source, day)] = items
	f.sales = append(f.sales, sales...)
	return len(items), len(sales), nil
}

func (f *fakeStore) GetSnapshot(source string, day time.Time) ([]*models.ListingSnapshot, error) {
	return f.snapshots[snapKey(source, day)], nil
}

func (f *fakeStore) GetSales(from, to time.Time, source string) ([]*models.DetectedSale, error) {
	return f.sales, nil
}

func (f *fakeStore) LogRun(rec *models.RunRecord) error {
	f.runs = append(f.runs, rec)
	return nil
}

func (f *fakeStore) PurgeSnapshotsBefore(cutoff time.Time) (int64, error) {
	f.purged = append(f.purged, cutoff)
	return 0, nil
}

func (f *fakeStore) DuplicateSales() ([]storage.DuplicateGroup, error)    { return nil, nil }
func (f *fakeStore) FalsePositiveSales() ([]*models.DetectedSale, error) { return nil, nil }
func (f *fakeStore) DeleteSalesByIDs(ids []int64) (int64, error)         { return 0, nil }
func (f *fakeStore) DeleteSales(keys []storage.SaleKey) (int64, error)   { return 0, nil }
func (f *fakeStore) DailySnapshotCounts() ([]storage.DailyCount, error)  { return nil, nil }
func (f *fakeStore) Backup(tag string) (string, error)                   { return "", nil }
func (f *fakeStore) Stats() (*models.StoreStats, error)                  { return &models.StoreStats{}, nil }
func (f *fakeStore) Close() error                                        { return nil }

// fakeSource is the minimal source the pipeline needs.
type fakeSource struct{ lookupPrice float64 }

func (s *fakeSource) Name() string                       { return "chrono24" }
func (s *fakeSource) SearchURL(term string, p int) string { return "" }
func (s *fakeSource) ParseListings(html string, day time.Time) ([]*models.ListingSnapshot, error) {
	return nil, nil
}
func (s *fakeSource) CountListings(html string) int                    { return 0 }
func (s *fakeSource) ParseUniverse(html string) models.ExpectedUniverse { return models.ExpectedUniverse{} }
func (s *fakeSource) PageSize() int                                    { return 120 }

// fakeLookupSource additionally confirms sale prices.
type fakeLookupSource struct {
	fakeSource
	err error
}

func (s *fakeLookupSource) LookupSalePrice(ctx context.Context, url string) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.lookupPrice, nil
}

func testPipeline(store storage.Store) *Pipeline {
	validator := NewCoverageValidator(10, 10, 2, newTestLogger())
	return NewPipeline(store, validator, 90, newTestLogger())
}

func manySnapshots(n int, day time.Time) []*models.ListingSnapshot {
	items := make([]*models.ListingSnapshot, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, snapshot(string(rune('A'+i)), float64(100*(i+1)), day))
	}
	return items
}

func acceptedMeta(items int) *models.RunMetadata {
	return &models.RunMetadata{
		RunID: "run-1", Source: "chrono24", Query: "Omega",
		ItemsCollected: items, PagesCollected: 1, PagesExpected: 1,
		StartedAt: time.Now(),
	}
}

func TestPipelineFirstRunSavesBaselineOnly(t *testing.T) {
	store := newFakeStore()
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	items := manySnapshots(5, day)

	outcome, err := testPipeline(store).ProcessRun(context.Background(), &fakeSource{}, items, acceptedMeta(5), day)
	require.NoError(t, err)

	assert.True(t, outcome.Verdict.FirstRun)
	assert.Equal(t, 5, outcome.SnapshotSaved)
	assert.Empty(t, store.sales)
	require.Len(t, store.runs, 1)
	assert.Equal(t, models.StatusSuccess, store.runs[0].Status)
}

func TestPipelineDetectsSales(t *testing.T) {
	store := newFakeStore()
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	prev := manySnapshots(20, day.AddDate(0, 0, -1))
	store.snapshots[snapKey("chrono24", day.AddDate(0, 0, -1))] = prev

	// Listing "A" disappears today; 20 -> 19 stays inside the volatility band.
	today := prev[1:]

	outcome, err := testPipeline(store).ProcessRun(context.Background(), &fakeSource{}, today, acceptedMeta(19), day)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.SalesDetected)
	require.Len(t, store.sales, 1)
	assert.Equal(t, "A", store.sales[0].ListingID)
	assert.True(t, store.sales[0].PriceIsEstimated)
	require.Len(t, store.purged, 1)
	assert.Equal(t, day.AddDate(0, 0, -90), store.purged[0])
}

func TestPipelineRejectionBlocksSalesButKeepsSnapshot(t *testing.T) {
	store := newFakeStore()
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	store.snapshots[snapKey("chrono24", day.AddDate(0, 0, -1))] = manySnapshots(20, day.AddDate(0, 0, -1))

	// 20 -> 4 items trips volatility.
	today := manySnapshots(4, day)
	outcome, err := testPipeline(store).ProcessRun(context.Background(), &fakeSource{}, today, acceptedMeta(4), day)
	require.NoError(t, err)

	assert.False(t, outcome.Verdict.Accepted)
	assert.Equal(t, models.ReasonVolatility, outcome.Verdict.Reason)
	assert.Empty(t, store.sales, "rejected run must not produce sales")
	assert.Len(t, store.snapshots[snapKey("chrono24", day)], 4, "snapshot still saved for tomorrow's baseline")
	require.Len(t, store.runs, 1)
	assert.Equal(t, models.StatusSkipped, store.runs[0].Status)
}

func TestPipelineEmptyRejectionSavesNothing(t *testing.T) {
	store := newFakeStore()
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	store.snapshots[snapKey("chrono24", day.AddDate(0, 0, -1))] = manySnapshots(20, day.AddDate(0, 0, -1))

	outcome, err := testPipeline(store).ProcessRun(context.Background(), &fakeSource{}, nil, acceptedMeta(0), day)
	require.NoError(t, err)

	assert.Equal(t, models.ReasonEmptyCollection, outcome.Verdict.Reason)
	assert.Empty(t, store.sales)
	assert.Empty(t, store.snapshots[snapKey("chrono24", day)], "empty collection must not move the baseline")
	require.Len(t, store.runs, 1)
	assert.Equal(t, models.StatusFailed, store.runs[0].Status)
}

func TestPipelineConfirmsSalePrices(t *testing.T) {
	store := newFakeStore()
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	prev := manySnapshots(20, day.AddDate(0, 0, -1))
	store.snapshots[snapKey("chrono24", day.AddDate(0, 0, -1))] = prev

	src := &fakeLookupSource{fakeSource: fakeSource{lookupPrice: 888}}
	_, err := testPipeline(store).ProcessRun(context.Background(), src, prev[1:], acceptedMeta(19), day)
	require.NoError(t, err)

	require.Len(t, store.sales, 1)
	require.NotNil(t, store.sales[0].SalePrice)
	assert.Equal(t, 888.0, *store.sales[0].SalePrice)
	assert.False(t, store.sales[0].PriceIsEstimated)
}

func TestPipelineLookupFailureKeepsEstimate(t *testing.T) {
	store := newFakeStore()
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	prev := manySnapshots(20, day.AddDate(0, 0, -1))
	store.snapshots[snapKey("chrono24", day.AddDate(0, 0, -1))] = prev

	src := &fakeLookupSource{err: errors.New("sold page gone")}
	_, err := testPipeline(store).ProcessRun(context.Background(), src, prev[1:], acceptedMeta(19), day)
	require.NoError(t, err)

	require.Len(t, store.sales, 1)
	require.NotNil(t, store.sales[0].SalePrice)
	assert.Equal(t, 100.0, *store.sales[0].SalePrice)
	assert.True(t, store.sales[0].PriceIsEstimated)
}
