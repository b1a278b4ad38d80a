package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Callejox/watch-my-bag-scraper/models"
	"github.com/Callejox/watch-my-bag-scraper/utils"
)

func testLogger() *utils.Logger { return utils.NewLoggerAt(utils.LevelError) }

// listSource is a fake whose "pages" are comma-separated listing ids with an
// optional "pages=N" universe marker.
type listSource struct{ pageSize int }

func (s *listSource) Name() string { return "fake" }

func (s *listSource) SearchURL(term string, page int) string {
	return fmt.Sprintf("https://fake.test/%s/%d", term, page)
}

func (s *listSource) ParseListings(html string, day time.Time) ([]*models.ListingSnapshot, error) {
	var items []*models.ListingSnapshot
	for _, id := range strings.Split(html, ",") {
		id = strings.TrimSpace(id)
		if id == "" || strings.HasPrefix(id, "pages=") {
			continue
		}
		items = append(items, &models.ListingSnapshot{Source: "fake", ListingID: id, SnapshotDate: day})
	}
	return items, nil
}

func (s *listSource) CountListings(html string) int {
	items, _ := s.ParseListings(html, time.Time{})
	return len(items)
}

func (s *listSource) ParseUniverse(html string) models.ExpectedUniverse {
	var universe models.ExpectedUniverse
	for _, part := range strings.Split(html, ",") {
		if n, ok := strings.CutPrefix(strings.TrimSpace(part), "pages="); ok {
			fmt.Sscanf(n, "%d", &universe.Pages)
		}
	}
	return universe
}

func (s *listSource) PageSize() int { return s.pageSize }

// fakeFetcher serves canned pages by page number.
type fakeFetcher struct {
	pages map[int]string
	fails map[int]bool
	calls []int
}

func (f *fakeFetcher) Fetch(ctx context.Context, target Target) (string, error) {
	f.calls = append(f.calls, target.PageNum)
	if f.fails[target.PageNum] {
		return "", errors.New("fetch failed")
	}
	html, ok := f.pages[target.PageNum]
	if !ok {
		return "", errors.New("no such page")
	}
	return html, nil
}

func testCollector(fetcher *fakeFetcher, maxPages int) *Collector {
	src := &listSource{pageSize: 3}
	return NewCollector(src, fetcher, NewEstimator(src, testLogger()), utils.ZeroDelay, maxPages, testLogger())
}

func TestCollectWalksAllPages(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[int]string{
		1: "pages=3,A,B,C",
		2: "D,E,F",
		3: "G,H",
	}}

	items, meta, err := testCollector(fetcher, 0).Collect(context.Background(), "omega", time.Now())
	require.NoError(t, err)

	assert.Len(t, items, 8)
	assert.Equal(t, 8, meta.ItemsCollected)
	assert.Equal(t, 3, meta.PagesCollected)
	assert.Equal(t, 3, meta.PagesExpected)
	assert.Zero(t, meta.ConsecutiveFailuresAtStop)
	assert.NotEmpty(t, meta.RunID)
}

func TestCollectDeduplicatesAcrossPages(t *testing.T) {
	// Listings shift between pages while paginating; B and C repeat.
	fetcher := &fakeFetcher{pages: map[int]string{
		1: "pages=2,A,B,C",
		2: "B,C,D",
	}}

	items, meta, err := testCollector(fetcher, 0).Collect(context.Background(), "omega", time.Now())
	require.NoError(t, err)

	require.Len(t, items, 4)
	assert.Equal(t, 4, meta.ItemsCollected)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ListingID)
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids)
}

func TestCollectStopsAfterConsecutiveFailures(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[int]string{
			1: "pages=10,A,B,C",
			2: "D,E,F",
			3: "G,H,I",
		},
		fails: map[int]bool{4: true, 5: true},
	}

	items, meta, err := testCollector(fetcher, 0).Collect(context.Background(), "omega", time.Now())
	require.NoError(t, err)

	assert.Len(t, items, 9)
	assert.Equal(t, 3, meta.PagesCollected)
	assert.Equal(t, 2, meta.ConsecutiveFailuresAtStop)
	// Page 6 was never attempted.
	assert.NotContains(t, fetcher.calls, 6)
}

func TestCollectSurvivesIsolatedFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[int]string{
			1: "pages=4,A,B,C",
			2: "D,E,F",
			4: "G,H,I",
		},
		fails: map[int]bool{3: true},
	}

	items, meta, err := testCollector(fetcher, 0).Collect(context.Background(), "omega", time.Now())
	require.NoError(t, err)

	assert.Len(t, items, 9)
	assert.Equal(t, 3, meta.PagesCollected)
	assert.Zero(t, meta.ConsecutiveFailuresAtStop, "a recovered failure leaves no stop marker")
	assert.Contains(t, fetcher.calls, 4)
}

func TestCollectFirstPageFailureReturnsEmpty(t *testing.T) {
	fetcher := &fakeFetcher{fails: map[int]bool{1: true}}

	items, meta, err := testCollector(fetcher, 0).Collect(context.Background(), "omega", time.Now())
	require.NoError(t, err, "an unreachable source is a coverage problem, not an error")

	assert.Empty(t, items)
	assert.Zero(t, meta.ItemsCollected)
	assert.Zero(t, meta.PagesCollected)
	assert.Equal(t, 1, meta.ConsecutiveFailuresAtStop)
}

func TestCollectRespectsPageCap(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[int]string{
		1: "pages=10,A,B,C",
		2: "D,E,F",
	}}

	items, meta, err := testCollector(fetcher, 2).Collect(context.Background(), "omega", time.Now())
	require.NoError(t, err)

	assert.Len(t, items, 6)
	assert.Equal(t, 2, meta.PagesCollected)
	assert.Equal(t, 10, meta.PagesExpected, "the cap limits fetching, not the expected universe")
	assert.NotContains(t, fetcher.calls, 3)
}

func TestCollectCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{fails: map[int]bool{1: true}}
	_, _, err := testCollector(fetcher, 0).Collect(ctx, "omega", time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
