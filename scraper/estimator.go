package scraper

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Callejox/watch-my-bag-scraper/models"
	"github.com/Callejox/watch-my-bag-scraper/utils"
)

// Estimator determines the expected result universe for a query before
// collection starts, so coverage can be judged afterwards. It never fails:
// when nothing can be read from the page it degrades to a single-page
// universe and says so.
type Estimator struct {
	source Source
	logger *utils.Logger
}

func NewEstimator(source Source, logger *utils.Logger) *Estimator {
	return &Estimator{source: source, logger: logger}
}

// Estimate reads the expected universe from a first result page. Resolution
// order: the source adapter's own reading, then generic pagination markup,
// then a generic result-count phrase. Missing totals are derived from
// pages multiplied by page size.
func (e *Estimator) Estimate(html string) models.ExpectedUniverse {
	universe := e.source.ParseUniverse(html)

	if universe.Pages == 0 {
		universe.Pages = maxPaginationNumber(html)
	}
	if universe.Items == 0 {
		universe.Items = resultCountFromText(html)
	}

	if universe.Pages == 0 {
		if universe.Items > 0 && e.source.PageSize() > 0 {
			universe.Pages = (universe.Items + e.source.PageSize() - 1) / e.source.PageSize()
		} else {
			e.logger.Warn("[estimator] No pagination or result count detected, assuming a single page")
			universe.Pages = 1
		}
	}
	if universe.Items == 0 {
		universe.Items = universe.Pages * e.source.PageSize()
	}

	e.logger.Info("[estimator] Expected universe: %d items across %d pages", universe.Items, universe.Pages)
	return universe
}

// paginationSelectors cover the common markup for numbered page links.
var paginationSelectors = []string{
	".pagination a",
	".pagination li",
	"nav[aria-label*='agina'] a",
	".paging a",
	"[data-page]",
}

// maxPaginationNumber scans pagination controls for the highest page number.
func maxPaginationNumber(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0
	}

	max := 0
	for _, sel := range paginationSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if n, err := strconv.Atoi(text); err == nil && n > max {
				max = n
			}
			if attr, ok := s.Attr("data-page"); ok {
				if n, err := strconv.Atoi(attr); err == nil && n > max {
					max = n
				}
			}
		})
		if max > 0 {
			break
		}
	}
	return max
}

// resultCountPatterns match "1.234 resultados", "of 1,234 results" and the
// like. The first capture group is the count.
var resultCountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`([\d.,]+)\s+resultados`),
	regexp.MustCompile(`(?i)of\s+([\d.,]+)\s+results?`),
	regexp.MustCompile(`([\d.,]+)\s+listings`),
	regexp.MustCompile(`([\d.,]+)\s+anuncios`),
}

func resultCountFromText(html string) int {
	for _, re := range resultCountPatterns {
		m := re.FindStringSubmatch(html)
		if m == nil {
			continue
		}
		digits := strings.NewReplacer(".", "", ",", "").Replace(m[1])
		if n, err := strconv.Atoi(digits); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
