package chrono24

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Callejox/watch-my-bag-scraper/models"
	"github.com/Callejox/watch-my-bag-scraper/utils"
)

// SourceName identifies this adapter in storage and run logs.
const SourceName = "chrono24"

const defaultBaseURL = "https://www.chrono24.es"

// Chrono24 scrapes the chrono24 watch marketplace search results.
type Chrono24 struct {
	baseURL          string
	pageSize         int
	excludeCountries []string
	logger           *utils.Logger
}

// New builds the adapter. exclude lists country names whose listings are
// dropped during parsing (both Spanish and English spellings are matched
// case-insensitively).
func New(baseURL string, pageSize int, exclude []string, logger *utils.Logger) *Chrono24 {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if pageSize <= 0 {
		pageSize = 120
	}
	lowered := make([]string, 0, len(exclude))
	for _, c := range exclude {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(c)))
	}
	return &Chrono24{
		baseURL:          strings.TrimRight(baseURL, "/"),
		pageSize:         pageSize,
		excludeCountries: lowered,
		logger:           logger,
	}
}

func (c *Chrono24) Name() string { return SourceName }

func (c *Chrono24) PageSize() int { return c.pageSize }

// SearchURL builds a search results URL. sortorder=5 is "newest first",
// which keeps recently uploaded listings on the early pages.
func (c *Chrono24) SearchURL(term string, page int) string {
	q := url.Values{}
	q.Set("query", term)
	q.Set("dosearch", "true")
	q.Set("sortorder", "5")
	q.Set("pageSize", strconv.Itoa(c.pageSize))
	if page > 1 {
		q.Set("showpage", strconv.Itoa(page))
	}
	return fmt.Sprintf("%s/search/index.htm?%s", c.baseURL, q.Encode())
}

// listingIDPattern extracts the numeric listing id from detail-page hrefs
// such as /omega/de-ville--id12345678.htm.
var listingIDPattern = regexp.MustCompile(`--id(\d+)\.htm`)

// listingSelectors cover the article-card markup variants chrono24 serves.
var listingSelectors = []string{
	"a.js-article-item",
	"div.article-item-container a[href*='--id']",
	"a[href*='--id']",
}

// CountListings counts listing cards without full parsing.
func (c *Chrono24) CountListings(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0
	}
	for _, sel := range listingSelectors {
		if n := doc.Find(sel).Length(); n > 0 {
			return n
		}
	}
	return 0
}

// ParseListings extracts all listings from a rendered search results page.
// Listings located in excluded countries are dropped here, before they can
// enter a snapshot.
func (c *Chrono24) ParseListings(html string, day time.Time) ([]*models.ListingSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("chrono24: parse page: %w", err)
	}

	var cards *goquery.Selection
	for _, sel := range listingSelectors {
		cards = doc.Find(sel)
		if cards.Length() > 0 {
			break
		}
	}
	if cards == nil || cards.Length() == 0 {
		return nil, nil
	}

	var items []*models.ListingSnapshot
	excluded := 0
	cards.Each(func(_ int, card *goquery.Selection) {
		item := c.parseCard(card, day)
		if item == nil {
			return
		}
		if c.isExcludedCountry(item.Location) {
			excluded++
			return
		}
		items = append(items, item)
	})

	if excluded > 0 {
		c.logger.Debug("[chrono24] Dropped %d listings from excluded countries", excluded)
	}
	return items, nil
}

func (c *Chrono24) parseCard(card *goquery.Selection, day time.Time) *models.ListingSnapshot {
	href, ok := card.Attr("href")
	if !ok {
		return nil
	}
	m := listingIDPattern.FindStringSubmatch(href)
	if m == nil {
		return nil
	}

	title := firstText(card, "div.text-bold", ".article-title", "h3")
	subtitle := firstText(card, "div.text-ellipsis", ".article-subtitle")
	priceText := firstText(card, "div.article-price strong", ".article-price", "[class*='price']")
	location := firstText(card, ".article-standort", "[class*='location']", ".js-tooltip")
	condition := firstText(card, ".article-condition", "[class*='condition']")
	reference := firstText(card, ".article-reference", "[class*='reference']")
	seller, _ := card.Attr("data-dealer-id")

	fullURL := href
	if strings.HasPrefix(href, "/") {
		fullURL = c.baseURL + href
	}

	item := &models.ListingSnapshot{
		Source:        SourceName,
		ListingID:     m[1],
		SnapshotDate:  day,
		GenericModel:  brandFromTitle(title),
		SpecificModel: strings.TrimSpace(strings.Join(nonEmpty(title, subtitle), " ")),
		Reference:     reference,
		SellerID:      seller,
		Condition:     normalizeCondition(condition),
		Currency:      currencyFromText(priceText),
		Location:      location,
		URL:           fullURL,
	}

	if price, ok := parsePrice(priceText); ok {
		item.Price = &price
	}
	if dateText := firstText(card, ".article-upload-date", "[data-upload-date]"); dateText != "" {
		if uploaded, ok := parseUploadDate(dateText, day); ok {
			item.UploadDate = &uploaded
		}
	}
	return item
}

// resultCountPattern matches the "1.234 anuncios" / "1.234 resultados"
// header above the result grid.
var resultCountPattern = regexp.MustCompile(`([\d.,]+)\s+(?:anuncios|resultados|listings|results)`)

// ParseUniverse reads the expected totals from a first results page.
func (c *Chrono24) ParseUniverse(html string) models.ExpectedUniverse {
	var universe models.ExpectedUniverse

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return universe
	}

	header := doc.Find(".result-count, .search-result-count, h1").Text()
	if m := resultCountPattern.FindStringSubmatch(header); m != nil {
		digits := strings.NewReplacer(".", "", ",", "").Replace(m[1])
		if n, err := strconv.Atoi(digits); err == nil {
			universe.Items = n
		}
	}

	doc.Find(".pagination a, .pagination button").Each(func(_ int, s *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil && n > universe.Pages {
			universe.Pages = n
		}
	})

	if universe.Pages == 0 && universe.Items > 0 {
		universe.Pages = (universe.Items + c.pageSize - 1) / c.pageSize
	}
	return universe
}

func (c *Chrono24) isExcludedCountry(location string) bool {
	if location == "" {
		return false
	}
	loc := strings.ToLower(location)
	for _, country := range c.excludeCountries {
		if country != "" && strings.Contains(loc, country) {
			return true
		}
	}
	return false
}

// firstText returns the trimmed text of the first selector that matches.
func firstText(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(s.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func nonEmpty(parts ...string) []string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// knownBrands maps lowercase brand markers to the canonical brand name.
var knownBrands = map[string]string{
	"omega":           "Omega",
	"hermès":          "Hermès",
	"hermes":          "Hermès",
	"rolex":           "Rolex",
	"cartier":         "Cartier",
	"tudor":           "Tudor",
	"longines":        "Longines",
	"seiko":           "Seiko",
	"tag heuer":       "TAG Heuer",
	"patek philippe":  "Patek Philippe",
	"audemars piguet": "Audemars Piguet",
	"iwc":             "IWC",
	"breitling":       "Breitling",
	"jaeger-lecoultre": "Jaeger-LeCoultre",
}

func brandFromTitle(title string) string {
	lowered := strings.ToLower(title)
	for marker, brand := range knownBrands {
		if strings.Contains(lowered, marker) {
			return brand
		}
	}
	return ""
}

func normalizeCondition(text string) string {
	lowered := strings.ToLower(text)
	switch {
	case strings.Contains(lowered, "sin usar"), strings.Contains(lowered, "nuevo"), strings.Contains(lowered, "new"):
		return "new"
	case strings.Contains(lowered, "muy bueno"), strings.Contains(lowered, "very good"):
		return "very good"
	case strings.Contains(lowered, "bueno"), strings.Contains(lowered, "good"):
		return "good"
	case strings.Contains(lowered, "usado"), strings.Contains(lowered, "used"), strings.Contains(lowered, "aceptable"):
		return "used"
	case text == "":
		return ""
	default:
		return strings.ToLower(strings.TrimSpace(text))
	}
}

// priceDigitsPattern grabs the numeric part of a price string.
var priceDigitsPattern = regexp.MustCompile(`[\d][\d.,]*`)

// parsePrice handles European formatting ("12.500 €", "1.234,56 €") as well
// as plain and US-formatted numbers. "Precio a petición" and other
// price-on-request labels yield no price.
func parsePrice(text string) (float64, bool) {
	if text == "" {
		return 0, false
	}
	m := priceDigitsPattern.FindString(text)
	if m == "" {
		return 0, false
	}

	lastComma := strings.LastIndex(m, ",")
	lastDot := strings.LastIndex(m, ".")

	var normalized string
	switch {
	case lastComma > lastDot:
		// European: dots group thousands, comma is the decimal mark.
		normalized = strings.ReplaceAll(m[:lastComma], ".", "") + "." + m[lastComma+1:]
	case lastDot > lastComma:
		if len(m)-lastDot-1 == 3 && lastComma == -1 {
			// "12.500" is a grouped integer, not 12.5.
			normalized = strings.ReplaceAll(m, ".", "")
		} else {
			normalized = strings.ReplaceAll(m[:lastDot], ",", "") + m[lastDot:]
		}
	default:
		normalized = m
	}

	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func currencyFromText(text string) string {
	switch {
	case strings.Contains(text, "€") || strings.Contains(text, "EUR"):
		return "EUR"
	case strings.Contains(text, "$") || strings.Contains(text, "USD"):
		return "USD"
	case strings.Contains(text, "£") || strings.Contains(text, "GBP"):
		return "GBP"
	case strings.Contains(text, "CHF"):
		return "CHF"
	default:
		return ""
	}
}

// relativeDatePattern matches Spanish relative dates like "hace 3 días".
var relativeDatePattern = regexp.MustCompile(`(?i)hace\s+(\d+)\s+(hora|día|dia|semana|mes)`)

var absoluteDateLayouts = []string{
	"02.01.2006",
	"02.01.06",
	"2006-01-02",
	"02/01/2006",
}

// parseUploadDate resolves relative Spanish phrases against the snapshot day
// and falls back to absolute layouts.
func parseUploadDate(text string, day time.Time) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}

	if m := relativeDatePattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		switch strings.ToLower(m[2]) {
		case "hora":
			return day, true
		case "día", "dia":
			return day.AddDate(0, 0, -n), true
		case "semana":
			return day.AddDate(0, 0, -7*n), true
		case "mes":
			return day.AddDate(0, -n, 0), true
		}
	}

	for _, layout := range absoluteDateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
