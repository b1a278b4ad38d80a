package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Callejox/watch-my-bag-scraper/models"
	"github.com/Callejox/watch-my-bag-scraper/storage"
	"github.com/Callejox/watch-my-bag-scraper/utils"
)

// StatsReport aggregates store-wide counters plus a recent-sales view.
type StatsReport struct {
	Store *models.StoreStats

	RecentWindowDays int
	RecentSales      int
	AvgSalePrice     float64
	MinSalePrice     float64
	MaxSalePrice     float64
	PriciestSale     *models.DetectedSale
	SalesByModel     map[string]int
	AvgDaysOnSale    float64
}

type StatsService struct {
	store  storage.Store
	logger *utils.Logger
}

func NewStatsService(store storage.Store, logger *utils.Logger) *StatsService {
	return &StatsService{store: store, logger: logger}
}

// recentWindowDays bounds the recent-sales section of the report.
const recentWindowDays = 30

// Generate assembles the report from the store.
func (s *StatsService) Generate() (*StatsReport, error) {
	stats, err := s.store.Stats()
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	report := &StatsReport{
		Store:            stats,
		RecentWindowDays: recentWindowDays,
		SalesByModel:     make(map[string]int),
	}

	now := time.Now().UTC()
	sales, err := s.store.GetSales(now.AddDate(0, 0, -recentWindowDays), now, "")
	if err != nil {
		return nil, fmt.Errorf("stats: recent sales: %w", err)
	}
	report.RecentSales = len(sales)

	var priced int
	var total float64
	var daysTotal int
	for _, sale := range sales {
		if sale.GenericModel != "" {
			report.SalesByModel[sale.GenericModel]++
		}
		daysTotal += sale.DaysOnSale
		if sale.SalePrice == nil {
			continue
		}
		price := *sale.SalePrice
		total += price
		priced++
		if report.MinSalePrice == 0 || price < report.MinSalePrice {
			report.MinSalePrice = price
		}
		if price > report.MaxSalePrice {
			report.MaxSalePrice = price
			report.PriciestSale = sale
		}
	}
	if priced > 0 {
		report.AvgSalePrice = round2(total / float64(priced))
		report.MinSalePrice = round2(report.MinSalePrice)
		report.MaxSalePrice = round2(report.MaxSalePrice)
	}
	if len(sales) > 0 {
		report.AvgDaysOnSale = round2(float64(daysTotal) / float64(len(sales)))
	}

	return report, nil
}

// Print renders the report to stdout.
func (s *StatsService) Print(r *StatsReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  📊 SALE DETECTION STATS\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	fmt.Printf("\033[1;33m  Store\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Snapshot rows   : \033[1m%d\033[0m\n", r.Store.TotalSnapshots)
	fmt.Printf("  Detected sales  : \033[1m%d\033[0m\n", r.Store.TotalSales)
	fmt.Printf("  Estimated prices: \033[1m%d\033[0m  confirmed: \033[1m%d\033[0m\n",
		r.Store.EstimatedPrices, r.Store.RealPrices)
	if r.Store.OldestSnapshot != nil && r.Store.NewestSnapshot != nil {
		fmt.Printf("  Snapshot range  : %s to %s\n",
			r.Store.OldestSnapshot.Format("2006-01-02"), r.Store.NewestSnapshot.Format("2006-01-02"))
	}
	fmt.Println()

	fmt.Printf("\033[1;33m  Sales by Source\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.Store.SalesBySource) == 0 {
		fmt.Printf("  No sales recorded\n")
	} else {
		for _, src := range sortedKeys(r.Store.SalesBySource) {
			fmt.Printf("  %-20s \033[1m%d\033[0m\n", src, r.Store.SalesBySource[src])
		}
	}
	fmt.Println()

	fmt.Printf("\033[1;33m  Last %d Days\033[0m\n", r.RecentWindowDays)
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Sales detected   : \033[1m%d\033[0m\n", r.RecentSales)
	if r.AvgSalePrice > 0 {
		fmt.Printf("  Average price    : \033[1;32m%.2f\033[0m\n", r.AvgSalePrice)
		fmt.Printf("  Minimum price    : \033[1;32m%.2f\033[0m\n", r.MinSalePrice)
		fmt.Printf("  Maximum price    : \033[1;32m%.2f\033[0m\n", r.MaxSalePrice)
	} else {
		fmt.Printf("  No priced sales in window\n")
	}
	if r.AvgDaysOnSale > 0 {
		fmt.Printf("  Avg days on sale : \033[1m%.1f\033[0m\n", r.AvgDaysOnSale)
	}
	fmt.Println()

	if r.PriciestSale != nil {
		fmt.Printf("\033[1;33m  Priciest Recent Sale\033[0m\n")
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  %s\n", truncate(r.PriciestSale.SpecificModel, 50))
		fmt.Printf("  Source   : %s\n", r.PriciestSale.Source)
		fmt.Printf("  Price    : \033[1;31m%.2f %s\033[0m\n", *r.PriciestSale.SalePrice, r.PriciestSale.Currency)
		fmt.Println()
	}

	fmt.Printf("\033[1;33m  Sales by Model\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.SalesByModel) == 0 {
		fmt.Printf("  No model data\n")
	} else {
		type modelCount struct {
			model string
			count int
		}
		var ms []modelCount
		for m, c := range r.SalesByModel {
			ms = append(ms, modelCount{m, c})
		}
		sort.Slice(ms, func(i, j int) bool { return ms[i].count > ms[j].count })
		for _, mc := range ms {
			bar := strings.Repeat("█", mc.count)
			fmt.Printf("  %-30s %s (%d)\n", truncate(mc.model, 28), bar, mc.count)
		}
	}

	if r.Store.LastRun != nil {
		fmt.Printf("\n\033[1;33m  Last Run\033[0m\n")
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  %s %s on %s: %d items, %d sales (%.1fs)\n",
			r.Store.LastRun.Source, r.Store.LastRun.Status, r.Store.LastRun.RunDate.Format("2006-01-02"),
			r.Store.LastRun.ItemsCollected, r.Store.LastRun.SalesDetected, r.Store.LastRun.DurationSeconds)
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
