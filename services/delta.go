package services

import (
	"sort"
	"time"

	"github.com/Callejox/watch-my-bag-scraper/models"
)

// DeltaResult is everything that changed between two consecutive snapshots.
type DeltaResult struct {
	Sold    []*models.DetectedSale
	New     []*models.ListingSnapshot
	Updated []*models.PriceUpdate
}

// Compare derives the delta between yesterday's and today's snapshots of one
// source by pure set difference on listing ids. A listing present yesterday
// and absent today is a detected sale; present today only, a new listing;
// present in both with a different price, a price update.
//
// The function is deterministic: the same two snapshots always produce the
// same result, in listing-id order.
func Compare(yesterday, today []*models.ListingSnapshot, detectionDate time.Time) DeltaResult {
	todayByID := make(map[string]*models.ListingSnapshot, len(today))
	for _, item := range today {
		todayByID[item.ListingID] = item
	}
	yesterdayByID := make(map[string]*models.ListingSnapshot, len(yesterday))
	for _, item := range yesterday {
		yesterdayByID[item.ListingID] = item
	}

	var result DeltaResult

	for _, prev := range yesterday {
		curr, stillListed := todayByID[prev.ListingID]
		if !stillListed {
			result.Sold = append(result.Sold, saleFromListing(prev, detectionDate))
			continue
		}
		if prev.Price != nil && curr.Price != nil && *prev.Price != *curr.Price {
			result.Updated = append(result.Updated, &models.PriceUpdate{
				Source:    curr.Source,
				ListingID: curr.ListingID,
				OldPrice:  *prev.Price,
				NewPrice:  *curr.Price,
				Delta:     *curr.Price - *prev.Price,
			})
		}
	}

	for _, curr := range today {
		if _, known := yesterdayByID[curr.ListingID]; !known {
			result.New = append(result.New, curr)
		}
	}

	sort.Slice(result.Sold, func(i, j int) bool { return result.Sold[i].ListingID < result.Sold[j].ListingID })
	sort.Slice(result.New, func(i, j int) bool { return result.New[i].ListingID < result.New[j].ListingID })
	sort.Slice(result.Updated, func(i, j int) bool { return result.Updated[i].ListingID < result.Updated[j].ListingID })

	return result
}

// saleFromListing carries the listing's last observed state into the sale
// record. The last listed price stands in for the sale price and is flagged
// as estimated until a source-specific lookup confirms the real figure.
func saleFromListing(item *models.ListingSnapshot, detectionDate time.Time) *models.DetectedSale {
	sale := &models.DetectedSale{
		Source:           item.Source,
		ListingID:        item.ListingID,
		DetectionDate:    detectionDate,
		GenericModel:     item.GenericModel,
		SpecificModel:    item.SpecificModel,
		Reference:        item.Reference,
		SellerID:         item.SellerID,
		Condition:        item.Condition,
		Currency:         item.Currency,
		Location:         item.Location,
		URL:              item.URL,
		PriceIsEstimated: true,
	}
	if item.Price != nil {
		price := *item.Price
		sale.SalePrice = &price
	}
	if item.UploadDate != nil {
		sale.UploadDate = item.UploadDate
		days := int(detectionDate.Sub(*item.UploadDate).Hours() / 24)
		if days < 0 {
			days = 0
		}
		sale.DaysOnSale = days
	}
	return sale
}
