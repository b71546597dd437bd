package fees

import (
	"errors"

	"github.com/snapvend/snapvend/internal/config"
)

var ErrNoTierForCount = errors.New("no bulk tier covers photo count")

// ResolveBulkPrice returns the price for purchasing photoCount photos from
// the ordered tier table. The open-ended tier (nil MaxPhotos) matches any
// count at or above its minimum.
func (c *Calculator) ResolveBulkPrice(photoCount int) (int64, error) {
	return resolveBulkPrice(c.pricing.Current(), photoCount)
}

// UnlockAllPrice returns the fixed price for unlocking every photo in an event.
func (c *Calculator) UnlockAllPrice() int64 {
	return c.pricing.Current().UnlockAllPriceCents
}

func resolveBulkPrice(cfg config.PricingConfig, photoCount int) (int64, error) {
	if photoCount <= 0 {
		return 0, ErrNoTierForCount
	}
	for _, tier := range cfg.BulkTiers {
		if photoCount < tier.MinPhotos {
			continue
		}
		if tier.MaxPhotos == nil || photoCount <= *tier.MaxPhotos {
			return tier.PriceCents, nil
		}
	}
	return 0, ErrNoTierForCount
}
