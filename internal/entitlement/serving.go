package entitlement

import (
	"context"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Servable is the serving-eligibility predicate: approved, paid, and inside
// the date window with both bounds inclusive. It is recomputed at read time
// and never cached in a stored flag, so there is no stale "ACTIVE" state to
// drift from the wall clock.
func Servable(ad Advertisement, now time.Time) bool {
	return ad.IsApproved && ad.IsPaid &&
		!now.Before(ad.StartDate) && !now.After(ad.EndDate)
}

// EffectiveStatus derives what callers see for an ad at a point in time.
func EffectiveStatus(ad Advertisement, now time.Time) AdStatus {
	if now.After(ad.EndDate) {
		return AdExpired
	}
	if Servable(ad, now) {
		return AdStatus("active")
	}
	return ad.Status
}

// ListServing returns the ads servable at now, optionally filtered to a set
// of placements. The placement filter uses a postgres array parameter; the
// predicate itself matches Servable exactly, inclusive bounds included.
func ListServing(ctx context.Context, db *gorm.DB, placements []string, now time.Time) ([]Advertisement, error) {
	q := db.WithContext(ctx).
		Where("is_approved = ? AND is_paid = ?", true, true).
		Where("start_date <= ? AND end_date >= ?", now, now)

	if len(placements) > 0 {
		q = q.Where("placement = ANY(?)", pq.Array(placements))
	}

	var ads []Advertisement
	if err := q.Order("start_date").Find(&ads).Error; err != nil {
		return nil, err
	}
	return ads, nil
}
