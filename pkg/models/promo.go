package models

import "time"

// PromoType selects what a promo code grants
type PromoType string

const (
	PromoVideos      PromoType = "videos"
	PromoDaysVIP     PromoType = "days_vip"
	PromoDaysPremium PromoType = "days_premium"
)

// PromoCode is a redeemable bonus
type PromoCode struct {
	Code      string    `json:"code"`
	Type      PromoType `json:"bonus_type"`
	Value     int       `json:"bonus_value"`
	MaxUses   int       `json:"max_uses"`
	UsedCount int       `json:"used_count"`
	UsedBy    []int64   `json:"used_by"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

// UsedByUser reports whether userID already redeemed the code
func (p *PromoCode) UsedByUser(userID int64) bool {
	for _, id := range p.UsedBy {
		if id == userID {
			return true
		}
	}
	return false
}
