package models

import (
	"time"
)

// UserAnalytics aggregates per-user Shield activity
type UserAnalytics struct {
	UserID           int64          `json:"user_id"`
	TotalProcessed   int            `json:"total_processed"`
	TotalScanned     int            `json:"total_scanned"`
	MatchesDetected  int            `json:"matches_detected"`
	StolenDetected   int            `json:"stolen_detected"`
	PassportsCreated int            `json:"passports_created"`
	HighRiskCount    int            `json:"high_risk_count"`
	AvgOriginality   float64        `json:"avg_originality_score"`
	Templates        map[string]int `json:"templates_used"`
	Platforms        map[string]int `json:"platforms"`
	FirstUse         time.Time      `json:"first_use"`
	LastUse          time.Time      `json:"last_use"`
}

// NewUserAnalytics returns an empty record for userID
func NewUserAnalytics(userID int64, now time.Time) *UserAnalytics {
	return &UserAnalytics{
		UserID:    userID,
		Templates: make(map[string]int),
		Platforms: make(map[string]int),
		FirstUse:  now,
	}
}
