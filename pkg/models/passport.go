package models

import "time"

// RiskLevel classifies a similarity score
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskForSimilarity maps a similarity in [0,1] to a risk level
func RiskForSimilarity(sim float64) RiskLevel {
	switch {
	case sim >= 0.95:
		return RiskCritical
	case sim >= 0.85:
		return RiskHigh
	case sim >= 0.75:
		return RiskMedium
	case sim >= 0.50:
		return RiskLow
	default:
		return RiskSafe
	}
}

// Passport attests that an output file was produced for a user
type Passport struct {
	ID              string    `json:"passport_id"`
	VideoHash       string    `json:"video_hash"`
	PerceptualHash  string    `json:"perceptual_hash"`
	OwnerUserID     int64     `json:"owner_user_id"`
	OwnerUsername   string    `json:"owner_username,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ProcessedAt     time.Time `json:"processed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Resolution      string    `json:"resolution"`
	FileSizeBytes   int64     `json:"file_size_bytes"`
	FPS             float64   `json:"fps"`
	Template        string    `json:"template_used"`
	Mode            Mode      `json:"mode"`
	Quality         Quality   `json:"quality"`
	RecipeSeed      uint64    `json:"recipe_seed"`

	TrapEnabled        bool   `json:"trap_enabled"`
	WatermarkSignature string `json:"watermark_signature,omitempty"`

	Verifications  int        `json:"verification_count"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
	MatchesFound   int        `json:"matches_found"`
}

// Fingerprint is the compact hash triple stored per passport
type Fingerprint struct {
	PassportID     string    `json:"passport_id"`
	FileHash       string    `json:"file_hash"`
	PerceptualHash string    `json:"perceptual_hash"`
	TemporalSig    string    `json:"temporal_sig"`
	UserID         int64     `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// MatchRecord is one entry of the matches history
type MatchRecord struct {
	PassportID  string    `json:"passport_id"`
	OwnerUserID int64     `json:"owner_user_id"`
	QueryUserID int64     `json:"query_user_id"`
	Similarity  float64   `json:"similarity"`
	MatchType   string    `json:"match_type"`
	RiskLevel   RiskLevel `json:"risk_level"`
	DetectedAt  time.Time `json:"detected_at"`
}

// TheftRecord is one detected reupload of a user's own video
type TheftRecord struct {
	PassportID string    `json:"passport_id"`
	Similarity float64   `json:"similarity"`
	Method     string    `json:"method"`
	DetectedAt time.Time `json:"detected_at"`
}
