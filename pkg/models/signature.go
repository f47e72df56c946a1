package models

// TrapKeys holds the six per-layer keys, each 32 hex chars
type TrapKeys struct {
	Pixel       string `json:"pixel"`
	Temporal    string `json:"temporal"`
	Audio       string `json:"audio"`
	Compression string `json:"compression"`
	Metadata    string `json:"metadata"`
	Neural      string `json:"neural"`
}

// TrapSignature is the durable record of one Watermark-Trap embed
type TrapSignature struct {
	UserID        int64    `json:"user_id"`
	VideoHash     string   `json:"video_hash"`
	OutputHash    string   `json:"output_hash,omitempty"`
	Timestamp     int64    `json:"timestamp"`
	Salt          string   `json:"salt"`
	Keys          TrapKeys `json:"keys"`
	FullSignature string   `json:"full_signature"`
}

// Detection is the result of scanning a candidate video for a trap
type Detection struct {
	Found      bool    `json:"found"`
	Confidence float64 `json:"confidence"`
	UserID     int64   `json:"user_id,omitempty"`
	Timestamp  int64   `json:"timestamp,omitempty"`
	Method     string  `json:"method,omitempty"`
}
