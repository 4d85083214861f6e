package models

import "time"

// ProofImage is the Broker's record of a stored upload
type ProofImage struct {
	ID        string
	SessionID string
	FileName  string
	ImageHash string
	Latitude  *float64
	Longitude *float64
	Timestamp time.Time
	Score     int
	CreatedAt time.Time
}

// UploadResponse is returned by the upload endpoint on success
type UploadResponse struct {
	Status       string `json:"status"`
	Score        int    `json:"score"`
	IsDuplicate  bool   `json:"isDuplicate"`
	ValidationOK bool   `json:"validationOk"`
}
