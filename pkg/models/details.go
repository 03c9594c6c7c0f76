package models

import "time"

// BottleDetails is a confirmed detection handed off to the details view
type BottleDetails struct {
	ID        string           `json:"id"`
	SessionID string           `json:"sessionId"`
	Image     string           `json:"image"`
	Detection *DetectionResult `json:"detectionData"`
	Material  string           `json:"material"`
	CreatedAt time.Time        `json:"createdAt"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

// DetectionConfirmed is published when a user proceeds with a detection
type DetectionConfirmed struct {
	DetailsID   string    `json:"detailsId"`
	SessionID   string    `json:"sessionId"`
	BottleCount int       `json:"bottleCount"`
	Confidence  int       `json:"confidencePercent"`
	CapturedAt  string    `json:"capturedAt,omitempty"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}
