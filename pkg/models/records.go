package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Material is the recycled material type of a submission
type Material string

const (
	MaterialPlastic Material = "plastic"
	MaterialMetal   Material = "metal"
	MaterialGlass   Material = "glass"
	MaterialUnknown Material = "unknown"
)

// UnknownTime marks a record whose submission time is missing or unreadable
const UnknownTime = "unknown"

// RecordRow is one element of the GET /api/joystick response
type RecordRow struct {
	Material string `json:"material"`
	Time     string `json:"time,omitempty"`
}

// WasteRecord is a historical submission with its derived reward
type WasteRecord struct {
	OccurredAt   string          `json:"occurredAt"`
	MaterialType Material        `json:"materialType"`
	Quantity     int             `json:"quantity"`
	RewardAmount decimal.Decimal `json:"rewardAmount"`
}

// DashboardSummary is the state a dashboard view renders
type DashboardSummary struct {
	Records        []WasteRecord   `json:"records"`
	RecordCount    int             `json:"recordCount"`
	TotalReward    decimal.Decimal `json:"totalReward"`
	LatestMaterial Material        `json:"latestMaterial,omitempty"`
	Warning        string          `json:"warning,omitempty"`
	LastFetchedAt  *time.Time      `json:"lastFetchedAt,omitempty"`
	Loaded         bool            `json:"loaded"`
}
