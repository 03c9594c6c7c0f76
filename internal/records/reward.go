package records

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shehryarbajwa/bottle-rewards/pkg/models"
)

// rewardTable is the fixed reward per submission, in rupees
var rewardTable = map[models.Material]decimal.Decimal{
	models.MaterialPlastic: decimal.NewFromInt(10),
	models.MaterialMetal:   decimal.NewFromInt(20),
	models.MaterialGlass:   decimal.NewFromInt(30),
}

// NormalizeMaterial maps a raw material string onto a known material.
// Anything outside the reward table, including an empty string, is unknown.
func NormalizeMaterial(raw string) models.Material {
	m := models.Material(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := rewardTable[m]; ok {
		return m
	}
	return models.MaterialUnknown
}

// RewardFor returns the reward for one submission of material.
// Unknown materials earn zero.
func RewardFor(material string) decimal.Decimal {
	if reward, ok := rewardTable[NormalizeMaterial(material)]; ok {
		return reward
	}
	return decimal.Zero
}

// Derive turns raw backend rows into waste records, one per row
func Derive(rows []models.RecordRow) []models.WasteRecord {
	records := make([]models.WasteRecord, 0, len(rows))
	for _, row := range rows {
		material := NormalizeMaterial(row.Material)
		records = append(records, models.WasteRecord{
			OccurredAt:   normalizeTime(row.Time),
			MaterialType: material,
			Quantity:     1,
			RewardAmount: RewardFor(string(material)),
		})
	}
	return records
}

// Summarize totals the rewards of records. The latest material is the
// material of the last record.
func Summarize(records []models.WasteRecord) models.DashboardSummary {
	summary := models.DashboardSummary{
		Records:     records,
		RecordCount: len(records),
		TotalReward: decimal.Zero,
	}
	if summary.Records == nil {
		summary.Records = []models.WasteRecord{}
	}

	for _, r := range records {
		summary.TotalReward = summary.TotalReward.Add(r.RewardAmount)
	}

	if len(records) > 0 {
		summary.LatestMaterial = records[len(records)-1].MaterialType
	}

	return summary
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

func normalizeTime(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.UnknownTime
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return models.UnknownTime
}
