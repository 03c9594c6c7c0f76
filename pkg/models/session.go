package models

import (
	"fmt"
	"time"
)

// SessionStatus represents the current stage of a detection session
type SessionStatus string

const (
	StatusIdle         SessionStatus = "IDLE"
	StatusInitializing SessionStatus = "INITIALIZING"
	StatusStarting     SessionStatus = "STARTING"
	StatusScanning     SessionStatus = "SCANNING"
	StatusProcessing   SessionStatus = "PROCESSING"
	StatusAnalyzing    SessionStatus = "ANALYZING"
	StatusCompleted    SessionStatus = "COMPLETED"
	StatusFailed       SessionStatus = "FAILED"
)

// IsTerminal reports whether the status is only left through a dismiss
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether a detection attempt is in flight
func (s SessionStatus) IsActive() bool {
	return s != StatusIdle && !s.IsTerminal()
}

// Valid reports whether s is a known status
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusInitializing, StatusStarting, StatusScanning,
		StatusProcessing, StatusAnalyzing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// DetectionSession is a point-in-time snapshot of one view's detection session
type DetectionSession struct {
	ID              string           `json:"id"`
	ClientID        string           `json:"clientId"`
	Status          SessionStatus    `json:"status"`
	ProgressPercent int              `json:"progressPercent"`
	StatusMessage   string           `json:"statusMessage"`
	StartedAt       *time.Time       `json:"startedAt,omitempty"`
	ElapsedMs       *int64           `json:"elapsedMs,omitempty"`
	ElapsedLabel    string           `json:"elapsedLabel,omitempty"`
	Result          *DetectionResult `json:"result,omitempty"`
	Attempt         int              `json:"attempt"`
	CreatedAt       time.Time        `json:"createdAt"`
	LastActivity    time.Time        `json:"lastActivity"`
}

// FormatElapsed renders an elapsed time the way the detection popup shows it
func FormatElapsed(ms int64) string {
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

// CreateSessionRequest is the payload for opening a new detection view
type CreateSessionRequest struct {
	ClientID string `json:"clientId"`
}
