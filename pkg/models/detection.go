package models

import "math"

// DefaultDetectionMode is the mode the detection view always requests
const DefaultDetectionMode = "real-time-auto-stop"

// Bottle is a single detected bottle
type Bottle struct {
	Confidence float64 `json:"confidence"`
	BBox       []int   `json:"bbox,omitempty"`
}

// DetectionResult is what a successful detection hands to the view.
// It is never modified after it is received.
type DetectionResult struct {
	ImageData             string   `json:"imageData"`
	BottleCount           int      `json:"bottleCount"`
	Bottles               []Bottle `json:"bottles"`
	ProcessingTimeSeconds *float64 `json:"processingTimeSeconds,omitempty"`
	CapturedAt            string   `json:"capturedAt,omitempty"`
}

// ConfidencePercent is the confidence of the first bottle, rounded to a percent
func (r *DetectionResult) ConfidencePercent() int {
	if r == nil || len(r.Bottles) == 0 {
		return 0
	}
	return int(math.Round(r.Bottles[0].Confidence * 100))
}

// DetectRequest is the body sent to POST /api/detect-bottle
type DetectRequest struct {
	Mode string `json:"mode"`
}

// DetectionPayload is the detection_data object returned by the detection backend
type DetectionPayload struct {
	BottleCount    int      `json:"bottle_count"`
	Bottles        []Bottle `json:"bottles"`
	ProcessingTime *float64 `json:"processing_time,omitempty"`
	Timestamp      string   `json:"timestamp,omitempty"`
}

// DetectResponse is the body returned by POST /api/detect-bottle
type DetectResponse struct {
	Success       bool              `json:"success"`
	Image         string            `json:"image,omitempty"`
	DetectionData *DetectionPayload `json:"detection_data,omitempty"`
	Message       string            `json:"message,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Detected reports whether the response carries a usable detection
func (r *DetectResponse) Detected() bool {
	return r != nil && r.Success && r.Image != ""
}

// ToResult converts a detected response into a DetectionResult
func (r *DetectResponse) ToResult() *DetectionResult {
	result := &DetectionResult{
		ImageData: r.Image,
		Bottles:   []Bottle{},
	}

	if d := r.DetectionData; d != nil {
		result.BottleCount = d.BottleCount
		if d.Bottles != nil {
			result.Bottles = append(result.Bottles, d.Bottles...)
		}
		result.ProcessingTimeSeconds = d.ProcessingTime
		result.CapturedAt = d.Timestamp
	}

	if result.BottleCount < 0 {
		result.BottleCount = 0
	}

	return result
}
