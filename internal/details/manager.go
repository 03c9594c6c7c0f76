package details

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/shehryarbajwa/bottle-rewards/pkg/models"
)

// DefaultMaterial labels every confirmed detection until the classifier reports a material
const DefaultMaterial = "bottle"

var (
	// ErrDetailsNotFound is returned for unknown or expired hand-offs
	ErrDetailsNotFound = errors.New("details not found")
	// ErrInvalidImage is returned when the captured image cannot be decoded
	ErrInvalidImage = errors.New("invalid image data")
)

// Notifier is told about every confirmed detection
type Notifier interface {
	Publish(message interface{}) error
}

type entry struct {
	details *models.BottleDetails
	timer   *time.Timer
}

// Manager holds the detections handed off to the details view
type Manager struct {
	details  sync.Map // detailsID -> *entry
	ttl      time.Duration
	notifier Notifier
}

// NewManager creates a details manager. Hand-offs are dropped after ttl;
// a zero ttl keeps them until deleted. notifier may be nil.
func NewManager(ttl time.Duration, notifier Notifier) *Manager {
	return &Manager{
		ttl:      ttl,
		notifier: notifier,
	}
}

// CreateDetails stores a confirmed detection for the details view
func (m *Manager) CreateDetails(ctx context.Context, sessionID string, result *models.DetectionResult) (*models.BottleDetails, error) {
	if result == nil {
		return nil, fmt.Errorf("detection result is required")
	}

	now := time.Now()
	d := &models.BottleDetails{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Image:     result.ImageData,
		Detection: result,
		Material:  DefaultMaterial,
		CreatedAt: now,
	}
	if m.ttl > 0 {
		d.ExpiresAt = now.Add(m.ttl)
	}

	e := &entry{details: d}
	m.details.Store(d.ID, e)

	if m.ttl > 0 {
		id := d.ID
		e.timer = time.AfterFunc(m.ttl, func() {
			if m.details.CompareAndDelete(id, e) {
				log.WithField("details", id).Debug("Details expired")
			}
		})
	}

	logger := log.WithFields(log.Fields{
		"details": d.ID,
		"session": sessionID,
	})
	logger.Info("Detection handed off")

	if m.notifier != nil {
		event := models.DetectionConfirmed{
			DetailsID:   d.ID,
			SessionID:   sessionID,
			BottleCount: result.BottleCount,
			Confidence:  result.ConfidencePercent(),
			CapturedAt:  result.CapturedAt,
			ConfirmedAt: now,
		}
		if err := m.notifier.Publish(event); err != nil {
			logger.WithError(err).Warn("Failed to publish detection confirmed event")
		}
	}

	return d, nil
}

// GetDetails retrieves a hand-off by ID
func (m *Manager) GetDetails(id string) (*models.BottleDetails, error) {
	value, ok := m.details.Load(id)
	if !ok {
		return nil, ErrDetailsNotFound
	}
	return value.(*entry).details, nil
}

// DeleteDetails removes a hand-off
func (m *Manager) DeleteDetails(id string) error {
	value, ok := m.details.LoadAndDelete(id)
	if !ok {
		return ErrDetailsNotFound
	}
	if t := value.(*entry).timer; t != nil {
		t.Stop()
	}
	return nil
}

// Image returns the decoded captured frame of a hand-off and its content type
func (m *Manager) Image(id string) ([]byte, string, error) {
	d, err := m.GetDetails(id)
	if err != nil {
		return nil, "", err
	}
	return DecodeImage(d.Image)
}

// DecodeImage decodes a data:<mime>;base64,<payload> URI.
// A bare base64 payload is taken to be a JPEG.
func DecodeImage(uri string) ([]byte, string, error) {
	if uri == "" {
		return nil, "", ErrInvalidImage
	}

	contentType := "image/jpeg"
	payload := uri

	if strings.HasPrefix(uri, "data:") {
		header, data, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
		if !ok {
			return nil, "", fmt.Errorf("%w: missing payload", ErrInvalidImage)
		}
		mediaType, params, _ := strings.Cut(header, ";")
		if params != "base64" {
			return nil, "", fmt.Errorf("%w: only base64 data URIs are supported", ErrInvalidImage)
		}
		if mediaType != "" {
			contentType = mediaType
		}
		payload = data
	}

	img, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, contentType, nil
}

// Close stops all pending expiry timers
func (m *Manager) Close() {
	m.details.Range(func(key, value interface{}) bool {
		if t := value.(*entry).timer; t != nil {
			t.Stop()
		}
		return true
	})
}
