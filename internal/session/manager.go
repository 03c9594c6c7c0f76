package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/bottle-rewards/pkg/models"
)

var (
	// ErrSessionNotFound is returned for unknown or torn down sessions
	ErrSessionNotFound = errors.New("session not found")
	// ErrClientRequired is returned when a session is created without a client ID
	ErrClientRequired = errors.New("clientId is required")
	// ErrTooManyViews is returned when a client already has the maximum number of open views
	ErrTooManyViews = errors.New("too many open views for client")
)

// Config configures the session manager
type Config struct {
	Mode                    string
	Timings                 Timings
	MaxViewsPerClient       int
	MaxConcurrentDetections int
	IdleTimeout             time.Duration
}

type view struct {
	ctrl     *Controller
	clientID string
	stop     chan struct{}
	once     sync.Once
}

func (v *view) teardown() bool {
	closed := false
	v.once.Do(func() {
		close(v.stop)
		v.ctrl.Close()
		closed = true
	})
	return closed
}

// Manager handles all detection views
type Manager struct {
	sessions    sync.Map // map[sessionID]*view
	concurrency map[string]*semaphore.Weighted
	mu          sync.RWMutex
	camera      *semaphore.Weighted
	detector    Detector
	handoff     Handoff
	cfg         Config
}

// NewManager creates a new session manager
func NewManager(detector Detector, handoff Handoff, cfg Config) *Manager {
	if cfg.MaxViewsPerClient <= 0 {
		cfg.MaxViewsPerClient = 10
	}

	m := &Manager{
		concurrency: make(map[string]*semaphore.Weighted),
		detector:    detector,
		handoff:     handoff,
		cfg:         cfg,
	}
	if cfg.MaxConcurrentDetections > 0 {
		m.camera = semaphore.NewWeighted(int64(cfg.MaxConcurrentDetections))
	}
	return m
}

// CreateSession opens a new idle detection view for a client
func (m *Manager) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.DetectionSession, error) {
	if req.ClientID == "" {
		return nil, ErrClientRequired
	}

	if err := m.acquireSlot(req.ClientID); err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	v := &view{
		ctrl: NewController(sessionID, m.detector, m.handoff, ControllerOptions{
			ClientID: req.ClientID,
			Mode:     m.cfg.Mode,
			Timings:  m.cfg.Timings,
			Camera:   m.camera,
		}),
		clientID: req.ClientID,
		stop:     make(chan struct{}),
	}
	m.sessions.Store(sessionID, v)

	if m.cfg.IdleTimeout > 0 {
		go m.handleTimeout(sessionID, v)
	}

	log.WithFields(log.Fields{
		"session": sessionID,
		"client":  req.ClientID,
	}).Info("Session created")

	snap := v.ctrl.Snapshot()
	return &snap, nil
}

// GetSession returns the current state of a session
func (m *Manager) GetSession(id string) (*models.DetectionSession, error) {
	ctrl, err := m.Controller(id)
	if err != nil {
		return nil, err
	}
	snap := ctrl.Snapshot()
	return &snap, nil
}

// Controller returns the controller of a session and records activity on it
func (m *Manager) Controller(id string) (*Controller, error) {
	value, ok := m.sessions.Load(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	ctrl := value.(*view).ctrl
	ctrl.Touch()
	return ctrl, nil
}

// ClientID returns the client that owns a session without counting the lookup
// as activity
func (m *Manager) ClientID(id string) (string, error) {
	value, ok := m.sessions.Load(id)
	if !ok {
		return "", ErrSessionNotFound
	}
	return value.(*view).clientID, nil
}

// ListSessions returns all sessions for a client, optionally filtered by status,
// oldest first
func (m *Manager) ListSessions(clientID string, status models.SessionStatus) []models.DetectionSession {
	sessions := []models.DetectionSession{}

	m.sessions.Range(func(key, value interface{}) bool {
		v := value.(*view)

		if clientID != "" && v.clientID != clientID {
			return true
		}

		snap := v.ctrl.Snapshot()
		if status != "" && snap.Status != status {
			return true
		}

		sessions = append(sessions, snap)
		return true
	})

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	return sessions
}

// DeleteSession tears a view down, dropping any pending detection work
func (m *Manager) DeleteSession(id string) error {
	value, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return ErrSessionNotFound
	}

	v := value.(*view)
	if v.teardown() {
		m.releaseSlot(v.clientID)
	}

	log.WithField("session", id).Info("Session deleted")
	return nil
}

// Close tears down every view
func (m *Manager) Close() {
	m.sessions.Range(func(key, value interface{}) bool {
		m.DeleteSession(key.(string))
		return true
	})
}

// acquireSlot tries to acquire a view slot for the client
func (m *Manager) acquireSlot(clientID string) error {
	m.mu.Lock()
	sem, exists := m.concurrency[clientID]
	if !exists {
		sem = semaphore.NewWeighted(int64(m.cfg.MaxViewsPerClient))
		m.concurrency[clientID] = sem
	}
	m.mu.Unlock()

	if !sem.TryAcquire(1) {
		return fmt.Errorf("%w: %s", ErrTooManyViews, clientID)
	}

	return nil
}

// releaseSlot releases a view slot for the client
func (m *Manager) releaseSlot(clientID string) {
	m.mu.RLock()
	sem := m.concurrency[clientID]
	m.mu.RUnlock()

	if sem != nil {
		sem.Release(1)
	}
}

// handleTimeout tears a view down once it has seen no activity for the idle
// timeout. Views with a detection in flight are left alone.
func (m *Manager) handleTimeout(id string, v *view) {
	timer := time.NewTimer(m.cfg.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-v.stop:
			return
		case <-timer.C:
		}

		snap := v.ctrl.Snapshot()
		idle := time.Since(snap.LastActivity)
		if snap.Status.IsActive() || idle < m.cfg.IdleTimeout {
			wait := m.cfg.IdleTimeout - idle
			if wait <= 0 {
				wait = m.cfg.IdleTimeout
			}
			timer.Reset(wait)
			continue
		}

		log.WithFields(log.Fields{
			"session": id,
			"idle":    idle.Round(time.Second).String(),
		}).Info("Tearing down idle session")

		// Only remove the entry that this handler was started for
		if m.sessions.CompareAndDelete(id, v) && v.teardown() {
			m.releaseSlot(v.clientID)
		}
		return
	}
}
