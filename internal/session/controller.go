package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/bottle-rewards/pkg/models"
)

// Messages shown to the view at each stage
const (
	MessageInitializing = "Initializing camera..."
	MessageStarting     = "Starting real-time detection..."
	MessageScanning     = "Camera active - Scanning for bottles..."
	MessageProcessing   = "Processing live camera feed..."
	MessageAnalyzing    = "Processing detection results..."
	MessageCaptured     = "Bottle captured successfully!"
	MessageNoDetection  = "Camera scan complete - No bottles detected."
	failurePrefix       = "Detection failed: "
)

// observerBuffer is the number of snapshots queued per observer
const observerBuffer = 16

// ErrNoResult is returned by Proceed when there is no completed detection to hand off
var ErrNoResult = errors.New("no detection result to proceed with")

// ErrNoHandoff is returned by Proceed when no details view is attached
var ErrNoHandoff = errors.New("details hand-off not configured")

// Detector runs one remote detection
type Detector interface {
	DetectBottle(ctx context.Context, mode string) (*models.DetectResponse, error)
}

// Handoff receives confirmed detections for the details view
type Handoff interface {
	CreateDetails(ctx context.Context, sessionID string, result *models.DetectionResult) (*models.BottleDetails, error)
}

// Timings are the delays that pace a detection session
type Timings struct {
	StartingDelay      time.Duration
	ScanningDelay      time.Duration
	ProcessingDelay    time.Duration
	AnalyzeDelay       time.Duration
	NoDetectionDismiss time.Duration
	FailureDismiss     time.Duration
}

// DefaultTimings matches the pacing of the detection popup
func DefaultTimings() Timings {
	return Timings{
		StartingDelay:      500 * time.Millisecond,
		ScanningDelay:      time.Second,
		ProcessingDelay:    1500 * time.Millisecond,
		AnalyzeDelay:       500 * time.Millisecond,
		NoDetectionDismiss: 3 * time.Second,
		FailureDismiss:     4 * time.Second,
	}
}

// ControllerOptions configures a Controller
type ControllerOptions struct {
	ClientID string
	Mode     string
	Timings  Timings
	// Camera bounds concurrent backend detections across controllers.
	// Nil means unbounded.
	Camera *semaphore.Weighted
	Now    func() time.Time
}

// Controller drives the detection session of one view.
//
// All state changes happen under mu. Every scheduled task and the backend
// call carry the generation they were started in and are dropped if the
// session has since been dismissed or restarted.
type Controller struct {
	detector Detector
	handoff  Handoff
	mode     string
	timings  Timings
	camera   *semaphore.Weighted
	now      func() time.Time

	mu           sync.Mutex
	state        models.DetectionSession
	gen          uint64
	cancel       context.CancelFunc
	timers       []*time.Timer
	observers    map[int]chan models.DetectionSession
	nextObserver int
	closed       bool
}

// NewController creates an idle controller for the session id
func NewController(id string, detector Detector, handoff Handoff, opts ControllerOptions) *Controller {
	if opts.Mode == "" {
		opts.Mode = models.DefaultDetectionMode
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	now := opts.Now()
	return &Controller{
		detector: detector,
		handoff:  handoff,
		mode:     opts.Mode,
		timings:  opts.Timings,
		camera:   opts.Camera,
		now:      opts.Now,
		state: models.DetectionSession{
			ID:           id,
			ClientID:     opts.ClientID,
			Status:       models.StatusIdle,
			CreatedAt:    now,
			LastActivity: now,
		},
		observers: make(map[int]chan models.DetectionSession),
	}
}

// Start begins a detection attempt. It returns false, and does nothing,
// while an attempt is already in flight or after Close.
func (c *Controller) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state.Status.IsActive() {
		return false
	}

	// A new attempt discards whatever the previous one left behind
	c.cancelPendingLocked()
	gen := c.gen

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	now := c.now()
	c.state.Status = models.StatusInitializing
	c.state.ProgressPercent = 10
	c.state.StatusMessage = MessageInitializing
	c.state.StartedAt = &now
	c.state.ElapsedMs = nil
	c.state.Result = nil
	c.state.Attempt++
	c.state.LastActivity = now
	c.broadcastLocked()

	c.scheduleLocked(gen, c.timings.StartingDelay, func() {
		c.advanceLocked(models.StatusStarting, 20, MessageStarting)
	})
	c.scheduleLocked(gen, c.timings.ScanningDelay, func() {
		c.advanceLocked(models.StatusScanning, 40, MessageScanning)
	})
	c.scheduleLocked(gen, c.timings.ProcessingDelay, func() {
		c.advanceLocked(models.StatusProcessing, 60, MessageProcessing)
	})

	log.WithFields(log.Fields{
		"session": c.state.ID,
		"attempt": c.state.Attempt,
		"mode":    c.mode,
	}).Info("Detection started")

	go c.run(ctx, gen)

	return true
}

// Dismiss resets the session to idle, dropping any pending work.
// It is safe to call in any state and any number of times.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.LastActivity = c.now()
	c.resetLocked()
}

// Proceed hands the completed detection to the details view.
// The session itself is left untouched.
func (c *Controller) Proceed(ctx context.Context) (*models.BottleDetails, error) {
	c.mu.Lock()
	if c.state.Status != models.StatusCompleted || c.state.Result == nil {
		c.mu.Unlock()
		return nil, ErrNoResult
	}
	id := c.state.ID
	result := cloneResult(c.state.Result)
	c.mu.Unlock()

	if c.handoff == nil {
		return nil, ErrNoHandoff
	}
	return c.handoff.CreateDetails(ctx, id, result)
}

// Snapshot returns a copy of the current session state
func (c *Controller) Snapshot() models.DetectionSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Touch records view activity without changing the session
func (c *Controller) Touch() {
	c.mu.Lock()
	c.state.LastActivity = c.now()
	c.mu.Unlock()
}

// Subscribe returns a channel receiving every state change, starting with the
// current state. Slow observers skip intermediate states but always end up
// with the latest one. The channel is closed by cancel or Close.
func (c *Controller) Subscribe() (<-chan models.DetectionSession, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan models.DetectionSession, observerBuffer)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = ch
	ch <- c.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if obs, ok := c.observers[id]; ok {
				delete(c.observers, id)
				close(obs)
			}
		})
	}
}

// Close tears the view down: pending work is dropped and observers are released
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.resetLocked()
	c.closed = true

	for id, ch := range c.observers {
		delete(c.observers, id)
		close(ch)
	}
}

// run performs the backend call of attempt gen and applies its outcome
func (c *Controller) run(ctx context.Context, gen uint64) {
	if c.camera != nil {
		if err := c.camera.Acquire(ctx, 1); err != nil {
			// Only a dismiss or restart cancels ctx; finish drops it then
			c.finish(gen, nil, err)
			return
		}
		defer c.camera.Release(1)
	}

	resp, err := c.detector.DetectBottle(ctx, c.mode)
	c.finish(gen, resp, err)
}

func (c *Controller) finish(gen uint64, resp *models.DetectResponse, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen || c.closed {
		log.WithField("session", c.state.ID).Debug("Dropping detection response for a dismissed attempt")
		return
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	logger := log.WithFields(log.Fields{
		"session": c.state.ID,
		"attempt": c.state.Attempt,
	})

	switch {
	case err != nil:
		c.state.Status = models.StatusFailed
		c.state.ProgressPercent = 100
		c.state.StatusMessage = failurePrefix + err.Error()
		c.state.Result = nil
		c.stampElapsedLocked()
		c.broadcastLocked()
		logger.WithError(err).Warn("Detection failed")

		c.scheduleLocked(gen, c.timings.FailureDismiss, c.resetLocked)

	case resp.Detected():
		c.state.Status = models.StatusAnalyzing
		c.state.ProgressPercent = 80
		c.state.StatusMessage = MessageAnalyzing
		c.broadcastLocked()

		result := resp.ToResult()
		c.scheduleLocked(gen, c.timings.AnalyzeDelay, func() {
			if c.state.Status != models.StatusAnalyzing {
				return
			}
			c.state.Status = models.StatusCompleted
			c.state.ProgressPercent = 100
			c.state.StatusMessage = MessageCaptured
			c.state.Result = result
			c.stampElapsedLocked()
			c.broadcastLocked()
			logger.WithFields(log.Fields{
				"bottles":    result.BottleCount,
				"confidence": result.ConfidencePercent(),
			}).Info("Bottle captured")
		})

	default:
		c.state.Status = models.StatusCompleted
		c.state.ProgressPercent = 100
		c.state.StatusMessage = noDetectionMessage(resp)
		c.state.Result = nil
		c.stampElapsedLocked()
		c.broadcastLocked()
		logger.Info("Detection completed without a bottle")

		c.scheduleLocked(gen, c.timings.NoDetectionDismiss, c.resetLocked)
	}
}

// advanceLocked applies a cosmetic stage if the attempt is still ahead of it
func (c *Controller) advanceLocked(status models.SessionStatus, percent int, message string) {
	if !c.state.Status.IsActive() || c.state.Status == models.StatusAnalyzing {
		return
	}
	if percent <= c.state.ProgressPercent {
		return
	}
	c.state.Status = status
	c.state.ProgressPercent = percent
	c.state.StatusMessage = message
	c.broadcastLocked()
}

// scheduleLocked runs fn under mu after d, unless attempt gen is gone by then
func (c *Controller) scheduleLocked(gen uint64, d time.Duration, fn func()) {
	timer := time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen || c.closed {
			return
		}
		fn()
	})
	c.timers = append(c.timers, timer)
}

// cancelPendingLocked invalidates every scheduled task and the in-flight call
func (c *Controller) cancelPendingLocked() {
	c.gen++
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) resetLocked() {
	pending := len(c.timers) > 0 || c.cancel != nil
	c.cancelPendingLocked()

	if c.state.Status == models.StatusIdle && !pending && c.state.Result == nil {
		return
	}

	c.state.Status = models.StatusIdle
	c.state.ProgressPercent = 0
	c.state.StatusMessage = ""
	c.state.StartedAt = nil
	c.state.ElapsedMs = nil
	c.state.Result = nil
	c.broadcastLocked()
}

func (c *Controller) stampElapsedLocked() {
	if c.state.StartedAt == nil {
		return
	}
	elapsed := c.now().Sub(*c.state.StartedAt).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	c.state.ElapsedMs = &elapsed
}

func (c *Controller) snapshotLocked() models.DetectionSession {
	s := c.state
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.ElapsedMs != nil {
		e := *s.ElapsedMs
		s.ElapsedMs = &e
		s.ElapsedLabel = models.FormatElapsed(e)
	}
	s.Result = cloneResult(s.Result)
	return s
}

// broadcastLocked pushes the current state to every observer without blocking.
// A full buffer loses its oldest entry.
func (c *Controller) broadcastLocked() {
	if len(c.observers) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.observers {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func noDetectionMessage(resp *models.DetectResponse) string {
	if resp != nil {
		if resp.Message != "" {
			return resp.Message
		}
		if resp.Error != "" {
			return resp.Error
		}
	}
	return MessageNoDetection
}

func cloneResult(r *models.DetectionResult) *models.DetectionResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Bottles = make([]models.Bottle, len(r.Bottles))
	for i, b := range r.Bottles {
		out.Bottles[i] = b
		if b.BBox != nil {
			out.Bottles[i].BBox = append([]int(nil), b.BBox...)
		}
	}
	if r.ProcessingTimeSeconds != nil {
		p := *r.ProcessingTimeSeconds
		out.ProcessingTimeSeconds = &p
	}
	return &out
}
