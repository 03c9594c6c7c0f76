package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jknair0/beforeeach"

	"github.com/shehryarbajwa/bottle-rewards/pkg/models"
)

var (
	detector *fakeDetector
	handoff  *fakeHandoff
	manager  *Manager
)

func setUp() {
	detector = &fakeDetector{resp: detectedResponse()}
	handoff = &fakeHandoff{}
	manager = NewManager(detector, handoff, Config{
		Timings:                 fastTimings(),
		MaxViewsPerClient:       2,
		MaxConcurrentDetections: 1,
	})
}

func tearDown() {
	manager.Close()
	detector = nil
	handoff = nil
	manager = nil
}

var it = beforeeach.Create(setUp, tearDown)

func TestManager_CreateSession(t *testing.T) {
	it(func() {
		session, err := manager.CreateSession(context.Background(), models.CreateSessionRequest{ClientID: "kiosk-1"})
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}

		if session.ID == "" {
			t.Error("Expected session ID")
		}
		if session.ClientID != "kiosk-1" {
			t.Errorf("ClientID = %q", session.ClientID)
		}
		if session.Status != models.StatusIdle || session.ProgressPercent != 0 {
			t.Errorf("Expected new idle session, got %s at %d%%", session.Status, session.ProgressPercent)
		}

		got, err := manager.GetSession(session.ID)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.ID != session.ID {
			t.Errorf("GetSession returned %s", got.ID)
		}
	})
}

func TestManager_CreateSessionRequiresClient(t *testing.T) {
	it(func() {
		_, err := manager.CreateSession(context.Background(), models.CreateSessionRequest{})
		if !errors.Is(err, ErrClientRequired) {
			t.Errorf("got %v, want ErrClientRequired", err)
		}
	})
}

func TestManager_ViewLimitPerClient(t *testing.T) {
	it(func() {
		ctx := context.Background()
		first, _ := manager.CreateSession(ctx, models.CreateSessionRequest{ClientID: "kiosk-1"})
		manager.CreateSession(ctx, models.CreateSessionRequest{ClientID: "kiosk-1"})

		_, err := manager.CreateSession(ctx, models.CreateSessionRequest{ClientID: "kiosk-1"})
		if !errors.Is(err, ErrTooManyViews) {
			t.Fatalf("got %v, want ErrTooManyViews", err)
		}

		// Other clients are unaffected
		if _, err := manager.CreateSession(ctx, models.CreateSessionRequest{ClientID: "kiosk-2"}); err != nil {
			t.Errorf("second client rejected: %v", err)
		}

		if err := manager.DeleteSession(first.ID); err != nil {
			t.Fatalf("DeleteSession failed: %v", err)
		}
		if _, err := manager.CreateSession(ctx, models.CreateSessionRequest{ClientID: "kiosk-1"}); err != nil {
			t.Errorf("slot not released after delete: %v", err)
		}
	})
}

func TestManager_ListSessions(t *testing.T) {
	it(func() {
		ctx := context.Background()
		a, _ := manager.CreateSession(ctx, models.CreateSessionRequest{ClientID: "kiosk-1"})
		time.Sleep(2 * time.Millisecond)
		b, _ := manager.CreateSession(ctx, models.CreateSessionRequest{ClientID: "kiosk-1"})
		manager.CreateSession(ctx, models.CreateSessionRequest{ClientID: "kiosk-2"})

		sessions := manager.ListSessions("kiosk-1", "")
		if len(sessions) != 2 {
			t.Fatalf("Expected 2 sessions, got %d", len(sessions))
		}
		if sessions[0].ID != a.ID || sessions[1].ID != b.ID {
			t.Error("Expected sessions ordered by creation")
		}

		if all := manager.ListSessions("", ""); len(all) != 3 {
			t.Errorf("Expected 3 sessions overall, got %d", len(all))
		}

		ctrl, _ := manager.Controller(b.ID)
		ctrl.Start()
		waitForStatus(t, ctrl, models.StatusCompleted, time.Second)

		completed := manager.ListSessions("kiosk-1", models.StatusCompleted)
		if len(completed) != 1 || completed[0].ID != b.ID {
			t.Errorf("status filter returned %+v", completed)
		}
	})
}

func TestManager_DeleteSession(t *testing.T) {
	it(func() {
		session, _ := manager.CreateSession(context.Background(), models.CreateSessionRequest{ClientID: "kiosk-1"})
		ctrl, _ := manager.Controller(session.ID)

		if err := manager.DeleteSession(session.ID); err != nil {
			t.Fatalf("DeleteSession failed: %v", err)
		}

		if _, err := manager.GetSession(session.ID); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("got %v, want ErrSessionNotFound", err)
		}
		if err := manager.DeleteSession(session.ID); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("second delete: got %v, want ErrSessionNotFound", err)
		}
		if ctrl.Start() {
			t.Error("deleted view accepted a new detection")
		}
	})
}

func TestManager_DeleteDuringDetection(t *testing.T) {
	it(func() {
		release := make(chan struct{})
		detector.release = release
		detector.ignoreCtx = true

		session, _ := manager.CreateSession(context.Background(), models.CreateSessionRequest{ClientID: "kiosk-1"})
		ctrl, _ := manager.Controller(session.ID)
		ctrl.Start()

		manager.DeleteSession(session.ID)
		close(release)
		time.Sleep(30 * time.Millisecond)

		if snap := ctrl.Snapshot(); snap.Status != models.StatusIdle || snap.Result != nil {
			t.Errorf("response applied to a deleted view: %+v", snap)
		}
	})
}

func TestManager_IdleTimeout(t *testing.T) {
	it(func() {
		idle := NewManager(detector, handoff, Config{
			Timings:           fastTimings(),
			MaxViewsPerClient: 1,
			IdleTimeout:       30 * time.Millisecond,
		})
		defer idle.Close()

		session, err := idle.CreateSession(context.Background(), models.CreateSessionRequest{ClientID: "kiosk-1"})
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}

		// GetSession counts as activity, so watch the map directly
		deadline := time.Now().Add(time.Second)
		for {
			if _, ok := idle.sessions.Load(session.ID); !ok {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("idle session was never torn down")
			}
			time.Sleep(5 * time.Millisecond)
		}

		if _, err := idle.GetSession(session.ID); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("got %v, want ErrSessionNotFound", err)
		}

		// The slot is released right after the entry goes away
		for {
			_, err := idle.CreateSession(context.Background(), models.CreateSessionRequest{ClientID: "kiosk-1"})
			if err == nil {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("slot not released after idle teardown: %v", err)
			}
			time.Sleep(time.Millisecond)
		}
	})
}

func TestManager_ClientIDDoesNotCountAsActivity(t *testing.T) {
	it(func() {
		session, _ := manager.CreateSession(context.Background(), models.CreateSessionRequest{ClientID: "kiosk-1"})
		value, _ := manager.sessions.Load(session.ID)
		ctrl := value.(*view).ctrl
		before := ctrl.Snapshot().LastActivity

		time.Sleep(5 * time.Millisecond)

		clientID, err := manager.ClientID(session.ID)
		if err != nil {
			t.Fatalf("ClientID failed: %v", err)
		}
		if clientID != "kiosk-1" {
			t.Errorf("ClientID = %q", clientID)
		}
		if after := ctrl.Snapshot().LastActivity; !after.Equal(before) {
			t.Errorf("lookup moved last activity from %v to %v", before, after)
		}

		if _, err := manager.ClientID("missing"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("got %v, want ErrSessionNotFound", err)
		}
	})
}
