package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shehryarbajwa/bottle-rewards/internal/ratelimit"
	"github.com/shehryarbajwa/bottle-rewards/internal/session"
	"github.com/shehryarbajwa/bottle-rewards/pkg/models"
)

type stubDetector struct {
	calls atomic.Int32
}

func (d *stubDetector) DetectBottle(ctx context.Context, mode string) (*models.DetectResponse, error) {
	d.calls.Add(1)
	return &models.DetectResponse{Success: false, Message: "No bottles detected"}, nil
}

func newStreamServer(t *testing.T, limiter *ratelimit.Limiter) (*session.Manager, *httptest.Server, *stubDetector) {
	t.Helper()

	detector := &stubDetector{}
	mgr := session.NewManager(detector, nil, session.Config{
		Timings: session.Timings{
			StartingDelay:      time.Millisecond,
			ScanningDelay:      2 * time.Millisecond,
			ProcessingDelay:    3 * time.Millisecond,
			AnalyzeDelay:       time.Millisecond,
			NoDetectionDismiss: time.Hour,
			FailureDismiss:     time.Hour,
		},
	})
	streams := NewServer(mgr, limiter)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streams.HandleSessionStream(w, r, strings.TrimPrefix(r.URL.Path, "/"))
	}))
	t.Cleanup(func() {
		srv.Close()
		mgr.Close()
	})
	return mgr, srv, detector
}

func dial(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, status models.SessionStatus) models.DetectionSession {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var snap models.DetectionSession
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("waiting for %s: %v", status, err)
		}
		if snap.Status == status {
			return snap
		}
	}
}

func TestStream_SendsCurrentStateAndChanges(t *testing.T) {
	mgr, srv, _ := newStreamServer(t, nil)

	sess, err := mgr.CreateSession(context.Background(), models.CreateSessionRequest{ClientID: "kiosk-1"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	conn := dial(t, srv, sess.ID)

	first := readUntil(t, conn, models.StatusIdle)
	if first.ID != sess.ID {
		t.Errorf("snapshot for %s, want %s", first.ID, sess.ID)
	}

	ctrl, _ := mgr.Controller(sess.ID)
	ctrl.Start()

	done := readUntil(t, conn, models.StatusCompleted)
	if done.StatusMessage != "No bottles detected" {
		t.Errorf("StatusMessage = %q", done.StatusMessage)
	}
}

func TestStream_Commands(t *testing.T) {
	mgr, srv, _ := newStreamServer(t, nil)

	sess, _ := mgr.CreateSession(context.Background(), models.CreateSessionRequest{ClientID: "kiosk-1"})
	conn := dial(t, srv, sess.ID)
	readUntil(t, conn, models.StatusIdle)

	if err := conn.WriteJSON(Command{Action: "start"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	readUntil(t, conn, models.StatusCompleted)

	conn.WriteJSON(Command{Action: "dismiss"})
	readUntil(t, conn, models.StatusIdle)
}

func TestStream_ClosesWhenSessionDeleted(t *testing.T) {
	mgr, srv, _ := newStreamServer(t, nil)

	sess, _ := mgr.CreateSession(context.Background(), models.CreateSessionRequest{ClientID: "kiosk-1"})
	conn := dial(t, srv, sess.ID)
	readUntil(t, conn, models.StatusIdle)

	mgr.DeleteSession(sess.ID)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Errorf("Expected going-away close, got %v", err)
			}
			return
		}
	}
}

func TestStream_UnknownSession(t *testing.T) {
	_, srv, _ := newStreamServer(t, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %v", resp)
	}
}

func TestStream_StartCommandsAreRateLimited(t *testing.T) {
	mgr, srv, detector := newStreamServer(t, ratelimit.NewLimiter(3600, 2))

	sess, _ := mgr.CreateSession(context.Background(), models.CreateSessionRequest{ClientID: "kiosk-1"})
	conn := dial(t, srv, sess.ID)
	readUntil(t, conn, models.StatusIdle)

	// The burst covers the first two starts
	for i := 0; i < 2; i++ {
		if err := conn.WriteJSON(Command{Action: "start"}); err != nil {
			t.Fatalf("WriteJSON failed: %v", err)
		}
		readUntil(t, conn, models.StatusCompleted)
	}

	for i := 0; i < 8; i++ {
		conn.WriteJSON(Command{Action: "start"})
	}
	time.Sleep(100 * time.Millisecond)

	if calls := detector.calls.Load(); calls != 2 {
		t.Errorf("Expected 2 backend calls within the burst, got %d", calls)
	}
	if snap, _ := mgr.GetSession(sess.ID); snap.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", snap.Attempt)
	}
}
