package records

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jknair0/beforeeach"
	"github.com/shopspring/decimal"

	"github.com/shehryarbajwa/bottle-rewards/pkg/models"
)

// fakeFetcher returns queued responses in order, repeating the last one
type fakeFetcher struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     atomic.Int32
	block     chan struct{}
}

type fakeResponse struct {
	rows []models.RecordRow
	err  error
}

func (f *fakeFetcher) FetchRecords(ctx context.Context) ([]models.RecordRow, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		return []models.RecordRow{}, nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp.rows, resp.err
}

var (
	fetcher *fakeFetcher
	poller  *Poller
)

func setUp() {
	fetcher = &fakeFetcher{}
	poller = NewPoller(fetcher, 10*time.Millisecond)
}

func tearDown() {
	fetcher = nil
	poller = nil
}

var it = beforeeach.Create(setUp, tearDown)

func TestPoller_ReplacesWholesale(t *testing.T) {
	it(func() {
		fetcher.responses = []fakeResponse{
			{rows: []models.RecordRow{{Material: "plastic"}, {Material: "plastic"}, {Material: "metal"}}},
			{rows: []models.RecordRow{{Material: "glass"}}},
		}

		if err := poller.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
		if got := poller.Summary(); got.RecordCount != 3 || !got.TotalReward.Equal(decimal.NewFromInt(40)) {
			t.Fatalf("first summary = %d records, %s reward", got.RecordCount, got.TotalReward)
		}

		if err := poller.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
		got := poller.Summary()
		if got.RecordCount != 1 {
			t.Errorf("Expected latest list to win with 1 record, got %d", got.RecordCount)
		}
		if !got.TotalReward.Equal(decimal.NewFromInt(30)) {
			t.Errorf("TotalReward = %s, want 30", got.TotalReward)
		}
		if got.LatestMaterial != models.MaterialGlass {
			t.Errorf("LatestMaterial = %q, want glass", got.LatestMaterial)
		}
		if got.LastFetchedAt == nil || !got.Loaded {
			t.Errorf("Expected loaded summary with fetch time, got %+v", got)
		}
	})
}

func TestPoller_FailureKeepsLastList(t *testing.T) {
	it(func() {
		fetcher.responses = []fakeResponse{
			{rows: []models.RecordRow{{Material: "metal", Time: "2024-01-01T00:00:00Z"}, {Material: "glass"}}},
			{err: errors.New("connection refused")},
			{rows: []models.RecordRow{}},
		}

		poller.Refresh(context.Background())

		if err := poller.Refresh(context.Background()); err == nil {
			t.Fatal("Expected fetch error")
		}
		got := poller.Summary()
		if got.Warning != FetchWarning {
			t.Errorf("Warning = %q, want %q", got.Warning, FetchWarning)
		}
		if got.RecordCount != 2 || !got.TotalReward.Equal(decimal.NewFromInt(50)) {
			t.Errorf("Expected last good list kept, got %d records, %s reward", got.RecordCount, got.TotalReward)
		}

		poller.Refresh(context.Background())
		got = poller.Summary()
		if got.Warning != "" {
			t.Errorf("Expected warning cleared, got %q", got.Warning)
		}
		if got.RecordCount != 0 || !got.TotalReward.IsZero() {
			t.Errorf("Expected empty list to replace previous, got %d records", got.RecordCount)
		}
	})
}

func TestPoller_FirstFetchFails(t *testing.T) {
	it(func() {
		fetcher.responses = []fakeResponse{{err: errors.New("timeout")}}

		poller.Refresh(context.Background())
		got := poller.Summary()

		if !got.Loaded {
			t.Error("Expected loaded after first attempt")
		}
		if got.Warning == "" {
			t.Error("Expected warning banner")
		}
		if got.RecordCount != 0 || got.Records == nil {
			t.Errorf("Expected empty list, got %#v", got.Records)
		}
	})
}

func TestPoller_RunKeepsPollingAfterErrors(t *testing.T) {
	it(func() {
		fetcher.responses = []fakeResponse{
			{err: errors.New("boom")},
			{err: errors.New("boom")},
			{rows: []models.RecordRow{{Material: "plastic"}}},
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			poller.Run(ctx)
			close(done)
		}()

		deadline := time.Now().Add(2 * time.Second)
		for poller.Summary().RecordCount != 1 {
			if time.Now().After(deadline) {
				t.Fatal("poller never recovered after errors")
			}
			time.Sleep(5 * time.Millisecond)
		}

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Run did not stop after cancel")
		}
	})
}

func TestPoller_ConcurrentRefreshShareRequest(t *testing.T) {
	it(func() {
		fetcher.block = make(chan struct{})

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				poller.Refresh(context.Background())
			}()
		}

		// Let the callers pile up behind the first request
		deadline := time.Now().Add(time.Second)
		for fetcher.calls.Load() == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		close(fetcher.block)
		wg.Wait()

		if calls := fetcher.calls.Load(); calls >= 5 {
			t.Errorf("Expected shared requests, got %d fetches for 5 callers", calls)
		}
	})
}

func TestPoller_CancelledCallerDoesNotCancelSharedFetch(t *testing.T) {
	it(func() {
		fetcher.block = make(chan struct{})
		fetcher.responses = []fakeResponse{{rows: []models.RecordRow{{Material: "metal"}}}}

		ctx, cancel := context.WithCancel(context.Background())
		first := make(chan error, 1)
		go func() { first <- poller.Refresh(ctx) }()

		deadline := time.Now().Add(time.Second)
		for fetcher.calls.Load() == 0 {
			if time.Now().After(deadline) {
				t.Fatal("fetch never started")
			}
			time.Sleep(time.Millisecond)
		}

		cancel()
		select {
		case err := <-first:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("cancelled caller got %v, want context.Canceled", err)
			}
		case <-time.After(time.Second):
			t.Fatal("cancelled caller kept waiting on the shared fetch")
		}

		second := make(chan error, 1)
		go func() { second <- poller.Refresh(context.Background()) }()
		time.Sleep(10 * time.Millisecond)
		close(fetcher.block)

		select {
		case err := <-second:
			if err != nil {
				t.Errorf("second caller got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("second caller never returned")
		}

		got := poller.Summary()
		if got.Warning != "" {
			t.Errorf("Expected no warning, got %q", got.Warning)
		}
		if got.RecordCount != 1 {
			t.Errorf("Expected the shared fetch to be applied, got %d records", got.RecordCount)
		}
	})
}
