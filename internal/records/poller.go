package records

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/singleflight"

	"github.com/shehryarbajwa/bottle-rewards/pkg/models"
)

// fetchTimeout bounds a shared fetch once it no longer follows any caller
const fetchTimeout = 30 * time.Second

// FetchWarning is shown while the last fetch of records failed
const FetchWarning = "Unable to fetch waste records. Please try again later."

// Fetcher returns the full list of historical submissions
type Fetcher interface {
	FetchRecords(ctx context.Context) ([]models.RecordRow, error)
}

// Poller keeps the latest full list of waste records.
// Every successful fetch replaces the list wholesale.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	group    singleflight.Group

	mu        sync.RWMutex
	records   []models.WasteRecord
	warning   string
	fetchedAt *time.Time
	loaded    bool
}

// NewPoller creates a poller fetching every interval
func NewPoller(fetcher Fetcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		records:  []models.WasteRecord{},
	}
}

// Run fetches immediately and then on every tick until ctx is done.
// Failed fetches never stop the loop.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Refresh(ctx)
		}
	}
}

// Refresh performs one fetch. Concurrent callers share the same request, so a
// caller that goes away stops waiting but leaves the fetch running for the rest.
func (p *Poller) Refresh(ctx context.Context) error {
	ch := p.group.DoChan("records", func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		rows, err := p.fetcher.FetchRecords(fetchCtx)
		p.apply(rows, err)
		return nil, err
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) apply(rows []models.RecordRow, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Loaded flips on the first attempt either way, like the dashboard spinner
	p.loaded = true

	if err != nil {
		if p.warning == "" {
			log.Warnf("Failed to fetch waste records: %v", err)
		} else {
			log.Debugf("Waste records still unavailable: %v", err)
		}
		p.warning = FetchWarning
		return
	}

	if p.warning != "" {
		log.Info("Waste records available again")
	}

	now := time.Now()
	p.records = Derive(rows)
	p.warning = ""
	p.fetchedAt = &now
}

// Summary returns the dashboard state for the latest known list
func (p *Poller) Summary() models.DashboardSummary {
	p.mu.RLock()
	records := make([]models.WasteRecord, len(p.records))
	copy(records, p.records)
	warning := p.warning
	fetchedAt := p.fetchedAt
	loaded := p.loaded
	p.mu.RUnlock()

	summary := Summarize(records)
	summary.Warning = warning
	summary.Loaded = loaded
	if fetchedAt != nil {
		t := *fetchedAt
		summary.LastFetchedAt = &t
	}
	return summary
}
