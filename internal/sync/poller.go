package sync

import (
	"context"
	"slices"
	"strings"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"
)

// SyncState represents the current state of an account sync.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

// SyncStatus holds the sync state for a single account.
type SyncStatus struct {
	AccountID   string    `json:"accountId"`
	Email       string    `json:"email"`
	State       SyncState `json:"-"`
	StateName   string    `json:"state"`
	LastSync    time.Time `json:"lastSync"`
	NewMessages int       `json:"newEmails"`
	Error       string    `json:"error,omitempty"`
}

// runTimeout is the maximum time allowed for one sync-all run.
const runTimeout = 10 * time.Minute

// Poller runs the coordinator on a fixed interval and on demand.
type Poller struct {
	coordinator *Coordinator
	interval    time.Duration
	logger      zerolog.Logger

	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}

	mu       gosync.Mutex
	running  bool
	statuses map[string]*SyncStatus
}

// NewPoller creates a Poller. A non-positive interval defaults to five
// minutes.
func NewPoller(c *Coordinator, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{
		coordinator: c,
		interval:    interval,
		logger:      logger.With().Str("component", "poller").Logger(),
		triggerCh:   make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		statuses:    make(map[string]*SyncStatus),
	}
}

// Start launches the polling goroutine. It returns immediately; the first
// run happens right away.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop halts polling and waits for an in-progress run to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.doneCh
}

// Trigger requests an immediate run. Requests made while one is pending
// are merged.
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A run is already pending.
	}
}

// Statuses returns the latest sync status of every account seen so far,
// ordered by email.
func (p *Poller) Statuses() []SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]SyncStatus, 0, len(p.statuses))
	for _, s := range p.statuses {
		statuses = append(statuses, *s)
	}
	slices.SortFunc(statuses, func(a, b SyncStatus) int {
		return strings.Compare(a.Email, b.Email)
	})
	return statuses
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.run(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.run(ctx)
		case <-p.triggerCh:
			p.run(ctx)
		}
	}
}

// run performs a single sync-all and records per-account statuses.
func (p *Poller) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	p.markRunning()

	summary, err := p.coordinator.SyncAll(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("sync run failed")
		return
	}

	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range summary.Results {
		status := &SyncStatus{AccountID: r.AccountID, Email: r.Email, NewMessages: r.NewMessages}
		if prev, ok := p.statuses[r.AccountID]; ok {
			status.LastSync = prev.LastSync
		}
		if r.Error != "" {
			status.State = SyncError
			status.Error = r.Error
		} else {
			status.State = SyncIdle
			status.LastSync = now
		}
		status.StateName = status.State.String()
		p.statuses[r.AccountID] = status
	}

	p.logger.Info().
		Int("accounts", summary.TotalAccounts).
		Int("new", summary.TotalNewEmails).
		Msg("sync run complete")
}

func (p *Poller) markRunning() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.statuses {
		s.State = SyncRunning
		s.StateName = s.State.String()
	}
}
