package api

import (
	"sync"
	"time"

	"github.com/JakeFAU/snp-citation-crawler/internal/citation"
	"github.com/JakeFAU/snp-citation-crawler/internal/clock/system"
)

// Snapshot is the JSON view of a running crawl.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Completed int       `json:"completed"`
	Resolved  int       `json:"resolved"`
	Empty     int       `json:"empty"`
	Failed    int       `json:"failed"`
	Records   int       `json:"records"`
	LastID    string    `json:"last_id,omitempty"`
}

// Progress accumulates outcomes for the progress endpoint. Observe matches
// the dispatcher's OnOutcome hook.
type Progress struct {
	mu    sync.RWMutex
	clock citation.Clock
	snap  Snapshot
}

// NewProgress starts tracking the run identified by runID.
func NewProgress(runID string, clock citation.Clock) *Progress {
	if clock == nil {
		clock = system.New()
	}
	now := clock.Now()
	return &Progress{
		clock: clock,
		snap:  Snapshot{RunID: runID, StartedAt: now, UpdatedAt: now},
	}
}

// Observe records one finished lookup.
func (p *Progress) Observe(o citation.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Completed++
	switch {
	case o.Failed():
		p.snap.Failed++
	case o.Result.Empty():
		p.snap.Empty++
	default:
		p.snap.Resolved++
		p.snap.Records += len(o.Result.Records)
	}
	p.snap.LastID = o.ID.String()
	p.snap.UpdatedAt = p.clock.Now()
}

// Snapshot returns a copy of the current counters.
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}
