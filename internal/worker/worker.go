// Package worker resolves one identifier at a time into an Outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/snp-citation-crawler/internal/citation"
	"github.com/JakeFAU/snp-citation-crawler/internal/clock/system"
	"github.com/JakeFAU/snp-citation-crawler/internal/metrics"
	"github.com/JakeFAU/snp-citation-crawler/internal/queue/memory"
)

// Queue is the consumer side of the identifier queue.
type Queue interface {
	Dequeue(ctx context.Context) (citation.Identifier, error)
}

// Config controls Worker behavior.
type Config struct {
	// BaseURL is the lookup endpoint; empty selects citation.DefaultLookupURL.
	BaseURL string
	// Delay is the pause after every network lookup, successful or not.
	Delay time.Duration
}

// Worker executes the fetch and extract pipeline for single identifiers.
type Worker struct {
	fetcher   citation.Fetcher
	extractor citation.Extractor
	ledger    citation.Ledger
	clock     citation.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. The ledger may be nil.
func New(
	fetcher citation.Fetcher,
	extractor citation.Extractor,
	ledger citation.Ledger,
	clock citation.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		fetcher:   fetcher,
		extractor: extractor,
		ledger:    ledger,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run consumes identifiers until the queue closes or ctx ends, sending one
// Outcome per identifier to results.
func (w *Worker) Run(ctx context.Context, queue Queue, results chan<- citation.Outcome) {
	for {
		if ctx.Err() != nil {
			return
		}
		id, err := queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, memory.ErrClosed) {
				w.logger.Error("queue dequeue failed", zap.Error(err))
			}
			return
		}
		results <- w.Process(ctx, id)
	}
}

// Process resolves id. Ledger hits are returned as-is without a network
// request or a pause.
func (w *Worker) Process(ctx context.Context, id citation.Identifier) citation.Outcome {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if rs, ok := w.ledger.Lookup(id); ok {
		metrics.ObserveLookup(metrics.LookupLedger)
		w.logger.Debug("reusing stored result", zap.String("rs_id", id.String()))
		return citation.Outcome{ID: id, Result: &rs, FromLedger: true}
	}

	start := w.clock.Now()
	out := w.lookup(ctx, id)
	out.Duration = w.clock.Now().Sub(start)

	switch {
	case out.Failed():
		metrics.ObserveLookup(metrics.LookupFailed)
		w.logger.Warn("lookup failed",
			zap.String("rs_id", id.String()),
			zap.Int("attempts", out.Attempts),
			zap.Error(out.Err),
		)
	case out.Result.Empty():
		metrics.ObserveLookup(metrics.LookupEmpty)
	default:
		metrics.ObserveLookup(metrics.LookupResolved)
	}
	return out
}

func (w *Worker) lookup(ctx context.Context, id citation.Identifier) citation.Outcome {
	url, err := citation.LookupURL(w.cfg.BaseURL, id)
	if err != nil {
		return citation.Outcome{ID: id, Err: fmt.Errorf("%w: %w", citation.ErrFetchFailed, err)}
	}

	w.logger.Info("begin to crawl", zap.String("rs_id", id.String()), zap.String("url", url))
	body, err := w.fetcher.Fetch(ctx, url)
	attempts := attemptsOf(err)
	if err == nil {
		attempts = 1
	}
	w.pause(ctx)
	if err != nil {
		return citation.Outcome{ID: id, Attempts: attempts, Err: err}
	}

	records := w.extractor.Extract(body)
	metrics.AddRecords(len(records))
	w.logger.Info("items returned", zap.String("rs_id", id.String()), zap.Int("count", len(records)))
	return citation.Outcome{
		ID:       id,
		Result:   &citation.ResultSet{Records: records},
		Attempts: attempts,
	}
}

func (w *Worker) pause(ctx context.Context) {
	if w.cfg.Delay <= 0 {
		return
	}
	timer := time.NewTimer(w.cfg.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

type attemptCounter interface {
	error
	AttemptCount() int
}

func attemptsOf(err error) int {
	var ac attemptCounter
	if errors.As(err, &ac) {
		return ac.AttemptCount()
	}
	return 0
}
