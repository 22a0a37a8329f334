// Package dispatcher fans a backlog of identifiers out to a pool of workers
// and drains their outcomes to the result sinks in batches.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/snp-citation-crawler/internal/backlog"
	"github.com/JakeFAU/snp-citation-crawler/internal/citation"
	"github.com/JakeFAU/snp-citation-crawler/internal/clock/system"
	"github.com/JakeFAU/snp-citation-crawler/internal/metrics"
	"github.com/JakeFAU/snp-citation-crawler/internal/queue/memory"
	"github.com/JakeFAU/snp-citation-crawler/internal/worker"
)

// DefaultDrainMultiplier sets the batch size to this many outcomes per worker.
const DefaultDrainMultiplier = 2

// Options wires the dispatcher to its collaborators. Sink is required.
type Options struct {
	Ledger citation.Ledger
	// Sink is the authoritative store; a write error aborts the run.
	Sink citation.Sink
	// Mirrors receive the same batches after Sink. Their errors are logged.
	Mirrors []citation.Sink
	Clock   citation.Clock
	// RunID tags the Summary and log lines of this run.
	RunID           string
	DrainMultiplier int
	// OnOutcome sees every outcome in arrival order.
	OnOutcome func(citation.Outcome)
	Logger    *zap.Logger
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	workers []*worker.Worker
	opts    Options
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(workers []*worker.Worker, opts Options) *Dispatcher {
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.DrainMultiplier <= 0 {
		opts.DrainMultiplier = DefaultDrainMultiplier
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		workers: workers,
		opts:    opts,
		logger:  logger,
	}
}

// Run processes ids and blocks until every submitted identifier has an
// outcome or ctx ends. Completed outcomes are always drained before Run
// returns. A canceled run returns the partial Summary with ctx's error.
func (d *Dispatcher) Run(ctx context.Context, ids []citation.Identifier) (citation.Summary, error) {
	if d.opts.Sink == nil {
		return citation.Summary{}, errors.New("dispatcher: no sink configured")
	}
	if len(d.workers) == 0 {
		return citation.Summary{}, errors.New("dispatcher: no workers configured")
	}

	summary := citation.Summary{
		RunID:     d.opts.RunID,
		Backlog:   len(ids),
		StartedAt: d.opts.Clock.Now(),
	}
	logger := d.logger.With(zap.String("run_id", summary.RunID))

	pending, skipped := backlog.Pending(ids, d.opts.Ledger)
	summary.Skipped = skipped
	summary.Submitted = len(pending)
	logger.Info("starting crawl",
		zap.Int("backlog", len(ids)),
		zap.Int("skipped", skipped),
		zap.Int("pending", len(pending)),
		zap.Int("workers", len(d.workers)),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := memory.NewQueue(len(d.workers))
	results := make(chan citation.Outcome, len(d.workers))

	var g errgroup.Group
	g.Go(func() error {
		defer queue.Close()
		for _, id := range pending {
			if err := queue.Enqueue(runCtx, id); err != nil {
				return fmt.Errorf("submit %s: %w", id, err)
			}
		}
		return nil
	})
	for _, w := range d.workers {
		g.Go(func() error {
			w.Run(runCtx, queue, results)
			return nil
		})
	}
	go func() {
		if err := g.Wait(); err != nil {
			logger.Debug("stopped submitting", zap.Error(err))
		}
		close(results)
	}()

	drainEvery := d.opts.DrainMultiplier * len(d.workers)
	batch := make([]citation.Outcome, 0, drainEvery)
	var writeErr error

	for out := range results {
		if writeErr != nil {
			continue
		}
		tally(&summary, out)
		if d.opts.OnOutcome != nil {
			d.opts.OnOutcome(out)
		}
		batch = append(batch, out)
		if len(batch) < drainEvery {
			continue
		}
		if err := d.drain(runCtx, logger, batch, &summary); err != nil {
			writeErr = err
			cancel()
		}
		batch = batch[:0]
	}

	if writeErr == nil && len(batch) > 0 {
		writeErr = d.drain(context.WithoutCancel(ctx), logger, batch, &summary)
	}
	summary.FinishedAt = d.opts.Clock.Now()

	if writeErr != nil {
		return summary, writeErr
	}
	logger.Info("crawl finished",
		zap.Int("resolved", summary.Resolved),
		zap.Int("empty", summary.Empty),
		zap.Int("failed", summary.Failed),
		zap.Int("rows", summary.Rows),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("crawl interrupted: %w", err)
	}
	return summary, nil
}

func (d *Dispatcher) drain(
	ctx context.Context,
	logger *zap.Logger,
	batch []citation.Outcome,
	summary *citation.Summary,
) error {
	n, err := d.opts.Sink.Drain(ctx, batch)
	summary.Rows += n
	metrics.AddRowsWritten(n)
	if err != nil {
		return fmt.Errorf("drain results: %w", err)
	}
	for _, m := range d.opts.Mirrors {
		if _, err := m.Drain(ctx, batch); err != nil {
			logger.Warn("mirror drain failed", zap.Error(err))
		}
	}
	done := summary.Resolved + summary.Empty + summary.Failed
	logger.Info("batch drained",
		zap.Int("rows", n),
		zap.Int("completed", done),
		zap.Int("remaining", summary.Submitted-done),
	)
	return nil
}

func tally(s *citation.Summary, out citation.Outcome) {
	switch {
	case out.Failed():
		s.Failed++
	case out.Result.Empty():
		s.Empty++
	default:
		s.Resolved++
	}
}
