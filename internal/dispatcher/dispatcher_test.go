package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/snp-citation-crawler/internal/citation"
	"github.com/JakeFAU/snp-citation-crawler/internal/extract"
	"github.com/JakeFAU/snp-citation-crawler/internal/ledger"
	"github.com/JakeFAU/snp-citation-crawler/internal/worker"
)

const testBase = "http://lookup.test/pubmed?Db=pubmed"

const citedPage = `<html><body><div id="maincontent"><div class="content">
<div class="one_setting"></div>
<div class="rprt_all"><div class="rprt">
<div class="cit">S</div><h1>T</h1><div class="auths">A</div>
<dl class="rprtid"><dd>111</dd> [PubMed]</dl>
</div></div>
</div></div></body></html>`

const emptyPage = `<html><body><div id="maincontent"><div class="content"></div></div></body></html>`

// pageFetcher serves pages keyed by the numeric id at the end of the URL.
type pageFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	failing  map[string]bool
	hold     time.Duration
	calls    []string
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *pageFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}

	num := url[strings.LastIndex(url, "=")+1:]
	f.mu.Lock()
	f.calls = append(f.calls, num)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.failing[num] {
		return nil, citation.ErrFetchFailed
	}
	if page, ok := f.pages[num]; ok {
		return []byte(page), nil
	}
	return []byte(emptyPage), nil
}

func (f *pageFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// recordingSink remembers batch sizes and can fail on demand.
type recordingSink struct {
	mu      sync.Mutex
	batches []int
	err     error
}

func (s *recordingSink) Drain(_ context.Context, batch []citation.Outcome) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, len(batch))
	if s.err != nil {
		return 0, s.err
	}
	return len(batch), nil
}

func newWorkers(n int, f citation.Fetcher, l citation.Ledger) []*worker.Worker {
	workers := make([]*worker.Worker, n)
	for i := range workers {
		workers[i] = worker.New(f, extract.New(nil), l, nil, worker.Config{BaseURL: testBase}, zap.NewNop())
	}
	return workers
}

func ids(raw ...string) []citation.Identifier {
	out := make([]citation.Identifier, len(raw))
	for i, s := range raw {
		out[i] = citation.Identifier(s)
	}
	return out
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	var store bytes.Buffer
	fetcher := &pageFetcher{pages: map[string]string{"1": citedPage}}
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var seen []citation.Identifier

	d := New(newWorkers(1, fetcher, nil), Options{
		Sink:      ledger.NewWriter(&store),
		Clock:     fixedClock{now: started},
		RunID:     "run-1",
		OnOutcome: func(o citation.Outcome) { seen = append(seen, o.ID) },
		Logger:    zap.NewNop(),
	})

	summary, err := d.Run(context.Background(), ids("rs1", "rs2"))
	require.NoError(t, err)

	assert.Equal(t,
		"rs1\t111 \tT\tA\tS\thttp://www.ncbi.nlm.nih.gov/pubmed/111\n"+
			"rs2\t-\t-\t-\t-\t-\n",
		store.String())
	assert.Equal(t, ids("rs1", "rs2"), seen)
	assert.Equal(t, citation.Summary{
		RunID:      "run-1",
		Backlog:    2,
		Submitted:  2,
		Resolved:   1,
		Empty:      1,
		Rows:       2,
		StartedAt:  started,
		FinishedAt: started,
	}, summary)
}

func TestRunIsIdempotentAcrossResumes(t *testing.T) {
	t.Parallel()

	var store bytes.Buffer
	fetcher := &pageFetcher{pages: map[string]string{"1": citedPage}}

	run := func(backlog []citation.Identifier) citation.Summary {
		t.Helper()
		stored, err := ledger.Load(strings.NewReader(store.String()))
		require.NoError(t, err)
		d := New(newWorkers(2, fetcher, stored), Options{Ledger: stored, Sink: ledger.NewWriter(&store)})
		summary, err := d.Run(context.Background(), backlog)
		require.NoError(t, err)
		return summary
	}

	first := run(ids("rs1", "rs2"))
	assert.Equal(t, 2, first.Submitted)
	snapshot := store.String()

	second := run(ids("rs1", "rs2"))
	assert.Equal(t, 0, second.Submitted)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, snapshot, store.String())
	assert.Len(t, fetcher.Calls(), 2)

	third := run(ids("rs1", "rs2", "rs3"))
	assert.Equal(t, 1, third.Submitted)
	assert.Equal(t, snapshot+"rs3\t-\t-\t-\t-\t-\n", store.String())
	assert.Len(t, fetcher.Calls(), 3)
}

func TestRunDeduplicatesBacklog(t *testing.T) {
	t.Parallel()

	var store bytes.Buffer
	fetcher := &pageFetcher{}
	d := New(newWorkers(2, fetcher, nil), Options{Sink: ledger.NewWriter(&store)})

	summary, err := d.Run(context.Background(), ids("rs5", "rs5", "rs6", "rs5"))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Submitted)
	assert.Equal(t, 2, summary.Skipped)
	assert.ElementsMatch(t, []string{"5", "6"}, fetcher.Calls())
}

func TestRunDoesNotPersistFailures(t *testing.T) {
	t.Parallel()

	var store bytes.Buffer
	fetcher := &pageFetcher{
		pages:   map[string]string{"1": citedPage},
		failing: map[string]bool{"2": true},
	}
	d := New(newWorkers(1, fetcher, nil), Options{Sink: ledger.NewWriter(&store)})

	summary, err := d.Run(context.Background(), ids("rs1", "rs2"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Rows)
	assert.NotContains(t, store.String(), "rs2")

	stored, err := ledger.Load(strings.NewReader(store.String()))
	require.NoError(t, err)
	_, done := stored.Lookup("rs2")
	assert.False(t, done, "failed identifiers stay pending for the next run")
}

func TestRunBoundsConcurrencyAndBatches(t *testing.T) {
	t.Parallel()

	fetcher := &pageFetcher{hold: 5 * time.Millisecond}
	sink := &recordingSink{}
	d := New(newWorkers(3, fetcher, nil), Options{Sink: sink})

	backlog := make([]citation.Identifier, 13)
	for i := range backlog {
		backlog[i] = citation.Identifier("rs" + strings.Repeat("1", i+1))
	}

	summary, err := d.Run(context.Background(), backlog)
	require.NoError(t, err)
	assert.Equal(t, 13, summary.Empty)
	assert.LessOrEqual(t, fetcher.maxSeen.Load(), int32(3))
	assert.Equal(t, []int{6, 6, 1}, sink.batches)
}

func TestRunMirrorFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	var store bytes.Buffer
	mirror := &recordingSink{err: errors.New("mirror down")}
	d := New(newWorkers(1, &pageFetcher{}, nil), Options{
		Sink:    ledger.NewWriter(&store),
		Mirrors: []citation.Sink{mirror},
	})

	_, err := d.Run(context.Background(), ids("rs1"))
	require.NoError(t, err)
	assert.Equal(t, "rs1\t-\t-\t-\t-\t-\n", store.String())
	assert.Equal(t, []int{1}, mirror.batches)
}

func TestRunPrimaryFailureIsFatal(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{err: errors.New("disk full")}
	d := New(newWorkers(1, &pageFetcher{}, nil), Options{Sink: sink})

	_, err := d.Run(context.Background(), ids("rs1", "rs2", "rs3"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, []int{2}, sink.batches)
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var store bytes.Buffer
	d := New(newWorkers(2, &pageFetcher{}, nil), Options{Sink: ledger.NewWriter(&store)})
	summary, err := d.Run(ctx, ids("rs1", "rs2", "rs3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, summary.Submitted)
	assert.Empty(t, store.String())
}

func TestRunRequiresSinkAndWorkers(t *testing.T) {
	t.Parallel()

	_, err := New(newWorkers(1, &pageFetcher{}, nil), Options{}).Run(context.Background(), nil)
	require.Error(t, err)

	_, err = New(nil, Options{Sink: &recordingSink{}}).Run(context.Background(), nil)
	require.Error(t, err)
}
