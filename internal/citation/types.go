package citation

import (
	"errors"
	"time"
)

// ErrFetchFailed marks a lookup whose retry budget was exhausted or that hit a
// non-retryable failure. Outcomes carrying it are never persisted.
var ErrFetchFailed = errors.New("fetch failed")

// Identifier is a variant reference token such as "rs123456".
type Identifier string

// String implements fmt.Stringer.
func (id Identifier) String() string {
	return string(id)
}

// Record is one citation entry extracted from a lookup page.
type Record struct {
	ReportID string `json:"report_id"`
	Title    string `json:"title"`
	Authors  string `json:"authors"`
	Source   string `json:"source"`
	URL      string `json:"url"`
}

// ResultSet is the resolved outcome for one Identifier. An empty Records
// slice means the lookup succeeded and the site lists no citations.
type ResultSet struct {
	Records []Record `json:"records"`
}

// Empty reports whether the set is the explicit "no citations" marker.
func (r ResultSet) Empty() bool {
	return len(r.Records) == 0
}

// Ledger maps identifiers already present in the output store to their
// result sets. It is built once per run and only read afterwards.
type Ledger map[Identifier]ResultSet

// Lookup returns the stored ResultSet for id, if any.
func (l Ledger) Lookup(id Identifier) (ResultSet, bool) {
	if l == nil {
		return ResultSet{}, false
	}
	rs, ok := l[id]
	return rs, ok
}

// Outcome is what a worker hands back to the dispatcher for one Identifier.
// A nil Result means the lookup failed terminally; Err then explains why.
type Outcome struct {
	ID         Identifier
	Result     *ResultSet
	Attempts   int
	FromLedger bool
	Duration   time.Duration
	Err        error
}

// Failed reports whether the outcome carries no ResultSet.
func (o Outcome) Failed() bool {
	return o.Result == nil
}

// Summary describes one completed run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Backlog    int       `json:"backlog"`
	Skipped    int       `json:"skipped"`
	Submitted  int       `json:"submitted"`
	Resolved   int       `json:"resolved"`
	Empty      int       `json:"empty"`
	Failed     int       `json:"failed"`
	Rows       int       `json:"rows"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
