package citation

import (
	"context"
	"time"
)

// Fetcher retrieves the raw markup behind a URL. Implementations absorb
// transient failures and return an error wrapping ErrFetchFailed once they
// give up.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor turns fetched markup into zero or more records.
type Extractor interface {
	Extract(markup []byte) []Record
}

// Sink persists a batch of completed outcomes. Failed outcomes in the batch
// must be ignored.
type Sink interface {
	Drain(ctx context.Context, batch []Outcome) (int, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
