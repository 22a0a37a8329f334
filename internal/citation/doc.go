// Package citation defines the core types shared across the citation crawler:
// variant identifiers, citation records, per-identifier result sets, the
// ledger of completed work, and the interfaces that connect the fetcher,
// extractor, worker pool and result sinks.
package citation
