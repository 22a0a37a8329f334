// Package ledger owns the tab-separated output store: it rebuilds the ledger
// of completed identifiers at startup and appends newly resolved outcomes as
// a run progresses.
//
// Each row carries six columns: identifier, report id, title, authors,
// source and URL. The identifier is written only on the first row of its
// group; continuation rows leave it blank. An identifier with no citations
// is a single row whose five record columns hold the "-" placeholder.
package ledger

import (
	"strings"

	"github.com/JakeFAU/snp-citation-crawler/internal/citation"
)

// Columns is the number of tab-separated fields per row.
const Columns = 6

// Placeholder fills every record column of a "no citations" row.
const Placeholder = "-"

// Header is the optional first line of the store.
const Header = "rs_num\treport id\ttitle\tauthor\tsource\tncbi url"

var fieldSanitizer = strings.NewReplacer(
	"\r\n", " ",
	"\t", " ",
	"\n", " ",
	"\r", " ",
)

func sanitize(s string) string {
	return fieldSanitizer.Replace(s)
}

func recordFields(r citation.Record) []string {
	return []string{
		sanitize(r.ReportID),
		sanitize(r.Title),
		sanitize(r.Authors),
		sanitize(r.Source),
		sanitize(r.URL),
	}
}

func placeholderFields() []string {
	return []string{Placeholder, Placeholder, Placeholder, Placeholder, Placeholder}
}

func isPlaceholder(fields []string) bool {
	for _, f := range fields {
		if f != Placeholder {
			return false
		}
	}
	return len(fields) > 0
}

func fieldsToRecord(fields []string) citation.Record {
	return citation.Record{
		ReportID: fields[0],
		Title:    fields[1],
		Authors:  fields[2],
		Source:   fields[3],
		URL:      fields[4],
	}
}

// appendRows renders the rows of one outcome onto buf.
func appendRows(buf []byte, id citation.Identifier, rs citation.ResultSet) ([]byte, int) {
	if rs.Empty() {
		return appendRow(buf, string(id), placeholderFields()), 1
	}
	for i, rec := range rs.Records {
		first := ""
		if i == 0 {
			first = string(id)
		}
		buf = appendRow(buf, first, recordFields(rec))
	}
	return buf, len(rs.Records)
}

func appendRow(buf []byte, first string, rest []string) []byte {
	buf = append(buf, first...)
	for _, f := range rest {
		buf = append(buf, '\t')
		buf = append(buf, f...)
	}
	return append(buf, '\n')
}
