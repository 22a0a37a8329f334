// Package extract classifies NCBI lookup pages and pulls citation records out
// of them using goquery.
package extract

import (
	"bytes"
	"regexp"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/snp-citation-crawler/internal/citation"
)

// PageKind is the markup shape returned by the lookup endpoint.
type PageKind int

// Page shapes. A lookup that matches a single article renders the article
// itself; anything else renders a result list.
const (
	PageList PageKind = iota
	PageSingle
)

// String returns a log-friendly name.
func (k PageKind) String() string {
	if k == PageSingle {
		return "single"
	}
	return "list"
}

// Selectors used on both page shapes.
const (
	selMainContent = "div#maincontent"
	selContent     = "div.content"
	selOneSetting  = "div.one_setting"
	selReportAll   = "div.rprt_all"
	selReport      = "div.rprt"
	selResult      = "div.rslt"
	selReportID    = "dl.rprtid"
)

// annotationTag matches single-word bracketed tags such as "[PubMed]".
var annotationTag = regexp.MustCompile(`\[[\p{L}\p{N}_]+\]`)

// Extractor implements citation.Extractor for NCBI "SNP cited" pages.
type Extractor struct {
	logger *zap.Logger
}

// New builds an Extractor. A nil logger disables debug output.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract returns the records found in markup. Malformed pages and blocks
// degrade to fewer records; it never fails.
func (e *Extractor) Extract(markup []byte) []citation.Record {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		e.logger.Debug("unparseable markup", zap.Error(err))
		return nil
	}
	kind := classify(doc)
	var records []citation.Record
	if kind == PageSingle {
		if rec, ok := singleRecord(doc); ok {
			records = append(records, rec)
		}
	} else {
		records = e.listRecords(doc)
	}
	e.logger.Debug("page extracted",
		zap.Stringer("kind", kind),
		zap.Int("records", len(records)),
	)
	return records
}

// Classify reports the shape of markup without extracting anything.
func Classify(markup []byte) PageKind {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return PageList
	}
	return classify(doc)
}

func classify(doc *goquery.Document) PageKind {
	marker := doc.Find(selMainContent).First().
		Find(selContent).First().
		Find(selOneSetting)
	if marker.Length() > 0 {
		return PageSingle
	}
	return PageList
}

func singleRecord(doc *goquery.Document) (citation.Record, bool) {
	block := doc.Find(selMainContent).First().Find(selReportAll).First()
	if block.Length() == 0 {
		return citation.Record{}, false
	}
	reportID := block.Find(selReportID).First()
	pmid := reportID.Find("dd").First()
	title := block.Find("h1").First()
	authors := block.Find("div.auths").First()
	source := block.Find("div.cit").First()
	if !present(reportID, pmid, title, authors, source) {
		return citation.Record{}, false
	}
	return citation.Record{
		ReportID: StripAnnotations(reportID.Text()),
		Title:    title.Text(),
		Authors:  authors.Text(),
		Source:   source.Text(),
		URL:      citation.PubMedURL(pmid.Text()),
	}, true
}

func (e *Extractor) listRecords(doc *goquery.Document) []citation.Record {
	var records []citation.Record
	doc.Find(selReport).Each(func(i int, block *goquery.Selection) {
		rec, ok := listRecord(block)
		if !ok {
			e.logger.Debug("skipping incomplete report block", zap.Int("index", i))
			return
		}
		records = append(records, rec)
	})
	return records
}

func listRecord(block *goquery.Selection) (citation.Record, bool) {
	result := block.Find(selResult).First()
	if result.Length() == 0 {
		return citation.Record{}, false
	}
	link := result.Find("p.title").First().Find("a").First()
	href, hasHref := link.Attr("href")
	supp := result.Find("div.supp").First()
	authors := supp.Find("p.desc").First()
	source := supp.Find("p.details").First()
	reportID := result.Find(selReportID).First()
	if !hasHref || !present(link, authors, source, reportID) {
		return citation.Record{}, false
	}
	return citation.Record{
		ReportID: StripAnnotations(reportID.Text()),
		Title:    link.Text(),
		Authors:  authors.Text(),
		Source:   source.Text(),
		URL:      citation.ResolveLink(href),
	}, true
}

// StripAnnotations removes bracketed tags and keeps the rest of the text,
// surrounding whitespace included.
func StripAnnotations(s string) string {
	return annotationTag.ReplaceAllString(s, "")
}

func present(sels ...*goquery.Selection) bool {
	for _, s := range sels {
		if s.Length() == 0 {
			return false
		}
	}
	return true
}
