package citation

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultLookupURL is the NCBI link page listing PubMed articles that cite a
// dbSNP entry. IdsFromResult is appended by LookupURL.
const DefaultLookupURL = "http://www.ncbi.nlm.nih.gov/pubmed?Db=pubmed" +
	"&DbFrom=snp&Cmd=Link" +
	"&LinkName=snp_pubmed_cited" +
	"&LinkReadableName=Pubmed+(SNP+Cited)"

// SiteRoot prefixes relative links found on lookup pages.
const SiteRoot = "http://www.ncbi.nlm.nih.gov/"

// NumericID strips the "rs" prefix the lookup endpoint does not accept.
func NumericID(id Identifier) string {
	return strings.TrimPrefix(strings.TrimSpace(string(id)), "rs")
}

// LookupURL builds the lookup URL for id on top of base.
func LookupURL(base string, id Identifier) (string, error) {
	num := NumericID(id)
	if num == "" {
		return "", fmt.Errorf("identifier %q has no numeric part", id)
	}
	if base == "" {
		base = DefaultLookupURL
	}
	sep := "&"
	if !strings.Contains(base, "?") {
		sep = "?"
	}
	return base + sep + "IdsFromResult=" + url.QueryEscape(num), nil
}

// PubMedURL is the canonical article link for a PubMed id.
func PubMedURL(pmid string) string {
	return SiteRoot + "pubmed/" + strings.TrimSpace(pmid)
}

// ResolveLink joins a page-relative href onto SiteRoot. Absolute links are
// returned unchanged.
func ResolveLink(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return SiteRoot + strings.TrimLeft(href, "/")
}
