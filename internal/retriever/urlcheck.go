package retriever

import (
	"net/url"
	"regexp"
	"strings"
)

// Sources with fabricated or incomplete URLs must never reach a result:
// search-backed models are known to emit template placeholders and bare
// directory paths in place of real links.

var (
	regexGroupPattern = regexp.MustCompile(`\$\d+`)
	pmcIDPattern      = regexp.MustCompile(`(?i)/PMC\d+`)
	pubmedIDPattern   = regexp.MustCompile(`/\d+`)
	doiPattern        = regexp.MustCompile(`10\.\d+/`)
	arxivIDPattern    = regexp.MustCompile(`\d{4}\.\d+`)
)

var placeholderFragments = []string{
	"{id}", "{slug}", "{title}", "{date}", "{year}", "{month}",
	"{{", "}}",
	"[id]", "[slug]", "[article]",
	"<id>", "<slug>",
	"%s", "%d",
	":id", ":slug",
}

// Paths that end in these segments point at listings, not documents.
var incompleteEndings = []string{
	"/articles", "/article", "/papers", "/paper",
	"/publications", "/publication",
	"/doi", "/abstract", "/pmc", "/pubmed",
	"/content", "/view", "/detail", "/item",
}

var directoryNames = map[string]bool{
	"search": true, "results": true, "list": true,
	"index": true, "home": true, "articles": true, "papers": true,
}

// ValidSourceURL reports whether url points at a concrete, fetchable
// document rather than a placeholder, template or directory listing.
func ValidSourceURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return false
	}

	lower := strings.ToLower(raw)
	for _, frag := range placeholderFragments {
		if strings.Contains(lower, frag) {
			return false
		}
	}
	if regexGroupPattern.MatchString(raw) {
		return false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Host == "" || !strings.Contains(u.Host, ".") {
		return false
	}

	path := strings.TrimRight(u.Path, "/")
	for _, ending := range incompleteEndings {
		if strings.HasSuffix(path, ending) {
			return false
		}
	}

	host := strings.ToLower(u.Host)
	switch {
	case strings.Contains(host, "pmc.ncbi.nlm.nih.gov"):
		if !pmcIDPattern.MatchString(path) {
			return false
		}
	case strings.Contains(host, "pubmed.ncbi.nlm.nih.gov"):
		if !pubmedIDPattern.MatchString(path) {
			return false
		}
	case strings.Contains(host, "doi.org"):
		if !doiPattern.MatchString(raw) {
			return false
		}
	case strings.Contains(host, "arxiv.org"):
		if !arxivIDPattern.MatchString(path) {
			return false
		}
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if last := parts[len(parts)-1]; directoryNames[strings.ToLower(last)] {
		return false
	}

	return true
}

var trackingParams = map[string]bool{"fbclid": true, "gclid": true}

// CleanURL strips tracking query parameters: utm_* plus the click IDs.
// Anything else stays; parameters like "source" or "ref" can be
// load-bearing on some sites.
func CleanURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	q := u.Query()
	for key := range q {
		kl := strings.ToLower(key)
		if trackingParams[kl] || strings.HasPrefix(kl, "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
