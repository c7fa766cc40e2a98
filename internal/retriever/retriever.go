// Package retriever provides the network search and deep-content fetch
// capability used by research workers. The concrete client honors
// caller-supplied context deadlines, reports per-call success for
// confidence accounting, and funnels every call through one shared retry
// policy and rate limiter.
package retriever

import (
	"context"
	"time"
)

// SearchResult is one hit from the search backend.
type SearchResult struct {
	Title     string
	URL       string
	Snippet   string
	Published time.Time // zero when the backend reports no date
}

// Content is the outcome of a deep-content fetch.
type Content struct {
	Text string
}

// Retriever is the search/fetch black box. Both methods must return
// promptly once ctx is done.
type Retriever interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
	FetchContent(ctx context.Context, url string) (Content, error)
}
