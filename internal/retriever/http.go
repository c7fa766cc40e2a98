package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"inquest/internal/metrics"
)

const maxContentChars = 3000

// HTTPClient implements Retriever against a SerpAPI-compatible search
// endpoint plus plain HTTP for deep-content fetches.
type HTTPClient struct {
	searchURL string
	apiKey    string
	http      *http.Client
	limiter   *rate.Limiter
	retry     RetryPolicy
	logger    *zap.Logger
}

// NewHTTPClient builds the retrieval client. rps/burst bound the request
// rate to the downstream backends; retry is the shared policy from config.
func NewHTTPClient(searchURL, apiKey string, rps float64, burst int, retry RetryPolicy, logger *zap.Logger) *HTTPClient {
	if rps <= 0 {
		rps = 2
	}
	if burst < 1 {
		burst = 1
	}
	return &HTTPClient{
		searchURL: searchURL,
		apiKey:    apiKey,
		// No client-level timeout: per-call deadlines come from ctx so the
		// tool budget stays the single source of truth.
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		retry:   retry,
		logger:  logger,
	}
}

type serpResponse struct {
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Date    string `json:"date"`
	} `json:"organic_results"`
}

// Search queries the search backend. Results with invalid or placeholder
// URLs are filtered out before they are returned.
func (c *HTTPClient) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if maxResults < 1 {
		maxResults = 10
	}
	start := time.Now()

	var results []SearchResult
	err := c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoffPermanent(err)
		}
		q := url.Values{}
		q.Set("q", query)
		q.Set("num", strconv.Itoa(maxResults))
		q.Set("engine", "google")
		if c.apiKey != "" {
			q.Set("api_key", c.apiKey)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL+"?"+q.Encode(), nil)
		if err != nil {
			return backoffPermanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("search backend status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoffPermanent(fmt.Errorf("search backend status %d", resp.StatusCode))
		}

		var out serpResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode search response: %w", err)
		}

		results = results[:0]
		filtered := 0
		for _, item := range out.OrganicResults {
			if len(results) >= maxResults {
				break
			}
			if !ValidSourceURL(item.Link) {
				filtered++
				continue
			}
			results = append(results, SearchResult{
				Title:     truncate(item.Title, 200),
				URL:       CleanURL(item.Link),
				Snippet:   truncate(item.Snippet, 500),
				Published: parseResultDate(item.Date),
			})
		}
		if filtered > 0 {
			metrics.SourcesFiltered.Add(float64(filtered))
		}
		return nil
	})

	metrics.RetrievalDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RetrievalCalls.WithLabelValues("search", "error").Inc()
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	metrics.RetrievalCalls.WithLabelValues("search", "ok").Inc()
	return results, nil
}

// FetchContent retrieves a page and reduces it to readable text. A non-OK
// status or unparseable body counts as a failed fetch.
func (c *HTTPClient) FetchContent(ctx context.Context, pageURL string) (Content, error) {
	start := time.Now()

	var content Content
	err := c.retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoffPermanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return backoffPermanent(err)
		}
		req.Header.Set("User-Agent", "inquest-research/1.0")
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("fetch status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoffPermanent(fmt.Errorf("fetch status %d", resp.StatusCode))
		}

		text, err := extractReadableText(resp)
		if err != nil {
			return backoffPermanent(err)
		}
		content = Content{Text: text}
		return nil
	})

	metrics.RetrievalDuration.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RetrievalCalls.WithLabelValues("fetch", "error").Inc()
		return Content{}, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	metrics.RetrievalCalls.WithLabelValues("fetch", "ok").Inc()
	return content, nil
}

// extractReadableText pulls paragraph and heading text out of an HTML
// page, skipping navigation and script noise.
func extractReadableText(resp *http.Response) (string, error) {
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse HTML: %w", err)
	}
	doc.Find("script, style, nav, header, footer, aside").Remove()

	var b strings.Builder
	doc.Find("h1, h2, h3, p, li").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return true
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(text)
		return b.Len() < maxContentChars
	})

	text := b.String()
	if len(text) > maxContentChars {
		text = text[:maxContentChars]
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no readable text")
	}
	return text, nil
}

// Date formats search backends commonly report.
var resultDateLayouts = []string{
	"Jan 2, 2006",
	"2006-01-02",
	time.RFC3339,
}

func parseResultDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range resultDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary so the cut never splits a code point.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
