// Package wiki crawls a MediaWiki instance and feeds its pages to the
// ingest engine.
package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fieldwise/kura/internal/models"
)

// PathPrefix marks chunk sources that came from the wiki rather than
// the filesystem.
const PathPrefix = "wiki://"

// Ingester is the subset of the ingest engine the crawler needs.
type Ingester interface {
	Reingest(ctx context.Context, src models.SourceDoc) (int, error)
}

// Crawler walks the allpages listing of a MediaWiki API and reingests
// every page's plain-text extract.
type Crawler struct {
	apiURL    string
	pageLimit int
	client    *http.Client
	engine    Ingester
	logger    *zap.Logger
}

// Option configures a Crawler.
type Option func(*Crawler)

func WithHTTPClient(c *http.Client) Option {
	return func(cr *Crawler) { cr.client = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(cr *Crawler) { cr.logger = l }
}

// NewCrawler builds a crawler against apiURL (the api.php endpoint).
// pageLimit caps how many titles each listing request asks for.
func NewCrawler(apiURL string, pageLimit int, engine Ingester, opts ...Option) *Crawler {
	if pageLimit <= 0 {
		pageLimit = 50
	}
	c := &Crawler{
		apiURL:    strings.TrimRight(apiURL, "/"),
		pageLimit: pageLimit,
		client:    &http.Client{Timeout: 60 * time.Second},
		engine:    engine,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats summarizes one crawl run.
type Stats struct {
	Pages   int
	Chunks  int
	Skipped int
}

type allPagesResponse struct {
	Continue struct {
		APContinue string `json:"apcontinue"`
	} `json:"continue"`
	Query struct {
		AllPages []struct {
			PageID int64  `json:"pageid"`
			Title  string `json:"title"`
		} `json:"allpages"`
	} `json:"query"`
}

type extractResponse struct {
	Query struct {
		Pages map[string]struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
		} `json:"pages"`
	} `json:"query"`
}

// Crawl lists every page and reingests each one. Pages whose extract is
// empty are skipped. A page-level failure is logged and skipped; listing
// failures abort the crawl.
func (c *Crawler) Crawl(ctx context.Context) (Stats, error) {
	var stats Stats
	cont := ""
	for {
		titles, next, err := c.listPages(ctx, cont)
		if err != nil {
			return stats, fmt.Errorf("list pages: %w", err)
		}
		for _, title := range titles {
			text, err := c.pageText(ctx, title)
			if err != nil {
				c.logger.Warn("wiki page fetch failed", zap.String("title", title), zap.Error(err))
				stats.Skipped++
				continue
			}
			if strings.TrimSpace(text) == "" {
				stats.Skipped++
				continue
			}
			n, err := c.engine.Reingest(ctx, models.SourceDoc{
				FullPath:    PathPrefix + title,
				DisplayName: title,
				Text:        text,
				RepType:     models.RepTypeWiki,
			})
			if err != nil {
				c.logger.Warn("wiki page ingest failed", zap.String("title", title), zap.Error(err))
				stats.Skipped++
				continue
			}
			stats.Pages++
			stats.Chunks += n
		}
		if next == "" {
			return stats, nil
		}
		cont = next
	}
}

// listPages fetches one allpages batch. cont is the apcontinue cursor
// from the previous batch, empty for the first.
func (c *Crawler) listPages(ctx context.Context, cont string) ([]string, string, error) {
	params := url.Values{
		"action":  {"query"},
		"list":    {"allpages"},
		"aplimit": {fmt.Sprintf("%d", c.pageLimit)},
		"format":  {"json"},
	}
	if cont != "" {
		params.Set("apcontinue", cont)
	}
	var resp allPagesResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, "", err
	}
	titles := make([]string, 0, len(resp.Query.AllPages))
	for _, p := range resp.Query.AllPages {
		titles = append(titles, p.Title)
	}
	return titles, resp.Continue.APContinue, nil
}

// pageText fetches the plain-text extract of one page.
func (c *Crawler) pageText(ctx context.Context, title string) (string, error) {
	params := url.Values{
		"action":      {"query"},
		"prop":        {"extracts"},
		"explaintext": {"1"},
		"titles":      {title},
		"format":      {"json"},
	}
	var resp extractResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return "", err
	}
	for _, page := range resp.Query.Pages {
		return page.Extract, nil
	}
	return "", fmt.Errorf("page %q not in response", title)
}

func (c *Crawler) get(ctx context.Context, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("wiki API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode wiki response: %w", err)
	}
	return nil
}

// TitleFromPath recovers the page title from a wiki full_path, or ""
// when the path is not a wiki source.
func TitleFromPath(fullPath string) string {
	if !strings.HasPrefix(fullPath, PathPrefix) {
		return ""
	}
	return strings.TrimPrefix(fullPath, PathPrefix)
}
