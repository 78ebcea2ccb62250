package scrape

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

const maxLocalBody = 2 << 20

// LocalScraper fetches HTML directly, detects anti-bot blocks, and reduces
// the page to readable text with go-readability. Requests to the same host
// are rate limited.
type LocalScraper struct {
	client    *http.Client
	userAgent string
	perSec    rate.Limit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// LocalOption configures a LocalScraper.
type LocalOption func(*LocalScraper)

// WithHostRate sets the per-host request rate. Zero or less disables limiting.
func WithHostRate(perSec float64) LocalOption {
	return func(l *LocalScraper) {
		if perSec <= 0 {
			l.perSec = rate.Inf
			return
		}
		l.perSec = rate.Limit(perSec)
	}
}

// WithLocalHTTPClient sets a custom HTTP client.
func WithLocalHTTPClient(hc *http.Client) LocalOption {
	return func(l *LocalScraper) {
		l.client = hc
	}
}

// NewLocalScraper creates a LocalScraper with sensible defaults.
func NewLocalScraper(opts ...LocalOption) *LocalScraper {
	l := &LocalScraper{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent: "Mozilla/5.0 (compatible; DealForgeBot/1.0)",
		perSec:    2,
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *LocalScraper) Name() string { return "local_http" }

// Supports accepts any http(s) URL.
func (l *LocalScraper) Supports(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (l *LocalScraper) limiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.perSec, 1)
		l.limiters[host] = lim
	}
	return lim
}

// Scrape fetches a URL, rejects blocked pages and returns readable text.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: parse url")
	}

	if err := l.limiter(strings.ToLower(parsed.Host)).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "local_http: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLocalBody))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("local_http: blocked (%s)", blockType)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("local_http: status %d", resp.StatusCode)
	}
	if len(bytes.TrimSpace(body)) < 100 {
		return nil, eris.New("local_http: empty page")
	}

	title, text := readable(body, resp.Request.URL)
	if len(text) < 50 {
		return nil, eris.New("local_http: no readable content")
	}

	return &Result{
		Page: model.Page{
			URL:        targetURL,
			Title:      title,
			Markdown:   text,
			StatusCode: resp.StatusCode,
		},
		Source: "local_http",
	}, nil
}

// readable extracts the main article with go-readability, falling back to
// whole-document text when the article is missing or too thin.
func readable(body []byte, pageURL *url.URL) (string, string) {
	fallbackTitle := extractTitle(body)
	full := htmlToText(string(body))

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return fallbackTitle, full
	}

	text := htmlToText(article.Content)
	if len(text) < len(full)/4 || len(text) < 200 {
		text = full
	}
	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = fallbackTitle
	}
	return title, text
}

var (
	titleRe    = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	dropRe     = regexp.MustCompile(`(?is)<(script|style|noscript|svg|nav|footer)[^>]*>.*?</(script|style|noscript|svg|nav|footer)>`)
	headingRe  = regexp.MustCompile(`(?i)<h([1-6])[^>]*>`)
	listItemRe = regexp.MustCompile(`(?i)<li[^>]*>`)
	blockEndRe = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|section|article|ul|ol|table)>|<br\s*/?>`)
	tagRe      = regexp.MustCompile(`<[^>]+>`)
	spaceRe    = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankRe    = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// extractTitle pulls the <title> from HTML.
func extractTitle(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if len(m) > 1 {
		return strings.TrimSpace(htmlEntities.Replace(string(m[1])))
	}
	return ""
}

var htmlEntities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&#x27;", "'",
	"&nbsp;", " ",
	"&mdash;", "-",
	"&ndash;", "-",
)

// htmlToText converts HTML to line-oriented text, keeping headings as
// "#" lines and list items as "- " bullets so extractors can see structure.
func htmlToText(html string) string {
	html = dropRe.ReplaceAllString(html, "")
	html = headingRe.ReplaceAllStringFunc(html, func(m string) string {
		level := headingRe.FindStringSubmatch(m)[1]
		return "\n" + strings.Repeat("#", int(level[0]-'0')) + " "
	})
	html = listItemRe.ReplaceAllString(html, "\n- ")
	html = blockEndRe.ReplaceAllString(html, "\n")
	html = tagRe.ReplaceAllString(html, " ")
	html = htmlEntities.Replace(html)

	lines := strings.Split(html, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	out = blankRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
