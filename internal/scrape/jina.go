package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/resilience"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/pkg/jina"
)

// JinaAdapter wraps a Jina Reader client as a Scraper with a circuit breaker.
type JinaAdapter struct {
	client  jina.Client
	breaker *resilience.Breaker
}

// NewJinaAdapter creates a JinaAdapter from a Jina client.
// 3 consecutive failures within 30s open the circuit for 60s, causing
// immediate fallback to the next scraper.
func NewJinaAdapter(client jina.Client) *JinaAdapter {
	return &JinaAdapter{
		client:  client,
		breaker: resilience.NewBreaker("jina_reader", 3, 30*time.Second, 60*time.Second),
	}
}

func (j *JinaAdapter) Name() string { return "jina" }

// Supports returns true unless the circuit breaker is open.
func (j *JinaAdapter) Supports(_ string) bool {
	return !j.breaker.Open()
}

// Scrape fetches a URL via Jina Reader and validates the response.
func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	if err := j.breaker.Allow(); err != nil {
		return nil, eris.Wrap(err, "jina")
	}

	resp, err := j.client.Read(ctx, targetURL)
	if err != nil {
		// A cancelled caller says nothing about upstream health.
		if ctx.Err() == nil {
			j.breaker.Record(err)
		}
		return nil, err
	}

	if needsFallback(resp) {
		err := eris.New("jina: response needs fallback")
		j.breaker.Record(err)
		return nil, err
	}

	j.breaker.Record(nil)
	pageURL := resp.Data.URL
	if pageURL == "" {
		pageURL = targetURL
	}
	return &Result{
		Page: model.Page{
			URL:        pageURL,
			Title:      resp.Data.Title,
			Markdown:   resp.Data.Content,
			StatusCode: 200,
		},
		Source: "jina",
	}, nil
}

var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"404 not found",
	"page not found",
	"just a moment",
	"attention required",
}

// needsFallback reports whether a Jina response is blocked, empty, or a
// challenge page that another scraper should retry.
func needsFallback(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}
	if resp.Code != 0 && resp.Code != 200 {
		return true
	}

	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < 100 {
		return true
	}

	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) && len(content) < 1000 {
			return true
		}
	}
	return false
}
