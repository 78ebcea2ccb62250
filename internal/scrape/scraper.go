package scrape

import (
	"context"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

// Result holds a fetched page with the scraper that produced it.
type Result struct {
	Page   model.Page
	Source string // e.g. "jina", "local_http"
}

// Scraper fetches a single URL and returns its readable content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
