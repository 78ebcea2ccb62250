package scrape

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

// mockScraper implements Scraper for testing.
type mockScraper struct {
	name     string
	supports bool
	result   *Result
	err      error
	calls    int
}

func (m *mockScraper) Name() string           { return m.name }
func (m *mockScraper) Supports(_ string) bool { return m.supports }
func (m *mockScraper) Scrape(_ context.Context, _ string) (*Result, error) {
	m.calls++
	return m.result, m.err
}

func TestChain_Scrape_FirstSuccess(t *testing.T) {
	matcher := NewPathMatcher([]string{"/excluded/*"})
	s1 := &mockScraper{
		name: "primary", supports: true,
		result: &Result{
			Page:   model.Page{URL: "https://acme.io/pricing", Title: "Pricing", Markdown: "content"},
			Source: "primary",
		},
	}
	s2 := &mockScraper{name: "fallback", supports: true}

	chain := NewChain(matcher, s1, s2)
	result, err := chain.Scrape(context.Background(), "https://acme.io/pricing")

	require.NoError(t, err)
	assert.Equal(t, "primary", result.Source)
	assert.Equal(t, 0, s2.calls)
}

func TestChain_Scrape_FallbackOnError(t *testing.T) {
	s1 := &mockScraper{name: "primary", supports: true, err: errors.New("failed")}
	s2 := &mockScraper{
		name: "fallback", supports: true,
		result: &Result{Page: model.Page{URL: "https://acme.io/pricing"}, Source: "fallback"},
	}

	chain := NewChain(nil, s1, s2)
	result, err := chain.Scrape(context.Background(), "https://acme.io/pricing")

	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Source)
}

func TestChain_Scrape_AllFail(t *testing.T) {
	s1 := &mockScraper{name: "s1", supports: true, err: errors.New("s1 error")}
	s2 := &mockScraper{name: "s2", supports: true, err: errors.New("s2 error")}

	chain := NewChain(nil, s1, s2)
	result, err := chain.Scrape(context.Background(), "https://acme.io")

	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "all scrapers failed")
	assert.Contains(t, err.Error(), "s2 error")
}

func TestChain_Scrape_ExcludedURL(t *testing.T) {
	s1 := &mockScraper{name: "s1", supports: true}

	chain := NewChain(NewPathMatcher(nil), s1)
	result, err := chain.Scrape(context.Background(), "https://acme.io/login")

	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "excluded")
	assert.Equal(t, 0, s1.calls)
}

func TestChain_Scrape_NoSupportingScraper(t *testing.T) {
	chain := NewChain(nil, &mockScraper{name: "s1", supports: false})
	_, err := chain.Scrape(context.Background(), "https://acme.io")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no suitable scraper")
}

func TestChain_Scrape_CancelledContext(t *testing.T) {
	s1 := &mockScraper{name: "s1", supports: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewChain(nil, s1).Scrape(ctx, "https://acme.io")
	require.Error(t, err)
	assert.Equal(t, 0, s1.calls)
}

func TestChain_Read_FillsURL(t *testing.T) {
	s1 := &mockScraper{
		name: "s1", supports: true,
		result: &Result{Page: model.Page{Title: "Plans", Markdown: "Pro $49"}, Source: "s1"},
	}

	page, err := NewChain(nil, s1).Read(context.Background(), "https://acme.io/plans")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.io/plans", page.URL)
	assert.Equal(t, "Plans", page.Title)
}
