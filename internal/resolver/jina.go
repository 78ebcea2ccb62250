package resolver

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/pkg/jina"
)

// JinaSearcher adapts the Jina search API to Searcher.
type JinaSearcher struct {
	client jina.Client
	count  int
}

// NewJinaSearcher creates a Searcher backed by Jina. count caps the results
// per query; zero leaves the provider default.
func NewJinaSearcher(client jina.Client, count int) *JinaSearcher {
	return &JinaSearcher{client: client, count: count}
}

// Search implements Searcher.
func (s *JinaSearcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	var opts []jina.SearchOption
	if s.count > 0 {
		opts = append(opts, jina.WithCount(s.count))
	}

	resp, err := s.client.Search(ctx, query, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: jina search")
	}

	out := make([]SearchResult, 0, len(resp.Data))
	for _, d := range resp.Data {
		snippet := d.Description
		if snippet == "" {
			snippet = d.Content
		}
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		out = append(out, SearchResult{Title: d.Title, URL: d.URL, Snippet: snippet})
	}
	return out, nil
}
