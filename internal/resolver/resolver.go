// Package resolver maps free-text company names to vendor records with a
// scored official website.
package resolver

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher is the web search provider.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// VendorStore is the subset of the store the resolver needs.
type VendorStore interface {
	FindVendorByName(ctx context.Context, orgID, name string) (*model.Vendor, error)
	SaveVendor(ctx context.Context, v *model.Vendor) error
}

// Candidate is a scored search result.
type Candidate struct {
	URL    string `json:"url"`
	Origin string `json:"origin"`
	Title  string `json:"title"`
	Score  int    `json:"score"`
}

// Resolver resolves vendor names to official sites.
type Resolver struct {
	store     VendorStore
	search    Searcher
	scorer    SiteScorer
	threshold int
	timeout   time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithScorer replaces the default heuristic scorer.
func WithScorer(s SiteScorer) Option {
	return func(r *Resolver) {
		r.scorer = s
	}
}

// WithThreshold sets the minimum score for accepting a website.
func WithThreshold(n int) Option {
	return func(r *Resolver) {
		r.threshold = n
	}
}

// WithSearchTimeout bounds each search call. Zero disables the bound.
func WithSearchTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

// New creates a Resolver.
func New(store VendorStore, search Searcher, opts ...Option) *Resolver {
	r := &Resolver{
		store:     store,
		search:    search,
		scorer:    NewHeuristicScorer(),
		threshold: model.AcceptThreshold,
		timeout:   15 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the vendor for (orgID, name), creating or updating it.
// A vendor that already has a website is returned without searching.
// Search failures are returned as errors; a low-confidence result is not an
// error and leaves the website unset.
func (r *Resolver) Resolve(ctx context.Context, orgID, name string) (*model.Vendor, error) {
	name = strings.Join(strings.Fields(name), " ")
	if orgID == "" || name == "" {
		return nil, eris.New("resolver: org and vendor name are required")
	}

	existing, err := r.store.FindVendorByName(ctx, orgID, name)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: lookup %q", name)
	}
	if existing.HasWebsite() {
		zap.L().Debug("resolver: existing vendor",
			zap.String("vendor_id", existing.ID),
			zap.String("website", existing.WebsiteURL()),
		)
		return existing, nil
	}

	candidates, err := r.Discover(ctx, name, OfficialSiteQuery(name))
	if err != nil {
		return nil, err
	}

	v := existing
	if v == nil {
		v = &model.Vendor{OrgID: orgID, Name: name}
	}
	v.Website = nil
	v.OfficialSiteConfidence = 0
	if len(candidates) > 0 {
		best := candidates[0]
		v.OfficialSiteConfidence = best.Score
		if best.Score >= r.threshold {
			site := best.Origin
			v.Website = &site
		}
	}

	if err := r.store.SaveVendor(ctx, v); err != nil {
		return nil, eris.Wrapf(err, "resolver: save vendor %q", name)
	}

	zap.L().Info("resolver: resolved vendor",
		zap.String("org_id", orgID),
		zap.String("vendor", name),
		zap.String("website", v.WebsiteURL()),
		zap.Int("confidence", v.OfficialSiteConfidence),
		zap.Int("candidates", len(candidates)),
	)
	return v, nil
}

// Discover runs query and returns the results scored against vendorName,
// best first. Results without a usable origin are dropped. Nothing is
// persisted.
func (r *Resolver) Discover(ctx context.Context, vendorName, query string) ([]Candidate, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	results, err := r.search.Search(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: search %q", query)
	}

	out := make([]Candidate, 0, len(results))
	for _, res := range results {
		origin := originOf(res.URL)
		if origin == "" {
			continue
		}
		out = append(out, Candidate{
			URL:    res.URL,
			Origin: origin,
			Title:  res.Title,
			Score:  r.scorer.Score(vendorName, res),
		})
	}

	// Stable keeps search rank as the tie-break.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out, nil
}

// OfficialSiteQuery is the search query used to find a vendor's homepage.
func OfficialSiteQuery(name string) string {
	return `"` + name + `" official site`
}
