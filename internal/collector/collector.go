// Package collector fetches a vendor's pages for one lane, extracts fact
// candidates and persists them with their sources.
package collector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/resilience"
)

// Reader fetches the readable content of a URL.
type Reader interface {
	Read(ctx context.Context, url string) (*model.Page, error)
}

// Store is the persistence the collector needs.
type Store interface {
	SourceLookup
	GetVendor(ctx context.Context, orgID, vendorID string) (*model.Vendor, error)
	SaveSource(ctx context.Context, s *model.Source) (string, error)
	UpsertFact(ctx context.Context, f *model.Fact) (string, error)
	GetFact(ctx context.Context, key model.FactKey) (*model.Fact, error)
	InsertUpdateEvent(ctx context.Context, e *model.UpdateEvent) error
}

// DefaultMaxFetches caps simultaneous page fetches across every lane a
// Collector serves.
const DefaultMaxFetches = 6

// Collector runs lane collection for vendors.
type Collector struct {
	store        Store
	reader       Reader
	extractor    Extractor
	seeds        SeedStrategy
	freshness    *Freshness
	minItems     map[model.Lane]int
	fetchTimeout time.Duration
	concurrency  int
	fetches      *semaphore.Weighted
	retry        resilience.RetryPolicy
	now          func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithExtractor replaces the heuristic extractor.
func WithExtractor(e Extractor) Option {
	return func(c *Collector) { c.extractor = e }
}

// WithSeeds replaces the seed strategy.
func WithSeeds(s SeedStrategy) Option {
	return func(c *Collector) { c.seeds = s }
}

// WithRules applies lane overrides from a lanes file.
func WithRules(r *LaneRules) Option {
	return func(c *Collector) {
		c.seeds = &StaticSeeds{Paths: r.SeedPaths()}
		c.minItems = r.MinItems()
	}
}

// WithTTLs sets per-lane freshness windows.
func WithTTLs(ttls map[model.Lane]time.Duration) Option {
	return func(c *Collector) { c.freshness.ttls = ttls }
}

// WithClock sets the time source for freshness and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
		c.freshness.now = now
	}
}

// WithFetchTimeout bounds each page fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Collector) { c.fetchTimeout = d }
}

// WithConcurrency caps concurrent seed fetches within a lane.
func WithConcurrency(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMaxFetches caps simultaneous page fetches across all lanes collected
// through this Collector.
func WithMaxFetches(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.fetches = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithRetryPolicy sets the retry policy for store writes.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(c *Collector) { c.retry = p }
}

// New creates a Collector with the static seed table, heuristic extractor
// and default TTLs.
func New(st Store, reader Reader, opts ...Option) *Collector {
	c := &Collector{
		store:        st,
		reader:       reader,
		extractor:    NewHeuristicExtractor(),
		seeds:        NewStaticSeeds(),
		freshness:    NewFreshness(st, nil),
		minItems:     (*LaneRules)(nil).MinItems(),
		fetchTimeout: 12 * time.Second,
		concurrency:  3,
		fetches:      semaphore.NewWeighted(DefaultMaxFetches),
		retry:        resilience.DefaultRetryPolicy(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Freshness returns the collector's freshness gate.
func (c *Collector) Freshness() *Freshness {
	return c.freshness
}

type fetched struct {
	url  string
	page *model.Page
	err  error
}

// extraction is a fetched page with the items extracted from it.
type extraction struct {
	fetched
	items []Item
}

// CollectLane collects one lane for one vendor. Preconditions are checked
// in order: the vendor exists in the org, it has a website, and the lane is
// due. Seed failures are recorded and skipped; the lane fails only when
// nothing was saved and at least one seed failed, or a store write fails
// after retries.
func (c *Collector) CollectLane(ctx context.Context, orgID, vendorID string, lane model.Lane) Outcome {
	out := c.collect(ctx, orgID, vendorID, lane)
	out.VendorID = vendorID
	out.Lane = lane
	return out
}

func (c *Collector) collect(ctx context.Context, orgID, vendorID string, lane model.Lane) Outcome {
	log := zap.L().With(
		zap.String("org_id", orgID),
		zap.String("vendor_id", vendorID),
		zap.String("lane", string(lane)),
	)

	if !lane.Valid() {
		return Skipped("Unknown lane")
	}

	vendor, err := c.store.GetVendor(ctx, orgID, vendorID)
	if err != nil {
		return Failed(eris.Wrap(err, "collector: load vendor"))
	}
	if vendor == nil {
		return Skipped("Vendor not found")
	}
	if !vendor.HasWebsite() {
		return Skipped("No website URL")
	}

	due, reason, err := c.freshness.IsDue(ctx, vendorID, lane)
	if err != nil {
		return Failed(err)
	}
	if !due {
		log.Debug("collector: lane fresh, skipping", zap.String("reason", reason))
		return Skipped(reason)
	}

	// Whether the lane has ever been collected decides if new facts are news.
	prior, err := c.store.LatestSource(ctx, vendorID, lane, time.Time{})
	if err != nil {
		return Failed(eris.Wrap(err, "collector: load baseline"))
	}
	baseline := prior != nil

	seeds := c.seeds.Seeds(vendor.WebsiteURL(), lane)
	pages := c.fetchAll(ctx, seeds)

	var seedErrs []string
	var extracted []extraction
	for _, f := range pages {
		if f.err != nil {
			seedErrs = append(seedErrs, fmt.Sprintf("%s: %v", f.url, f.err))
			continue
		}

		items, err := c.extract(ctx, lane, f.page)
		if err != nil {
			seedErrs = append(seedErrs, fmt.Sprintf("%s: %v", f.url, err))
			continue
		}
		extracted = append(extracted, extraction{fetched: f, items: items})
	}

	saved, err := c.persist(ctx, vendor, lane, extracted, baseline)
	if err != nil {
		log.Error("collector: persist failed", zap.Error(err))
		o := Failed(err)
		o.Saved = saved
		o.SeedErrors = seedErrs
		return o
	}

	if saved == 0 && len(seedErrs) > 0 {
		o := Failed(eris.New(strings.Join(seedErrs, "; ")))
		o.SeedErrors = seedErrs
		log.Info("collector: lane produced no facts", zap.Strings("errors", seedErrs))
		return o
	}

	log.Info("collector: lane collected",
		zap.Int("seeds", len(seeds)),
		zap.Int("saved", saved),
		zap.Int("seed_errors", len(seedErrs)),
	)
	o := Success(saved)
	o.SeedErrors = seedErrs
	return o
}

// fetchAll fetches seeds concurrently. Results keep seed order.
func (c *Collector) fetchAll(ctx context.Context, seeds []string) []fetched {
	results := make([]fetched, len(seeds))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, u := range seeds {
		g.Go(func() error {
			results[i] = fetched{url: u}
			if err := c.fetches.Acquire(ctx, 1); err != nil {
				results[i].err = eris.Wrap(err, "wait for fetch slot")
				return nil
			}
			defer c.fetches.Release(1)

			fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
			defer cancel()

			page, err := c.reader.Read(fctx, u)
			switch {
			case err != nil && errors.Is(fctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
				results[i].err = eris.Errorf("fetch timed out after %s", c.fetchTimeout)
			case err != nil:
				results[i].err = err
			case page == nil || strings.TrimSpace(page.Markdown) == "":
				results[i].err = eris.New("empty page")
			default:
				results[i].page = page
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Collector) extract(ctx context.Context, lane model.Lane, page *model.Page) ([]Item, error) {
	items, err := c.extractor.Extract(ctx, lane, page)
	if err != nil {
		return nil, err
	}
	need := max(c.minItems[lane], 1)
	if len(items) < need {
		return nil, eris.Wrapf(ErrInsufficientData, "%d of %d items", len(items), need)
	}
	return items, nil
}

// persist saves one source per extracted page, merges items that share a
// natural key across pages and upserts the merged facts. Previous values
// are read before any write so change detection compares against the last
// collection. It returns the number of facts saved.
func (c *Collector) persist(ctx context.Context, vendor *model.Vendor, lane model.Lane, pages []extraction, baseline bool) (int, error) {
	if len(pages) == 0 {
		return 0, nil
	}
	now := c.now().UTC()

	sourceIDs := make([]string, len(pages))
	for i, p := range pages {
		id, err := c.saveSource(ctx, vendor, lane, p.fetched, now)
		if err != nil {
			return 0, err
		}
		sourceIDs[i] = id
	}

	merged := mergeItems(pages, sourceIDs)
	facts := make([]*model.Fact, len(merged))
	prev := make([]*model.Fact, len(merged))
	for i, m := range merged {
		value, err := json.Marshal(m.Value)
		if err != nil {
			return 0, eris.Wrapf(err, "collector: marshal %s/%s", m.Subject, m.Key)
		}
		facts[i] = &model.Fact{
			OrgID:       vendor.OrgID,
			VendorID:    vendor.ID,
			Metric:      lane,
			Subject:     m.Subject,
			Key:         m.Key,
			Value:       value,
			TextSummary: m.Summary,
			Citations:   m.citations,
			Confidence:  model.ClampConfidence(itemConfidence(m.Item)),
			FirstSeenAt: now,
			LastSeenAt:  now,
		}
		prev[i], err = c.store.GetFact(ctx, facts[i].NaturalKey())
		if err != nil {
			zap.L().Warn("collector: previous fact lookup failed", zap.String("key", m.Key), zap.Error(err))
		}
	}

	saved := 0
	for i, fact := range facts {
		err := resilience.Do(ctx, c.writePolicy("upsert_fact"), func(ctx context.Context) error {
			_, err := c.store.UpsertFact(ctx, fact)
			return err
		})
		if err != nil {
			return saved, eris.Wrapf(err, "collector: upsert fact %s/%s", fact.Subject, fact.Key)
		}
		saved++

		if ev := detectChange(prev[i], fact, baseline); ev != nil {
			ev.CreatedAt = now
			if err := c.store.InsertUpdateEvent(ctx, ev); err != nil {
				zap.L().Warn("collector: record update event failed",
					zap.String("type", string(ev.Type)),
					zap.Error(err),
				)
			}
		}
	}
	return saved, nil
}

func (c *Collector) saveSource(ctx context.Context, vendor *model.Vendor, lane model.Lane, f fetched, now time.Time) (string, error) {
	pageURL := f.page.URL
	if pageURL == "" {
		pageURL = f.url
	}
	firstParty := sameSite(pageURL, vendor.WebsiteURL())
	tier := 1
	if !firstParty {
		tier = 2
	}

	sum := sha256.Sum256([]byte(f.page.Markdown))
	src := &model.Source{
		OrgID:      vendor.OrgID,
		VendorID:   vendor.ID,
		Metric:     lane,
		URL:        pageURL,
		Title:      f.page.Title,
		BodyHash:   hex.EncodeToString(sum[:]),
		FetchedAt:  now,
		TrustTier:  tier,
		FirstParty: firstParty,
	}
	err := resilience.Do(ctx, c.writePolicy("save_source"), func(ctx context.Context) error {
		_, err := c.store.SaveSource(ctx, src)
		return err
	})
	if err != nil {
		return "", eris.Wrapf(err, "collector: save source %s", pageURL)
	}
	return src.ID, nil
}

// mergedItem is an item chosen for a natural key with every source that
// reported the key.
type mergedItem struct {
	Item
	citations []string
}

// mergeItems collapses items sharing subject and key. The highest
// confidence item wins; ties keep the earliest seed. Results keep the order
// in which keys were first seen.
func mergeItems(pages []extraction, sourceIDs []string) []mergedItem {
	var out []mergedItem
	index := make(map[string]int)
	for i, p := range pages {
		for _, it := range p.items {
			k := it.Subject + "\x00" + it.Key
			j, ok := index[k]
			if !ok {
				index[k] = len(out)
				out = append(out, mergedItem{Item: it, citations: []string{sourceIDs[i]}})
				continue
			}
			m := &out[j]
			if !slices.Contains(m.citations, sourceIDs[i]) {
				m.citations = append(m.citations, sourceIDs[i])
			}
			if itemConfidence(it) > itemConfidence(m.Item) {
				m.Item = it
			}
		}
	}
	return out
}

func itemConfidence(it Item) float64 {
	if it.Confidence == 0 {
		return model.DefaultFactConfidence
	}
	return it.Confidence
}

func (c *Collector) writePolicy(op string) resilience.RetryPolicy {
	p := c.retry
	p.OnRetry = resilience.LogRetry("collector", op)
	return p
}

// sameSite reports whether pageURL is on the vendor's host or a subdomain.
func sameSite(pageURL, website string) bool {
	p, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	w, err := url.Parse(website)
	if err != nil {
		return false
	}
	ph := strings.TrimPrefix(strings.ToLower(p.Hostname()), "www.")
	wh := strings.TrimPrefix(strings.ToLower(w.Hostname()), "www.")
	return wh != "" && (ph == wh || strings.HasSuffix(ph, "."+wh))
}
