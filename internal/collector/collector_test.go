package collector

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/store"
)

// fakeReader serves canned pages keyed by URL.
type fakeReader struct {
	mu    sync.Mutex
	pages map[string]*model.Page
	errs  map[string]error
	block bool
	calls []string
}

func newFakeReader() *fakeReader {
	return &fakeReader{pages: map[string]*model.Page{}, errs: map[string]error{}}
}

func (f *fakeReader) set(url, markdown string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = &model.Page{URL: url, Title: "page", Markdown: markdown, StatusCode: 200}
}

func (f *fakeReader) Read(ctx context.Context, url string) (*model.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	block := f.block
	page, err := f.pages[url], f.errs[url]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, errors.New("status 404")
	}
	return page, nil
}

func (f *fakeReader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "collector.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedVendor(t *testing.T, st *store.SQLiteStore, orgID, name, website string) *model.Vendor {
	t.Helper()
	v := &model.Vendor{OrgID: orgID, Name: name, OfficialSiteConfidence: 90}
	if website != "" {
		v.Website = &website
	}
	require.NoError(t, st.SaveVendor(context.Background(), v))
	return v
}

const pricingPage = `# Pricing
## Starter
Free forever for small teams.
## Pro
$49 per user per month.
## Enterprise
Contact sales for custom pricing.`

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestCollectLane_VendorNotFound(t *testing.T) {
	st := newTestStore(t)
	v := seedVendor(t, st, "org-1", "Acme", "https://acme.io")
	reader := newFakeReader()

	c := New(st, reader)
	out := c.CollectLane(context.Background(), "org-2", v.ID, model.LanePricing)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, "Vendor not found", out.Reason)
	assert.Equal(t, 0, reader.callCount())
}

func TestCollectLane_NoWebsite(t *testing.T) {
	st := newTestStore(t)
	v := seedVendor(t, st, "org-1", "Ghost", "")

	out := New(st, newFakeReader()).CollectLane(context.Background(), "org-1", v.ID, model.LanePricing)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, "No website URL", out.Reason)
}

func TestCollectLane_UnknownLane(t *testing.T) {
	st := newTestStore(t)
	v := seedVendor(t, st, "org-1", "Acme", "https://acme.io")

	out := New(st, newFakeReader()).CollectLane(context.Background(), "org-1", v.ID, model.Lane("weather"))
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, "Unknown lane", out.Reason)
}

func TestCollectLane_SavesSourceAndFacts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	v := seedVendor(t, st, "org-1", "Acme", "https://acme.io")
	reader := newFakeReader()
	reader.set("https://acme.io/pricing", pricingPage)

	out := New(st, reader).CollectLane(ctx, "org-1", v.ID, model.LanePricing)
	require.Equal(t, StatusSuccess, out.Status, out.Reason)
	assert.Equal(t, 3, out.Saved)
	assert.Equal(t, v.ID, out.VendorID)
	assert.Equal(t, model.LanePricing, out.Lane)
	// /plans is missing but /pricing saved facts, so the lane still succeeds.
	assert.Len(t, out.SeedErrors, 1)
	assert.Contains(t, out.SeedErrors[0], "https://acme.io/plans")

	src, err := st.LatestSource(ctx, v.ID, model.LanePricing, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.True(t, src.FirstParty)
	assert.Equal(t, 1, src.TrustTier)
	assert.Len(t, src.BodyHash, 64)

	facts, err := st.GetFactsByMetric(ctx, "org-1", v.ID, model.LanePricing)
	require.NoError(t, err)
	require.Len(t, facts, 3)
	for _, f := range facts {
		assert.Equal(t, []string{src.ID}, f.Citations)
		assert.GreaterOrEqual(t, f.Confidence, 0.0)
		assert.LessOrEqual(t, f.Confidence, 1.0)
	}

	pro, err := st.GetFact(ctx, model.FactKey{OrgID: "org-1", VendorID: v.ID, Metric: model.LanePricing, Subject: "plan", Key: "pro"})
	require.NoError(t, err)
	require.NotNil(t, pro)
	assert.Equal(t, "Pro: $49/user/month", pro.TextSummary)
	assert.JSONEq(t, `{"plan":"Pro","price":"$49","unit":"user","period":"month"}`, string(pro.Value))
}

func TestCollectLane_RespectsTTL(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	v := seedVendor(t, st, "org-1", "Acme", "https://acme.io")
	reader := newFakeReader()
	reader.set("https://acme.io/pricing", pricingPage)

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &testClock{now: start}
	c := New(st, reader, WithClock(clock.Now))

	first := c.CollectLane(ctx, "org-1", v.ID, model.LanePricing)
	require.Equal(t, StatusSuccess, first.Status)
	calls := reader.callCount()

	day := 24 * time.Hour
	ttl := model.DefaultTTL(model.LanePricing)

	clock.Set(start.Add(ttl - day))
	skipped := c.CollectLane(ctx, "org-1", v.ID, model.LanePricing)
	assert.Equal(t, StatusSkipped, skipped.Status)
	assert.Contains(t, skipped.Reason, "TTL")
	assert.Equal(t, calls, reader.callCount())

	clock.Set(start.Add(ttl + day))
	again := c.CollectLane(ctx, "org-1", v.ID, model.LanePricing)
	assert.Equal(t, StatusSuccess, again.Status)
	assert.Greater(t, reader.callCount(), calls)
}

func TestCollectLane_AllSeedsFail(t *testing.T) {
	st := newTestStore(t)
	v := seedVendor(t, st, "org-1", "Acme", "https://acme.io")
	reader := newFakeReader()
	reader.errs["https://acme.io/pricing"] = errors.New("connection refused")

	out := New(st, reader).CollectLane(context.Background(), "org-1", v.ID, model.LanePricing)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 0, out.Saved)
	assert.Contains(t, out.Reason, "https://acme.io/pricing: connection refused")
	assert.Contains(t, out.Reason, "https://acme.io/plans: status 404")
	assert.Len(t, out.SeedErrors, 2)
}

func TestCollectLane_InsufficientData(t *testing.T) {
	st := newTestStore(t)
	v := seedVendor(t, st, "org-1", "Acme", "https://acme.io")
	reader := newFakeReader()
	reader.set("https://acme.io/features", "# Features\n- Dashboards")
	reader.set("https://acme.io/product", "Nothing to see here.")

	out := New(st, reader).CollectLane(context.Background(), "org-1", v.ID, model.LaneFeatures)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Reason, "insufficient data")
}

func TestCollectLane_NoSeedsIsEmptySuccess(t *testing.T) {
	st := newTestStore(t)
	v := seedVendor(t, st, "org-1", "Acme", "https://acme.io")

	c := New(st, newFakeReader(), WithSeeds(&StaticSeeds{Paths: map[model.Lane][]string{}}))
	out := c.CollectLane(context.Background(), "org-1", v.ID, model.LanePricing)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 0, out.Saved)
	assert.Empty(t, out.Reason)
}

func TestCollectLane_FetchTimeout(t *testing.T) {
	st := newTestStore(t)
	v := seedVendor(t, st, "org-1", "Acme", "https://acme.io")
	reader := newFakeReader()
	reader.block = true

	c := New(st, reader, WithFetchTimeout(20*time.Millisecond))
	start := time.Now()
	out := c.CollectLane(context.Background(), "org-1", v.ID, model.LanePricing)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Reason, "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCollectLane_EmitsPriceChange(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	v := seedVendor(t, st, "org-1", "Acme", "https://acme.io")
	reader := newFakeReader()
	reader.set("https://acme.io/pricing", pricingPage)

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &testClock{now: start}
	c := New(st, reader, WithClock(clock.Now))
	require.Equal(t, StatusSuccess, c.CollectLane(ctx, "org-1", v.ID, model.LanePricing).Status)

	events, err := st.ListUpdateEvents(ctx, "org-1", v.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, events, "first collection has no baseline")

	reader.set("https://acme.io/pricing", `# Pricing
## Starter
Free forever for small teams.
## Pro
$59 per user per month.
## Enterprise
Contact sales for custom pricing.`)
	clock.Set(start.Add(8 * 24 * time.Hour))
	require.Equal(t, StatusSuccess, c.CollectLane(ctx, "org-1", v.ID, model.LanePricing).Status)

	events, err = st.ListUpdateEvents(ctx, "org-1", v.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventPriceChange, events[0].Type)
	assert.Equal(t, 2, events[0].Severity)
	assert.Equal(t, "Pro: $49/user/month", events[0].Old)
	assert.Equal(t, "Pro: $59/user/month", events[0].New)
	assert.Len(t, events[0].SourceIDs, 1)

	pro, err := st.GetFact(ctx, model.FactKey{OrgID: "org-1", VendorID: v.ID, Metric: model.LanePricing, Subject: "plan", Key: "pro"})
	require.NoError(t, err)
	assert.True(t, pro.FirstSeenAt.Equal(start))
	assert.True(t, pro.LastSeenAt.After(start))
}

func TestCollectLane_EmitsNewIntegration(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	v := seedVendor(t, st, "org-1", "Acme", "https://acme.io")
	reader := newFakeReader()
	reader.set("https://acme.io/integrations", "# Integrations\nAcme works with Slack.")

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &testClock{now: start}
	c := New(st, reader, WithClock(clock.Now))
	require.Equal(t, StatusSuccess, c.CollectLane(ctx, "org-1", v.ID, model.LaneIntegrations).Status)

	reader.set("https://acme.io/integrations", "# Integrations\nAcme works with Slack and Salesforce.")
	clock.Set(start.Add(15 * 24 * time.Hour))
	require.Equal(t, StatusSuccess, c.CollectLane(ctx, "org-1", v.ID, model.LaneIntegrations).Status)

	events, err := st.ListUpdateEvents(ctx, "org-1", v.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventNewIntegration, events[0].Type)
	assert.Equal(t, "Salesforce", events[0].New)
}

func TestCollectLane_SharedKeysAcrossSeeds(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	v := seedVendor(t, st, "org-1", "Acme", "https://acme.io")
	reader := newFakeReader()
	reader.set("https://acme.io/pricing", "# Pricing\n## Pro\n$49 per month.\n## Team\n$99 per month.")
	reader.set("https://acme.io/plans", "# Plans\n## Pro\n$470 per year.\n## Team\n$950 per year.")

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &testClock{now: start}
	c := New(st, reader, WithClock(clock.Now))

	for i := range 3 {
		clock.Set(start.Add(time.Duration(i) * 8 * 24 * time.Hour))
		out := c.CollectLane(ctx, "org-1", v.ID, model.LanePricing)
		require.Equal(t, StatusSuccess, out.Status, out.Reason)
		assert.Equal(t, 2, out.Saved)
	}

	events, err := st.ListUpdateEvents(ctx, "org-1", v.ID, 50)
	require.NoError(t, err)
	assert.Empty(t, events)

	pro, err := st.GetFact(ctx, model.FactKey{OrgID: "org-1", VendorID: v.ID, Metric: model.LanePricing, Subject: "plan", Key: "pro"})
	require.NoError(t, err)
	require.NotNil(t, pro)
	assert.Contains(t, pro.TextSummary, "$49")
	assert.Len(t, pro.Citations, 2)
}

// slowReader records the peak number of overlapping reads.
type slowReader struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (r *slowReader) Read(ctx context.Context, _ string) (*model.Page, error) {
	r.calls.Add(1)
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-time.After(20 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, errors.New("status 404")
}

func TestCollectLane_MaxFetchesSharedAcrossLanes(t *testing.T) {
	st := newTestStore(t)
	v := seedVendor(t, st, "org-1", "Acme", "https://acme.io")
	reader := &slowReader{}
	c := New(st, reader, WithMaxFetches(2))

	var wg sync.WaitGroup
	for _, lane := range model.AllLanes() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := c.CollectLane(context.Background(), "org-1", v.ID, lane)
			assert.Equal(t, StatusFailed, out.Status)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(15), reader.calls.Load())
	assert.LessOrEqual(t, reader.peak.Load(), int32(2))
	assert.GreaterOrEqual(t, reader.peak.Load(), int32(1))
}

func TestCollectLane_LaneRulesMinItems(t *testing.T) {
	st := newTestStore(t)
	v := seedVendor(t, st, "org-1", "Acme", "https://acme.io")
	reader := newFakeReader()
	reader.set("https://acme.io/buy", pricingPage)

	rules, err := ParseLaneRules([]byte("lanes:\n  pricing:\n    paths: [/buy]\n    min_items: 4\n"))
	require.NoError(t, err)

	out := New(st, reader, WithRules(rules)).CollectLane(context.Background(), "org-1", v.ID, model.LanePricing)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Reason, "3 of 4 items")
	assert.Equal(t, []string{"https://acme.io/buy"}, reader.calls)
}

func TestReport(t *testing.T) {
	var r Report
	r.Add(Outcome{VendorID: "a", Status: StatusSuccess, Saved: 3})
	r.Add(Outcome{VendorID: "a", Status: StatusFailed})
	r.Add(Outcome{VendorID: "b", Status: StatusSkipped})
	r.Add(Outcome{VendorID: "b", Status: StatusSuccess, Saved: 2})

	assert.Equal(t, 5, r.Saved())
	assert.Equal(t, 2, r.Count(StatusSuccess))
	assert.Equal(t, 1, r.Count(StatusFailed))
	assert.Len(t, r.ForVendor("b"), 2)

	f := Failed(errors.New("boom"))
	assert.Equal(t, "boom", f.Reason)
}
