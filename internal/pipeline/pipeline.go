// Package pipeline orchestrates a comparison run: guard, resolve, collect,
// compose and persist.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/collector"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/compare"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/guard"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/resilience"
)

// ReasonCooldown is returned when the org's run guard rejects a run.
const ReasonCooldown = "cooldown"

// ReasonPersistence is reported to API callers when a run fails on a store
// error after retries.
const ReasonPersistence = "persistence"

// DefaultConcurrency bounds simultaneous lane collections.
const DefaultConcurrency = 6

// Store is the persistence the orchestrator needs beyond the collector.
type Store interface {
	GetVendor(ctx context.Context, orgID, vendorID string) (*model.Vendor, error)
	GetFactsByLanes(ctx context.Context, orgID, vendorID string, lanes []model.Lane) ([]model.Fact, error)
	CountCompareRuns(ctx context.Context, orgID, youVendorID, compVendorID string) (int, error)
	CreateCompareRun(ctx context.Context, run *model.CompareRun, rows []model.CompareRow) error
	GetCompareRun(ctx context.Context, orgID, runID string) (*model.CompareRunDetail, error)
}

// VendorResolver turns a vendor name into a persisted vendor.
type VendorResolver interface {
	Resolve(ctx context.Context, orgID, name string) (*model.Vendor, error)
}

// LaneCollector collects one lane for one vendor.
type LaneCollector interface {
	CollectLane(ctx context.Context, orgID, vendorID string, lane model.Lane) collector.Outcome
}

// Request starts a comparison run.
type Request struct {
	OrgID    string `json:"orgId"`
	YouName  string `json:"you"`
	CompName string `json:"competitor"`
}

// Result is the outcome of a comparison run. OK is false with a Reason for
// rejections the caller can act on.
type Result struct {
	OK      bool              `json:"ok"`
	RunID   string            `json:"runId,omitempty"`
	Version int               `json:"version,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Report  *collector.Report `json:"report,omitempty"`
}

func fail(reason string) Result {
	return Result{OK: false, Reason: reason}
}

// Pipeline runs comparisons for one process.
type Pipeline struct {
	store       Store
	guard       guard.Guard
	resolver    VendorResolver
	collector   LaneCollector
	composer    *compare.Composer
	lanes       []model.Lane
	concurrency int
	retry       resilience.RetryPolicy
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithComposer overrides the comparison composer.
func WithComposer(c *compare.Composer) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.composer = c
		}
	}
}

// WithLanes overrides the lanes collected and compared.
func WithLanes(lanes []model.Lane) Option {
	return func(p *Pipeline) {
		if len(lanes) > 0 {
			p.lanes = lanes
		}
	}
}

// WithConcurrency bounds simultaneous lane collections.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithRetryPolicy sets the retry policy for run persistence.
func WithRetryPolicy(r resilience.RetryPolicy) Option {
	return func(p *Pipeline) {
		p.retry = r
	}
}

// New creates a Pipeline.
func New(st Store, g guard.Guard, res VendorResolver, col LaneCollector, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       st,
		guard:       g,
		resolver:    res,
		collector:   col,
		composer:    compare.NewComposer(),
		lanes:       model.AllLanes(),
		concurrency: DefaultConcurrency,
		retry:       resilience.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunCompareFacts runs the full comparison for req. The guard is released
// on every terminal path once CanRun has succeeded. Collector failures are
// reported in Result.Report and never fail the run; store failures are
// returned as errors after retries.
func (p *Pipeline) RunCompareFacts(ctx context.Context, req Request) (Result, error) {
	req.YouName = strings.TrimSpace(req.YouName)
	req.CompName = strings.TrimSpace(req.CompName)
	if req.OrgID == "" || req.YouName == "" || req.CompName == "" {
		return fail("org, you and competitor are required"), nil
	}

	log := zap.L().With(
		zap.String("org_id", req.OrgID),
		zap.String("you", req.YouName),
		zap.String("competitor", req.CompName),
	)

	ok, err := p.guard.CanRun(ctx, req.OrgID)
	if err != nil {
		return Result{}, eris.Wrap(err, "pipeline: guard check")
	}
	if !ok {
		log.Info("pipeline: rejected, org cooling down")
		return fail(ReasonCooldown), nil
	}
	defer func() {
		// Release even when the caller's context is gone.
		if err := p.guard.FinishRun(context.WithoutCancel(ctx), req.OrgID); err != nil {
			log.Warn("pipeline: release guard", zap.Error(err))
		}
	}()

	start := time.Now()
	log.Info("pipeline: starting compare run")

	you, reason := p.resolve(ctx, log, req.OrgID, req.YouName)
	if reason != "" {
		return fail(reason), nil
	}
	comp, reason := p.resolve(ctx, log, req.OrgID, req.CompName)
	if reason != "" {
		return fail(reason), nil
	}
	if you.ID == comp.ID {
		return fail("you and competitor resolve to the same vendor"), nil
	}

	report := p.collectAll(ctx, req.OrgID, []string{you.ID, comp.ID})

	youFacts, err := p.store.GetFactsByLanes(ctx, req.OrgID, you.ID, p.lanes)
	if err != nil {
		return Result{}, eris.Wrap(err, "pipeline: load facts for you")
	}
	compFacts, err := p.store.GetFactsByLanes(ctx, req.OrgID, comp.ID, p.lanes)
	if err != nil {
		return Result{}, eris.Wrap(err, "pipeline: load facts for competitor")
	}

	rows := make([]model.CompareRow, len(p.lanes))
	for i, lane := range p.lanes {
		rows[i] = p.composer.Row(lane, youFacts, compFacts)
	}

	prior, err := p.store.CountCompareRuns(ctx, req.OrgID, you.ID, comp.ID)
	if err != nil {
		return Result{}, eris.Wrap(err, "pipeline: count prior runs")
	}
	run := &model.CompareRun{
		OrgID:        req.OrgID,
		YouVendorID:  you.ID,
		CompVendorID: comp.ID,
		Version:      prior + 1,
	}

	policy := p.retry
	policy.OnRetry = resilience.LogRetry("pipeline", "create_compare_run")
	err = resilience.Do(ctx, policy, func(ctx context.Context) error {
		// A failed attempt rolls back, so the run gets fresh ids on retry.
		run.ID = ""
		for i := range rows {
			rows[i].ID = ""
			rows[i].RunID = ""
		}
		return p.store.CreateCompareRun(ctx, run, rows)
	})
	if err != nil {
		return Result{}, eris.Wrap(err, "pipeline: create compare run")
	}

	log.Info("pipeline: compare run complete",
		zap.String("run_id", run.ID),
		zap.Int("version", run.Version),
		zap.Int("facts_saved", report.Saved()),
		zap.Int("lanes_failed", report.Count(collector.StatusFailed)),
		zap.Duration("duration", time.Since(start)),
	)

	return Result{OK: true, RunID: run.ID, Version: run.Version, Report: report}, nil
}

// resolve returns the vendor for name, or a failure reason when the search
// fails or no candidate cleared the acceptance threshold. The vendor row is
// persisted by the resolver either way.
func (p *Pipeline) resolve(ctx context.Context, log *zap.Logger, orgID, name string) (*model.Vendor, string) {
	v, err := p.resolver.Resolve(ctx, orgID, name)
	if err != nil {
		log.Warn("pipeline: resolve failed", zap.String("name", name), zap.Error(err))
		return nil, fmt.Sprintf("resolve %q: %s", name, err)
	}
	if !v.HasWebsite() {
		score := 0
		if v != nil {
			score = v.OfficialSiteConfidence
		}
		log.Info("pipeline: no confident official site", zap.String("name", name), zap.Int("score", score))
		return nil, fmt.Sprintf("resolve %q: no confident official site (score %d)", name, score)
	}
	return v, ""
}

// collectAll runs every lane for every vendor with bounded concurrency.
// Outcomes are reported in vendor then lane order.
func (p *Pipeline) collectAll(ctx context.Context, orgID string, vendorIDs []string) *collector.Report {
	outcomes := make([]collector.Outcome, len(vendorIDs)*len(p.lanes))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for vi, vendorID := range vendorIDs {
		for li, lane := range p.lanes {
			idx := vi*len(p.lanes) + li
			g.Go(func() error {
				outcomes[idx] = p.collectOne(ctx, orgID, vendorID, lane)
				return nil
			})
		}
	}
	_ = g.Wait()

	report := &collector.Report{}
	for _, o := range outcomes {
		report.Add(o)
	}
	return report
}

func (p *Pipeline) collectOne(ctx context.Context, orgID, vendorID string, lane model.Lane) (out collector.Outcome) {
	log := zap.L().With(
		zap.String("vendor_id", vendorID),
		zap.String("lane", string(lane)),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline: collector panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			out = collector.Failed(eris.Errorf("collector panic: %v", r))
			out.VendorID = vendorID
			out.Lane = lane
		}
	}()

	out = p.collector.CollectLane(ctx, orgID, vendorID, lane)
	switch out.Status {
	case collector.StatusFailed:
		log.Warn("pipeline: lane failed", zap.String("reason", out.Reason))
	case collector.StatusSkipped:
		log.Debug("pipeline: lane skipped", zap.String("reason", out.Reason))
	}
	return out
}

// LaneResult is the per-lane response of a manual refresh.
type LaneResult struct {
	Lane    string `json:"lane"`
	Saved   int    `json:"saved"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// RefreshVendorLane collects the named lanes for one vendor outside a
// comparison run. Unknown lane names are reported as skipped; failed lanes
// are not skipped and carry the failure reason. Lanes run
// with the same concurrency bound as a run; results keep request order.
func (p *Pipeline) RefreshVendorLane(ctx context.Context, orgID, vendorID string, lanes []string) []LaneResult {
	results := make([]LaneResult, len(lanes))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, name := range lanes {
		lane, ok := model.ParseLane(name)
		if !ok {
			results[i] = LaneResult{Lane: name, Skipped: true, Reason: "Unknown lane"}
			continue
		}
		g.Go(func() error {
			out := p.collectOne(ctx, orgID, vendorID, lane)
			results[i] = LaneResult{
				Lane:    string(lane),
				Saved:   out.Saved,
				Skipped: out.Status == collector.StatusSkipped,
				Reason:  out.Reason,
			}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("pipeline: refreshed vendor lanes",
		zap.String("org_id", orgID),
		zap.String("vendor_id", vendorID),
		zap.Strings("lanes", lanes),
	)
	return results
}

// GetCompareRun returns a run and its rows, scoped to orgID.
func (p *Pipeline) GetCompareRun(ctx context.Context, orgID, runID string) (*model.CompareRunDetail, error) {
	detail, err := p.store.GetCompareRun(ctx, orgID, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: get compare run %s", runID)
	}
	return detail, nil
}
