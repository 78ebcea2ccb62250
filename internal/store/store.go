// Package store persists vendors, sources, facts, compare runs and update
// events. Every fact read is scoped by both org and vendor.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/db"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

// ErrNotFound is returned by lookups whose absence is an error for the caller.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the facts pipeline.
type Store interface {
	// Vendors. Lookups return (nil, nil) when the vendor does not exist.
	FindVendorByName(ctx context.Context, orgID, name string) (*model.Vendor, error)
	GetVendor(ctx context.Context, orgID, vendorID string) (*model.Vendor, error)
	SaveVendor(ctx context.Context, v *model.Vendor) error
	ListVendors(ctx context.Context, orgID string) ([]model.Vendor, error)

	// Sources
	SaveSource(ctx context.Context, s *model.Source) (string, error)
	LatestSource(ctx context.Context, vendorID string, lane model.Lane, since time.Time) (*model.Source, error)

	// Facts
	UpsertFact(ctx context.Context, f *model.Fact) (string, error)
	GetFact(ctx context.Context, key model.FactKey) (*model.Fact, error)
	GetFactsByMetric(ctx context.Context, orgID, vendorID string, metric model.Lane) ([]model.Fact, error)
	GetFactsByLanes(ctx context.Context, orgID, vendorID string, lanes []model.Lane) ([]model.Fact, error)

	// Compare runs. CreateCompareRun writes the run and all of its rows in
	// one transaction.
	CountCompareRuns(ctx context.Context, orgID, youVendorID, compVendorID string) (int, error)
	CreateCompareRun(ctx context.Context, run *model.CompareRun, rows []model.CompareRow) error
	GetCompareRun(ctx context.Context, orgID, runID string) (*model.CompareRunDetail, error)
	ListCompareRuns(ctx context.Context, orgID string, limit int) ([]model.CompareRun, error)

	// Update events
	InsertUpdateEvent(ctx context.Context, e *model.UpdateEvent) error
	ListUpdateEvents(ctx context.Context, orgID, vendorID string, limit int) ([]model.UpdateEvent, error)

	// Run locks back the shared-store run guard.
	AcquireRunLock(ctx context.Context, orgID string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, orgID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// NameKey is the case-insensitive identity of a vendor name within an org.
func NameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// decodeCitations parses stored citations, tolerating null and non-array
// values so downstream consumers always receive a slice.
func decodeCitations(raw []byte) []string {
	if len(raw) == 0 {
		return []string{}
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return model.NormalizeCitations(list)
	}

	var loose []any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return []string{}
	}
	out := make([]string, 0, len(loose))
	for _, v := range loose {
		if v == nil {
			continue
		}
		out = append(out, fmt.Sprint(v))
	}
	return out
}

func encodeStrings(s []string) ([]byte, error) {
	b, err := json.Marshal(model.NormalizeCitations(s))
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal string list")
	}
	return b, nil
}

// factValue ensures a JSON value is always stored, defaulting to null.
func factValue(v json.RawMessage) []byte {
	if len(v) == 0 {
		return []byte("null")
	}
	return v
}

func normalizeLimit(limit, def int) int {
	if limit <= 0 || limit > 500 {
		return def
	}
	return limit
}

func laneStrings(lanes []model.Lane) []string {
	out := make([]string, len(lanes))
	for i, l := range lanes {
		out[i] = string(l)
	}
	return out
}

var (
	vendorUpsert = db.UpsertConfig{
		Table:        "vendors",
		Columns:      []string{"id", "org_id", "name", "name_key", "website", "official_site_confidence", "created_at", "updated_at"},
		ConflictKeys: []string{"org_id", "name_key"},
		Preserve:     []string{"id", "created_at"},
		Returning:    []string{"id", "created_at"},
	}

	factUpsert = db.UpsertConfig{
		Table: "facts",
		Columns: []string{
			"id", "org_id", "vendor_id", "metric", "subject", "fact_key",
			"value_json", "text_summary", "citations", "confidence", "first_seen_at", "last_seen_at",
		},
		ConflictKeys: []string{"org_id", "vendor_id", "metric", "subject", "fact_key"},
		Preserve:     []string{"id", "first_seen_at"},
		Returning:    []string{"id"},
	}

	// lockUpsert only takes over an existing row once it has expired; the
	// dialect-specific WHERE clause is appended by each backend.
	lockUpsert = db.UpsertConfig{
		Table:        "run_locks",
		Columns:      []string{"org_id", "acquired_at", "expires_at"},
		ConflictKeys: []string{"org_id"},
	}
)

func mustUpsert(cfg db.UpsertConfig, ph db.Placeholder) string {
	q, err := db.BuildUpsert(cfg, ph)
	if err != nil {
		panic(err)
	}
	return q
}

// factRow validates f, fills its defaults and returns the bind arguments in
// factUpsert column order. ts converts timestamps for the target dialect.
func factRow(f *model.Fact, ts func(time.Time) any) ([]any, error) {
	if f.OrgID == "" || f.VendorID == "" {
		return nil, eris.New("store: fact requires org and vendor")
	}
	if !f.Metric.Valid() {
		return nil, eris.Errorf("store: fact has unknown metric %q", f.Metric)
	}
	if f.Subject == "" || f.Key == "" {
		return nil, eris.New("store: fact requires subject and key")
	}

	now := time.Now().UTC()
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.FirstSeenAt.IsZero() {
		f.FirstSeenAt = now
	}
	if f.LastSeenAt.IsZero() {
		f.LastSeenAt = now
	}
	f.Confidence = model.ClampConfidence(f.Confidence)
	f.Citations = model.NormalizeCitations(f.Citations)

	cites, err := encodeStrings(f.Citations)
	if err != nil {
		return nil, err
	}
	return []any{
		f.ID, f.OrgID, f.VendorID, string(f.Metric), f.Subject, f.Key,
		factValue(f.Value), f.TextSummary, cites, f.Confidence,
		ts(f.FirstSeenAt), ts(f.LastSeenAt),
	}, nil
}

func prepareRun(run *model.CompareRun, rows []model.CompareRow) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunStatusComplete
	}
	if run.Version < 1 {
		run.Version = 1
	}
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = uuid.New().String()
		}
		rows[i].RunID = run.ID
		rows[i].YouCitations = model.NormalizeCitations(rows[i].YouCitations)
		rows[i].CompCitations = model.NormalizeCitations(rows[i].CompCitations)
	}
}

func prepareEvent(e *model.UpdateEvent) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	switch {
	case e.Severity < 1:
		e.Severity = 1
	case e.Severity > 3:
		e.Severity = 3
	}
	e.SourceIDs = model.NormalizeCitations(e.SourceIDs)
}

// sortRows orders compare rows by lane declaration order.
func sortRows(rows []model.CompareRow) {
	order := make(map[model.Lane]int, len(model.AllLanes()))
	for i, l := range model.AllLanes() {
		order[l] = i
	}
	sort.SliceStable(rows, func(i, j int) bool {
		oi, ok := order[rows[i].Metric]
		if !ok {
			oi = len(order)
		}
		oj, ok := order[rows[j].Metric]
		if !ok {
			oj = len(order)
		}
		if oi != oj {
			return oi < oj
		}
		return rows[i].Metric < rows[j].Metric
	})
}
