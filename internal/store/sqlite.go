package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/db"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as unix nanoseconds so range comparisons stay numeric.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection keeps pragmas applied and serializes writers.
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id                       TEXT PRIMARY KEY,
	org_id                   TEXT NOT NULL,
	name                     TEXT NOT NULL,
	name_key                 TEXT NOT NULL,
	website                  TEXT,
	official_site_confidence INTEGER NOT NULL DEFAULT 0,
	created_at               INTEGER NOT NULL,
	updated_at               INTEGER NOT NULL,
	UNIQUE (org_id, name_key)
);

CREATE TABLE IF NOT EXISTS sources (
	id          TEXT PRIMARY KEY,
	org_id      TEXT NOT NULL,
	vendor_id   TEXT NOT NULL REFERENCES vendors(id) ON DELETE CASCADE,
	metric      TEXT NOT NULL,
	url         TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	body_hash   TEXT NOT NULL,
	fetched_at  INTEGER NOT NULL,
	trust_tier  INTEGER NOT NULL DEFAULT 1,
	first_party INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_sources_vendor_metric_fetched ON sources(vendor_id, metric, fetched_at);

CREATE TABLE IF NOT EXISTS facts (
	id            TEXT PRIMARY KEY,
	org_id        TEXT NOT NULL,
	vendor_id     TEXT NOT NULL REFERENCES vendors(id) ON DELETE CASCADE,
	metric        TEXT NOT NULL,
	subject       TEXT NOT NULL,
	fact_key      TEXT NOT NULL,
	value_json    TEXT,
	text_summary  TEXT NOT NULL DEFAULT '',
	citations     TEXT NOT NULL DEFAULT '[]',
	confidence    REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	first_seen_at INTEGER NOT NULL,
	last_seen_at  INTEGER NOT NULL,
	UNIQUE (org_id, vendor_id, metric, subject, fact_key)
);

CREATE INDEX IF NOT EXISTS idx_facts_org_vendor_metric ON facts(org_id, vendor_id, metric);

CREATE TABLE IF NOT EXISTS compare_runs (
	id             TEXT PRIMARY KEY,
	org_id         TEXT NOT NULL,
	you_vendor_id  TEXT NOT NULL REFERENCES vendors(id) ON DELETE CASCADE,
	comp_vendor_id TEXT NOT NULL REFERENCES vendors(id) ON DELETE CASCADE,
	version        INTEGER NOT NULL DEFAULT 1,
	status         TEXT NOT NULL,
	created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_compare_runs_org_created ON compare_runs(org_id, created_at);

CREATE TABLE IF NOT EXISTS compare_rows (
	id                TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL REFERENCES compare_runs(id) ON DELETE CASCADE,
	metric            TEXT NOT NULL,
	you_text          TEXT NOT NULL DEFAULT '',
	comp_text         TEXT NOT NULL DEFAULT '',
	you_citations     TEXT NOT NULL DEFAULT '[]',
	comp_citations    TEXT NOT NULL DEFAULT '[]',
	answer_score_you  REAL NOT NULL DEFAULT 0,
	answer_score_comp REAL NOT NULL DEFAULT 0,
	UNIQUE (run_id, metric)
);

CREATE TABLE IF NOT EXISTS update_events (
	id         TEXT PRIMARY KEY,
	org_id     TEXT NOT NULL,
	vendor_id  TEXT NOT NULL REFERENCES vendors(id) ON DELETE CASCADE,
	metric     TEXT NOT NULL,
	type       TEXT NOT NULL,
	old_value  TEXT NOT NULL DEFAULT '',
	new_value  TEXT NOT NULL DEFAULT '',
	severity   INTEGER NOT NULL CHECK (severity BETWEEN 1 AND 3),
	source_ids TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_update_events_org_vendor ON update_events(org_id, vendor_id, created_at);

CREATE TABLE IF NOT EXISTS run_locks (
	org_id      TEXT PRIMARY KEY,
	acquired_at INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	liteVendorUpsert = mustUpsert(vendorUpsert, db.Question)
	liteFactUpsert   = mustUpsert(factUpsert, db.Question)
	liteLockUpsert   = mustUpsert(lockUpsert, db.Question) + ` WHERE "run_locks"."expires_at" <= excluded."acquired_at"`
)

func liteTime(t time.Time) any { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

const liteVendorColumns = `id, org_id, name, website, official_site_confidence, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanLiteVendor(row scanner) (*model.Vendor, error) {
	var v model.Vendor
	var website sql.NullString
	var created, updated int64
	if err := row.Scan(&v.ID, &v.OrgID, &v.Name, &website, &v.OfficialSiteConfidence, &created, &updated); err != nil {
		return nil, err
	}
	if website.Valid {
		w := website.String
		v.Website = &w
	}
	v.CreatedAt = fromNanos(created)
	v.UpdatedAt = fromNanos(updated)
	return &v, nil
}

func (s *SQLiteStore) FindVendorByName(ctx context.Context, orgID, name string) (*model.Vendor, error) {
	v, err := scanLiteVendor(s.db.QueryRowContext(ctx,
		`SELECT `+liteVendorColumns+` FROM vendors WHERE org_id = ? AND name_key = ?`,
		orgID, NameKey(name),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find vendor by name")
	}
	return v, nil
}

func (s *SQLiteStore) GetVendor(ctx context.Context, orgID, vendorID string) (*model.Vendor, error) {
	v, err := scanLiteVendor(s.db.QueryRowContext(ctx,
		`SELECT `+liteVendorColumns+` FROM vendors WHERE id = ? AND org_id = ?`,
		vendorID, orgID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get vendor %s", vendorID)
	}
	return v, nil
}

func (s *SQLiteStore) SaveVendor(ctx context.Context, v *model.Vendor) error {
	now := time.Now().UTC()
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	var website sql.NullString
	if v.Website != nil {
		website = sql.NullString{String: *v.Website, Valid: true}
	}

	var created int64
	err := s.db.QueryRowContext(ctx, liteVendorUpsert,
		v.ID, v.OrgID, v.Name, NameKey(v.Name), website, v.OfficialSiteConfidence, liteTime(v.CreatedAt), liteTime(v.UpdatedAt),
	).Scan(&v.ID, &created)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save vendor %s", v.Name)
	}
	v.CreatedAt = fromNanos(created)
	return nil
}

func (s *SQLiteStore) ListVendors(ctx context.Context, orgID string) ([]model.Vendor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+liteVendorColumns+` FROM vendors WHERE org_id = ? ORDER BY name`, orgID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list vendors")
	}
	defer rows.Close()

	var out []model.Vendor
	for rows.Next() {
		v, err := scanLiteVendor(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan vendor")
		}
		out = append(out, *v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list vendors iterate")
}

func (s *SQLiteStore) SaveSource(ctx context.Context, src *model.Source) (string, error) {
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	if src.FetchedAt.IsZero() {
		src.FetchedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, org_id, vendor_id, metric, url, title, body_hash, fetched_at, trust_tier, first_party)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.OrgID, src.VendorID, string(src.Metric), src.URL, src.Title, src.BodyHash, liteTime(src.FetchedAt), src.TrustTier, src.FirstParty,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert source %s", src.URL)
	}
	return src.ID, nil
}

func (s *SQLiteStore) LatestSource(ctx context.Context, vendorID string, lane model.Lane, since time.Time) (*model.Source, error) {
	var src model.Source
	var metric string
	var fetched int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, vendor_id, metric, url, title, body_hash, fetched_at, trust_tier, first_party
		 FROM sources WHERE vendor_id = ? AND metric = ? AND fetched_at >= ?
		 ORDER BY fetched_at DESC LIMIT 1`,
		vendorID, string(lane), liteTime(since),
	).Scan(&src.ID, &src.OrgID, &src.VendorID, &metric, &src.URL, &src.Title, &src.BodyHash, &fetched, &src.TrustTier, &src.FirstParty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest source")
	}
	src.Metric = model.Lane(metric)
	src.FetchedAt = fromNanos(fetched)
	return &src, nil
}

func (s *SQLiteStore) UpsertFact(ctx context.Context, f *model.Fact) (string, error) {
	row, err := factRow(f, liteTime)
	if err != nil {
		return "", err
	}
	// value_json and citations are TEXT columns here.
	row[6] = string(row[6].([]byte))
	row[8] = string(row[8].([]byte))

	var id string
	if err := s.db.QueryRowContext(ctx, liteFactUpsert, row...).Scan(&id); err != nil {
		return "", eris.Wrapf(err, "sqlite: upsert fact %s/%s", f.Subject, f.Key)
	}
	f.ID = id
	return id, nil
}

const liteFactColumns = `id, org_id, vendor_id, metric, subject, fact_key, value_json, text_summary, citations, confidence, first_seen_at, last_seen_at`

func scanLiteFact(row scanner) (*model.Fact, error) {
	var f model.Fact
	var metric, citations string
	var value sql.NullString
	var first, last int64
	if err := row.Scan(&f.ID, &f.OrgID, &f.VendorID, &metric, &f.Subject, &f.Key, &value, &f.TextSummary, &citations, &f.Confidence, &first, &last); err != nil {
		return nil, err
	}
	f.Metric = model.Lane(metric)
	if value.Valid {
		f.Value = []byte(value.String)
	}
	f.Citations = decodeCitations([]byte(citations))
	f.FirstSeenAt = fromNanos(first)
	f.LastSeenAt = fromNanos(last)
	return &f, nil
}

func (s *SQLiteStore) GetFact(ctx context.Context, key model.FactKey) (*model.Fact, error) {
	f, err := scanLiteFact(s.db.QueryRowContext(ctx,
		`SELECT `+liteFactColumns+` FROM facts
		 WHERE org_id = ? AND vendor_id = ? AND metric = ? AND subject = ? AND fact_key = ?`,
		key.OrgID, key.VendorID, string(key.Metric), key.Subject, key.Key,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get fact")
	}
	return f, nil
}

func (s *SQLiteStore) GetFactsByMetric(ctx context.Context, orgID, vendorID string, metric model.Lane) ([]model.Fact, error) {
	return s.GetFactsByLanes(ctx, orgID, vendorID, []model.Lane{metric})
}

func (s *SQLiteStore) GetFactsByLanes(ctx context.Context, orgID, vendorID string, lanes []model.Lane) ([]model.Fact, error) {
	if orgID == "" || vendorID == "" {
		return nil, eris.New("sqlite: fact reads require org and vendor")
	}
	out := []model.Fact{}
	if len(lanes) == 0 {
		return out, nil
	}

	args := []any{orgID, vendorID}
	in := ""
	for i, l := range lanes {
		if i > 0 {
			in += ", "
		}
		in += "?"
		args = append(args, string(l))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+liteFactColumns+` FROM facts
		 WHERE org_id = ? AND vendor_id = ? AND metric IN (`+in+`)
		 ORDER BY metric, confidence DESC, subject, fact_key`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get facts")
	}
	defer rows.Close()

	for rows.Next() {
		f, err := scanLiteFact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fact")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get facts iterate")
}

func (s *SQLiteStore) CountCompareRuns(ctx context.Context, orgID, youVendorID, compVendorID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM compare_runs WHERE org_id = ? AND you_vendor_id = ? AND comp_vendor_id = ?`,
		orgID, youVendorID, compVendorID,
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count compare runs")
}

func (s *SQLiteStore) CreateCompareRun(ctx context.Context, run *model.CompareRun, rows []model.CompareRow) error {
	prepareRun(run, rows)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin compare run tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO compare_runs (id, org_id, you_vendor_id, comp_vendor_id, version, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.OrgID, run.YouVendorID, run.CompVendorID, run.Version, string(run.Status), liteTime(run.CreatedAt),
	); err != nil {
		return eris.Wrap(err, "sqlite: insert compare run")
	}

	for _, r := range rows {
		youCites, err := encodeStrings(r.YouCitations)
		if err != nil {
			return err
		}
		compCites, err := encodeStrings(r.CompCitations)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO compare_rows (id, run_id, metric, you_text, comp_text, you_citations, comp_citations, answer_score_you, answer_score_comp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, run.ID, string(r.Metric), r.YouText, r.CompText, string(youCites), string(compCites), r.AnswerScoreYou, r.AnswerScoreComp,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert compare row %s", r.Metric)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit compare run")
}

const liteRunColumns = `id, org_id, you_vendor_id, comp_vendor_id, version, status, created_at`

func scanLiteRun(row scanner) (*model.CompareRun, error) {
	var r model.CompareRun
	var status string
	var created int64
	if err := row.Scan(&r.ID, &r.OrgID, &r.YouVendorID, &r.CompVendorID, &r.Version, &status, &created); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	r.CreatedAt = fromNanos(created)
	return &r, nil
}

func (s *SQLiteStore) GetCompareRun(ctx context.Context, orgID, runID string) (*model.CompareRunDetail, error) {
	run, err := scanLiteRun(s.db.QueryRowContext(ctx,
		`SELECT `+liteRunColumns+` FROM compare_runs WHERE id = ? AND org_id = ?`,
		runID, orgID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get compare run %s", runID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, metric, you_text, comp_text, you_citations, comp_citations, answer_score_you, answer_score_comp
		 FROM compare_rows WHERE run_id = ?`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get compare rows")
	}
	defer rows.Close()

	detail := &model.CompareRunDetail{Run: *run, Rows: []model.CompareRow{}}
	for rows.Next() {
		var r model.CompareRow
		var metric, youCites, compCites string
		if err := rows.Scan(&r.ID, &r.RunID, &metric, &r.YouText, &r.CompText, &youCites, &compCites, &r.AnswerScoreYou, &r.AnswerScoreComp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan compare row")
		}
		r.Metric = model.Lane(metric)
		r.YouCitations = decodeCitations([]byte(youCites))
		r.CompCitations = decodeCitations([]byte(compCites))
		detail.Rows = append(detail.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: compare rows iterate")
	}
	sortRows(detail.Rows)
	return detail, nil
}

func (s *SQLiteStore) ListCompareRuns(ctx context.Context, orgID string, limit int) ([]model.CompareRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+liteRunColumns+` FROM compare_runs WHERE org_id = ? ORDER BY created_at DESC LIMIT ?`,
		orgID, normalizeLimit(limit, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list compare runs")
	}
	defer rows.Close()

	out := []model.CompareRun{}
	for rows.Next() {
		r, err := scanLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan compare run")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list compare runs iterate")
}

func (s *SQLiteStore) InsertUpdateEvent(ctx context.Context, e *model.UpdateEvent) error {
	prepareEvent(e)
	sourceIDs, err := encodeStrings(e.SourceIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO update_events (id, org_id, vendor_id, metric, type, old_value, new_value, severity, source_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OrgID, e.VendorID, string(e.Metric), string(e.Type), e.Old, e.New, e.Severity, string(sourceIDs), liteTime(e.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert update event")
}

func (s *SQLiteStore) ListUpdateEvents(ctx context.Context, orgID, vendorID string, limit int) ([]model.UpdateEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, vendor_id, metric, type, old_value, new_value, severity, source_ids, created_at
		 FROM update_events WHERE org_id = ? AND vendor_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		orgID, vendorID, normalizeLimit(limit, 100),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list update events")
	}
	defer rows.Close()

	out := []model.UpdateEvent{}
	for rows.Next() {
		var e model.UpdateEvent
		var metric, typ, sourceIDs string
		var created int64
		if err := rows.Scan(&e.ID, &e.OrgID, &e.VendorID, &metric, &typ, &e.Old, &e.New, &e.Severity, &sourceIDs, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan update event")
		}
		e.Metric = model.Lane(metric)
		e.Type = model.UpdateEventType(typ)
		e.SourceIDs = decodeCitations([]byte(sourceIDs))
		e.CreatedAt = fromNanos(created)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list update events iterate")
}

func (s *SQLiteStore) AcquireRunLock(ctx context.Context, orgID string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, liteLockUpsert, orgID, liteTime(now), liteTime(now.Add(ttl)))
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: acquire run lock %s", orgID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: run lock rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseRunLock(ctx context.Context, orgID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_locks WHERE org_id = ?`, orgID)
	return eris.Wrapf(err, "sqlite: release run lock %s", orgID)
}
