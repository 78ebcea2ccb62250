package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/db"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id                       TEXT PRIMARY KEY,
	org_id                   TEXT NOT NULL,
	name                     TEXT NOT NULL,
	name_key                 TEXT NOT NULL,
	website                  TEXT,
	official_site_confidence INTEGER NOT NULL DEFAULT 0,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	fetched_at  TIMESTAMPTZ NOT NULL,
	trust_tier  INTEGER NOT NULL DEFAULT 1,
	first_party BOOLEAN NOT NULL DEFAULT true
);

CREATE INDEX IF NOT EXISTS idx_sources_vendor_metric_fetched ON sources(vendor_id, metric, fetched_at DESC);

CREATE TABLE IF NOT EXISTS facts (
	id            TEXT PRIMARY KEY,
	org_id        TEXT NOT NULL,
	vendor_id     TEXT NOT NULL REFERENCES vendors(id) ON DELETE CASCADE,
	metric        TEXT NOT NULL,
	subject       TEXT NOT NULL,
	fact_key      TEXT NOT NULL,
	value_json    JSONB,
	text_summary  TEXT NOT NULL DEFAULT '',
	citations     JSONB NOT NULL DEFAULT '[]',
	confidence    DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	first_seen_at TIMESTAMPTZ NOT NULL,
	last_seen_at  TIMESTAMPTZ NOT NULL,
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
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_compare_runs_org_created ON compare_runs(org_id, created_at DESC);

CREATE TABLE IF NOT EXISTS compare_rows (
	id                TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL REFERENCES compare_runs(id) ON DELETE CASCADE,
	metric            TEXT NOT NULL,
	you_text          TEXT NOT NULL DEFAULT '',
	comp_text         TEXT NOT NULL DEFAULT '',
	you_citations     JSONB NOT NULL DEFAULT '[]',
	comp_citations    JSONB NOT NULL DEFAULT '[]',
	answer_score_you  DOUBLE PRECISION NOT NULL DEFAULT 0,
	answer_score_comp DOUBLE PRECISION NOT NULL DEFAULT 0,
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
	source_ids JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_update_events_org_vendor ON update_events(org_id, vendor_id, created_at DESC);

CREATE TABLE IF NOT EXISTS run_locks (
	org_id      TEXT PRIMARY KEY,
	acquired_at TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var (
	pgVendorUpsert = mustUpsert(vendorUpsert, db.Dollar)
	pgFactUpsert   = mustUpsert(factUpsert, db.Dollar)
	pgLockUpsert   = mustUpsert(lockUpsert, db.Dollar) + ` WHERE "run_locks"."expires_at" <= EXCLUDED."acquired_at"`
)

const pgVendorColumns = `id, org_id, name, website, official_site_confidence, created_at, updated_at`

func scanPgVendor(row pgx.Row) (*model.Vendor, error) {
	var v model.Vendor
	if err := row.Scan(&v.ID, &v.OrgID, &v.Name, &v.Website, &v.OfficialSiteConfidence, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PostgresStore) FindVendorByName(ctx context.Context, orgID, name string) (*model.Vendor, error) {
	v, err := scanPgVendor(s.pool.QueryRow(ctx,
		`SELECT `+pgVendorColumns+` FROM vendors WHERE org_id = $1 AND name_key = $2`,
		orgID, NameKey(name),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find vendor by name")
	}
	return v, nil
}

func (s *PostgresStore) GetVendor(ctx context.Context, orgID, vendorID string) (*model.Vendor, error) {
	v, err := scanPgVendor(s.pool.QueryRow(ctx,
		`SELECT `+pgVendorColumns+` FROM vendors WHERE id = $1 AND org_id = $2`,
		vendorID, orgID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get vendor %s", vendorID)
	}
	return v, nil
}

func (s *PostgresStore) SaveVendor(ctx context.Context, v *model.Vendor) error {
	now := time.Now().UTC()
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	err := s.pool.QueryRow(ctx, pgVendorUpsert,
		v.ID, v.OrgID, v.Name, NameKey(v.Name), v.Website, v.OfficialSiteConfidence, v.CreatedAt, v.UpdatedAt,
	).Scan(&v.ID, &v.CreatedAt)
	return eris.Wrapf(err, "postgres: save vendor %s", v.Name)
}

func (s *PostgresStore) ListVendors(ctx context.Context, orgID string) ([]model.Vendor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgVendorColumns+` FROM vendors WHERE org_id = $1 ORDER BY name`, orgID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list vendors")
	}
	defer rows.Close()

	var out []model.Vendor
	for rows.Next() {
		v, err := scanPgVendor(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan vendor")
		}
		out = append(out, *v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list vendors iterate")
}

func (s *PostgresStore) SaveSource(ctx context.Context, src *model.Source) (string, error) {
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	if src.FetchedAt.IsZero() {
		src.FetchedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (id, org_id, vendor_id, metric, url, title, body_hash, fetched_at, trust_tier, first_party)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		src.ID, src.OrgID, src.VendorID, string(src.Metric), src.URL, src.Title, src.BodyHash, src.FetchedAt, src.TrustTier, src.FirstParty,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert source %s", src.URL)
	}
	return src.ID, nil
}

func (s *PostgresStore) LatestSource(ctx context.Context, vendorID string, lane model.Lane, since time.Time) (*model.Source, error) {
	var src model.Source
	var metric string
	err := s.pool.QueryRow(ctx,
		`SELECT id, org_id, vendor_id, metric, url, title, body_hash, fetched_at, trust_tier, first_party
		 FROM sources WHERE vendor_id = $1 AND metric = $2 AND fetched_at >= $3
		 ORDER BY fetched_at DESC LIMIT 1`,
		vendorID, string(lane), since,
	).Scan(&src.ID, &src.OrgID, &src.VendorID, &metric, &src.URL, &src.Title, &src.BodyHash, &src.FetchedAt, &src.TrustTier, &src.FirstParty)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest source")
	}
	src.Metric = model.Lane(metric)
	return &src, nil
}

func (s *PostgresStore) UpsertFact(ctx context.Context, f *model.Fact) (string, error) {
	row, err := factRow(f, pgTime)
	if err != nil {
		return "", err
	}

	var id string
	if err := s.pool.QueryRow(ctx, pgFactUpsert, row...).Scan(&id); err != nil {
		return "", eris.Wrapf(err, "postgres: upsert fact %s/%s", f.Subject, f.Key)
	}
	f.ID = id
	return id, nil
}

func pgTime(t time.Time) any { return t.UTC() }

const pgFactColumns = `id, org_id, vendor_id, metric, subject, fact_key, value_json, text_summary, citations, confidence, first_seen_at, last_seen_at`

func scanPgFact(row pgx.Row) (*model.Fact, error) {
	var f model.Fact
	var metric string
	var value, citations []byte
	if err := row.Scan(&f.ID, &f.OrgID, &f.VendorID, &metric, &f.Subject, &f.Key, &value, &f.TextSummary, &citations, &f.Confidence, &f.FirstSeenAt, &f.LastSeenAt); err != nil {
		return nil, err
	}
	f.Metric = model.Lane(metric)
	f.Value = value
	f.Citations = decodeCitations(citations)
	return &f, nil
}

func (s *PostgresStore) GetFact(ctx context.Context, key model.FactKey) (*model.Fact, error) {
	f, err := scanPgFact(s.pool.QueryRow(ctx,
		`SELECT `+pgFactColumns+` FROM facts
		 WHERE org_id = $1 AND vendor_id = $2 AND metric = $3 AND subject = $4 AND fact_key = $5`,
		key.OrgID, key.VendorID, string(key.Metric), key.Subject, key.Key,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get fact")
	}
	return f, nil
}

func (s *PostgresStore) GetFactsByMetric(ctx context.Context, orgID, vendorID string, metric model.Lane) ([]model.Fact, error) {
	return s.GetFactsByLanes(ctx, orgID, vendorID, []model.Lane{metric})
}

func (s *PostgresStore) GetFactsByLanes(ctx context.Context, orgID, vendorID string, lanes []model.Lane) ([]model.Fact, error) {
	if orgID == "" || vendorID == "" {
		return nil, eris.New("postgres: fact reads require org and vendor")
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgFactColumns+` FROM facts
		 WHERE org_id = $1 AND vendor_id = $2 AND metric = ANY($3)
		 ORDER BY metric, confidence DESC, subject, fact_key`,
		orgID, vendorID, laneStrings(lanes),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get facts")
	}
	defer rows.Close()

	out := []model.Fact{}
	for rows.Next() {
		f, err := scanPgFact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan fact")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get facts iterate")
}

func (s *PostgresStore) CountCompareRuns(ctx context.Context, orgID, youVendorID, compVendorID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM compare_runs WHERE org_id = $1 AND you_vendor_id = $2 AND comp_vendor_id = $3`,
		orgID, youVendorID, compVendorID,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count compare runs")
}

func (s *PostgresStore) CreateCompareRun(ctx context.Context, run *model.CompareRun, rows []model.CompareRow) error {
	prepareRun(run, rows)

	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO compare_runs (id, org_id, you_vendor_id, comp_vendor_id, version, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			run.ID, run.OrgID, run.YouVendorID, run.CompVendorID, run.Version, string(run.Status), run.CreatedAt,
		); err != nil {
			return eris.Wrap(err, "insert run")
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
			if _, err := tx.Exec(ctx,
				`INSERT INTO compare_rows (id, run_id, metric, you_text, comp_text, you_citations, comp_citations, answer_score_you, answer_score_comp)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				r.ID, run.ID, string(r.Metric), r.YouText, r.CompText, youCites, compCites, r.AnswerScoreYou, r.AnswerScoreComp,
			); err != nil {
				return eris.Wrapf(err, "insert row %s", r.Metric)
			}
		}
		return nil
	})
	return eris.Wrap(err, "postgres: create compare run")
}

const pgRunColumns = `id, org_id, you_vendor_id, comp_vendor_id, version, status, created_at`

func scanPgRun(row pgx.Row) (*model.CompareRun, error) {
	var r model.CompareRun
	var status string
	if err := row.Scan(&r.ID, &r.OrgID, &r.YouVendorID, &r.CompVendorID, &r.Version, &status, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	return &r, nil
}

func (s *PostgresStore) GetCompareRun(ctx context.Context, orgID, runID string) (*model.CompareRunDetail, error) {
	run, err := scanPgRun(s.pool.QueryRow(ctx,
		`SELECT `+pgRunColumns+` FROM compare_runs WHERE id = $1 AND org_id = $2`,
		runID, orgID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get compare run %s", runID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, metric, you_text, comp_text, you_citations, comp_citations, answer_score_you, answer_score_comp
		 FROM compare_rows WHERE run_id = $1`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get compare rows")
	}
	defer rows.Close()

	detail := &model.CompareRunDetail{Run: *run, Rows: []model.CompareRow{}}
	for rows.Next() {
		var r model.CompareRow
		var metric string
		var youCites, compCites []byte
		if err := rows.Scan(&r.ID, &r.RunID, &metric, &r.YouText, &r.CompText, &youCites, &compCites, &r.AnswerScoreYou, &r.AnswerScoreComp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan compare row")
		}
		r.Metric = model.Lane(metric)
		r.YouCitations = decodeCitations(youCites)
		r.CompCitations = decodeCitations(compCites)
		detail.Rows = append(detail.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: compare rows iterate")
	}
	sortRows(detail.Rows)
	return detail, nil
}

func (s *PostgresStore) ListCompareRuns(ctx context.Context, orgID string, limit int) ([]model.CompareRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgRunColumns+` FROM compare_runs WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2`,
		orgID, normalizeLimit(limit, 50),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list compare runs")
	}
	defer rows.Close()

	out := []model.CompareRun{}
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan compare run")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list compare runs iterate")
}

func (s *PostgresStore) InsertUpdateEvent(ctx context.Context, e *model.UpdateEvent) error {
	prepareEvent(e)
	sourceIDs, err := encodeStrings(e.SourceIDs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO update_events (id, org_id, vendor_id, metric, type, old_value, new_value, severity, source_ids, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.OrgID, e.VendorID, string(e.Metric), string(e.Type), e.Old, e.New, e.Severity, sourceIDs, e.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert update event")
}

func (s *PostgresStore) ListUpdateEvents(ctx context.Context, orgID, vendorID string, limit int) ([]model.UpdateEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, org_id, vendor_id, metric, type, old_value, new_value, severity, source_ids, created_at
		 FROM update_events WHERE org_id = $1 AND vendor_id = $2
		 ORDER BY created_at DESC LIMIT $3`,
		orgID, vendorID, normalizeLimit(limit, 100),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list update events")
	}
	defer rows.Close()

	out := []model.UpdateEvent{}
	for rows.Next() {
		var e model.UpdateEvent
		var metric, typ string
		var sourceIDs []byte
		if err := rows.Scan(&e.ID, &e.OrgID, &e.VendorID, &metric, &typ, &e.Old, &e.New, &e.Severity, &sourceIDs, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan update event")
		}
		e.Metric = model.Lane(metric)
		e.Type = model.UpdateEventType(typ)
		e.SourceIDs = decodeCitations(sourceIDs)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list update events iterate")
}

func (s *PostgresStore) AcquireRunLock(ctx context.Context, orgID string, now time.Time, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, pgLockUpsert, orgID, now.UTC(), now.UTC().Add(ttl))
	if err != nil {
		return false, eris.Wrapf(err, "postgres: acquire run lock %s", orgID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseRunLock(ctx context.Context, orgID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM run_locks WHERE org_id = $1`, orgID)
	return eris.Wrapf(err, "postgres: release run lock %s", orgID)
}
