package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/terrametric/carbon-cli/internal/db"
	"github.com/terrametric/carbon-cli/internal/events"
	"github.com/terrametric/carbon-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_record":    `SELECT id, project_id, user_id, inputs, totals, compliance, created_at FROM calculation_records WHERE id = $1`,
	"insert_record": `INSERT INTO calculation_records (id, project_id, user_id, inputs, totals, compliance, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"insert_event":  `INSERT INTO import_events (id, type, user_id, project_id, details, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"count_materials": `SELECT count(*) FROM materials`,
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

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// NewPostgresFromPool wraps an existing pool; tests inject pgxmock here.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (the bulk catalog load).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS materials (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	category    TEXT NOT NULL,
	subcategory TEXT NOT NULL DEFAULT '',
	unit        TEXT NOT NULL,
	factor      DOUBLE PRECISION NOT NULL CHECK (factor >= 0),
	source      TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL DEFAULT '',
	region      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_materials_category ON materials(category);
CREATE INDEX IF NOT EXISTS idx_materials_category_unit ON materials(category, unit);
CREATE INDEX IF NOT EXISTS idx_materials_state ON materials(state);

CREATE TABLE IF NOT EXISTS calculation_records (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	inputs     JSONB NOT NULL,
	totals     JSONB NOT NULL,
	compliance JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_records_project ON calculation_records(project_id);
CREATE INDEX IF NOT EXISTS idx_records_user ON calculation_records(user_id);
CREATE INDEX IF NOT EXISTS idx_records_created ON calculation_records(created_at DESC);

CREATE TABLE IF NOT EXISTS import_events (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	project_id TEXT NOT NULL DEFAULT '',
	details    JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_import_events_user ON import_events(user_id);
CREATE INDEX IF NOT EXISTS idx_import_events_created ON import_events(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var materialColumns = []string{"id", "name", "category", "subcategory", "unit", "factor", "source", "state", "region"}

// UpsertMaterials bulk-loads catalog entries, replacing rows whose ID
// already exists. Used by the admin import path only. An empty table
// takes the plain COPY path: nothing can collide, so the temp-table
// round trip is skipped.
func (s *PostgresStore) UpsertMaterials(ctx context.Context, materials []model.ReferenceMaterial) (int64, error) {
	if len(materials) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(materials))
	for _, m := range materials {
		rows = append(rows, []any{m.ID, m.Name, m.Category, m.Subcategory, m.Unit, m.Factor, m.Source, m.State, m.Region})
	}

	count, err := s.CountMaterials(ctx)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return db.CopyFrom(ctx, s.pool, "materials", materialColumns, rows)
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "materials",
		Columns:      materialColumns,
		ConflictKeys: []string{"id"},
	}, rows)
}

func (s *PostgresStore) ListMaterials(ctx context.Context, filter MaterialFilter) ([]model.ReferenceMaterial, error) {
	query := `SELECT id, name, category, subcategory, unit, factor, source, state, region FROM materials WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Category != "" {
		query += fmt.Sprintf(` AND lower(category) = lower($%d)`, argIdx)
		args = append(args, filter.Category)
		argIdx++
	}
	if filter.State != "" {
		query += fmt.Sprintf(` AND (state = '' OR upper(state) = upper($%d))`, argIdx)
		args = append(args, filter.State)
		argIdx++
	}
	query += ` ORDER BY category, name, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list materials")
	}
	defer rows.Close()

	var out []model.ReferenceMaterial
	for rows.Next() {
		var m model.ReferenceMaterial
		if err := rows.Scan(&m.ID, &m.Name, &m.Category, &m.Subcategory, &m.Unit, &m.Factor, &m.Source, &m.State, &m.Region); err != nil {
			return nil, eris.Wrap(err, "postgres: scan material")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list materials iterate")
}

func (s *PostgresStore) AllMaterials(ctx context.Context) ([]model.ReferenceMaterial, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, category, subcategory, unit, factor, source, state, region FROM materials ORDER BY category, name, id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: all materials")
	}
	defer rows.Close()

	var out []model.ReferenceMaterial
	for rows.Next() {
		var m model.ReferenceMaterial
		if err := rows.Scan(&m.ID, &m.Name, &m.Category, &m.Subcategory, &m.Unit, &m.Factor, &m.Source, &m.State, &m.Region); err != nil {
			return nil, eris.Wrap(err, "postgres: scan material")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: all materials iterate")
}

func (s *PostgresStore) CountMaterials(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM materials`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count materials")
}

// CreateRecord persists an immutable calculation record. The stored row
// is never updated afterwards.
func (s *PostgresStore) CreateRecord(ctx context.Context, rec model.CalculationRecord) (*model.CalculationRecord, error) {
	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now().UTC()

	inputsJSON, err := json.Marshal(rec.Inputs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal inputs")
	}
	totalsJSON, err := json.Marshal(rec.Totals)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal totals")
	}
	var complianceJSON []byte
	if rec.Compliance != nil {
		complianceJSON, err = json.Marshal(rec.Compliance)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal compliance")
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO calculation_records (id, project_id, user_id, inputs, totals, compliance, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.ProjectID, rec.UserID, inputsJSON, totalsJSON, complianceJSON, rec.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert record")
	}
	return &rec, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.CalculationRecord, error) {
	var rec model.CalculationRecord
	var inputsJSON, totalsJSON []byte
	var complianceJSON *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, user_id, inputs, totals, compliance, created_at FROM calculation_records WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.ProjectID, &rec.UserID, &inputsJSON, &totalsJSON, &complianceJSON, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}

	if err := json.Unmarshal(inputsJSON, &rec.Inputs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal inputs")
	}
	if err := json.Unmarshal(totalsJSON, &rec.Totals); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal totals")
	}
	if complianceJSON != nil {
		if err := json.Unmarshal(*complianceJSON, &rec.Compliance); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal compliance")
		}
	}
	return &rec, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.CalculationRecord, error) {
	query := `SELECT id, project_id, user_id, inputs, totals, compliance, created_at FROM calculation_records WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ProjectID != "" {
		query += fmt.Sprintf(` AND project_id = $%d`, argIdx)
		args = append(args, filter.ProjectID)
		argIdx++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []model.CalculationRecord
	for rows.Next() {
		var rec model.CalculationRecord
		var inputsJSON, totalsJSON []byte
		var complianceJSON *[]byte

		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.UserID, &inputsJSON, &totalsJSON, &complianceJSON, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		if err := json.Unmarshal(inputsJSON, &rec.Inputs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal inputs")
		}
		if err := json.Unmarshal(totalsJSON, &rec.Totals); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal totals")
		}
		if complianceJSON != nil {
			if err := json.Unmarshal(*complianceJSON, &rec.Compliance); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal compliance")
			}
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

// RecordImportEvent appends one audit event to import_events.
func (s *PostgresStore) RecordImportEvent(ctx context.Context, ev events.Event) error {
	var detailsJSON []byte
	if ev.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(ev.Details)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal event details")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO import_events (id, type, user_id, project_id, details, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), string(ev.Type), ev.UserID, ev.ProjectID, detailsJSON, ev.Timestamp,
	)
	return eris.Wrap(err, "postgres: insert event")
}
