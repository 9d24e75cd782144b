package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/terrametric/carbon-cli/internal/events"
	"github.com/terrametric/carbon-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs the
// local CLI workflow; the server deployment uses Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqldb.Exec(pragma); err != nil {
			sqldb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqldb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS materials (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	category    TEXT NOT NULL,
	subcategory TEXT NOT NULL DEFAULT '',
	unit        TEXT NOT NULL,
	factor      REAL NOT NULL CHECK (factor >= 0),
	source      TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL DEFAULT '',
	region      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_materials_category ON materials(category);
CREATE INDEX IF NOT EXISTS idx_materials_category_unit ON materials(category, unit);

CREATE TABLE IF NOT EXISTS calculation_records (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	inputs     TEXT NOT NULL,
	totals     TEXT NOT NULL,
	compliance TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_project ON calculation_records(project_id);
CREATE INDEX IF NOT EXISTS idx_records_created ON calculation_records(created_at DESC);

CREATE TABLE IF NOT EXISTS import_events (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	project_id TEXT NOT NULL DEFAULT '',
	details    TEXT,
	created_at DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertMaterials inserts or replaces catalog entries one statement per
// row inside a transaction. SQLite has no COPY protocol; volumes on the
// local path are small enough for this.
func (s *SQLiteStore) UpsertMaterials(ctx context.Context, materials []model.ReferenceMaterial) (int64, error) {
	if len(materials) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO materials (id, name, category, subcategory, unit, factor, source, state, region)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, category = excluded.category,
			subcategory = excluded.subcategory, unit = excluded.unit,
			factor = excluded.factor, source = excluded.source,
			state = excluded.state, region = excluded.region`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	var n int64
	for _, m := range materials {
		if _, err := stmt.ExecContext(ctx, m.ID, m.Name, m.Category, m.Subcategory, m.Unit, m.Factor, m.Source, m.State, m.Region); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert material %s", m.ID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert")
	}
	return n, nil
}

func (s *SQLiteStore) ListMaterials(ctx context.Context, filter MaterialFilter) ([]model.ReferenceMaterial, error) {
	query := `SELECT id, name, category, subcategory, unit, factor, source, state, region FROM materials WHERE 1=1`
	var args []any

	if filter.Category != "" {
		query += ` AND lower(category) = lower(?)`
		args = append(args, filter.Category)
	}
	if filter.State != "" {
		query += ` AND (state = '' OR upper(state) = upper(?))`
		args = append(args, filter.State)
	}
	query += ` ORDER BY category, name, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list materials")
	}
	defer rows.Close()

	return scanMaterials(rows)
}

func (s *SQLiteStore) AllMaterials(ctx context.Context) ([]model.ReferenceMaterial, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, category, subcategory, unit, factor, source, state, region FROM materials ORDER BY category, name, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: all materials")
	}
	defer rows.Close()

	return scanMaterials(rows)
}

func (s *SQLiteStore) CountMaterials(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM materials`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count materials")
}

func (s *SQLiteStore) CreateRecord(ctx context.Context, rec model.CalculationRecord) (*model.CalculationRecord, error) {
	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now().UTC()

	inputsJSON, err := json.Marshal(rec.Inputs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal inputs")
	}
	totalsJSON, err := json.Marshal(rec.Totals)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal totals")
	}
	var complianceJSON sql.NullString
	if rec.Compliance != nil {
		b, err := json.Marshal(rec.Compliance)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal compliance")
		}
		complianceJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO calculation_records (id, project_id, user_id, inputs, totals, compliance, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProjectID, rec.UserID, string(inputsJSON), string(totalsJSON), complianceJSON, rec.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert record")
	}
	return &rec, nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.CalculationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, user_id, inputs, totals, compliance, created_at FROM calculation_records WHERE id = ?`,
		id,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: record %s", id)
	}
	return rec, err
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.CalculationRecord, error) {
	query := `SELECT id, project_id, user_id, inputs, totals, compliance, created_at FROM calculation_records WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var out []model.CalculationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) RecordImportEvent(ctx context.Context, ev events.Event) error {
	var detailsJSON sql.NullString
	if ev.Details != nil {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal event details")
		}
		detailsJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_events (id, type, user_id, project_id, details, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), string(ev.Type), ev.UserID, ev.ProjectID, detailsJSON, ev.Timestamp,
	)
	return eris.Wrap(err, "sqlite: insert event")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanMaterials(rows *sql.Rows) ([]model.ReferenceMaterial, error) {
	var out []model.ReferenceMaterial
	for rows.Next() {
		var m model.ReferenceMaterial
		if err := rows.Scan(&m.ID, &m.Name, &m.Category, &m.Subcategory, &m.Unit, &m.Factor, &m.Source, &m.State, &m.Region); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan material")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: materials iterate")
}

func scanRecord(row scannable) (*model.CalculationRecord, error) {
	var rec model.CalculationRecord
	var inputsJSON, totalsJSON string
	var complianceJSON sql.NullString

	err := row.Scan(&rec.ID, &rec.ProjectID, &rec.UserID, &inputsJSON, &totalsJSON, &complianceJSON, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}

	if err := json.Unmarshal([]byte(inputsJSON), &rec.Inputs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal inputs")
	}
	if err := json.Unmarshal([]byte(totalsJSON), &rec.Totals); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal totals")
	}
	if complianceJSON.Valid {
		if err := json.Unmarshal([]byte(complianceJSON.String), &rec.Compliance); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal compliance")
		}
	}
	return &rec, nil
}
