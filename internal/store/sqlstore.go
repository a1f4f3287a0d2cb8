package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/stratusmedia/cedrus/internal/cedruserr"
	"github.com/stratusmedia/cedrus/internal/model"
)

// schemaObjectID and projectObjectID are the fixed object_id values used for
// the two singleton rows a project owns directly, keeping every row in one
// generic (project_id, kind, object_id) table per spec.md §6.4.
const (
	projectObjectID = "_self"
	schemaObjectID  = "_self"
)

const ddl = `
CREATE TABLE IF NOT EXISTS cedrus_objects (
	project_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	object_id  TEXT NOT NULL,
	payload    BLOB NOT NULL,
	PRIMARY KEY (project_id, kind, object_id)
);
`

// dialect isolates the two syntactic differences between the SQLite and
// Postgres query text the teacher's own sqlite.go/postgres.go pair needed:
// positional placeholder style and the upsert clause.
type dialect struct {
	name   string
	upsert string // appended after INSERT ... VALUES (...) for WriteUpsert
}

var sqliteDialect = dialect{
	name:   "sqlite3",
	upsert: "ON CONFLICT(project_id, kind, object_id) DO UPDATE SET payload = excluded.payload",
}

var postgresDialect = dialect{
	name:   "postgres",
	upsert: "ON CONFLICT(project_id, kind, object_id) DO UPDATE SET payload = excluded.payload",
}

func phAt(d dialect, i int) string {
	if d.name == "postgres" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func phList(d dialect, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = phAt(d, i+1)
	}
	return strings.Join(parts, ", ")
}

// SQLStore is a database/sql-backed Store shared by the SQLite and Postgres
// drivers, the way the teacher keeps one query shape and swaps only the
// driver import and placeholder syntax between sqlite.go and postgres.go.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

// NewSQLite opens a SQLite-backed Store. WAL mode and foreign keys are
// enabled the same way the teacher's NewSQLite does.
func NewSQLite(dsn string) (*SQLStore, error) {
	if dsn == "" {
		dsn = "cedrus.db"
	}
	db, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite only supports one writer
	return newSQLStore(db, sqliteDialect)
}

// NewPostgres opens a Postgres-backed Store with the teacher's production
// pool defaults (25 max open, 10 idle, 15m lifetime).
func NewPostgres(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres store: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return newSQLStore(db, postgresDialect)
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLStore{db: db, d: d}, nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLStore) Close() error                   { return s.db.Close() }

func (s *SQLStore) get(ctx context.Context, projectID model.ProjectID, kind Kind, objectID string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT payload FROM cedrus_objects WHERE project_id = %s AND kind = %s AND object_id = %s`,
		phAt(s.d, 1), phAt(s.d, 2), phAt(s.d, 3))
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, projectID.String(), string(kind), objectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s/%s: %w", projectID, kind, objectID, err)
	}
	return payload, nil
}

func (s *SQLStore) put(ctx context.Context, projectID model.ProjectID, kind Kind, objectID string, payload []byte, mode WriteMode) error {
	if mode == WriteCreateOnly {
		existing, err := s.get(ctx, projectID, kind, objectID)
		if err != nil {
			return err
		}
		if existing != nil {
			return cedruserr.New(cedruserr.IdConflict, fmt.Sprintf("%s/%s/%s", projectID, kind, objectID))
		}
	}
	query := fmt.Sprintf(`INSERT INTO cedrus_objects (project_id, kind, object_id, payload) VALUES (%s) %s`,
		phList(s.d, 4), s.d.upsert)
	_, err := s.db.ExecContext(ctx, query, projectID.String(), string(kind), objectID, payload)
	if err != nil {
		return fmt.Errorf("writing %s/%s/%s: %w", projectID, kind, objectID, err)
	}
	return nil
}

func (s *SQLStore) delete(ctx context.Context, projectID model.ProjectID, kind Kind, objectID string) error {
	query := fmt.Sprintf(`DELETE FROM cedrus_objects WHERE project_id = %s AND kind = %s AND object_id = %s`,
		phAt(s.d, 1), phAt(s.d, 2), phAt(s.d, 3))
	_, err := s.db.ExecContext(ctx, query, projectID.String(), string(kind), objectID)
	return err
}

func (s *SQLStore) list(ctx context.Context, projectID model.ProjectID, kind Kind, limit int) ([][]byte, error) {
	query := fmt.Sprintf(`SELECT payload FROM cedrus_objects WHERE project_id = %s AND kind = %s ORDER BY object_id`,
		phAt(s.d, 1), phAt(s.d, 2))
	rows, err := s.db.QueryContext(ctx, query, projectID.String(), string(kind))
	if err != nil {
		return nil, fmt.Errorf("listing %s/%s: %w", projectID, kind, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		out = append(out, payload)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// listAllProjects scans every row of kind=project across all project ids,
// since projects are listed before their id is known to the caller.
func (s *SQLStore) listAllProjects(ctx context.Context, limit int) ([][]byte, error) {
	query := fmt.Sprintf(`SELECT payload FROM cedrus_objects WHERE kind = %s ORDER BY project_id`, phAt(s.d, 1))
	rows, err := s.db.QueryContext(ctx, query, string(kindProject))
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		out = append(out, payload)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

const kindProject Kind = "project"

func (s *SQLStore) ProjectGet(ctx context.Context, id model.ProjectID) (*model.Project, error) {
	payload, err := s.get(ctx, id, kindProject, projectObjectID)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, cedruserr.New(cedruserr.NoSuchProject, id.String())
	}
	p, err := decodeProject(payload)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLStore) ProjectList(ctx context.Context, _ string, limit int) (Page[model.Project], error) {
	rows, err := s.listAllProjects(ctx, limit)
	if err != nil {
		return Page[model.Project]{}, err
	}
	out := make([]model.Project, 0, len(rows))
	for _, raw := range rows {
		p, err := decodeProject(raw)
		if err != nil {
			return Page[model.Project]{}, err
		}
		out = append(out, p)
	}
	return Page[model.Project]{Items: out}, nil
}

func (s *SQLStore) ProjectPut(ctx context.Context, p model.Project, mode WriteMode) error {
	payload, err := encodeProject(p)
	if err != nil {
		return err
	}
	return s.put(ctx, p.ID, kindProject, projectObjectID, payload, mode)
}

func (s *SQLStore) ProjectDelete(ctx context.Context, id model.ProjectID) error {
	return s.delete(ctx, id, kindProject, projectObjectID)
}

func (s *SQLStore) SchemaGet(ctx context.Context, projectID model.ProjectID) ([]byte, error) {
	return s.get(ctx, projectID, KindSchema, schemaObjectID)
}

func (s *SQLStore) SchemaPut(ctx context.Context, projectID model.ProjectID, schema []byte) error {
	return s.put(ctx, projectID, KindSchema, schemaObjectID, schema, WriteUpsert)
}

func (s *SQLStore) EntitiesGet(ctx context.Context, projectID model.ProjectID, uids []model.EntityUID) ([]model.Entity, error) {
	out := make([]model.Entity, 0, len(uids))
	for _, u := range uids {
		payload, err := s.get(ctx, projectID, KindEntity, u.String())
		if err != nil {
			return nil, err
		}
		if payload == nil {
			continue
		}
		e, err := decodeEntity(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *SQLStore) EntitiesPut(ctx context.Context, projectID model.ProjectID, entities []model.Entity, mode WriteMode) error {
	for _, e := range entities {
		payload, err := encodeEntity(e)
		if err != nil {
			return err
		}
		if err := s.put(ctx, projectID, KindEntity, e.UID.String(), payload, mode); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) EntitiesDelete(ctx context.Context, projectID model.ProjectID, uids []model.EntityUID) error {
	for _, u := range uids {
		if err := s.delete(ctx, projectID, KindEntity, u.String()); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) EntitiesList(ctx context.Context, projectID model.ProjectID, _ string, limit int) (Page[model.Entity], error) {
	rows, err := s.list(ctx, projectID, KindEntity, limit)
	if err != nil {
		return Page[model.Entity]{}, err
	}
	out := make([]model.Entity, 0, len(rows))
	for _, raw := range rows {
		e, err := decodeEntity(raw)
		if err != nil {
			return Page[model.Entity]{}, err
		}
		out = append(out, e)
	}
	return Page[model.Entity]{Items: out}, nil
}

func (s *SQLStore) PoliciesGet(ctx context.Context, projectID model.ProjectID, ids []string) ([]model.Policy, error) {
	out := make([]model.Policy, 0, len(ids))
	for _, id := range ids {
		payload, err := s.get(ctx, projectID, KindPolicy, id)
		if err != nil {
			return nil, err
		}
		if payload == nil {
			continue
		}
		p, err := decodePolicy(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SQLStore) PoliciesPut(ctx context.Context, projectID model.ProjectID, policies []model.Policy, mode WriteMode) error {
	for _, p := range policies {
		payload, err := encodePolicy(p)
		if err != nil {
			return err
		}
		if err := s.put(ctx, projectID, KindPolicy, p.ID, payload, mode); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) PoliciesDelete(ctx context.Context, projectID model.ProjectID, ids []string) error {
	for _, id := range ids {
		if err := s.delete(ctx, projectID, KindPolicy, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) PoliciesList(ctx context.Context, projectID model.ProjectID, _ string, limit int) (Page[model.Policy], error) {
	rows, err := s.list(ctx, projectID, KindPolicy, limit)
	if err != nil {
		return Page[model.Policy]{}, err
	}
	out := make([]model.Policy, 0, len(rows))
	for _, raw := range rows {
		p, err := decodePolicy(raw)
		if err != nil {
			return Page[model.Policy]{}, err
		}
		out = append(out, p)
	}
	return Page[model.Policy]{Items: out}, nil
}

func (s *SQLStore) TemplatesGet(ctx context.Context, projectID model.ProjectID, ids []string) ([]model.Template, error) {
	out := make([]model.Template, 0, len(ids))
	for _, id := range ids {
		payload, err := s.get(ctx, projectID, KindTemplate, id)
		if err != nil {
			return nil, err
		}
		if payload == nil {
			continue
		}
		t, err := decodeTemplate(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *SQLStore) TemplatesPut(ctx context.Context, projectID model.ProjectID, templates []model.Template, mode WriteMode) error {
	for _, t := range templates {
		payload, err := encodeTemplate(t)
		if err != nil {
			return err
		}
		if err := s.put(ctx, projectID, KindTemplate, t.ID, payload, mode); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) TemplatesDelete(ctx context.Context, projectID model.ProjectID, ids []string) error {
	for _, id := range ids {
		if err := s.delete(ctx, projectID, KindTemplate, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) TemplatesList(ctx context.Context, projectID model.ProjectID, _ string, limit int) (Page[model.Template], error) {
	rows, err := s.list(ctx, projectID, KindTemplate, limit)
	if err != nil {
		return Page[model.Template]{}, err
	}
	out := make([]model.Template, 0, len(rows))
	for _, raw := range rows {
		t, err := decodeTemplate(raw)
		if err != nil {
			return Page[model.Template]{}, err
		}
		out = append(out, t)
	}
	return Page[model.Template]{Items: out}, nil
}

func (s *SQLStore) LinksGet(ctx context.Context, projectID model.ProjectID, ids []string) ([]model.TemplateLink, error) {
	out := make([]model.TemplateLink, 0, len(ids))
	for _, id := range ids {
		payload, err := s.get(ctx, projectID, KindLink, id)
		if err != nil {
			return nil, err
		}
		if payload == nil {
			continue
		}
		l, err := decodeLink(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *SQLStore) LinksPut(ctx context.Context, projectID model.ProjectID, links []model.TemplateLink, mode WriteMode) error {
	for _, l := range links {
		payload, err := encodeLink(l)
		if err != nil {
			return err
		}
		if err := s.put(ctx, projectID, KindLink, l.LinkID, payload, mode); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) LinksDelete(ctx context.Context, projectID model.ProjectID, ids []string) error {
	for _, id := range ids {
		if err := s.delete(ctx, projectID, KindLink, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) LinksList(ctx context.Context, projectID model.ProjectID, _ string, limit int) (Page[model.TemplateLink], error) {
	rows, err := s.list(ctx, projectID, KindLink, limit)
	if err != nil {
		return Page[model.TemplateLink]{}, err
	}
	out := make([]model.TemplateLink, 0, len(rows))
	for _, raw := range rows {
		l, err := decodeLink(raw)
		if err != nil {
			return Page[model.TemplateLink]{}, err
		}
		out = append(out, l)
	}
	return Page[model.TemplateLink]{Items: out}, nil
}

func (s *SQLStore) PurgeProject(ctx context.Context, id model.ProjectID) error {
	query := fmt.Sprintf(`DELETE FROM cedrus_objects WHERE project_id = %s`, phAt(s.d, 1))
	_, err := s.db.ExecContext(ctx, query, id.String())
	return err
}

var _ Store = (*SQLStore)(nil)
