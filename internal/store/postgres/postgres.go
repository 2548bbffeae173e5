package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/certpatrol/patrolmgr/internal/search"
	"github.com/certpatrol/patrolmgr/internal/store"
)

// DB implements store.Store for PostgreSQL via the pgx stdlib driver.

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects(
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS searches(
			id BIGSERIAL PRIMARY KEY,
			project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			pattern TEXT NOT NULL,
			ct_logs TEXT NULL,
			batch_size INTEGER NOT NULL,
			poll_sleep DOUBLE PRECISION NOT NULL,
			min_poll_sleep DOUBLE PRECISION NOT NULL,
			max_poll_sleep DOUBLE PRECISION NOT NULL,
			max_memory_mb INTEGER NOT NULL,
			etld1 BOOLEAN NOT NULL DEFAULT FALSE,
			verbose BOOLEAN NOT NULL DEFAULT FALSE,
			quiet_warnings BOOLEAN NOT NULL DEFAULT TRUE,
			quiet_parse_errors BOOLEAN NOT NULL DEFAULT FALSE,
			debug_all BOOLEAN NOT NULL DEFAULT FALSE,
			checkpoint_prefix TEXT NULL,
			status TEXT NOT NULL DEFAULT 'idle',
			pid INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_searches_project ON searches(project_id);`,
		`CREATE TABLE IF NOT EXISTS results(
			id BIGSERIAL PRIMARY KEY,
			search_id BIGINT NOT NULL REFERENCES searches(id) ON DELETE CASCADE,
			domain TEXT NOT NULL,
			discovered_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_results_search ON results(search_id);`,
		`CREATE INDEX IF NOT EXISTS idx_results_discovered ON results(discovered_at);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

// --- projects ---

func (p *DB) CreateProject(ctx context.Context, name, description string) (search.Project, error) {
	now := time.Now().UTC()
	var id int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO projects(name, description, created_at) VALUES($1,$2,$3) RETURNING id;`,
		name, description, now).Scan(&id)
	if err != nil {
		return search.Project{}, err
	}
	return search.Project{ID: id, Name: name, Description: description, CreatedAt: now}, nil
}

func (p *DB) GetProject(ctx context.Context, id int64) (search.Project, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.description, p.created_at,
		       (SELECT COUNT(*) FROM searches WHERE project_id=p.id)
		FROM projects p WHERE p.id=$1;`, id)
	return scanProject(row)
}

func (p *DB) GetProjectByName(ctx context.Context, name string) (search.Project, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.description, p.created_at,
		       (SELECT COUNT(*) FROM searches WHERE project_id=p.id)
		FROM projects p WHERE p.name=$1;`, name)
	return scanProject(row)
}

func (p *DB) ListProjects(ctx context.Context) ([]search.Project, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.created_at,
		       (SELECT COUNT(*) FROM searches WHERE project_id=p.id)
		FROM projects p ORDER BY p.created_at DESC;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]search.Project, 0)
	for rows.Next() {
		var pr search.Project
		if err := rows.Scan(&pr.ID, &pr.Name, &pr.Description, &pr.CreatedAt, &pr.SearchCount); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *DB) UpdateProject(ctx context.Context, id int64, name, description string) (search.Project, error) {
	_, err := p.db.ExecContext(ctx,
		`UPDATE projects SET name=$1, description=$2 WHERE id=$3;`, name, description, id)
	if err != nil {
		return search.Project{}, err
	}
	return p.GetProject(ctx, id)
}

func (p *DB) DeleteProject(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1;`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (p *DB) ProjectExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id=$1;`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// --- searches ---

func (p *DB) CreateSearch(ctx context.Context, projectID int64, name string, cfg search.Config) (search.Search, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return search.Search{}, err
	}
	logs, err := encodeCTLogs(cfg.CTLogs)
	if err != nil {
		return search.Search{}, err
	}
	now := time.Now().UTC()
	var id int64
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO searches(project_id, name, pattern, ct_logs, batch_size,
			poll_sleep, min_poll_sleep, max_poll_sleep, max_memory_mb,
			etld1, verbose, quiet_warnings, quiet_parse_errors, debug_all,
			checkpoint_prefix, status, pid, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,0,$17)
		RETURNING id;`,
		projectID, name, cfg.Pattern, logs, cfg.BatchSize,
		cfg.PollSleep, cfg.MinPollSleep, cfg.MaxPollSleep, cfg.MaxMemoryMB,
		cfg.ETLD1, cfg.Verbose, cfg.QuietWarnings, cfg.QuietParseErrors, cfg.DebugAll,
		nullString(cfg.CheckpointPrefix), string(search.StatusIdle), now).Scan(&id)
	if err != nil {
		return search.Search{}, err
	}
	return p.GetSearch(ctx, id)
}

const searchColumns = `s.id, s.project_id, s.name, s.pattern, s.ct_logs, s.batch_size,
	s.poll_sleep, s.min_poll_sleep, s.max_poll_sleep, s.max_memory_mb,
	s.etld1, s.verbose, s.quiet_warnings, s.quiet_parse_errors, s.debug_all,
	s.checkpoint_prefix, s.status, s.pid, s.created_at,
	(SELECT COUNT(*) FROM results WHERE search_id=s.id)`

func (p *DB) GetSearch(ctx context.Context, id int64) (search.Search, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+searchColumns+` FROM searches s WHERE s.id=$1;`, id)
	return scanSearch(row)
}

func (p *DB) ListSearches(ctx context.Context, projectID int64) ([]search.Search, error) {
	q := `SELECT ` + searchColumns + ` FROM searches s`
	args := []any{}
	if projectID > 0 {
		q += ` WHERE s.project_id=$1`
		args = append(args, projectID)
	}
	q += ` ORDER BY s.created_at DESC;`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]search.Search, 0)
	for rows.Next() {
		sr, err := scanSearch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (p *DB) DeleteSearch(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM searches WHERE id=$1;`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (p *DB) UpdateSearchStatus(ctx context.Context, id int64, status search.Status, pid int) error {
	var err error
	if pid < 0 {
		_, err = p.db.ExecContext(ctx,
			`UPDATE searches SET status=$1 WHERE id=$2;`, string(status), id)
	} else {
		_, err = p.db.ExecContext(ctx,
			`UPDATE searches SET status=$1, pid=$2 WHERE id=$3;`, string(status), pid, id)
	}
	return err
}

// --- results ---

func (p *DB) AddResult(ctx context.Context, searchID int64, domain string, discoveredAt time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO results(search_id, domain, discovered_at) VALUES($1,$2,$3);`,
		searchID, domain, discoveredAt.UTC())
	return err
}

func (p *DB) ListResults(ctx context.Context, searchID int64, limit, offset int) ([]search.Result, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, search_id, domain, discovered_at FROM results
		WHERE search_id=$1 ORDER BY discovered_at DESC, id DESC
		LIMIT $2 OFFSET $3;`, searchID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanResults(rows, false)
}

func (p *DB) CountResults(ctx context.Context, searchID int64) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM results WHERE search_id=$1;`, searchID).Scan(&n)
	return n, err
}

func (p *DB) RecentResults(ctx context.Context, limit int) ([]search.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT r.id, r.search_id, r.domain, r.discovered_at, s.name
		FROM results r JOIN searches s ON s.id = r.search_id
		ORDER BY r.discovered_at DESC, r.id DESC LIMIT $1;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanResults(rows, true)
}

// --- scanning helpers ---

type rowScanner interface{ Scan(dest ...any) error }

func scanProject(row rowScanner) (search.Project, error) {
	var pr search.Project
	err := row.Scan(&pr.ID, &pr.Name, &pr.Description, &pr.CreatedAt, &pr.SearchCount)
	if errors.Is(err, sql.ErrNoRows) {
		return search.Project{}, store.ErrNotFound
	}
	if err != nil {
		return search.Project{}, err
	}
	return pr, nil
}

func scanSearch(row rowScanner) (search.Search, error) {
	var sr search.Search
	var logs, checkpoint sql.NullString
	var status string
	err := row.Scan(&sr.ID, &sr.ProjectID, &sr.Name, &sr.Config.Pattern, &logs,
		&sr.Config.BatchSize, &sr.Config.PollSleep, &sr.Config.MinPollSleep,
		&sr.Config.MaxPollSleep, &sr.Config.MaxMemoryMB,
		&sr.Config.ETLD1, &sr.Config.Verbose, &sr.Config.QuietWarnings,
		&sr.Config.QuietParseErrors, &sr.Config.DebugAll,
		&checkpoint, &status, &sr.PID, &sr.CreatedAt, &sr.ResultCount)
	if errors.Is(err, sql.ErrNoRows) {
		return search.Search{}, store.ErrNotFound
	}
	if err != nil {
		return search.Search{}, err
	}
	sr.Config.CheckpointPrefix = checkpoint.String
	sr.Status = search.Status(status)
	if logs.Valid && logs.String != "" {
		if err := json.Unmarshal([]byte(logs.String), &sr.Config.CTLogs); err != nil {
			sr.Config.CTLogs = []string{logs.String}
		}
	}
	return sr, nil
}

func scanResults(rows *sql.Rows, withName bool) ([]search.Result, error) {
	out := make([]search.Result, 0)
	for rows.Next() {
		var r search.Result
		var err error
		if withName {
			err = rows.Scan(&r.ID, &r.SearchID, &r.Domain, &r.DiscoveredAt, &r.SearchName)
		} else {
			err = rows.Scan(&r.ID, &r.SearchID, &r.Domain, &r.DiscoveredAt)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeCTLogs(logs []string) (sql.NullString, error) {
	if len(logs) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(logs)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
