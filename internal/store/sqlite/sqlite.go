package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/certpatrol/patrolmgr/internal/search"
	"github.com/certpatrol/patrolmgr/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the database file; ":memory:" works for tests.

type DB struct {
	db *sql.DB
}

func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// WAL supports concurrent result appends while the API layer reads;
	// busy timeout helps with short lock contention.
	_, _ = d.Exec("PRAGMA journal_mode=WAL;")
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	_, _ = d.Exec("PRAGMA foreign_keys=ON;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS searches(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			pattern TEXT NOT NULL,
			ct_logs TEXT NULL,
			batch_size INTEGER NOT NULL,
			poll_sleep REAL NOT NULL,
			min_poll_sleep REAL NOT NULL,
			max_poll_sleep REAL NOT NULL,
			max_memory_mb INTEGER NOT NULL,
			etld1 INTEGER NOT NULL DEFAULT 0,
			verbose INTEGER NOT NULL DEFAULT 0,
			quiet_warnings INTEGER NOT NULL DEFAULT 1,
			quiet_parse_errors INTEGER NOT NULL DEFAULT 0,
			debug_all INTEGER NOT NULL DEFAULT 0,
			checkpoint_prefix TEXT NULL,
			status TEXT NOT NULL DEFAULT 'idle',
			pid INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_searches_project ON searches(project_id);`,
		`CREATE TABLE IF NOT EXISTS results(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			search_id INTEGER NOT NULL REFERENCES searches(id) ON DELETE CASCADE,
			domain TEXT NOT NULL,
			discovered_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_results_search ON results(search_id);`,
		`CREATE INDEX IF NOT EXISTS idx_results_discovered ON results(discovered_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

// --- projects ---

func (s *DB) CreateProject(ctx context.Context, name, description string) (search.Project, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects(name, description, created_at) VALUES(?, ?, ?);`,
		name, description, now)
	if err != nil {
		return search.Project{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return search.Project{}, err
	}
	return search.Project{ID: id, Name: name, Description: description, CreatedAt: now}, nil
}

func (s *DB) GetProject(ctx context.Context, id int64) (search.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.description, p.created_at,
		       (SELECT COUNT(*) FROM searches WHERE project_id=p.id)
		FROM projects p WHERE p.id=?;`, id)
	return scanProject(row)
}

func (s *DB) GetProjectByName(ctx context.Context, name string) (search.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.description, p.created_at,
		       (SELECT COUNT(*) FROM searches WHERE project_id=p.id)
		FROM projects p WHERE p.name=?;`, name)
	return scanProject(row)
}

func (s *DB) ListProjects(ctx context.Context) ([]search.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.created_at,
		       (SELECT COUNT(*) FROM searches WHERE project_id=p.id)
		FROM projects p ORDER BY p.created_at DESC;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]search.Project, 0)
	for rows.Next() {
		var p search.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.SearchCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *DB) UpdateProject(ctx context.Context, id int64, name, description string) (search.Project, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name=?, description=? WHERE id=?;`, name, description, id)
	if err != nil {
		return search.Project{}, err
	}
	return s.GetProject(ctx, id)
}

func (s *DB) DeleteProject(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=?;`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *DB) ProjectExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id=?;`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// --- searches ---

func (s *DB) CreateSearch(ctx context.Context, projectID int64, name string, cfg search.Config) (search.Search, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return search.Search{}, err
	}
	logs, err := encodeCTLogs(cfg.CTLogs)
	if err != nil {
		return search.Search{}, err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO searches(project_id, name, pattern, ct_logs, batch_size,
			poll_sleep, min_poll_sleep, max_poll_sleep, max_memory_mb,
			etld1, verbose, quiet_warnings, quiet_parse_errors, debug_all,
			checkpoint_prefix, status, pid, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?);`,
		projectID, name, cfg.Pattern, logs, cfg.BatchSize,
		cfg.PollSleep, cfg.MinPollSleep, cfg.MaxPollSleep, cfg.MaxMemoryMB,
		boolInt(cfg.ETLD1), boolInt(cfg.Verbose), boolInt(cfg.QuietWarnings),
		boolInt(cfg.QuietParseErrors), boolInt(cfg.DebugAll),
		nullString(cfg.CheckpointPrefix), string(search.StatusIdle), now)
	if err != nil {
		return search.Search{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return search.Search{}, err
	}
	return s.GetSearch(ctx, id)
}

const searchColumns = `s.id, s.project_id, s.name, s.pattern, s.ct_logs, s.batch_size,
	s.poll_sleep, s.min_poll_sleep, s.max_poll_sleep, s.max_memory_mb,
	s.etld1, s.verbose, s.quiet_warnings, s.quiet_parse_errors, s.debug_all,
	s.checkpoint_prefix, s.status, s.pid, s.created_at,
	(SELECT COUNT(*) FROM results WHERE search_id=s.id)`

func (s *DB) GetSearch(ctx context.Context, id int64) (search.Search, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+searchColumns+` FROM searches s WHERE s.id=?;`, id)
	return scanSearch(row)
}

func (s *DB) ListSearches(ctx context.Context, projectID int64) ([]search.Search, error) {
	q := `SELECT ` + searchColumns + ` FROM searches s`
	args := []any{}
	if projectID > 0 {
		q += ` WHERE s.project_id=?`
		args = append(args, projectID)
	}
	q += ` ORDER BY s.created_at DESC;`
	rows, err := s.db.QueryContext(ctx, q, args...)
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

func (s *DB) DeleteSearch(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM searches WHERE id=?;`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *DB) UpdateSearchStatus(ctx context.Context, id int64, status search.Status, pid int) error {
	var err error
	if pid < 0 {
		_, err = s.db.ExecContext(ctx,
			`UPDATE searches SET status=? WHERE id=?;`, string(status), id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE searches SET status=?, pid=? WHERE id=?;`, string(status), pid, id)
	}
	return err
}

// --- results ---

func (s *DB) AddResult(ctx context.Context, searchID int64, domain string, discoveredAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results(search_id, domain, discovered_at) VALUES(?, ?, ?);`,
		searchID, domain, discoveredAt.UTC())
	return err
}

func (s *DB) ListResults(ctx context.Context, searchID int64, limit, offset int) ([]search.Result, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, search_id, domain, discovered_at FROM results
		WHERE search_id=? ORDER BY discovered_at DESC, id DESC
		LIMIT ? OFFSET ?;`, searchID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanResults(rows, false)
}

func (s *DB) CountResults(ctx context.Context, searchID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM results WHERE search_id=?;`, searchID).Scan(&n)
	return n, err
}

func (s *DB) RecentResults(ctx context.Context, limit int) ([]search.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.search_id, r.domain, r.discovered_at, s.name
		FROM results r JOIN searches s ON s.id = r.search_id
		ORDER BY r.discovered_at DESC, r.id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanResults(rows, true)
}

// --- scanning helpers ---

type rowScanner interface{ Scan(dest ...any) error }

func scanProject(row rowScanner) (search.Project, error) {
	var p search.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.SearchCount)
	if errors.Is(err, sql.ErrNoRows) {
		return search.Project{}, store.ErrNotFound
	}
	if err != nil {
		return search.Project{}, err
	}
	return p, nil
}

func scanSearch(row rowScanner) (search.Search, error) {
	var sr search.Search
	var logs, checkpoint sql.NullString
	var etld1, verbose, quietW, quietP, debug int
	var status string
	err := row.Scan(&sr.ID, &sr.ProjectID, &sr.Name, &sr.Config.Pattern, &logs,
		&sr.Config.BatchSize, &sr.Config.PollSleep, &sr.Config.MinPollSleep,
		&sr.Config.MaxPollSleep, &sr.Config.MaxMemoryMB,
		&etld1, &verbose, &quietW, &quietP, &debug,
		&checkpoint, &status, &sr.PID, &sr.CreatedAt, &sr.ResultCount)
	if errors.Is(err, sql.ErrNoRows) {
		return search.Search{}, store.ErrNotFound
	}
	if err != nil {
		return search.Search{}, err
	}
	sr.Config.ETLD1 = etld1 != 0
	sr.Config.Verbose = verbose != 0
	sr.Config.QuietWarnings = quietW != 0
	sr.Config.QuietParseErrors = quietP != 0
	sr.Config.DebugAll = debug != 0
	sr.Config.CheckpointPrefix = checkpoint.String
	sr.Status = search.Status(status)
	if logs.Valid && logs.String != "" {
		if err := json.Unmarshal([]byte(logs.String), &sr.Config.CTLogs); err != nil {
			// tolerate legacy plain-text values
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
