package store

import (
	"context"
	"errors"
	"time"

	"github.com/certpatrol/patrolmgr/internal/search"
)

// ErrNotFound is returned when a project or search does not exist.
var ErrNotFound = errors.New("not found")

// Store persists projects, searches and results. It doubles as the engine's
// collaborators: the read-only search configuration source, the project
// existence check, and the durable append-only result sink.
type Store interface {
	EnsureSchema(ctx context.Context) error

	CreateProject(ctx context.Context, name, description string) (search.Project, error)
	GetProject(ctx context.Context, id int64) (search.Project, error)
	GetProjectByName(ctx context.Context, name string) (search.Project, error)
	ListProjects(ctx context.Context) ([]search.Project, error)
	UpdateProject(ctx context.Context, id int64, name, description string) (search.Project, error)
	DeleteProject(ctx context.Context, id int64) error
	ProjectExists(ctx context.Context, id int64) (bool, error)

	CreateSearch(ctx context.Context, projectID int64, name string, cfg search.Config) (search.Search, error)
	GetSearch(ctx context.Context, id int64) (search.Search, error)
	ListSearches(ctx context.Context, projectID int64) ([]search.Search, error)
	DeleteSearch(ctx context.Context, id int64) error
	// UpdateSearchStatus records a status transition. pid < 0 leaves the
	// stored pid untouched; pid == 0 clears it.
	UpdateSearchStatus(ctx context.Context, id int64, status search.Status, pid int) error

	AddResult(ctx context.Context, searchID int64, domain string, discoveredAt time.Time) error
	ListResults(ctx context.Context, searchID int64, limit, offset int) ([]search.Result, error)
	CountResults(ctx context.Context, searchID int64) (int64, error)
	RecentResults(ctx context.Context, limit int) ([]search.Result, error)

	Close() error
}
