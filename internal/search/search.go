package search

import "time"

// Project groups searches together. Deleting a project cascades to its
// searches and results at the store layer; the engine only checks existence
// before a start.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	SearchCount int       `json:"search_count"`
}

// Search is one configured unit of orchestration work wrapping a certpatrol
// worker invocation. Config is immutable once the search exists; Status and
// PID are runtime fields maintained by the orchestrator.
type Search struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	Name      string    `json:"name"`
	Config    Config    `json:"config"`
	Status    Status    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	ResultCount int `json:"result_count"`
}

// Result is one discovered domain. Uniqueness is not enforced; duplicates
// emitted by the worker are stored as separate rows ordered by discovery time.
type Result struct {
	ID           int64     `json:"id"`
	SearchID     int64     `json:"search_id"`
	Domain       string    `json:"domain"`
	DiscoveredAt time.Time `json:"discovered_at"`

	SearchName string `json:"search_name,omitempty"`
}
