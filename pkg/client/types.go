package client

import (
	"github.com/certpatrol/patrolmgr/internal/search"
)

// Wire types returned by the daemon's API.

type Project = search.Project

type Search = search.Search

type Result = search.Result

// CreateSearchRequest is the POST /searches payload.
type CreateSearchRequest struct {
	ProjectID int64         `json:"project_id"`
	Name      string        `json:"name"`
	Config    search.Config `json:"config"`
}

// StatusResponse reports one search's current status.
type StatusResponse struct {
	SearchID int64  `json:"search_id"`
	Status   string `json:"status"`
}

// ResultsPage is one page of a search's results.
type ResultsPage struct {
	Results []Result `json:"results"`
	Total   int64    `json:"total"`
}
