package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/certpatrol/patrolmgr/internal/metrics"
	"github.com/certpatrol/patrolmgr/internal/orchestrator"
	"github.com/certpatrol/patrolmgr/internal/search"
	"github.com/certpatrol/patrolmgr/internal/store"
)

// Router provides embeddable HTTP handlers for projects, searches, results
// and orchestration. Endpoints (relative to basePath):
//
//	GET/POST   /projects                 list, create
//	GET/PUT/DELETE /projects/:id
//	GET        /projects/:id/searches
//	POST       /searches                 create (body: project_id, name, config)
//	GET/DELETE /searches/:id
//	POST       /searches/:id/start
//	POST       /searches/:id/stop        query: wait=10s (optional)
//	GET        /searches/:id/status
//	GET        /searches/:id/results     query: limit, offset
//	GET        /status                   all known statuses
//	GET        /results/recent           query: limit
//	GET        /metrics                  Prometheus
type Router struct {
	st       store.Store
	orch     *orchestrator.Orchestrator
	basePath string
}

// NewRouter constructs a Router with a configurable basePath, e.g. "/api".
func NewRouter(st store.Store, orch *orchestrator.Orchestrator, basePath string) *Router {
	return &Router{st: st, orch: orch, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)

	group.GET("/projects", r.handleListProjects)
	group.POST("/projects", r.handleCreateProject)
	group.GET("/projects/:id", r.handleGetProject)
	group.PUT("/projects/:id", r.handleUpdateProject)
	group.DELETE("/projects/:id", r.handleDeleteProject)
	group.GET("/projects/:id/searches", r.handleListSearches)

	group.POST("/searches", r.handleCreateSearch)
	group.GET("/searches/:id", r.handleGetSearch)
	group.DELETE("/searches/:id", r.handleDeleteSearch)
	group.POST("/searches/:id/start", r.handleStart)
	group.POST("/searches/:id/stop", r.handleStop)
	group.GET("/searches/:id/status", r.handleStatus)
	group.GET("/searches/:id/results", r.handleResults)

	group.GET("/status", r.handleStatusAll)
	group.GET("/results/recent", r.handleRecentResults)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, st store.Store, orch *orchestrator.Orchestrator) *http.Server {
	r := NewRouter(st, orch, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	SearchID int64  `json:"search_id"`
	Status   string `json:"status"`
}

func (r *Router) handleListProjects(c *gin.Context) {
	projects, err := r.st.ListProjects(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, projects)
}

type projectReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (r *Router) handleCreateProject(c *gin.Context) {
	var req projectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name is required"})
		return
	}
	p, err := r.st.CreateProject(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusCreated, p)
}

func (r *Router) handleGetProject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := r.st.GetProject(c.Request.Context(), id)
	if err != nil {
		writeStoreErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (r *Router) handleUpdateProject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req projectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	p, err := r.st.UpdateProject(c.Request.Context(), id, req.Name, req.Description)
	if err != nil {
		writeStoreErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (r *Router) handleDeleteProject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	// Refuse to delete a project while any of its searches is live.
	searches, err := r.st.ListSearches(c.Request.Context(), id)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	for _, s := range searches {
		if r.orch.Status(s.ID).Live() {
			writeJSON(c, http.StatusConflict,
				errorResp{Error: "project has running searches; stop them first"})
			return
		}
	}
	if err := r.st.DeleteProject(c.Request.Context(), id); err != nil {
		writeStoreErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleListSearches(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	searches, err := r.st.ListSearches(c.Request.Context(), id)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	// Overlay live statuses; the store only has the last persisted one.
	for i := range searches {
		if st := r.orch.Status(searches[i].ID); st != search.StatusIdle {
			searches[i].Status = st
		}
	}
	writeJSON(c, http.StatusOK, searches)
}

type searchReq struct {
	ProjectID int64         `json:"project_id"`
	Name      string        `json:"name"`
	Config    search.Config `json:"config"`
}

func (r *Router) handleCreateSearch(c *gin.Context) {
	var req searchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name is required"})
		return
	}
	if ok, err := r.st.ProjectExists(c.Request.Context(), req.ProjectID); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	} else if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "project not found"})
		return
	}
	s, err := r.st.CreateSearch(c.Request.Context(), req.ProjectID, req.Name, req.Config)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusCreated, s)
}

func (r *Router) handleGetSearch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s, err := r.st.GetSearch(c.Request.Context(), id)
	if err != nil {
		writeStoreErr(c, err)
		return
	}
	if st := r.orch.Status(s.ID); st != search.StatusIdle {
		s.Status = st
	}
	writeJSON(c, http.StatusOK, s)
}

func (r *Router) handleDeleteSearch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if r.orch.Status(id).Live() {
		writeJSON(c, http.StatusConflict, errorResp{Error: "search is running; stop it first"})
		return
	}
	if err := r.st.DeleteSearch(c.Request.Context(), id); err != nil {
		writeStoreErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStart(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	err := r.orch.Start(c.Request.Context(), id)
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, statusResp{SearchID: id, Status: r.orch.Status(id).String()})
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
	case errors.Is(err, orchestrator.ErrCapacityExceeded):
		writeJSON(c, http.StatusTooManyRequests, errorResp{Error: err.Error()})
	case errors.Is(err, orchestrator.ErrSearchNotFound),
		errors.Is(err, orchestrator.ErrProjectNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

func (r *Router) handleStop(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	wait := time.Duration(0)
	if w := c.Query("wait"); w != "" {
		d, err := time.ParseDuration(w)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid wait: " + err.Error()})
			return
		}
		wait = d
	}
	if err := r.orch.Stop(c.Request.Context(), id, wait); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, statusResp{SearchID: id, Status: r.orch.Status(id).String()})
}

func (r *Router) handleStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	st := r.orch.Status(id)
	if st == search.StatusIdle {
		// The registry is empty after a daemon restart; fall back to the
		// persisted last-known status. Unknown searches stay idle.
		if s, err := r.st.GetSearch(c.Request.Context(), id); err == nil {
			st = s.Status
		}
	}
	writeJSON(c, http.StatusOK, statusResp{SearchID: id, Status: st.String()})
}

func (r *Router) handleStatusAll(c *gin.Context) {
	all := r.orch.StatusAll()
	out := make(map[string]string, len(all))
	for id, st := range all {
		out[strconv.FormatInt(id, 10)] = st.String()
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleResults(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit := queryInt(c, "limit", 100)
	offset := queryInt(c, "offset", 0)
	results, err := r.st.ListResults(c.Request.Context(), id, limit, offset)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	total, err := r.st.CountResults(c.Request.Context(), id)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"results": results, "total": total})
}

func (r *Router) handleRecentResults(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	results, err := r.st.RecentResults(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, results)
}

func writeStoreErr(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "not found"})
		return
	}
	writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
}
