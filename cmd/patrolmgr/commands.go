package main

import (
	"context"
	"fmt"
	"time"

	"github.com/certpatrol/patrolmgr/internal/search"
	"github.com/certpatrol/patrolmgr/pkg/client"
)

type command struct {
	global *GlobalFlags
}

// apiClient builds a client for the daemon, verifying it is reachable first.
func (c command) apiClient(ctx context.Context) (*client.Client, error) {
	cfg := client.DefaultConfig()
	if c.global.APIUrl != "" {
		cfg.BaseURL = c.global.APIUrl
	}
	if c.global.APITimeout > 0 {
		cfg.Timeout = c.global.APITimeout
	}
	cl := client.New(cfg)
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'patrolmgr serve'", cfg.BaseURL)
	}
	return cl, nil
}

func (c command) ProjectCreate(f ProjectFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	p, err := cl.CreateProject(ctx, f.Name, f.Description)
	if err != nil {
		return err
	}
	printJSON(p)
	return nil
}

func (c command) ProjectList(ProjectFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	projects, err := cl.ListProjects(ctx)
	if err != nil {
		return err
	}
	printJSON(projects)
	return nil
}

func (c command) ProjectDelete(f ProjectFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	if err := cl.DeleteProject(ctx, f.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted project %d\n", f.ID)
	return nil
}

func (c command) SearchCreate(f SearchFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	cfg := search.DefaultConfig()
	cfg.Pattern = f.Pattern
	if f.BatchSize > 0 {
		cfg.BatchSize = f.BatchSize
	}
	if f.PollSleep > 0 {
		cfg.PollSleep = f.PollSleep
	}
	if f.PollMin > 0 {
		cfg.MinPollSleep = f.PollMin
	}
	if f.PollMax > 0 {
		cfg.MaxPollSleep = f.PollMax
	}
	if f.MaxMemoryMB > 0 {
		cfg.MaxMemoryMB = f.MaxMemoryMB
	}
	cfg.ETLD1 = f.ETLD1
	cfg.CTLogs = f.CTLogs
	s, err := cl.CreateSearch(ctx, client.CreateSearchRequest{
		ProjectID: f.ProjectID,
		Name:      f.Name,
		Config:    cfg,
	})
	if err != nil {
		return err
	}
	printJSON(s)
	return nil
}

func (c command) SearchList(f SearchFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	searches, err := cl.ListSearches(ctx, f.ProjectID)
	if err != nil {
		return err
	}
	printJSON(searches)
	return nil
}

func (c command) SearchDelete(f SearchFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	if err := cl.DeleteSearch(ctx, f.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted search %d\n", f.ID)
	return nil
}

func (c command) Start(f StartFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	st, err := cl.StartSearch(ctx, f.ID)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func (c command) Stop(f StopFlags) error {
	// Give the HTTP call room for the daemon-side grace period.
	wait := f.Wait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait+20*time.Second)
	defer cancel()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	st, err := cl.StopSearch(ctx, f.ID, f.Wait)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func (c command) Status(f StatusFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	if f.ID > 0 {
		st, err := cl.SearchStatus(ctx, f.ID)
		if err != nil {
			return err
		}
		printJSON(st)
		return nil
	}
	all, err := cl.AllStatuses(ctx)
	if err != nil {
		return err
	}
	printJSON(all)
	return nil
}

func (c command) Results(f ResultsFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	if f.Recent {
		results, err := cl.RecentResults(ctx, f.Limit)
		if err != nil {
			return err
		}
		printJSON(results)
		return nil
	}
	page, err := cl.Results(ctx, f.ID, f.Limit, f.Offset)
	if err != nil {
		return err
	}
	printJSON(page)
	return nil
}
