package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// ProjectFlags holds flags for the project subcommands.
type ProjectFlags struct {
	Name        string
	Description string
	ID          int64
}

// SearchFlags holds flags for search create/list/delete.
type SearchFlags struct {
	ProjectID   int64
	Name        string
	Pattern     string
	BatchSize   int
	PollSleep   float64
	PollMin     float64
	PollMax     float64
	MaxMemoryMB int
	ETLD1       bool
	CTLogs      []string
	ID          int64
}

// StartFlags holds flags for the start command.
type StartFlags struct {
	ID int64
}

// StopFlags holds flags for the stop command.
type StopFlags struct {
	ID   int64
	Wait time.Duration
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	ID int64 // zero means all searches
}

// ResultsFlags holds flags for the results command.
type ResultsFlags struct {
	ID     int64
	Limit  int
	Offset int
	Recent bool
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
}
