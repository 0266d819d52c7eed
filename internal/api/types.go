package api

import (
	"github.com/mattjoyce/bert/internal/host"
	"github.com/mattjoyce/bert/internal/journal"
)

// LoadRequest is the JSON body for POST /modules
type LoadRequest struct {
	Path string `json:"path"`
}

// ModuleResponse is returned by module endpoints.
type ModuleResponse struct {
	Module host.ModuleInfo `json:"module"`
}

// ModuleListResponse is returned by GET /modules
type ModuleListResponse struct {
	Modules []host.ModuleInfo `json:"modules"`
	Count   int               `json:"count"`
}

// EventListResponse is returned by GET /modules/{name}/events
type EventListResponse struct {
	Module string          `json:"module"`
	Events []journal.Entry `json:"events"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	ModulesLoaded int    `json:"modules_loaded"`
}
