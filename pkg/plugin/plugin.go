// Package plugin defines the contracts between the printwatch core and its
// modules: lifecycle, dependencies, HTTP routes and events.
package plugin

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// API versions understood by the registry.
const (
	APIVersionMin     = 1
	APIVersionCurrent = 1
)

// PluginInfo describes a plugin to the registry.
type PluginInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies,omitempty"`
	// Required plugins abort startup when they cannot be validated or initialized.
	Required   bool `json:"required"`
	APIVersion int  `json:"api_version"`
}

// Dependencies are handed to a plugin during Init.
type Dependencies struct {
	Config Config
	Logger *zap.Logger
	Bus    EventBus
	Store  Store
}

// Route represents an HTTP route exposed by a plugin.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Plugin defines the interface that all printwatch modules must implement.
type Plugin interface {
	// Info returns the plugin's static metadata.
	Info() PluginInfo

	// Init wires the plugin to its dependencies. No background work yet.
	Init(ctx context.Context, deps Dependencies) error

	// Start begins the plugin's background operations.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the plugin.
	Stop(ctx context.Context) error
}
