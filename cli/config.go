// Package cli provides the command-line interface for codata.
// This file re-exports config types from internal/config for public API.
package cli

import (
	"github.com/zot/codata/internal/config"
)

// Re-export config types for public API
type (
	Config        = config.Config
	ClientConfig  = config.ClientConfig
	HostConfig    = config.HostConfig
	StorageConfig = config.StorageConfig
	ScriptConfig  = config.ScriptConfig
	LoggingConfig = config.LoggingConfig
	Duration      = config.Duration
)

// Re-export config functions for public API
var (
	DefaultConfig = config.DefaultConfig
	Load          = config.Load
)
