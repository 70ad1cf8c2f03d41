// Package cli provides the command-line interface for codata.
// This file re-exports the client and host for programs embedding codata.
package cli

import (
	"github.com/zot/codata/internal/client"
	"github.com/zot/codata/internal/host"
	"github.com/zot/codata/internal/model"
	"github.com/zot/codata/internal/reconcile"
)

// Re-export data types
type (
	Client      = client.Client
	Context     = model.Context
	ContextInfo = model.ContextInfo
	Collection  = model.Collection
	Attribute   = model.Attribute
	Case        = model.Case
	Record      = model.Record
	Host        = host.Server
	// Reconcile failure carrying the collections already changed.
	ReconcileError = reconcile.ReconcileError
)

// Re-export constructors
var (
	NewHost = host.New
	Connect = connect
)
