package adapter

import (
	"context"

	"github.com/collabtree/collabd/pkg/directory"
)

// Adapter represents a protocol-specific server adapter managed by the
// collabd server.
//
// Each adapter exposes the same record store through a different surface
// (the COLLAB line protocol over TCP, the REST facade over HTTP) and
// provides a unified interface for lifecycle management. All adapters
// share one directory connector, ensuring a consistent view of the data.
//
// Lifecycle:
//  1. Creation: adapter is created with protocol-specific configuration
//  2. Injection: SetConnector() provides the shared directory backend
//  3. Startup: Serve() starts the server and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetConnector() is
// called once before Serve(), but Stop() may be called concurrently with
// Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is
	// cancelled or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful
	// shutdown: stop accepting new connections, wait for active sessions
	// to complete (with timeout), clean up, and return context.Canceled
	// or nil.
	Serve(ctx context.Context) error

	// SetConnector injects the shared directory connector. Called exactly
	// once before Serve(); each session opens its own connection from it.
	SetConnector(connector directory.Connector)

	// Stop initiates graceful shutdown. Idempotent, safe to call
	// concurrently with Serve(), and bounded by the context deadline.
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and
	// metrics, e.g. "COLLAB" or "REST".
	Protocol() string

	// Port returns the TCP port the adapter is listening on, or 0 before
	// the listener is up when dynamic allocation is used.
	Port() int
}
