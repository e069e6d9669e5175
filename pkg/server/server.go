package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/collabtree/collabd/internal/logger"
	"github.com/collabtree/collabd/pkg/adapter"
	"github.com/collabtree/collabd/pkg/directory"
)

// CollabServer manages the lifecycle of the protocol adapters that share
// one directory backend.
//
// All adapters (the COLLAB line protocol, the REST facade) are handed the
// same directory connector, so every surface presents one consistent view
// of the metadata tree.
//
// Lifecycle:
//  1. Creation: New() with the directory connector
//  2. Registration: AddAdapter() for each protocol
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: context cancellation stops adapters in reverse order
//
// Thread safety:
// AddAdapter() may be called concurrently before Serve(). Serve() must
// only be called once per instance.
type CollabServer struct {
	// connector is the shared directory backend for all adapters
	connector directory.Connector

	// adapters contains all registered protocol adapters
	adapters []adapter.Adapter

	// mu protects the adapters slice and serving flag
	mu sync.RWMutex

	// served flips when Serve() is entered; guarded by mu
	served bool
}

// New creates a new CollabServer around the provided directory connector.
//
// Panics if the connector is nil (programmer error).
func New(connector directory.Connector) *CollabServer {
	if connector == nil {
		panic("directory connector cannot be nil")
	}
	return &CollabServer{
		connector: connector,
		adapters:  make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter registers a protocol adapter, injecting the shared directory
// connector.
//
// Duplicate protocols and port conflicts are rejected. Panics if the
// adapter is nil or Serve() has already been called.
func (s *CollabServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	a.SetConnector(s.connector)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// Serve starts all registered adapters and blocks until the context is
// cancelled or an adapter fails.
//
// On shutdown, adapters receive Stop() in reverse registration order and
// Serve() waits for all adapter goroutines to return. Returns the context
// error on cancellation, or the first adapter error on failure.
func (s *CollabServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		panic("Serve() has already been called on this server instance")
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	logger.Info("Starting collabd with %d adapter(s)", len(adapters))

	// Buffered so a failing adapter never blocks on report.
	errChan := make(chan adapterError, len(adapters))

	var wg sync.WaitGroup
	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			if err := a.Serve(ctx); err != nil {
				// context.Canceled is the expected shutdown outcome.
				if err != context.Canceled && ctx.Err() == nil {
					logger.Error("%s adapter failed: %v", protocol, err)
					errChan <- adapterError{protocol: protocol, err: err}
				} else {
					logger.Debug("%s adapter stopped gracefully", protocol)
				}
			} else {
				logger.Info("%s adapter stopped", protocol)
			}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		s.stopAllAdapters(adapters)
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - stopping all adapters",
			adapterErr.protocol, adapterErr.err)
		s.stopAllAdapters(adapters)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	logger.Info("collabd stopped gracefully")
	return shutdownErr
}

type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters signals shutdown to every adapter in reverse
// registration order, bounded by one shared timeout so a misbehaving
// adapter cannot block shutdown indefinitely.
func (s *CollabServer) stopAllAdapters(adapters []adapter.Adapter) {
	const stopTimeout = 30 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		if err := adp.Stop(ctx); err != nil && err != context.Canceled {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		} else {
			logger.Debug("%s adapter stop signal sent", protocol)
		}
	}
}

// Adapters returns a snapshot of the registered adapters.
func (s *CollabServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
