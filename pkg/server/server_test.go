package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabtree/collabd/pkg/directory"
	"github.com/collabtree/collabd/pkg/directory/memory"
)

// stubAdapter is a minimal adapter for lifecycle tests.
type stubAdapter struct {
	protocol  string
	port      int
	connector directory.Connector
	serveErr  error
	started   chan struct{}
	stopped   chan struct{}
	stopOnce  sync.Once
}

func newStubAdapter(protocol string, port int) *stubAdapter {
	return &stubAdapter{
		protocol: protocol,
		port:     port,
		started:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (a *stubAdapter) Serve(ctx context.Context) error {
	close(a.started)
	if a.serveErr != nil {
		return a.serveErr
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		return nil
	}
}

func (a *stubAdapter) SetConnector(c directory.Connector) { a.connector = c }

func (a *stubAdapter) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopped) })
	return nil
}

func (a *stubAdapter) Protocol() string { return a.protocol }
func (a *stubAdapter) Port() int        { return a.port }

func TestNew_NilConnectorPanics(t *testing.T) {
	assert.Panics(t, func() { New(nil) })
}

func TestAddAdapter_InjectsConnector(t *testing.T) {
	connector := memory.New(memory.Config{})
	srv := New(connector)

	a := newStubAdapter("COLLAB", 7472)
	require.NoError(t, srv.AddAdapter(a))
	assert.Equal(t, connector, a.connector)
	assert.Len(t, srv.Adapters(), 1)
}

func TestAddAdapter_RejectsConflicts(t *testing.T) {
	srv := New(memory.New(memory.Config{}))

	require.NoError(t, srv.AddAdapter(newStubAdapter("COLLAB", 7472)))
	assert.Error(t, srv.AddAdapter(newStubAdapter("COLLAB", 9999)), "duplicate protocol")
	assert.Error(t, srv.AddAdapter(newStubAdapter("REST", 7472)), "duplicate port")
	assert.Panics(t, func() { _ = srv.AddAdapter(nil) })
}

func TestServe_NoAdapters(t *testing.T) {
	srv := New(memory.New(memory.Config{}))
	assert.Error(t, srv.Serve(context.Background()))
}

func TestServe_CancelStopsAdapters(t *testing.T) {
	srv := New(memory.New(memory.Config{}))
	a := newStubAdapter("COLLAB", 7472)
	require.NoError(t, srv.AddAdapter(a))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	<-a.started
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestServe_AdapterFailureStopsAll(t *testing.T) {
	srv := New(memory.New(memory.Config{}))

	failing := newStubAdapter("COLLAB", 7472)
	failing.serveErr = errors.New("listener exploded")
	healthy := newStubAdapter("REST", 8080)
	require.NoError(t, srv.AddAdapter(failing))
	require.NoError(t, srv.AddAdapter(healthy))

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "listener exploded")
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after adapter failure")
	}
}
