// Package collab implements the COLLAB/1.0 TCP adapter: the accept loop
// with admission control, and the per-connection session handler.
package collab

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/collabtree/collabd/internal/logger"
	"github.com/collabtree/collabd/pkg/directory"
	"github.com/collabtree/collabd/pkg/metrics"
	"github.com/collabtree/collabd/pkg/record"
)

// CollabAdapter implements the adapter.Adapter interface for the COLLAB
// line protocol.
//
// The adapter manages the TCP listener and the connection lifecycle. Each
// accepted connection is handled by a session (one goroutine, one private
// directory connection). Admission control caps concurrent sessions with a
// semaphore; graceful shutdown stops accepting, cancels in-flight work via
// context, drains active sessions up to a timeout and force-closes the
// rest.
//
// Thread safety:
// All methods are safe for concurrent use. Shutdown uses sync.Once so
// Stop() may be called multiple times.
type CollabAdapter struct {
	// config holds ports, timeouts and limits
	config Config

	// paths is the URI-to-path mapping configuration shared by sessions
	paths record.PathConfig

	// listener is closed during shutdown to stop accepting connections
	listener net.Listener

	// listenerMu guards listener assignment against concurrent Stop()
	listenerMu sync.Mutex

	// connector provides each session with its own directory connection
	connector directory.Connector

	// metrics collects session and command metrics (never nil)
	metrics metrics.CollabMetrics

	// activeSessions tracks running sessions for graceful drain
	activeSessions sync.WaitGroup

	// shutdownOnce ensures shutdown is only initiated once
	shutdownOnce sync.Once

	// shutdown is closed when shutdown is initiated; it is the adapter's
	// "stop accepting" flag
	shutdown chan struct{}

	// sessionCount tracks the current number of active sessions
	sessionCount atomic.Int32

	// sessionSemaphore caps concurrent sessions when MaxConnections > 0;
	// nil means unlimited
	sessionSemaphore chan struct{}

	// shutdownCtx is cancelled during shutdown to abort in-flight
	// directory operations
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConns tracks live sockets by remote address for forced
	// closure after the drain timeout
	activeConns sync.Map
}

// Config holds configuration for the COLLAB adapter. Zero timeouts mean
// "no timeout"; defaults are applied by New.
type Config struct {
	// Enabled controls whether the adapter is started.
	Enabled bool `mapstructure:"enabled"`

	// Port is the TCP port to listen on. 0 asks the OS for a free port
	// (used by tests); the config layer defaults it to DefaultPort.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// MaxConnections caps concurrent client sessions. When the cap is
	// reached the accept loop blocks until a session closes. 0 means
	// unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// MaxCommandsPerSecond paces each session with a token bucket: a
	// client exceeding the sustained rate is throttled, not rejected.
	// 0 means unlimited.
	MaxCommandsPerSecond uint `mapstructure:"max_commands_per_second"`

	// CommandBurst is the token bucket capacity per session. Defaults to
	// twice MaxCommandsPerSecond when pacing is enabled.
	CommandBurst uint `mapstructure:"command_burst"`

	// ReadTimeout bounds the wait for the next request line. Expiry
	// produces a timeout status line and closes the session.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing one response.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// ShutdownTimeout bounds the graceful drain of active sessions.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// DefaultPort is the COLLAB protocol's registered listening port.
const DefaultPort = 7472

func (c *Config) applyDefaults() {
	if c.MaxCommandsPerSecond > 0 && c.CommandBurst == 0 {
		c.CommandBurst = c.MaxCommandsPerSecond * 2
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// New creates a new CollabAdapter.
//
// The adapter is created stopped. Call SetConnector() to inject the
// directory backend, then Serve() to start accepting connections.
//
// Panics if config validation fails (programmer error).
func New(config Config, paths record.PathConfig, collabMetrics metrics.CollabMetrics) *CollabAdapter {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid COLLAB config: %v", err))
	}

	var semaphore chan struct{}
	if config.MaxConnections > 0 {
		semaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("COLLAB connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("COLLAB connection limit: unlimited")
	}

	if collabMetrics == nil {
		collabMetrics = metrics.NewNoopCollabMetrics()
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &CollabAdapter{
		config:           config,
		paths:            paths,
		metrics:          collabMetrics,
		shutdown:         make(chan struct{}),
		sessionSemaphore: semaphore,
		shutdownCtx:      shutdownCtx,
		cancelRequests:   cancelRequests,
	}
}

// SetConnector injects the shared directory connector. Called once by the
// server before Serve().
func (a *CollabAdapter) SetConnector(connector directory.Connector) {
	a.connector = connector
	logger.Debug("COLLAB directory connector configured")
}

// Serve starts the adapter and blocks until the context is cancelled or
// an unrecoverable listener error occurs.
//
// Each accepted socket gets its read/write deadlines from config, a slot
// in the admission semaphore (blocking the accept loop at the cap), and a
// goroutine running the session handler. When the context is cancelled the
// listener closes, in-flight directory operations are cancelled, and
// active sessions are drained up to ShutdownTimeout before being
// force-closed.
func (a *CollabAdapter) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.config.Port))
	if err != nil {
		return fmt.Errorf("failed to create COLLAB listener on port %d: %w", a.config.Port, err)
	}

	a.listenerMu.Lock()
	a.listener = listener
	a.listenerMu.Unlock()
	logger.Info("COLLAB server listening on %s", listener.Addr())
	logger.Debug("COLLAB config: max_connections=%d read_timeout=%v write_timeout=%v",
		a.config.MaxConnections, a.config.ReadTimeout, a.config.WriteTimeout)

	go func() {
		<-ctx.Done()
		logger.Info("COLLAB shutdown signal received: %v", ctx.Err())
		a.initiateShutdown()
	}()

	for {
		// Admission control: block at the session cap until a slot frees
		// up or shutdown starts.
		if a.sessionSemaphore != nil {
			select {
			case a.sessionSemaphore <- struct{}{}:
			case <-a.shutdown:
				return a.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if a.sessionSemaphore != nil {
				<-a.sessionSemaphore
			}
			select {
			case <-a.shutdown:
				// Expected during shutdown: the listener was closed.
				return a.gracefulShutdown()
			default:
				logger.Debug("Error accepting COLLAB connection: %v", err)
				continue
			}
		}

		a.activeSessions.Add(1)
		count := a.sessionCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		a.activeConns.Store(connAddr, tcpConn)

		a.metrics.RecordSessionAccepted()
		a.metrics.SetActiveSessions(count)
		logger.Debug("COLLAB connection accepted from %s (active: %d)", connAddr, count)

		session := newSession(a, tcpConn)
		go func(addr string) {
			defer func() {
				a.activeConns.Delete(addr)
				a.activeSessions.Done()
				remaining := a.sessionCount.Add(-1)
				if a.sessionSemaphore != nil {
					<-a.sessionSemaphore
				}
				a.metrics.RecordSessionClosed()
				a.metrics.SetActiveSessions(remaining)
				logger.Debug("COLLAB connection closed from %s (active: %d)", addr, remaining)
			}()
			session.serve(a.shutdownCtx)
		}(connAddr)
	}
}

// initiateShutdown raises the stop-accepting flag, closes the listener and
// cancels in-flight directory operations. Safe to call multiple times.
func (a *CollabAdapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		logger.Debug("COLLAB shutdown initiated")
		close(a.shutdown)

		a.listenerMu.Lock()
		if a.listener != nil {
			if err := a.listener.Close(); err != nil {
				logger.Debug("Error closing COLLAB listener: %v", err)
			}
		}
		a.listenerMu.Unlock()

		a.cancelRequests()
	})
}

// gracefulShutdown drains active sessions up to ShutdownTimeout, then
// force-closes whatever is left.
func (a *CollabAdapter) gracefulShutdown() error {
	active := a.sessionCount.Load()
	logger.Info("COLLAB graceful shutdown: waiting for %d active session(s) (timeout: %v)",
		active, a.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		a.activeSessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("COLLAB graceful shutdown complete: all sessions closed")
		return nil

	case <-time.After(a.config.ShutdownTimeout):
		remaining := a.sessionCount.Load()
		logger.Warn("COLLAB shutdown timeout exceeded: %d session(s) still active after %v - forcing closure",
			remaining, a.config.ShutdownTimeout)
		a.forceCloseConnections()
		return fmt.Errorf("COLLAB shutdown timeout: %d sessions force-closed", remaining)
	}
}

// forceCloseConnections closes all remaining sockets. The session handlers
// see the I/O error and exit; their deferred cleanup releases everything
// else.
func (a *CollabAdapter) forceCloseConnections() {
	closed := 0
	a.activeConns.Range(func(key, value any) bool {
		addr := key.(string)
		conn := value.(net.Conn)
		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", addr, err)
		} else {
			closed++
		}
		return true
	})
	if closed > 0 {
		logger.Info("Force-closed %d COLLAB session(s)", closed)
	}
}

// Stop initiates graceful shutdown and waits for the drain, bounded by the
// given context. Safe to call multiple times and concurrently with
// Serve().
func (a *CollabAdapter) Stop(ctx context.Context) error {
	a.initiateShutdown()

	if ctx == nil {
		return a.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		a.activeSessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("COLLAB graceful shutdown complete: all sessions closed")
		return nil
	case <-ctx.Done():
		remaining := a.sessionCount.Load()
		logger.Warn("COLLAB shutdown context cancelled: %d session(s) still active: %v",
			remaining, ctx.Err())
		return ctx.Err()
	}
}

// ActiveSessions returns the current number of active sessions. Used by
// tests and monitoring.
func (a *CollabAdapter) ActiveSessions() int32 {
	return a.sessionCount.Load()
}

// Protocol returns "COLLAB". Implements adapter.Adapter.
func (a *CollabAdapter) Protocol() string {
	return "COLLAB"
}

// Port returns the actual listening port once the listener is up, which
// matters when the configured port is 0 (OS-assigned, used by tests).
func (a *CollabAdapter) Port() int {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()
	if a.listener != nil {
		if addr, ok := a.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return a.config.Port
}
