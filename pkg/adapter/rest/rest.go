// Package rest implements the HTTP facade: a thin translation layer that
// exposes record snapshots and single attributes as resources over the
// same directory backend the COLLAB adapter uses.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/collabtree/collabd/internal/logger"
	"github.com/collabtree/collabd/pkg/directory"
	"github.com/collabtree/collabd/pkg/record"
)

// Config holds configuration for the REST adapter.
type Config struct {
	// Enabled controls whether the adapter is started.
	Enabled bool `mapstructure:"enabled"`

	// Port is the HTTP port to listen on. 0 asks the OS for a free port
	// (used by tests); the config layer defaults it to 8080.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// ReadTimeout and WriteTimeout bound each HTTP exchange.
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`
}

func (c *Config) applyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 15 * time.Second
	}
}

// RESTAdapter implements adapter.Adapter over HTTP.
//
// Every request opens its own directory connection, mirroring the
// per-session isolation of the TCP adapter: a slow or failing request
// cannot poison another's connection state.
type RESTAdapter struct {
	config    Config
	paths     record.PathConfig
	connector directory.Connector

	server     *http.Server
	listenerMu sync.Mutex
	listener   net.Listener
}

// New creates a new RESTAdapter.
func New(config Config, paths record.PathConfig) *RESTAdapter {
	config.applyDefaults()
	return &RESTAdapter{config: config, paths: paths}
}

// SetConnector injects the shared directory connector.
func (a *RESTAdapter) SetConnector(connector directory.Connector) {
	a.connector = connector
}

// Protocol returns "REST". Implements adapter.Adapter.
func (a *RESTAdapter) Protocol() string { return "REST" }

// Port returns the actual listening port once up.
func (a *RESTAdapter) Port() int {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()
	if a.listener != nil {
		if addr, ok := a.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return a.config.Port
}

// Serve starts the HTTP server and blocks until the context is cancelled.
func (a *RESTAdapter) Serve(ctx context.Context) error {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/health", a.handleHealth)
	router.Route("/records", func(r chi.Router) {
		r.Get("/", a.handleGetRecord)
		r.Put("/", a.handlePutRecord)
		r.Get("/revisions", a.handleGetRevisionCount)
		r.Post("/revisions", a.handleCreateRevision)
		r.Get("/attribute", a.handleGetAttribute)
		r.Put("/attribute", a.handlePutAttribute)
		r.Delete("/attribute", a.handleDeleteAttribute)
	})

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.config.Port))
	if err != nil {
		return fmt.Errorf("failed to create REST listener on port %d: %w", a.config.Port, err)
	}
	a.listenerMu.Lock()
	a.listener = listener
	a.server = &http.Server{
		Handler:      router,
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
	}
	a.listenerMu.Unlock()

	logger.Info("REST server listening on %s", listener.Addr())

	errChan := make(chan error, 1)
	go func() {
		errChan <- a.server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		return a.Stop(context.Background())
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Stop shuts the HTTP server down gracefully.
func (a *RESTAdapter) Stop(ctx context.Context) error {
	a.listenerMu.Lock()
	server := a.server
	a.listenerMu.Unlock()
	if server == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return server.Shutdown(ctx)
}

// bind opens a request-scoped directory connection and binds the record
// named by the "uri" query parameter. The returned closer must be called.
func (a *RESTAdapter) bind(r *http.Request, create bool) (*record.VersionedRecord, func(), error) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		return nil, nil, &directory.StoreError{Code: directory.ErrInvalidArgument, Message: "missing uri parameter"}
	}

	conn, err := a.connector.Connect(r.Context())
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := conn.Close(); err != nil {
			logger.Warn("Error closing directory connection: %v", err)
		}
	}

	rec, err := record.Bind(r.Context(), conn, a.paths, uri, create)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return rec, closer, nil
}

func (a *RESTAdapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *RESTAdapter) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, closer, err := a.bind(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	defer closer()

	snap, err := rec.Export(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *RESTAdapter) handlePutRecord(w http.ResponseWriter, r *http.Request) {
	var snap record.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		http.Error(w, "invalid snapshot body", http.StatusBadRequest)
		return
	}

	rec, closer, err := a.bind(r, true)
	if err != nil {
		writeError(w, err)
		return
	}
	defer closer()

	if err := rec.Import(r.Context(), &snap); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *RESTAdapter) handleGetRevisionCount(w http.ResponseWriter, r *http.Request) {
	rec, closer, err := a.bind(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	defer closer()

	count, err := rec.RevisionCount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (a *RESTAdapter) handleCreateRevision(w http.ResponseWriter, r *http.Request) {
	rec, closer, err := a.bind(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	defer closer()

	rev, err := rec.CreateRevision(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"revision": rev})
}

func (a *RESTAdapter) handleGetAttribute(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	rec, closer, err := a.bind(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	defer closer()

	values, err := rec.Values(r.Context(), name)
	if err != nil {
		if directory.IsCode(err, directory.ErrInvalidArgument) {
			// Retry as a single-valued attribute.
			value, terr := rec.Text(r.Context(), name)
			if terr != nil {
				writeError(w, terr)
				return
			}
			values = []string{value}
		} else {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"values": values})
}

func (a *RESTAdapter) handlePutAttribute(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid attribute body", http.StatusBadRequest)
		return
	}

	rec, closer, err := a.bind(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	defer closer()

	err = rec.AddValue(r.Context(), name, body.Value)
	if directory.IsCode(err, directory.ErrInvalidArgument) {
		err = rec.SetText(r.Context(), name, body.Value)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *RESTAdapter) handleDeleteAttribute(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	value := r.URL.Query().Get("value")

	rec, closer, err := a.bind(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	defer closer()

	if value != "" {
		err = rec.RemoveValue(r.Context(), name, value)
	} else {
		err = rec.RemoveText(r.Context(), name)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debug("Error encoding REST response: %v", err)
	}
}

// writeError maps domain error codes to HTTP statuses. Like the line
// protocol, only fixed phrases go to the client; internal detail (store
// paths included) stays in the server log.
func writeError(w http.ResponseWriter, err error) {
	code, ok := directory.CodeOf(err)
	if !ok {
		logger.Error("REST request failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	switch code {
	case directory.ErrNotFound, directory.ErrNoSuchAttribute, directory.ErrNoSuchValue:
		http.Error(w, "not found", http.StatusNotFound)
	case directory.ErrValueExists:
		http.Error(w, "attribute or value exists", http.StatusConflict)
	case directory.ErrNotEditable:
		http.Error(w, "revision not editable", http.StatusForbidden)
	case directory.ErrInvalidArgument:
		http.Error(w, "bad request", http.StatusBadRequest)
	case directory.ErrTimeout:
		http.Error(w, "timeout", http.StatusGatewayTimeout)
	default:
		logger.Error("REST request failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
