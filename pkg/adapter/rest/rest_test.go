package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabtree/collabd/pkg/directory/memory"
	"github.com/collabtree/collabd/pkg/record"
)

func startAdapter(t *testing.T) *RESTAdapter {
	t.Helper()

	adapter := New(Config{Enabled: true, Port: 0}, record.PathConfig{})
	adapter.SetConnector(memory.New(memory.Config{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = adapter.Serve(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return adapter.Port() != 0
	}, 2*time.Second, 10*time.Millisecond, "listener never came up")

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("adapter did not shut down")
		}
	})
	return adapter
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestREST_Health(t *testing.T) {
	adapter := startAdapter(t)

	resp := doJSON(t, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", adapter.Port()), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestREST_RecordLifecycle(t *testing.T) {
	adapter := startAdapter(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", adapter.Port())
	uri := "http://example.org/doc"

	// Unknown record: 404.
	resp := doJSON(t, http.MethodGet, base+"/records?uri="+uri, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Missing uri parameter: 400.
	resp = doJSON(t, http.MethodGet, base+"/records", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// PUT creates the record from a snapshot.
	snap := record.Snapshot{
		URI:         uri,
		Locations:   []string{"http://mirror.example.org/doc"},
		Description: "via REST",
	}
	resp = doJSON(t, http.MethodPut, base+"/records?uri="+uri, snap)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// GET returns it.
	resp = doJSON(t, http.MethodGet, base+"/records?uri="+uri, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got record.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, uri, got.URI)
	assert.Equal(t, "via REST", got.Description)
	assert.Equal(t, []string{"http://mirror.example.org/doc"}, got.Locations)
}

func TestREST_Revisions(t *testing.T) {
	adapter := startAdapter(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", adapter.Port())
	uri := "http://example.org/doc"

	resp := doJSON(t, http.MethodPut, base+"/records?uri="+uri, record.Snapshot{URI: uri, Description: "v1"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/records/revisions?uri="+uri, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	resp = doJSON(t, http.MethodGet, base+"/records/revisions?uri="+uri, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var count map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&count))
	assert.Equal(t, created["revision"], count["count"])
}

func TestREST_ErrorBodiesCarryNoStoreDetail(t *testing.T) {
	adapter := startAdapter(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", adapter.Port())
	uri := "http://example.org/private/doc"

	// Unknown record: the body is the fixed phrase, never the store path
	// carried inside the domain error.
	resp := doJSON(t, http.MethodGet, base+"/records?uri="+uri, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "not found\n", string(body))

	// Conflict responses are equally opaque.
	resp = doJSON(t, http.MethodPut, base+"/records?uri="+uri, record.Snapshot{URI: uri})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	attr := base + "/records/attribute?uri=" + uri + "&name=location"
	resp = doJSON(t, http.MethodPut, attr, map[string]string{"value": "http://mirror.example.org/doc"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = doJSON(t, http.MethodPut, attr, map[string]string{"value": "http://mirror.example.org/doc"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "private")
	assert.NotContains(t, string(body), "example")
}

func TestREST_Attributes(t *testing.T) {
	adapter := startAdapter(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", adapter.Port())
	uri := "http://example.org/doc"

	resp := doJSON(t, http.MethodPut, base+"/records?uri="+uri, record.Snapshot{URI: uri})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	attr := base + "/records/attribute?uri=" + uri + "&name=location"
	resp = doJSON(t, http.MethodPut, attr, map[string]string{"value": "http://mirror.example.org/doc"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Duplicate value: 409.
	resp = doJSON(t, http.MethodPut, attr, map[string]string{"value": "http://mirror.example.org/doc"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, attr, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, []string{"http://mirror.example.org/doc"}, got["values"])

	resp = doJSON(t, http.MethodDelete, attr+"&value=http://mirror.example.org/doc", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, attr, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
