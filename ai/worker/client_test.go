package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/livepeer/go-llm-gateway/common"
	"github.com/livepeer/go-llm-gateway/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestClient_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`{"models":[{"name":"llama3"},{"name":""},{"name":"mistral:7b","size":123}]}`))
	}))
	defer srv.Close()

	models, err := NewClient(nil).ListModels(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3", "mistral:7b"}, models)

	// bare host:port endpoints
	models, err = NewClient(nil).ListModels(context.Background(), strings.TrimPrefix(srv.URL, "http://")+"/")
	require.NoError(t, err)
	assert.Len(t, models, 2)
}

func TestClient_ListModelsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model runner crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(nil).ListModels(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "model runner crashed")

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer bad.Close()
	_, err = NewClient(nil).ListModels(context.Background(), bad.URL)
	assert.ErrorContains(t, err, "could not decode model list")

	_, err = NewClient(nil).ListModels(context.Background(), "")
	assert.Error(t, err)
}

func TestClient_ProbeDrivesRegistryHealth(t *testing.T) {
	defer goleak.VerifyNone(t, common.IgnoreRoutines()...)
	assert := assert.New(t)

	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := int(status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
	}))
	defer srv.Close()

	addr := ethcommon.HexToAddress("0x01")
	registry := core.NewRegistry(NewClient(nil), 10*time.Millisecond, time.Second)
	registry.Initialize(context.Background(), []*core.Worker{{Address: addr, Endpoint: srv.URL}})

	w, ok := registry.GetNode(addr)
	require.True(t, ok)
	require.True(t, w.IsHealthy)
	assert.Equal([]string{"llama3"}, w.SupportedModels)
	registry.RecordLatency(addr, 1000)
	before, _ := registry.GetNode(addr)

	// a 500 from the capability probe flips the worker but keeps its latency
	status.Store(http.StatusInternalServerError)
	registry.StartHealthChecks()
	defer registry.StopHealthChecks()
	assert.Eventually(func() bool {
		w, _ := registry.GetNode(addr)
		return !w.IsHealthy
	}, time.Second, 5*time.Millisecond)

	after, _ := registry.GetNode(addr)
	assert.Equal(before.LatencyMs, after.LatencyMs)
	assert.True(after.LastHealthCheck.After(before.LastHealthCheck))
	assert.False(registry.IsModelAvailable("llama3"))
}
