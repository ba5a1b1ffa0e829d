package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/livepeer/go-llm-gateway/ai/worker"
	"github.com/livepeer/go-llm-gateway/core"
	"github.com/livepeer/go-llm-gateway/monitor"
)

const shutdownTimeout = 10 * time.Second

// GatewayServer exposes the routing layer over HTTP
type GatewayServer struct {
	Registry   *core.Registry
	Selector   *NodeSelector
	Proxy      *worker.Proxy
	Reconciler *core.Reconciler

	mu      sync.Mutex
	httpSrv *http.Server
	closed  bool
}

func NewGatewayServer(registry *core.Registry, selector *NodeSelector, proxy *worker.Proxy, reconciler *core.Reconciler) *GatewayServer {
	return &GatewayServer{
		Registry:   registry,
		Selector:   selector,
		Proxy:      proxy,
		Reconciler: reconciler,
	}
}

func (s *GatewayServer) webServerHandlers() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("POST /llm", s.LLM())
	mux.Handle("GET /status", statusHandler(s.Registry, s.Reconciler))
	mux.Handle("GET /operators/{addr}", operatorDetailsHandler(s.Reconciler))
	mux.Handle("GET /operators/{addr}/epoch", epochStatsHandler(s.Reconciler))

	if monitor.Enabled && monitor.Exporter != nil {
		mux.Handle("GET /metrics", monitor.Exporter)
	}
	return mux
}

// StartWebserver serves until Shutdown is called
func (s *GatewayServer) StartWebserver(bind string) error {
	srv := &http.Server{
		Addr:              bind,
		Handler:           s.webServerHandlers(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.httpSrv = srv
	s.mu.Unlock()

	glog.Infof("HTTP server listening on http://%v", bind)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *GatewayServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.closed = true
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
