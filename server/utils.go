package server

// utils.go contains server utility functions.

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/golang/glog"
	"github.com/livepeer/go-llm-gateway/clog"
)

// Decoder for JSON requests.
func jsonDecoder[T any](req *T, r *http.Request) error {
	return json.NewDecoder(r.Body).Decode(req)
}

func getRemoteAddr(r *http.Request) string {
	addr := r.RemoteAddr
	if proxiedAddr := r.Header.Get("X-Forwarded-For"); proxiedAddr != "" {
		addr = strings.Split(proxiedAddr, ",")[0]
	}

	// addr is typically in the format "ip:port"
	// Need to extract just the IP. Handle IPv6 too.
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		// probably not a real IP
		return addr
	}
	return host
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJsonError(ctx context.Context, w http.ResponseWriter, err error, code int) {
	clog.Errorf(ctx, "HTTP Response Error statusCode=%d err=%q", code, err)
	respondJson(w, errorResponse{Error: err.Error()}, code)
}

func logAndRespondWithError(w http.ResponseWriter, errMsg string, code int) {
	glog.Error(errMsg)
	respondJson(w, errorResponse{Error: errMsg}, code)
}

func respondJson(w http.ResponseWriter, v any, code int) {
	data, err := json.Marshal(v)
	if err != nil {
		glog.Errorf("Could not marshal response err=%q", err)
		http.Error(w, "could not marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
