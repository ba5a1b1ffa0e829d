package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/livepeer/go-llm-gateway/ai/worker"
	"github.com/livepeer/go-llm-gateway/clog"
	"github.com/livepeer/go-llm-gateway/common"
)

const requestIDHeader = "X-Request-Id"

var (
	errMissingFields = errors.New("missing required fields")
	errNoWorker      = errors.New("no worker available for model")
)

type LLMRequest struct {
	Model    string           `json:"model"`
	Messages []worker.Message `json:"messages"`
	Stream   *bool            `json:"stream,omitempty"`
}

// LLMResponse is the non-streaming reply, and the payload of every SSE event
type LLMResponse struct {
	Model           string `json:"model,omitempty"`
	Worker          string `json:"worker,omitempty"`
	Content         string `json:"content,omitempty"`
	Done            bool   `json:"done"`
	TotalDuration   int64  `json:"total_duration,omitempty"`
	EvalCount       int64  `json:"eval_count,omitempty"`
	PromptEvalCount int64  `json:"prompt_eval_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

func (s *GatewayServer) LLM() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := getRemoteAddr(r)
		ctx := clog.AddVal(r.Context(), clog.ClientIP, remoteAddr)
		requestID := uuid.New().String()
		ctx = clog.AddRequestID(ctx, requestID)
		w.Header().Set(requestIDHeader, requestID)

		var req LLMRequest
		if err := jsonDecoder(&req, r); err != nil {
			respondJsonError(ctx, w, err, http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Model) == "" || len(req.Messages) == 0 {
			respondJsonError(ctx, w, errMissingFields, http.StatusBadRequest)
			return
		}
		stream := req.Stream == nil || *req.Stream
		ctx = clog.AddModel(ctx, req.Model)

		clog.V(common.VERBOSE).Infof(ctx, "Received LLM request stream=%v messages=%d", stream, len(req.Messages))

		node, ok := s.Selector.SelectNode(ctx, req.Model)
		if !ok {
			respondJsonError(ctx, w, fmt.Errorf("%w %q", errNoWorker, req.Model), http.StatusServiceUnavailable)
			return
		}
		ctx = clog.AddWorker(ctx, node.Address.Hex(), node.Endpoint)

		start := time.Now()
		chunks := s.Proxy.ChatCompletion(ctx, node, req.Messages, req.Model)

		var done *worker.Chunk
		if stream {
			done = s.streamLLM(w, chunks, req.Model, node.Address.Hex())
		} else {
			done = s.respondLLM(w, chunks, req.Model, node.Address.Hex())
		}

		took := time.Since(start)
		success := done != nil
		var inputTokens, outputTokens int64
		if done != nil {
			inputTokens, outputTokens = done.PromptEvalCount, done.EvalCount
		}
		if s.Reconciler != nil {
			s.Reconciler.ReportRequestDetailed(node.Address, req.Model, inputTokens, outputTokens, took.Milliseconds(), success)
		}
		clog.V(common.VERBOSE).Infof(ctx, "Processed LLM request success=%v took=%v", success, took)
	})
}

// streamLLM relays chunks as server-sent events and returns the terminal chunk of a completed exchange
func (s *GatewayServer) streamLLM(w http.ResponseWriter, chunks <-chan worker.Chunk, model, workerAddr string) *worker.Chunk {
	first, ok := <-chunks
	if !ok {
		return nil
	}
	if first.Kind == worker.ChunkError {
		// nothing sent yet, so the failure can still be a status code
		respondJson(w, LLMResponse{Model: model, Worker: workerAddr, Error: first.Err.Error()}, http.StatusBadGateway)
		drain(chunks)
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	write := func(res LLMResponse) {
		data, _ := json.Marshal(res)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	var done *worker.Chunk
	handle := func(c worker.Chunk) {
		switch c.Kind {
		case worker.ChunkContent:
			write(LLMResponse{Model: model, Worker: workerAddr, Content: c.Content})
		case worker.ChunkDone:
			cp := c
			done = &cp
			write(LLMResponse{Model: model, Worker: workerAddr, Done: true, TotalDuration: c.TotalDuration, EvalCount: c.EvalCount, PromptEvalCount: c.PromptEvalCount})
		case worker.ChunkError:
			write(LLMResponse{Model: model, Worker: workerAddr, Done: true, Error: c.Err.Error()})
		}
	}
	handle(first)
	for c := range chunks {
		handle(c)
	}
	return done
}

func (s *GatewayServer) respondLLM(w http.ResponseWriter, chunks <-chan worker.Chunk, model, workerAddr string) *worker.Chunk {
	var (
		sb   strings.Builder
		done *worker.Chunk
		err  error
	)
	for c := range chunks {
		switch c.Kind {
		case worker.ChunkContent:
			sb.WriteString(c.Content)
		case worker.ChunkDone:
			cp := c
			done = &cp
		case worker.ChunkError:
			if err == nil {
				err = c.Err
			}
		}
	}
	if err != nil || done == nil {
		msg := "stream ended without completion"
		if err != nil {
			msg = err.Error()
		}
		respondJson(w, LLMResponse{Model: model, Worker: workerAddr, Error: msg}, http.StatusBadGateway)
		return nil
	}
	respondJson(w, LLMResponse{
		Model:           model,
		Worker:          workerAddr,
		Content:         sb.String(),
		Done:            true,
		TotalDuration:   done.TotalDuration,
		EvalCount:       done.EvalCount,
		PromptEvalCount: done.PromptEvalCount,
	}, http.StatusOK)
	return done
}

func drain(chunks <-chan worker.Chunk) {
	for range chunks {
	}
}
