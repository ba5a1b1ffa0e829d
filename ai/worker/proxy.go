package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/livepeer/go-llm-gateway/clog"
	"github.com/livepeer/go-llm-gateway/common"
	"github.com/livepeer/go-llm-gateway/core"
	"github.com/livepeer/go-llm-gateway/monitor"
)

var (
	DefaultRequestTimeout = 60 * time.Second

	ErrStreamFailure    = errors.New("stream failure")
	ErrNoWorker         = errors.New("no worker to stream from")
	errStreamIncomplete = errors.New("stream ended without a completion marker")
)

const (
	chunkBufferSize   = 16
	maxLoggedLineSize = 256
)

// HealthReporter receives the side effects of a chat exchange on the worker's health
type HealthReporter interface {
	RecordLatency(addr ethcommon.Address, measuredMs int64)
	MarkUnhealthy(addr ethcommon.Address)
}

type ChunkKind int

const (
	ChunkContent ChunkKind = iota
	ChunkDone
	ChunkError
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkContent:
		return "content"
	case ChunkDone:
		return "done"
	case ChunkError:
		return "error"
	}
	return "unknown"
}

// Chunk is one element of a chat exchange. Content is set for ChunkContent,
// TotalDuration and the eval counts for ChunkDone, Err for ChunkError.
type Chunk struct {
	Kind            ChunkKind
	Content         string
	TotalDuration   int64
	EvalCount       int64
	PromptEvalCount int64
	Err             error
}

// StreamError is the terminal error of a failed exchange. It matches ErrStreamFailure.
type StreamError struct {
	Kind       monitor.StreamErrorKind
	StatusCode int
	Err        error
}

func (e *StreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("stream failure status=%d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("stream failure kind=%v: %v", e.Kind, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

func (e *StreamError) Is(target error) bool { return target == ErrStreamFailure }

// SyncResult is a drained exchange
type SyncResult struct {
	Content         string
	TotalDuration   int64
	EvalCount       int64
	PromptEvalCount int64
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatRecord struct {
	Message *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message,omitempty"`
	Done            bool  `json:"done"`
	TotalDuration   int64 `json:"total_duration"`
	EvalCount       int64 `json:"eval_count"`
	PromptEvalCount int64 `json:"prompt_eval_count"`
}

// Proxy forwards chat exchanges to workers
type Proxy struct {
	http    *http.Client
	health  HealthReporter
	timeout time.Duration
}

func NewProxy(httpClient *http.Client, health HealthReporter, timeout time.Duration) *Proxy {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Proxy{http: httpClient, health: health, timeout: timeout}
}

// ChatCompletion starts the exchange with w and returns its chunks. The channel
// is closed after a ChunkDone or a ChunkError, or once ctx is cancelled.
func (p *Proxy) ChatCompletion(ctx context.Context, w *core.Worker, messages []Message, model string) <-chan Chunk {
	out := make(chan Chunk, chunkBufferSize)
	if w == nil {
		out <- Chunk{Kind: ChunkError, Err: ErrNoWorker}
		close(out)
		return out
	}
	go p.stream(ctx, w.Copy(), messages, model, out)
	return out
}

func (p *Proxy) stream(parent context.Context, w *core.Worker, messages []Message, model string, out chan<- Chunk) {
	defer close(out)

	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()
	ctx = clog.AddWorker(clog.AddModel(ctx, model), w.Address.Hex(), w.Endpoint)

	send := func(c Chunk) bool {
		select {
		case out <- c:
			return true
		case <-parent.Done():
			return false
		}
	}
	fail := func(serr *StreamError) {
		if parent.Err() != nil {
			// caller went away, says nothing about the worker
			clog.V(common.DEBUG).Infof(ctx, "Chat exchange abandoned by caller err=%q", parent.Err())
			return
		}
		monitor.StreamError(serr.Kind)
		if serr.Kind == monitor.StreamErrorNetwork || serr.Kind == monitor.StreamErrorTimeout {
			p.markUnhealthy(w.Address)
		}
		clog.Warningf(ctx, "Chat exchange failed err=%q", serr)
		send(Chunk{Kind: ChunkError, Err: serr})
	}

	start := time.Now()
	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: true})
	if err != nil {
		fail(&StreamError{Kind: monitor.StreamErrorMalformed, Err: err})
		return
	}
	uri, err := common.ParseEndpoint(w.Endpoint)
	if err != nil {
		fail(&StreamError{Kind: monitor.StreamErrorNetwork, Err: err})
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, common.JoinURL(uri.String(), chatPath), bytes.NewReader(body))
	if err != nil {
		fail(&StreamError{Kind: monitor.StreamErrorNetwork, Err: err})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		fail(transportError(ctx, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := common.ReadAtMost(resp.Body, common.MaxErrorBodySize)
		fail(&StreamError{
			Kind:       monitor.StreamErrorStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("worker returned %q", strings.TrimSpace(string(data))),
		})
		return
	}
	clog.V(common.VERBOSE).Infof(ctx, "Chat exchange opened took=%v", time.Since(start))

	lines := NewLineReader(resp.Body)
	for {
		line, err := lines.Next()
		if err == io.EOF {
			fail(&StreamError{Kind: monitor.StreamErrorReadBody, Err: errStreamIncomplete})
			return
		}
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				fail(&StreamError{Kind: monitor.StreamErrorMalformed, Err: err})
				return
			}
			fail(transportError(ctx, err))
			return
		}

		var rec chatRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			monitor.StreamError(monitor.StreamErrorMalformed)
			clog.Warningf(ctx, "Skipping malformed stream line err=%q line=%q", err, truncate(line, maxLoggedLineSize))
			continue
		}

		if rec.Message != nil && rec.Message.Content != "" {
			if !send(Chunk{Kind: ChunkContent, Content: rec.Message.Content}) {
				return
			}
		}

		if rec.Done {
			took := time.Since(start)
			if p.health != nil {
				p.health.RecordLatency(w.Address, took.Milliseconds())
			}
			monitor.StreamLatency(took)
			clog.V(common.DEBUG).Infof(ctx, "Chat exchange done took=%v evalCount=%d", took, rec.EvalCount)
			send(Chunk{Kind: ChunkDone, TotalDuration: rec.TotalDuration, EvalCount: rec.EvalCount, PromptEvalCount: rec.PromptEvalCount})
			return
		}
	}
}

func (p *Proxy) markUnhealthy(addr ethcommon.Address) {
	if p.health != nil {
		p.health.MarkUnhealthy(addr)
	}
}

// ChatCompletionSync drains the exchange into one result. The first error chunk is returned as the error.
func (p *Proxy) ChatCompletionSync(ctx context.Context, w *core.Worker, messages []Message, model string) (*SyncResult, error) {
	var (
		sb   strings.Builder
		res  SyncResult
		err  error
		done bool
	)
	for c := range p.ChatCompletion(ctx, w, messages, model) {
		switch c.Kind {
		case ChunkContent:
			sb.WriteString(c.Content)
		case ChunkDone:
			res.TotalDuration = c.TotalDuration
			res.EvalCount = c.EvalCount
			res.PromptEvalCount = c.PromptEvalCount
			done = true
		case ChunkError:
			if err == nil {
				err = c.Err
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if !done {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &StreamError{Kind: monitor.StreamErrorReadBody, Err: errStreamIncomplete}
	}
	res.Content = sb.String()
	return &res, nil
}

func transportError(ctx context.Context, err error) *StreamError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &StreamError{Kind: monitor.StreamErrorTimeout, Err: err}
	}
	return &StreamError{Kind: monitor.StreamErrorNetwork, Err: err}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
