package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/livepeer/go-llm-gateway/ai/worker"
	"github.com/livepeer/go-llm-gateway/server"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

const requestTimeout = 5 * time.Minute

type gatewayClient struct {
	base string
	http *http.Client
	out  io.Writer
}

func newGatewayClient(c *cli.Context, out io.Writer) *gatewayClient {
	return &gatewayClient{
		base: fmt.Sprintf("http://%v:%v", c.GlobalString("host"), c.GlobalString("http")),
		http: &http.Client{Timeout: requestTimeout},
		out:  out,
	}
}

type statusInfo struct {
	Total           int      `json:"total"`
	Healthy         int      `json:"healthy"`
	Models          []string `json:"models"`
	Initialized     bool     `json:"initialized"`
	PendingRequests int64    `json:"pendingRequests"`
	Workers         []struct {
		Address         string   `json:"address"`
		Endpoint        string   `json:"endpoint"`
		Healthy         bool     `json:"healthy"`
		LatencyMs       int64    `json:"latencyMs"`
		LastHealthCheck string   `json:"lastHealthCheck"`
		Models          []string `json:"models"`
	} `json:"workers"`
}

func (g *gatewayClient) get(path string, v any) error {
	resp, err := g.http.Get(g.base + path)
	if err != nil {
		return fmt.Errorf("cannot reach gateway at %v: %w", g.base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func responseError(resp *http.Response) error {
	var res struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil || res.Error == "" {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("gateway returned status %d: %v", resp.StatusCode, res.Error)
}

func (g *gatewayClient) status() error {
	var s statusInfo
	if err := g.get("/status", &s); err != nil {
		return err
	}

	fmt.Fprintf(g.out, "Initialized: %v\n", s.Initialized)
	fmt.Fprintf(g.out, "Workers: %d healthy of %d\n", s.Healthy, s.Total)
	fmt.Fprintf(g.out, "Models: %v\n", strings.Join(s.Models, ", "))
	fmt.Fprintf(g.out, "Pending requests: %d\n", s.PendingRequests)

	table := tablewriter.NewWriter(g.out)
	table.SetHeader([]string{"Address", "Endpoint", "Healthy", "Latency (ms)", "Last Check", "Models"})
	for _, w := range s.Workers {
		table.Append([]string{w.Address, w.Endpoint, strconv.FormatBool(w.Healthy), strconv.FormatInt(w.LatencyMs, 10), w.LastHealthCheck, strings.Join(w.Models, ",")})
	}
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.Render()
	return nil
}

func (g *gatewayClient) operator(addr string) error {
	if addr == "" {
		return fmt.Errorf("missing operator address")
	}
	var res map[string]any
	if err := g.get("/operators/"+addr, &res); err != nil {
		return err
	}
	g.printKV(res, "address", "endpoint", "models", "active", "stakeAmountFormatted", "performanceScore", "stakeWeight", "pendingRewardsFormatted", "fromCache")
	return nil
}

func (g *gatewayClient) epoch(addr string) error {
	if addr == "" {
		return fmt.Errorf("missing operator address")
	}
	var res map[string]any
	if err := g.get("/operators/"+addr+"/epoch", &res); err != nil {
		return err
	}
	g.printKV(res, "address", "requests", "successful", "successRate", "avgLatencyMs", "weightedRequests", "estimatedReward")
	return nil
}

func (g *gatewayClient) printKV(res map[string]any, keys ...string) {
	table := tablewriter.NewWriter(g.out)
	for _, k := range keys {
		v, ok := res[k]
		if !ok || v == nil {
			continue
		}
		table.Append([]string{k, formatValue(v)})
	}
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("*")
	table.SetColumnSeparator("|")
	table.Render()
}

func formatValue(v any) string {
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, fmt.Sprintf("%v", p))
		}
		return strings.Join(parts, ",")
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

// chat streams the reply to out as it arrives
func (g *gatewayClient) chat(model, prompt string) error {
	if model == "" || prompt == "" {
		return fmt.Errorf("a model and a prompt are required")
	}
	body, err := json.Marshal(server.LLMRequest{
		Model:    model,
		Messages: []worker.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return err
	}
	resp, err := g.http.Post(g.base+"/llm", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cannot reach gateway at %v: %w", g.base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev server.LLMResponse
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("malformed event: %w", err)
		}
		if ev.Error != "" {
			fmt.Fprintln(g.out)
			return fmt.Errorf("worker %v failed: %v", ev.Worker, ev.Error)
		}
		fmt.Fprint(g.out, ev.Content)
		if ev.Done {
			fmt.Fprintf(g.out, "\n\n[worker %v, %d tokens]\n", ev.Worker, ev.EvalCount)
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream ended without completion")
}
