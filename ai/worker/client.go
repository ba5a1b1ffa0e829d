package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/livepeer/go-llm-gateway/common"
)

const (
	tagsPath = "api/tags"
	chatPath = "api/chat"
)

// Message is one turn of a chat exchange
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Client issues the lightweight calls made against a worker outside of a chat exchange
type Client struct {
	http *http.Client
}

// NewClient returns a Client using httpClient. Timeouts come from the request context.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{http: httpClient}
}

// ListModels returns the names of the models the worker currently serves
func (c *Client) ListModels(ctx context.Context, endpoint string) ([]string, error) {
	uri, err := common.ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, common.JoinURL(uri.String(), tagsPath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := common.ReadAtMost(resp.Body, common.MaxErrorBodySize)
		return nil, fmt.Errorf("worker returned status %d: %s", resp.StatusCode, body)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("could not decode model list: %w", err)
	}
	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			models = append(models, m.Name)
		}
	}
	return models, nil
}
