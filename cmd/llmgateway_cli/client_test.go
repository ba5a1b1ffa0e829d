package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/livepeer/go-llm-gateway/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "0x00000000000000000000000000000000000000Aa"

func testClient(t *testing.T, handler http.HandlerFunc) (*gatewayClient, *bytes.Buffer) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	var out bytes.Buffer
	return &gatewayClient{base: srv.URL, http: srv.Client(), out: &out}, &out
}

func TestStatus(t *testing.T) {
	g, out := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		fmt.Fprint(w, `{"total":2,"healthy":1,"models":["llama3"],"initialized":true,"pendingRequests":7,
			"workers":[{"address":"`+testAddr+`","endpoint":"http://w1:11434","healthy":true,"latencyMs":120,"models":["llama3"]}]}`)
	})

	require.NoError(t, g.status())
	assert.Contains(t, out.String(), "1 healthy of 2")
	assert.Contains(t, out.String(), "Pending requests: 7")
	assert.Contains(t, out.String(), "http://w1:11434")
	assert.Contains(t, out.String(), "120")
}

func TestOperator(t *testing.T) {
	g, out := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/operators/"+testAddr, r.URL.Path)
		fmt.Fprint(w, `{"address":"`+testAddr+`","models":["llama3","phi3"],"stakeAmount":1234567,"stakeAmountFormatted":"1,234,567","performanceScore":0.9,"active":true,"fromCache":false}`)
	})

	require.NoError(t, g.operator(testAddr))
	assert.Contains(t, out.String(), "1,234,567")
	assert.Contains(t, out.String(), "llama3,phi3")
	assert.Contains(t, out.String(), "0.9")

	assert.Error(t, g.operator(""))
}

func TestOperator_NotFound(t *testing.T) {
	g, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"operator not found"}`)
	})
	assert.EqualError(t, g.operator(testAddr), "gateway returned status 404: operator not found")
}

func TestEpoch(t *testing.T) {
	g, out := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/operators/"+testAddr+"/epoch", r.URL.Path)
		fmt.Fprint(w, `{"address":"`+testAddr+`","requests":4,"successful":3,"successRate":"75%","avgLatencyMs":100,"weightedRequests":3,"estimatedReward":5000000000000}`)
	})

	require.NoError(t, g.epoch(testAddr))
	assert.Contains(t, out.String(), "75%")
	// large integers are not printed in exponent form
	assert.Contains(t, out.String(), "5000000000000")
}

func TestChat(t *testing.T) {
	g, out := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req server.LLMRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "hello", req.Messages[0].Content)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"content\":\"Hi\",\"done\":false}\n\n")
		fmt.Fprint(w, "data: {\"content\":\" there\",\"done\":false}\n\n")
		fmt.Fprint(w, "data: {\"worker\":\""+testAddr+"\",\"done\":true,\"eval_count\":2}\n\n")
	})

	require.NoError(t, g.chat("llama3", "hello"))
	assert.Contains(t, out.String(), "Hi there")
	assert.Contains(t, out.String(), "2 tokens")
}

func TestChat_Errors(t *testing.T) {
	g, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"no worker available for model \"llama3\""}`)
	})
	assert.ErrorContains(t, g.chat("llama3", "hello"), "503")
	assert.Error(t, g.chat("", "hello"))

	g, _ = testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"content\":\"par\",\"done\":false}\n\n")
		fmt.Fprint(w, "data: {\"worker\":\"w\",\"done\":true,\"error\":\"stream failure\"}\n\n")
	})
	assert.ErrorContains(t, g.chat("llama3", "hello"), "stream failure")

	g, _ = testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"content\":\"par\",\"done\":false}\n\n")
	})
	assert.EqualError(t, g.chat("llama3", "hello"), "stream ended without completion")
}
