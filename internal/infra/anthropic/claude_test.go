package anthropic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchen-voice/internal/domain"
	"kitchen-voice/internal/infra/anthropic"
)

func claudeServer(t *testing.T, reply string, calls *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/messages" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-test", req["model"])
		assert.Contains(t, req["system"], "- 5: order-e")

		response := map[string]any{
			"content": []map[string]string{{"type": "text", "text": reply}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
}

func numbers() domain.OrderNumberMap {
	orders := []domain.Order{
		{ID: "order-a", Status: domain.OrderPreparing},
		{ID: "order-b", Status: domain.OrderPreparing},
		{ID: "order-c", Status: domain.OrderPreparing},
		{ID: "order-d", Status: domain.OrderPreparing},
		{ID: "order-e", Status: domain.OrderPending},
	}
	return domain.BuildOrderNumberMap(orders)
}

func TestClaudeClient_Parse(t *testing.T) {
	var calls atomic.Int32
	server := claudeServer(t, "Sure.\n```json\n{\"action\":\"change_status\",\"orderNumber\":5,\"status\":\"done\",\"confidence\":0.92}\n```", &calls)
	defer server.Close()

	client := anthropic.NewClaudeClientWithURL("test-key", "claude-test", server.URL, 0)
	assert.Equal(t, "anthropic", client.Name())

	result, err := client.Parse(context.Background(), "order five done", numbers())
	require.NoError(t, err)

	assert.Equal(t, domain.ActionUpdateStatus, result.Action)
	require.NotNil(t, result.OrderNumber)
	assert.Equal(t, 5, *result.OrderNumber)
	assert.Equal(t, domain.StatusComplete, result.Status)
	assert.InDelta(t, 0.92, result.Confidence, 1e-9)
	assert.Equal(t, "order five done", result.OriginalText)
}

func TestClaudeClient_RawJSON(t *testing.T) {
	var calls atomic.Int32
	server := claudeServer(t, `{"action":"show_all_day","view":"allDay","confidence":0.9}`, &calls)
	defer server.Close()

	client := anthropic.NewClaudeClientWithURL("test-key", "claude-test", server.URL, 0)
	result, err := client.Parse(context.Background(), "all day", numbers())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionShowAllDay, result.Action)
	assert.Equal(t, domain.ViewAllDay, result.View)
}

func TestClaudeClient_NoJSON(t *testing.T) {
	var calls atomic.Int32
	server := claudeServer(t, "I am not sure what you mean.", &calls)
	defer server.Close()

	client := anthropic.NewClaudeClientWithURL("test-key", "claude-test", server.URL, 0)
	_, err := client.Parse(context.Background(), "mumble", numbers())
	assert.Error(t, err)
}

func TestClaudeClient_ErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := anthropic.NewClaudeClientWithURL("test-key", "claude-test", server.URL, 0)
	_, err := client.Parse(context.Background(), "order five ready", numbers())
	assert.ErrorContains(t, err, "503")
	assert.Equal(t, int32(1), calls.Load())
}
