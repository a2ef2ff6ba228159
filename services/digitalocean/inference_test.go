package digitalocean

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCompletion(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"summary\":\"ok\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 4, "total_tokens": 14}
		}`))
	}))
	defer srv.Close()

	client := NewInferenceClient(InferenceConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "tiny"})
	reply, err := client.JSONCompletion(context.Background(), "system", "user")
	require.NoError(t, err)

	assert.Equal(t, `{"summary":"ok"}`, reply)
	assert.Equal(t, "tiny", got["model"])
	assert.Equal(t, map[string]interface{}{"type": "json_object"}, got["response_format"])
}

func TestJSONCompletionWithoutChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "cmpl-2", "object": "chat.completion", "choices": []}`))
	}))
	defer srv.Close()

	client := NewInferenceClient(InferenceConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := client.JSONCompletion(context.Background(), "system", "user")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestJSONCompletionHonoursCancelledContext(t *testing.T) {
	client := NewInferenceClient(InferenceConfig{APIKey: "k", BaseURL: "http://127.0.0.1:0", RequestsPerMinute: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.JSONCompletion(ctx, "system", "user")
	assert.Error(t, err)
}
