package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultEmbeddingModel, req.Model)

		// 倒序返回，验证按index回填
		data := make([]map[string]interface{}, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), 1},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		})
	})

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model       string  `json:"model"`
			Temperature float32 `json:"temperature"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultChatModel, req.Model)
		assert.InDelta(t, 0.1, req.Temperature, 1e-6)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": "echo: " + req.Messages[1].Content},
			}},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIEmbedder_BatchKeepsOrder(t *testing.T) {
	srv := newFakeOpenAI(t)
	e, err := NewOpenAIEmbedder(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Timeout: time.Second}, "")
	require.NoError(t, err)
	assert.Equal(t, 3072, e.Dimensions())

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for i, v := range vectors {
		assert.Equal(t, []float32{float32(i), 1}, v)
	}

	_, err = e.EmbedBatch(context.Background(), []string{"ok", "  "})
	assert.Error(t, err)
}

func TestOpenAIEmbedder_SplitsLargeBatches(t *testing.T) {
	var (
		mu       sync.Mutex
		requests int
		largest  int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		requests++
		if len(req.Input) > largest {
			largest = len(req.Input)
		}
		mu.Unlock()

		// 向量取自文本编号，倒序返回
		data := make([]map[string]interface{}, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			n, err := strconv.Atoi(strings.TrimPrefix(req.Input[i], "text-"))
			require.NoError(t, err)
			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(n)},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"object": "list", "data": data})
	}))
	t.Cleanup(srv.Close)

	e, err := NewOpenAIEmbedder(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, "")
	require.NoError(t, err)

	texts := make([]string, 1100)
	for i := range texts {
		texts[i] = "text-" + strconv.Itoa(i)
	}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, v := range vectors {
		require.Equal(t, []float32{float32(i)}, v, "vector %d", i)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, requests)
	assert.Equal(t, maxEmbeddingInputs, largest)
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	srv := newFakeOpenAI(t)
	g, err := NewOpenAIGenerator(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, "", DefaultTemperature)
	require.NoError(t, err)

	text, err := g.Generate(context.Background(), "system prompt", "question?")
	require.NoError(t, err)
	assert.Equal(t, "echo: question?", text)
}

func TestOpenAIEmbedder_Dimensions(t *testing.T) {
	opts := OpenAIOptions{APIKey: "sk-test"}
	for model, dim := range map[string]int{
		"text-embedding-3-small": 1536,
		"text-embedding-ada-002": 1536,
		"custom-embedding":       0,
	} {
		e, err := NewOpenAIEmbedder(opts, model)
		require.NoError(t, err)
		assert.Equal(t, dim, e.Dimensions(), model)
	}
}

func TestOpenAIClient_RequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIOptions{}, "")
	assert.Error(t, err)
	_, err = NewOpenAIGenerator(OpenAIOptions{APIKey: " "}, "", 0)
	assert.Error(t, err)
}
