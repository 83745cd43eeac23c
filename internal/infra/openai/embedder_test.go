package openai

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient("dummy-key",
		WithBaseURL(server.URL+"/v1/"),
		WithBaseBackoff(time.Millisecond),
		WithClientLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestNewEmbedderOptionsOverrideDefaults(t *testing.T) {
	client, err := NewClient("dummy-key")
	require.NoError(t, err)

	embedder := NewEmbedder(client,
		WithEmbeddingModel("custom-model"),
		WithEmbeddingDimension(42),
	)

	assert.Equal(t, "custom-model", embedder.ModelName())
	assert.Equal(t, 42, embedder.Dimension())
}

func TestEmbedder_CreateEmbeddings_ReordersByIndex(t *testing.T) {
	var request struct {
		Model      string   `json:"model"`
		Input      []string `json:"input"`
		Dimensions int      `json:"dimensions"`
	}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))

		writeJSON(w, http.StatusOK, `{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0.2, 0.2]},
				{"object": "embedding", "index": 0, "embedding": [0.1, 0.1]}
			],
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`)
	})

	embedder := NewEmbedder(client, WithEmbeddingDimension(2))
	vectors, err := embedder.CreateEmbeddings(t.Context(), []string{"first", "second"})
	require.NoError(t, err)

	assert.Equal(t, "text-embedding-3-small", request.Model)
	assert.Equal(t, []string{"first", "second"}, request.Input)
	assert.Equal(t, 2, request.Dimensions)
	assert.Equal(t, [][]float32{{0.1, 0.1}, {0.2, 0.2}}, vectors)
}

func TestEmbedder_CreateEmbeddings_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusTooManyRequests, `{"error": {"message": "rate limited", "type": "rate_limit_error"}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [{"object": "embedding", "index": 0, "embedding": [1, 0]}],
			"usage": {"prompt_tokens": 1, "total_tokens": 1}
		}`)
	})

	vectors, err := NewEmbedder(client).CreateEmbeddings(t.Context(), []string{"only"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, [][]float32{{1, 0}}, vectors)
}

func TestEmbedder_CreateEmbeddings_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCalls int32
		wantErrIs error
	}{
		{
			name:      "server error is not retried",
			status:    http.StatusInternalServerError,
			body:      `{"error": {"message": "boom", "type": "server_error"}}`,
			wantCalls: 1,
		},
		{
			name:      "persistent rate limit exhausts retries",
			status:    http.StatusTooManyRequests,
			body:      `{"error": {"message": "rate limited", "type": "rate_limit_error"}}`,
			wantCalls: MaxRetries + 1,
			wantErrIs: ErrMaxRetriesExceeded,
		},
		{
			name:   "count mismatch",
			status: http.StatusOK,
			body: `{
				"object": "list",
				"model": "m",
				"data": [{"object": "embedding", "index": 0, "embedding": [1]}],
				"usage": {"prompt_tokens": 1, "total_tokens": 1}
			}`,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeJSON(w, tt.status, tt.body)
			})

			_, err := NewEmbedder(client).CreateEmbeddings(t.Context(), []string{"a", "b"})
			require.Error(t, err)
			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestEmbedder_CreateEmbeddings_RejectsEmptyInput(t *testing.T) {
	client, err := NewClient("dummy-key")
	require.NoError(t, err)

	_, err = NewEmbedder(client).CreateEmbeddings(t.Context(), nil)
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoff(BaseBackoff, 1))
	assert.Equal(t, 4*time.Second, backoff(BaseBackoff, 2))
	assert.Equal(t, 8*time.Second, backoff(BaseBackoff, 3))
	assert.Equal(t, MaxBackoff, backoff(BaseBackoff, 10))
}
