package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient は入力テキストの番号をベクトルの先頭要素に埋め込むスタブ
type stubClient struct {
	calls       [][]string
	failOnCall  int // 1始まり。0なら失敗しない
	shortOnCall int
}

func (c *stubClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls = append(c.calls, texts)
	call := len(c.calls)
	if call == c.failOnCall {
		return nil, errors.New("upstream 500")
	}

	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		n, err := strconv.Atoi(text)
		if err != nil {
			return nil, err
		}
		out = append(out, []float32{float32(n), 1})
	}
	if call == c.shortOnCall {
		out = out[:len(out)-1]
	}
	return out, nil
}

func numberedTexts(n int) []string {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprint(i)
	}
	return texts
}

func newTestService(client Client, opts ...ServiceOption) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(client, append([]ServiceOption{WithEmbeddingLogger(logger)}, opts...)...)
}

func TestService_EmbedBatchPreservesOrderAcrossBatches(t *testing.T) {
	client := &stubClient{}
	svc := newTestService(client)

	vectors, err := svc.EmbedBatch(context.Background(), numberedTexts(250))
	require.NoError(t, err)
	require.Len(t, vectors, 250)

	for i, v := range vectors {
		assert.Equal(t, float32(i), v[0])
	}

	require.Len(t, client.calls, 3)
	assert.Len(t, client.calls[0], 100)
	assert.Len(t, client.calls[1], 100)
	assert.Len(t, client.calls[2], 50)
}

func TestService_EmbedBatchFailures(t *testing.T) {
	tests := []struct {
		name       string
		client     *stubClient
		wantOffset int
	}{
		{name: "second batch errors", client: &stubClient{failOnCall: 2}, wantOffset: 10},
		{name: "first batch returns fewer vectors", client: &stubClient{shortOnCall: 1}, wantOffset: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(tt.client, WithBatchSize(10))

			vectors, err := svc.EmbedBatch(context.Background(), numberedTexts(25))
			require.Error(t, err)
			assert.Nil(t, vectors)
			assert.ErrorIs(t, err, ErrEmbeddingBatchFailure)

			var batchErr *BatchError
			require.ErrorAs(t, err, &batchErr)
			assert.Equal(t, tt.wantOffset, batchErr.Offset)
		})
	}
}

func TestService_EmbedBatchEmptyInput(t *testing.T) {
	client := &stubClient{}
	svc := newTestService(client)

	vectors, err := svc.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Empty(t, client.calls)
}

func TestService_EmbedOne(t *testing.T) {
	svc := newTestService(&stubClient{})

	v, err := svc.EmbedOne(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, []float32{7, 1}, v)
}
