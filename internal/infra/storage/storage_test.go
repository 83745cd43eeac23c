package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	fileID := uuid.MustParse("3f2504e0-4f89-11d3-9a0c-0305e82c3301")
	path, err := s.Upload(ctx, fileID, "team handbook.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "3f/3f2504e0-4f89-11d3-9a0c-0305e82c3301_team_handbook.pdf", path)

	data, err := s.Download(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	require.NoError(t, s.Delete(ctx, path))
	require.NoError(t, s.Delete(ctx, path))

	_, err = s.Download(ctx, path)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStorage_RejectsEscapingPaths(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, path := range []string{"../secret", "/etc/passwd", "a/../../b"} {
		t.Run(path, func(t *testing.T) {
			_, err := s.Download(context.Background(), path)
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrObjectNotFound)
		})
	}
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(context.Background(), Config{Type: "gcs"})
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"a.pdf", "application/pdf"},
		{"A.PDF", "application/pdf"},
		{"notes.txt", "text/plain"},
		{"README.md", "text/markdown"},
		{"image.png", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentType(tt.filename))
		})
	}
}

// fakeS3 はパススタイルの PUT/GET/DELETE だけを扱うインメモリ S3
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = string(body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		_, _ = io.WriteString(w, body)
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Storage_AgainstCompatibleEndpoint(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}}
	server := httptest.NewServer(fake)
	defer server.Close()

	ctx := context.Background()
	s, err := NewS3Storage(ctx, Config{
		Type:         TypeS3,
		S3Bucket:     "kb-docs",
		S3Region:     "us-east-1",
		AWSAccessKey: "test",
		AWSSecretKey: "test",
		S3Endpoint:   server.URL,
	})
	require.NoError(t, err)

	fileID := uuid.New()
	path, err := s.Upload(ctx, fileID, "notes.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, generateStoragePath(fileID, "notes.txt"), path)
	assert.Contains(t, fake.objects, "/kb-docs/"+path)

	// アップロード時のボディ形式（チェックサム付与等）に依存しないよう内容は直接置く
	fake.objects["/kb-docs/"+path] = "hello"

	data, err := s.Download(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, s.Delete(ctx, path))
	_, err = s.Download(ctx, path)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestNewS3Storage_RequiresBucket(t *testing.T) {
	_, err := NewS3Storage(context.Background(), Config{Type: TypeS3})
	assert.Error(t, err)
}
