package postgres

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/kb-rag/internal/core/ask"
	"github.com/jinford/kb-rag/internal/core/citation"
	"github.com/jinford/kb-rag/internal/core/eval"
	"github.com/jinford/kb-rag/internal/core/ingestion"
	"github.com/jinford/kb-rag/internal/core/retrieval"
	"github.com/jinford/kb-rag/internal/platform/database"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 1536

// setupDB は pgvector 入りの PostgreSQL コンテナを起動し、マイグレーション済みの接続を返す
func setupDB(t *testing.T) *database.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker not available: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=kb",
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_DB=kb_rag",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Purge(resource) })
	_ = resource.Expire(180)

	params := database.ConnectionParams{
		Host:     "localhost",
		User:     "kb",
		Password: "secret",
		DBName:   "kb_rag",
		SSLMode:  "disable",
	}
	_, err = fmt.Sscanf(resource.GetPort("5432/tcp"), "%d", &params.Port)
	require.NoError(t, err)

	ctx := context.Background()
	var db *database.DB
	pool.MaxWait = 2 * time.Minute
	require.NoError(t, pool.Retry(func() error {
		var connErr error
		db, connErr = database.New(ctx, params)
		return connErr
	}))
	t.Cleanup(db.Close)

	migrator, err := database.NewMigrator(db.Pool, Migrations(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	applied, err := migrator.Up(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, applied)

	again, err := migrator.Up(ctx)
	require.NoError(t, err)
	require.Empty(t, again)

	return db
}

// axisVector は dims[i] の軸方向を合成した正規化ベクトルを返す
func axisVector(dims ...int) []float32 {
	v := make([]float32, testDimension)
	norm := float32(1 / math.Sqrt(float64(len(dims))))
	for _, d := range dims {
		v[d] = norm
	}
	return v
}

func TestPostgresRepositories(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	docs := NewDocumentRepository(db.Pool)
	chunks := NewChunkRepository(db.Pool)

	tenantA := uuid.New()
	tenantB := uuid.New()
	collection := uuid.New()

	docA, err := docs.CreateDocument(ctx, CreateDocumentParams{
		TenantID:     tenantA,
		CollectionID: mo.Some(collection),
		Filename:     "handbook.pdf",
		StoragePath:  "tenant-a/handbook.pdf",
		MimeType:     "application/pdf",
	})
	require.NoError(t, err)
	docB, err := docs.CreateDocument(ctx, CreateDocumentParams{
		TenantID:    tenantB,
		Filename:    "other.txt",
		StoragePath: "tenant-b/other.txt",
		MimeType:    "text/plain",
	})
	require.NoError(t, err)

	exact := uuid.New()
	partial := uuid.New()
	orthogonal := uuid.New()
	require.NoError(t, chunks.InsertChunks(ctx, []*ingestion.Chunk{
		{ID: exact, DocumentID: docA.ID, TenantID: tenantA, CollectionID: mo.Some(collection), Text: "exact", TokenCount: 1, ChunkIndex: 0, Embedding: axisVector(0)},
		{ID: partial, DocumentID: docA.ID, TenantID: tenantA, CollectionID: mo.Some(collection), Text: "partial", TokenCount: 1, ChunkIndex: 1, Embedding: axisVector(0, 1)},
		{ID: orthogonal, DocumentID: docA.ID, TenantID: tenantA, CollectionID: mo.Some(collection), Text: "orthogonal", TokenCount: 1, ChunkIndex: 2, Embedding: axisVector(1)},
	}))
	require.NoError(t, chunks.InsertChunks(ctx, []*ingestion.Chunk{
		{DocumentID: docB.ID, TenantID: tenantB, Text: "foreign", TokenCount: 1, ChunkIndex: 0, Embedding: axisVector(0)},
	}))

	t.Run("MatchChunks orders by similarity and applies threshold", func(t *testing.T) {
		rows, err := chunks.MatchChunks(ctx, retrieval.MatchQuery{
			TenantID:  tenantA,
			Vector:    axisVector(0),
			Threshold: 0.5,
			K:         10,
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.Equal(t, exact, rows[0].ChunkID)
		assert.InDelta(t, 1.0, rows[0].Similarity, 1e-4)
		assert.Equal(t, partial, rows[1].ChunkID)
		assert.InDelta(t, 1/math.Sqrt2, rows[1].Similarity, 1e-4)
		assert.Equal(t, mo.Some(collection), rows[0].CollectionID)
	})

	t.Run("MatchChunks never crosses tenants", func(t *testing.T) {
		rows, err := chunks.MatchChunks(ctx, retrieval.MatchQuery{
			TenantID:  tenantB,
			Vector:    axisVector(0),
			Threshold: 0,
			K:         10,
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, docB.ID, rows[0].DocumentID)
	})

	t.Run("MatchChunks filters by collection", func(t *testing.T) {
		rows, err := chunks.MatchChunks(ctx, retrieval.MatchQuery{
			TenantID:      tenantA,
			Vector:        axisVector(0),
			CollectionIDs: []uuid.UUID{uuid.New()},
			Threshold:     0,
			K:             10,
		})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("FilenamesByID omits unknown ids", func(t *testing.T) {
		missing := uuid.New()
		names, err := docs.FilenamesByID(ctx, []uuid.UUID{docA.ID, missing})
		require.NoError(t, err)
		assert.Equal(t, map[uuid.UUID]string{docA.ID: "handbook.pdf"}, names)
	})

	t.Run("status transitions", func(t *testing.T) {
		require.NoError(t, docs.MarkFailed(ctx, docA.ID, "no text could be extracted from the document"))
		doc := mustGetDocument(t, docs, docA.ID)
		assert.Equal(t, ingestion.StatusFailed, doc.Status)
		assert.Equal(t, "no text could be extracted from the document", doc.ErrorMessage)

		require.NoError(t, docs.MarkProcessing(ctx, docA.ID))
		require.NoError(t, docs.MarkIndexed(ctx, docA.ID, 3, 3))
		doc = mustGetDocument(t, docs, docA.ID)
		assert.Equal(t, ingestion.StatusIndexed, doc.Status)
		assert.Empty(t, doc.ErrorMessage)
		assert.Equal(t, 3, doc.ChunkCount)

		assert.ErrorIs(t, docs.MarkProcessing(ctx, uuid.New()), ErrNotFound)

		none, err := docs.GetDocument(ctx, uuid.New())
		require.NoError(t, err)
		assert.True(t, none.IsAbsent())
	})

	t.Run("DeleteChunksByDocument", func(t *testing.T) {
		deleted, err := chunks.DeleteChunksByDocument(ctx, docA.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), deleted)
	})

	t.Run("exchange recorded in a transaction", func(t *testing.T) {
		tx := database.NewTransactionProvider(db.Pool, NewAdapter)
		threadID := uuid.New()

		_, err := database.Transact(ctx, tx, func(a *Adapter) (struct{}, error) {
			return struct{}{}, a.Exchanges.InsertExchange(ctx, ask.Exchange{
				TenantID: tenantA,
				ThreadID: threadID,
				Question: "what?",
				Answer:   "that [1]",
				Citations: []citation.Entry{
					{Index: 1, ChunkID: exact, DocumentID: docA.ID, Filename: "handbook.pdf", Snippet: "exact", Similarity: 1},
				},
			})
		})
		require.NoError(t, err)

		var count int
		require.NoError(t, db.Pool.QueryRow(ctx, `SELECT count(*) FROM chat_messages WHERE thread_id = $1`, UUIDToPgtype(threadID)).Scan(&count))
		assert.Equal(t, 2, count)

		require.NoError(t, NewExchangeRepository(db.Pool).InsertKnowledgeGap(ctx, ask.KnowledgeGap{
			TenantID: tenantA,
			Question: "unknown?",
			Context:  "Best similarity: 0.0%",
		}))
	})

	t.Run("eval cases and runs", func(t *testing.T) {
		evals := NewEvalRepository(db.Pool)
		scope := retrieval.TrustedScope(tenantA)

		setID, err := evals.CreateSet(ctx, tenantA, "smoke")
		require.NoError(t, err)
		_, err = evals.AddCase(ctx, setID, eval.Case{
			Question:          "q1",
			ExpectedAnswer:    "a1",
			ExpectedSourceIDs: []uuid.UUID{exact},
		})
		require.NoError(t, err)

		cases, err := evals.ListCases(ctx, scope, setID)
		require.NoError(t, err)
		require.Len(t, cases, 1)
		assert.Equal(t, []uuid.UUID{exact}, cases[0].ExpectedSourceIDs)

		_, err = evals.ListCases(ctx, retrieval.TrustedScope(tenantB), setID)
		assert.ErrorIs(t, err, ErrNotFound)

		runID, err := evals.RecordRun(ctx, setID, scope, &eval.Summary{RecallAtK: 1, AnswerAccuracy: 0.5, KValue: 5, Total: 1})
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, runID)
	})

	t.Run("eval set import rolls back on a failing case", func(t *testing.T) {
		tx := database.NewTransactionProvider(db.Pool, NewAdapter)
		tenant := uuid.New()
		importSet := func(cases []eval.Case) (uuid.UUID, error) {
			return database.Transact(ctx, tx, func(a *Adapter) (uuid.UUID, error) {
				return eval.ImportSet(ctx, a.Evals, tenant, "import", cases)
			})
		}
		countSets := func() int {
			var n int
			require.NoError(t, db.Pool.QueryRow(ctx, `SELECT count(*) FROM eval_sets WHERE tenant_id = $1`, UUIDToPgtype(tenant)).Scan(&n))
			return n
		}

		// NUL を含むテキストは PostgreSQL の TEXT 型に格納できない
		_, err := importSet([]eval.Case{
			{ID: "ok", Question: "q1", ExpectedAnswer: "a1"},
			{ID: "bad", Question: "q2\x00", ExpectedAnswer: "a2"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `failed to import case "bad"`)
		assert.Equal(t, 0, countSets())

		setID, err := importSet([]eval.Case{
			{ID: "c1", Question: "q1", ExpectedAnswer: "a1"},
			{ID: "c2", Question: "q2", ExpectedAnswer: "a2"},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, countSets())

		cases, err := NewEvalRepository(db.Pool).ListCases(ctx, retrieval.TrustedScope(tenant), setID)
		require.NoError(t, err)
		assert.Len(t, cases, 2)
	})

	t.Run("membership", func(t *testing.T) {
		members := NewMembershipRepository(db.Pool)
		user := uuid.New()

		role, err := members.Role(ctx, tenantA, user)
		require.NoError(t, err)
		assert.True(t, role.IsAbsent())

		require.NoError(t, members.AddMember(ctx, tenantA, user, "admin"))
		role, err = members.Role(ctx, tenantA, user)
		require.NoError(t, err)
		assert.Equal(t, mo.Some("admin"), role)
	})

	t.Run("DeleteDocument cascades to chunks", func(t *testing.T) {
		require.NoError(t, docs.DeleteDocument(ctx, docB.ID))

		var count int
		require.NoError(t, db.Pool.QueryRow(ctx, `SELECT count(*) FROM document_chunks WHERE document_id = $1`, UUIDToPgtype(docB.ID)).Scan(&count))
		assert.Zero(t, count)
	})
}

func mustGetDocument(t *testing.T, docs *DocumentRepository, id uuid.UUID) *ingestion.Document {
	t.Helper()
	got, err := docs.GetDocument(context.Background(), id)
	require.NoError(t, err)
	require.True(t, got.IsPresent())
	return got.MustGet()
}
