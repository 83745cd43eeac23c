package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jinford/kb-rag/internal/core/ask"
	"github.com/jinford/kb-rag/internal/core/eval"
	"github.com/jinford/kb-rag/internal/core/generation"
	"github.com/jinford/kb-rag/internal/core/ingestion"
	"github.com/jinford/kb-rag/internal/core/retrieval"
	"github.com/jinford/kb-rag/internal/core/suggest"
	"github.com/samber/mo"
)

const (
	// DefaultChatRatePerMinute はユーザーあたりのチャット上限（回/分）
	DefaultChatRatePerMinute = 20
	// DefaultIngestRatePerHour はユーザーあたりのインデックス化上限（回/時）
	DefaultIngestRatePerHour = 10

	shutdownTimeout = 15 * time.Second
)

// Asker は質問に根拠付きで回答する
type Asker interface {
	Ask(ctx context.Context, scope retrieval.Scope, params ask.AskParams, sink generation.Sink) (*ask.AskResult, error)
}

// Ingester はドキュメントをインデックス化する
type Ingester interface {
	Ingest(ctx context.Context, documentID uuid.UUID) (*ingestion.Result, error)
}

// DocumentFinder はドキュメントのメタデータを取得する
type DocumentFinder interface {
	GetDocument(ctx context.Context, id uuid.UUID) (mo.Option[*ingestion.Document], error)
}

// Suggester はチケットのタイトルから関連記事を提案する
type Suggester interface {
	Suggest(ctx context.Context, scope retrieval.Scope, text string) ([]suggest.Suggestion, error)
}

// EvalExecutor は評価セットを実行してイベントを送出する
type EvalExecutor interface {
	Execute(ctx context.Context, scope retrieval.Scope, setID mo.Option[uuid.UUID], cases []eval.Case, recorder eval.RunRecorder, reporter eval.Reporter) (*eval.Summary, error)
}

// EvalCaseLister は評価セットのケースを返す
// セットが存在しないかスコープ外の場合は IsNotFound が true になるエラーを返す
type EvalCaseLister interface {
	ListCases(ctx context.Context, scope retrieval.Scope, setID uuid.UUID) ([]eval.Case, error)
}

// MembershipLookup はテナント内でのユーザーのロールを返す
type MembershipLookup interface {
	Role(ctx context.Context, tenantID, userID uuid.UUID) (mo.Option[string], error)
}

// Dependencies は HTTP ハンドラが使うサービス群
type Dependencies struct {
	Ask         Asker
	Ingest      Ingester
	Documents   DocumentFinder
	Suggest     Suggester
	Memberships MembershipLookup

	// ChatDefaults はチャットでパラメータを上書きする際の基準値
	ChatDefaults retrieval.Options
	// EvalDefaults はリクエストで上書きされない検索パラメータ
	EvalDefaults retrieval.Options
	// NewEval は検索パラメータを指定した評価実行器を返す
	NewEval   func(opts retrieval.Options) EvalExecutor
	EvalCases EvalCaseLister
	EvalRuns  eval.RunRecorder

	// IsNotFound はリポジトリの「存在しない」エラーを判定する
	IsNotFound func(error) bool

	Metrics http.Handler
}

// Server は gin ベースの HTTP サーバー
type Server struct {
	deps          Dependencies
	chatLimiter   *RateLimiter
	ingestLimiter *RateLimiter
	logger        *slog.Logger
	engine        *gin.Engine
}

type ServerOption func(*Server)

// WithServerLogger は Server にロガーを設定する
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithChatRateLimit はチャットのレート制限（回/分）を上書きする
func WithChatRateLimit(perMinute int) ServerOption {
	return func(s *Server) {
		s.chatLimiter = NewRateLimiter(perMinute, time.Minute)
	}
}

// WithIngestRateLimit はインデックス化のレート制限（回/時）を上書きする
func WithIngestRateLimit(perHour int) ServerOption {
	return func(s *Server) {
		s.ingestLimiter = NewRateLimiter(perHour, time.Hour)
	}
}

// NewServer は新しいServerを作成する
func NewServer(deps Dependencies, opts ...ServerOption) *Server {
	s := &Server{
		deps:          deps,
		chatLimiter:   NewRateLimiter(DefaultChatRatePerMinute, time.Minute),
		ingestLimiter: NewRateLimiter(DefaultIngestRatePerHour, time.Hour),
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.deps.ChatDefaults.K == 0 {
		s.deps.ChatDefaults = retrieval.ChatDefaults()
	}
	if s.deps.EvalDefaults.K == 0 {
		s.deps.EvalDefaults = retrieval.EvalDefaults()
	}
	if s.deps.IsNotFound == nil {
		s.deps.IsNotFound = func(error) bool { return false }
	}

	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.requestContext(), s.recovery())

	r.GET("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	api := r.Group("/api", s.requireMembership())
	api.POST("/chat", s.handleChat)
	api.POST("/ingest/:documentId", s.handleIngest)
	api.GET("/suggestions", s.handleSuggestions)
	api.POST("/eval/run", requireAdmin(), s.handleEvalRun)

	return r
}

// Handler は http.Handler を返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run は addr で待ち受け、ctx がキャンセルされたら処理中のリクエストを待って停止する
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}
