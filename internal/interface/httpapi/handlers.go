package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jinford/kb-rag/internal/core/ask"
	"github.com/jinford/kb-rag/internal/core/eval"
	"github.com/jinford/kb-rag/internal/core/generation"
	"github.com/jinford/kb-rag/internal/core/ingestion"
	"github.com/jinford/kb-rag/internal/core/retrieval"
	"github.com/samber/mo"
)

const (
	maxK             = 50
	maxQuestionRunes = 4000
	ndjsonType       = "application/x-ndjson"
)

type chatRequest struct {
	Question      string   `json:"question"`
	CollectionIDs []string `json:"collectionIds"`
	ThreadID      *string  `json:"threadId"`
	K             *int     `json:"k"`
	Threshold     *float64 `json:"threshold"`
}

type evalRunRequest struct {
	EvalSetID string   `json:"evalSetId"`
	K         *int     `json:"k"`
	Threshold *float64 `json:"threshold"`
}

type ingestResponse struct {
	Status      ingestion.Status `json:"status"`
	ChunkCount  int              `json:"chunkCount"`
	TotalTokens int              `json:"totalTokens"`
}

// handleChat は質問への回答をSSEでストリーミングする
func (s *Server) handleChat(c *gin.Context) {
	if !rateLimit(c, s.chatLimiter) {
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errInvalidJSON())
		return
	}

	params, apiErr := s.chatParams(req)
	if apiErr != nil {
		abortWithError(c, apiErr)
		return
	}

	log := requestLogger(c)
	sink := newSSESink(c)
	result, err := s.deps.Ask.Ask(c.Request.Context(), scopeOf(c), params, sink)
	if err != nil {
		switch {
		case errors.Is(err, ask.ErrEmptyQuestion):
			abortWithError(c, errValidation("question is required"))
		case errors.Is(err, generation.ErrConsumerDetached):
			log.Info("chat client disconnected", "error", err)
		case sink.Started():
			log.Warn("chat stream closed on error", "error", err)
		default:
			abortWithInternal(c, "failed to answer question", err)
		}
		return
	}

	// 回答が空でも引用イベントは送られるため、ここでは必ずストリームが開始済み
	log.Info("chat answered",
		"citations", len(result.Citations),
		"maxSimilarity", result.MaxSimilarity,
		"state", result.State.String(),
	)
}

func (s *Server) chatParams(req chatRequest) (ask.AskParams, *APIError) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return ask.AskParams{}, errValidation("question is required")
	}
	if len([]rune(question)) > maxQuestionRunes {
		return ask.AskParams{}, errValidation("question is too long")
	}

	params := ask.AskParams{Question: question}

	if req.ThreadID != nil {
		id, err := uuid.Parse(*req.ThreadID)
		if err != nil {
			return ask.AskParams{}, errValidation("threadId must be a UUID")
		}
		params.ThreadID = mo.Some(id)
	}

	if req.K != nil || req.Threshold != nil || len(req.CollectionIDs) > 0 {
		opts, apiErr := overrideOptions(s.deps.ChatDefaults, req.K, req.Threshold)
		if apiErr != nil {
			return ask.AskParams{}, apiErr
		}
		for _, raw := range req.CollectionIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				return ask.AskParams{}, errValidation("collectionIds must be UUIDs")
			}
			opts.CollectionScope = append(opts.CollectionScope, id)
		}
		params.Options = mo.Some(opts)
	}

	return params, nil
}

// overrideOptions は base に k と threshold の指定を反映する
func overrideOptions(base retrieval.Options, k *int, threshold *float64) (retrieval.Options, *APIError) {
	opts := base
	opts.CollectionScope = nil
	if k != nil {
		if *k < 1 || *k > maxK {
			return opts, errValidation("k must be between 1 and 50")
		}
		opts.K = *k
	}
	if threshold != nil {
		if *threshold < 0 || *threshold > 1 {
			return opts, errValidation("threshold must be between 0 and 1")
		}
		opts.Threshold = *threshold
	}
	return opts, nil
}

// handleIngest はドキュメントをインデックス化する
func (s *Server) handleIngest(c *gin.Context) {
	if !rateLimit(c, s.ingestLimiter) {
		return
	}

	documentID, err := uuid.Parse(c.Param("documentId"))
	if err != nil {
		abortWithError(c, errValidation("documentId must be a UUID"))
		return
	}

	ctx := c.Request.Context()
	docOpt, err := s.deps.Documents.GetDocument(ctx, documentID)
	if err != nil {
		abortWithInternal(c, "failed to get document", err)
		return
	}
	doc, ok := docOpt.Get()
	// 他テナントのドキュメントは存在しないものとして扱う
	if !ok || doc.TenantID != scopeOf(c).TenantID() {
		abortWithError(c, errNotFound("Document not found"))
		return
	}

	result, err := s.deps.Ingest.Ingest(ctx, documentID)
	if err != nil {
		if errors.Is(err, ingestion.ErrDocumentNotFound) {
			abortWithError(c, errNotFound("Document not found"))
			return
		}
		abortWithInternal(c, "failed to ingest document", err)
		return
	}

	if result.Status == ingestion.StatusFailed {
		requestLogger(c).Warn("document ingestion failed", "documentID", documentID, "error", result.Err)
		abortWithError(c, &APIError{
			Status:  http.StatusInternalServerError,
			Code:    CodeInternalError,
			Message: result.Err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ingestResponse{
		Status:      result.Status,
		ChunkCount:  result.ChunkCount,
		TotalTokens: result.TotalTokens,
	})
}

// handleSuggestions はチケットのタイトルに関連する記事を返す
func (s *Server) handleSuggestions(c *gin.Context) {
	suggestions, err := s.deps.Suggest.Suggest(c.Request.Context(), scopeOf(c), c.Query("q"))
	if err != nil {
		abortWithInternal(c, "failed to suggest articles", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

// handleEvalRun は評価セットを実行し、進捗をNDJSONで返す
func (s *Server) handleEvalRun(c *gin.Context) {
	var req evalRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errInvalidJSON())
		return
	}
	setID, err := uuid.Parse(req.EvalSetID)
	if err != nil {
		abortWithError(c, errValidation("evalSetId must be a UUID"))
		return
	}
	opts, apiErr := overrideOptions(s.deps.EvalDefaults, req.K, req.Threshold)
	if apiErr != nil {
		abortWithError(c, apiErr)
		return
	}

	ctx := c.Request.Context()
	scope := scopeOf(c)
	cases, err := s.deps.EvalCases.ListCases(ctx, scope, setID)
	if err != nil {
		if s.deps.IsNotFound(err) {
			abortWithError(c, errNotFound("Eval set not found"))
			return
		}
		abortWithInternal(c, "failed to list eval cases", err)
		return
	}
	if len(cases) == 0 {
		abortWithError(c, errNotFound("No eval cases found for this set"))
		return
	}

	c.Header("Content-Type", ndjsonType)
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	reporter := eval.NewNDJSONReporter(c.Writer, c.Writer.Flush)
	summary, err := s.deps.NewEval(opts).Execute(ctx, scope, mo.Some(setID), cases, s.deps.EvalRuns, reporter)
	if err != nil {
		requestLogger(c).Warn("eval run failed", "evalSetID", setID, "error", err)
		return
	}

	requestLogger(c).Info("eval run completed",
		"evalSetID", setID,
		"cases", summary.Total,
		"recallAtK", summary.RecallAtK,
		"answerAccuracy", summary.AnswerAccuracy,
	)
}
