package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jinford/kb-rag/internal/core/retrieval"
)

const (
	headerRequestID = "X-Request-Id"
	headerUserID    = "X-User-ID"
	headerTenantID  = "X-Tenant-ID"

	ctxKeyLogger = "kbrag.logger"
	ctxKeyScope  = "kbrag.scope"
	ctxKeyUserID = "kbrag.userID"
	ctxKeyRole   = "kbrag.role"

	roleAdmin = "admin"
)

// requestContext はリクエストIDを払い出し、開始と完了をログに残す
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Header(headerRequestID, requestID)

		log := s.logger.With("requestID", requestID, "method", c.Request.Method, "path", c.FullPath())
		c.Set(ctxKeyLogger, log)

		started := time.Now()
		log.Info("request started")

		c.Next()

		log.Info("request completed",
			"status", c.Writer.Status(),
			"durationMs", time.Since(started).Milliseconds(),
		)
	}
}

// recovery は panic を 500 のエラーエンベロープに変換する
func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		requestLogger(c).Error("handler panicked", "panic", recovered)
		if c.Writer.Written() {
			c.Abort()
			return
		}
		abortWithError(c, errInternal())
	})
}

// requireMembership はヘッダーのユーザーとテナントをメンバーシップで検証し、スコープを確定する
func (s *Server) requireMembership() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(c.GetHeader(headerUserID))
		if err != nil {
			abortWithError(c, errAuthRequired())
			return
		}
		tenantID, err := uuid.Parse(c.GetHeader(headerTenantID))
		if err != nil {
			abortWithError(c, errAuthRequired())
			return
		}

		role, err := s.deps.Memberships.Role(c.Request.Context(), tenantID, userID)
		if err != nil {
			abortWithInternal(c, "failed to look up membership", err)
			return
		}
		r, ok := role.Get()
		if !ok {
			abortWithError(c, errForbidden("Not a member of this workspace"))
			return
		}

		c.Set(ctxKeyScope, retrieval.TrustedScope(tenantID))
		c.Set(ctxKeyUserID, userID)
		c.Set(ctxKeyRole, r)
		c.Set(ctxKeyLogger, requestLogger(c).With("userID", userID, "tenantID", tenantID))
		c.Next()
	}
}

// requireAdmin は管理者ロール以外を拒否する
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxKeyRole) != roleAdmin {
			abortWithError(c, errForbidden("Admin role required"))
			return
		}
		c.Next()
	}
}

// rateLimit はユーザー単位のレート制限を適用する
func rateLimit(c *gin.Context, limiter *RateLimiter) bool {
	ok, retryAfter := limiter.Allow(userID(c).String())
	if ok {
		return true
	}
	requestLogger(c).Warn("rate limited", "retryAfter", retryAfter)
	abortWithError(c, errRateLimited(retryAfter))
	return false
}

func requestLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ctxKeyLogger); ok {
		if log, ok := v.(*slog.Logger); ok {
			return log
		}
	}
	return slog.Default()
}

func scopeOf(c *gin.Context) retrieval.Scope {
	return c.MustGet(ctxKeyScope).(retrieval.Scope)
}

func userID(c *gin.Context) uuid.UUID {
	return c.MustGet(ctxKeyUserID).(uuid.UUID)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
