package httpapi

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// エラーコード
const (
	CodeAuthRequired    = "AUTH_REQUIRED"
	CodeForbidden       = "FORBIDDEN"
	CodeValidationError = "VALIDATION_ERROR"
	CodeInvalidJSON     = "INVALID_JSON"
	CodeNotFound        = "NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternalError   = "INTERNAL_ERROR"
)

// APIError はクライアントに返すエラー
// Message はそのまま返すため、内部エラーの詳細を含めないこと
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errAuthRequired() *APIError {
	return &APIError{Status: http.StatusUnauthorized, Code: CodeAuthRequired, Message: "Authentication required"}
}

func errForbidden(message string) *APIError {
	if message == "" {
		message = "Access denied"
	}
	return &APIError{Status: http.StatusForbidden, Code: CodeForbidden, Message: message}
}

func errValidation(message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: CodeValidationError, Message: message}
}

func errInvalidJSON() *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: CodeInvalidJSON, Message: "Request body must be valid JSON"}
}

func errNotFound(message string) *APIError {
	return &APIError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

func errRateLimited(retryAfter time.Duration) *APIError {
	return &APIError{
		Status:     http.StatusTooManyRequests,
		Code:       CodeRateLimited,
		Message:    "Too many requests",
		RetryAfter: retryAfter,
	}
}

func errInternal() *APIError {
	return &APIError{Status: http.StatusInternalServerError, Code: CodeInternalError, Message: "An unexpected error occurred"}
}

// abortWithError はエラーエンベロープを書き込んで以降のハンドラを止める
func abortWithError(c *gin.Context, apiErr *APIError) {
	if apiErr.RetryAfter > 0 {
		seconds := int(math.Ceil(apiErr.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(seconds))
	}
	c.AbortWithStatusJSON(apiErr.Status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

// abortWithInternal は予期しないエラーをログに残し、詳細を隠した 500 を返す
func abortWithInternal(c *gin.Context, msg string, err error) {
	requestLogger(c).Error(msg, "error", err)
	abortWithError(c, errInternal())
}
