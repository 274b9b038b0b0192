// Package util has the small helpers shared by HTTP handlers: error
// responses and query parsing.
package util

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	apierrors "github.com/tangle-social/backend/internal/errors"
	"github.com/tangle-social/backend/internal/logger"
	"github.com/tangle-social/backend/internal/metrics"
	"go.uber.org/zap"
)

// errorBody is the JSON error envelope every endpoint returns
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// RespondError writes err as the standard error envelope. Known APIErrors
// map to their status code; anything else is a 500 with the cause logged
// but not leaked to the client.
func RespondError(c *gin.Context, err error) {
	if apiErr, ok := apierrors.AsAPIError(err); ok {
		metrics.Get().ErrorsTotal.WithLabelValues("http", string(apiErr.Code)).Inc()
		c.JSON(apiErr.Status, gin.H{"error": errorBody{
			Code:    string(apiErr.Code),
			Message: apiErr.Message,
			Field:   apiErr.Field,
			Details: apiErr.Details,
		}})
		return
	}

	metrics.Get().ErrorsTotal.WithLabelValues("http", string(apierrors.ErrInternalError)).Inc()
	logger.Log.Error("unhandled error",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": errorBody{
		Code:    string(apierrors.ErrInternalError),
		Message: "internal server error",
	}})
}

// AbortUnauthorized ends the request with a 401 envelope
func AbortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorBody{
		Code:    string(apierrors.ErrUnauthorized),
		Message: message,
	}})
}

// CurrentUserID returns the authenticated user's ID, empty when anonymous
func CurrentUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

// ParseInt reads an integer query param with a default
func ParseInt(c *gin.Context, name string, defaultValue int) int {
	if val, err := strconv.Atoi(c.Query(name)); err == nil {
		return val
	}
	return defaultValue
}

// ParseLimitOffset reads the standard pagination params, clamped to maxLimit
func ParseLimitOffset(c *gin.Context, defaultLimit, maxLimit int) (limit, offset int) {
	limit = ParseInt(c, "limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset = ParseInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ParseCursor reads the "cursor" (RFC3339Nano) and "cursor_id" pagination
// query params; nil timestamp when absent
func ParseCursor(c *gin.Context) (*time.Time, string, error) {
	raw := c.Query("cursor")
	if raw == "" {
		return nil, "", nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, "", apierrors.ValidationError("cursor", "must be an RFC3339 timestamp")
	}
	return &t, c.Query("cursor_id"), nil
}
