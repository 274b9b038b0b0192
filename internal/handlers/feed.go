package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tangle-social/backend/internal/feed"
	"github.com/tangle-social/backend/internal/metrics"
	"github.com/tangle-social/backend/internal/util"
)

// GetFeed returns the authenticated user's home timeline page
func (h *Handlers) GetFeed(c *gin.Context) {
	before, lastID, err := util.ParseCursor(c)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	var cursor *feed.Cursor
	if before != nil {
		cursor = &feed.Cursor{Before: *before, LastID: lastID}
	}
	pageSize := util.ParseInt(c, "page_size", 0)

	start := time.Now()
	page, err := h.feed.GetFeed(c.Request.Context(), util.CurrentUserID(c), cursor, pageSize)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	metrics.Get().FeedAssemblyDuration.Observe(time.Since(start).Seconds())

	c.JSON(http.StatusOK, page)
}
