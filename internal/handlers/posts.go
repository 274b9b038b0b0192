package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tangle-social/backend/internal/engagement"
	apierrors "github.com/tangle-social/backend/internal/errors"
	"github.com/tangle-social/backend/internal/util"
)

// CreatePostRequest is the post creation payload
type CreatePostRequest struct {
	Content   string     `json:"content" binding:"required"`
	Hashtags  []string   `json:"hashtags"`
	ImageURL  string     `json:"image_url"`
	PublishAt *time.Time `json:"publish_at"`
}

// CommentRequest is the comment creation payload
type CommentRequest struct {
	Content string `json:"content" binding:"required"`
}

// CreatePost creates a post for the authenticated user
func (h *Handlers) CreatePost(c *gin.Context) {
	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondError(c, apierrors.BadRequest("invalid post payload"))
		return
	}

	post, err := h.engagement.CreatePost(c.Request.Context(), util.CurrentUserID(c), engagement.CreatePostInput{
		Content:   req.Content,
		Hashtags:  req.Hashtags,
		ImageURL:  req.ImageURL,
		PublishAt: req.PublishAt,
	})
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"post": post})
}

// GetPost returns one post with fresh counters; when the caller is
// authenticated the response includes their like state
func (h *Handlers) GetPost(c *gin.Context) {
	ctx := c.Request.Context()
	post, err := h.engagement.GetPost(ctx, c.Param("id"))
	if err != nil {
		util.RespondError(c, err)
		return
	}

	resp := gin.H{"post": post}
	if viewerID := util.CurrentUserID(c); viewerID != "" {
		if liked, err := h.engagement.HasLiked(ctx, viewerID, post.ID); err == nil {
			resp["liked"] = liked
		}
	}
	c.JSON(http.StatusOK, resp)
}

// DeletePost removes the authenticated user's own post
func (h *Handlers) DeletePost(c *gin.Context) {
	if err := h.engagement.DeletePost(c.Request.Context(), util.CurrentUserID(c), c.Param("id")); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ToggleLike flips the authenticated user's like on a post
func (h *Handlers) ToggleLike(c *gin.Context) {
	result, err := h.engagement.ToggleLike(c.Request.Context(), util.CurrentUserID(c), c.Param("id"))
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AddComment appends a comment to a post
func (h *Handlers) AddComment(c *gin.Context) {
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondError(c, apierrors.BadRequest("invalid comment payload"))
		return
	}

	comment, err := h.engagement.AddComment(c.Request.Context(), util.CurrentUserID(c), c.Param("id"), req.Content)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"comment": comment})
}

// GetComments lists a post's comments, oldest first
func (h *Handlers) GetComments(c *gin.Context) {
	limit, offset := util.ParseLimitOffset(c, 20, 100)
	comments, err := h.engagement.GetComments(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

// GetUserPosts lists a user's published posts
func (h *Handlers) GetUserPosts(c *gin.Context) {
	limit, offset := util.ParseLimitOffset(c, 20, 100)
	posts, err := h.engagement.GetUserPosts(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}
