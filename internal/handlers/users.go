package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tangle-social/backend/internal/engagement"
	apierrors "github.com/tangle-social/backend/internal/errors"
	"github.com/tangle-social/backend/internal/util"
)

// GetProfile returns a user with cached engagement counters
func (h *Handlers) GetProfile(c *gin.Context) {
	profile, err := h.engagement.GetProfile(c.Request.Context(), c.Param("id"), util.CurrentUserID(c))
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// UpdateProfileRequest is the partial-edit body for the authenticated user's
// own profile. Absent fields are left as they are.
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatar_url"`
}

// UpdateProfile edits the authenticated user's profile
func (h *Handlers) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondError(c, apierrors.ValidationError("body", "invalid request body"))
		return
	}
	user, err := h.engagement.UpdateProfile(c.Request.Context(), util.CurrentUserID(c), engagement.UpdateProfileInput{
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Follow creates a follow edge from the authenticated user
func (h *Handlers) Follow(c *gin.Context) {
	if err := h.engagement.Follow(c.Request.Context(), util.CurrentUserID(c), c.Param("id")); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"following": true})
}

// Unfollow removes the follow edge; removing an absent edge still succeeds
func (h *Handlers) Unfollow(c *gin.Context) {
	if err := h.engagement.Unfollow(c.Request.Context(), util.CurrentUserID(c), c.Param("id")); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"following": false})
}

// GetFollowers lists the user's followers
func (h *Handlers) GetFollowers(c *gin.Context) {
	limit, offset := util.ParseLimitOffset(c, 20, 100)
	users, err := h.users.GetFollowers(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// GetFollowing lists who the user follows
func (h *Handlers) GetFollowing(c *gin.Context) {
	limit, offset := util.ParseLimitOffset(c, 20, 100)
	users, err := h.users.GetFollowing(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// SearchUsers finds users by username or display name
func (h *Handlers) SearchUsers(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		util.RespondError(c, apierrors.ValidationError("q", "search query is required"))
		return
	}
	limit, offset := util.ParseLimitOffset(c, 20, 100)
	users, err := h.users.SearchUsers(c.Request.Context(), query, limit, offset)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// GetLikedPosts lists the posts a user has liked
func (h *Handlers) GetLikedPosts(c *gin.Context) {
	limit, offset := util.ParseLimitOffset(c, 20, 100)
	posts, err := h.engagement.GetLikedPosts(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}
