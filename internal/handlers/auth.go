package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tangle-social/backend/internal/auth"
	apierrors "github.com/tangle-social/backend/internal/errors"
	"github.com/tangle-social/backend/internal/models"
	"github.com/tangle-social/backend/internal/util"
)

// Register creates a new account from email/password credentials
func (h *Handlers) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondError(c, apierrors.BadRequest("invalid registration payload"))
		return
	}

	resp, err := h.auth.Register(c.Request.Context(), req)
	if err != nil {
		switch err {
		case auth.ErrUserExists:
			util.RespondError(c, apierrors.Conflict("email"))
		case auth.ErrUsernameExists:
			util.RespondError(c, apierrors.Conflict("username"))
		default:
			util.RespondError(c, err)
		}
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Login authenticates email/password credentials
func (h *Handlers) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondError(c, apierrors.BadRequest("invalid login payload"))
		return
	}

	resp, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		if err == auth.ErrInvalidCredentials {
			util.RespondError(c, apierrors.Unauthorized("invalid credentials"))
			return
		}
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Logout revokes the presented token
func (h *Handlers) Logout(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// Me returns the authenticated user
func (h *Handlers) Me(c *gin.Context) {
	user, ok := c.MustGet("current_user").(*models.User)
	if !ok {
		util.RespondError(c, apierrors.Unauthorized("not authenticated"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
