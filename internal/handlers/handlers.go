// Package handlers contains the HTTP layer: request binding, auth plumbing
// and response shaping over the engagement and feed services.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tangle-social/backend/internal/auth"
	"github.com/tangle-social/backend/internal/engagement"
	"github.com/tangle-social/backend/internal/feed"
	"github.com/tangle-social/backend/internal/middleware"
	"github.com/tangle-social/backend/internal/repository"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	auth       *auth.Service
	engagement *engagement.Service
	feed       *feed.Assembler
	users      repository.UserRepository
}

// NewHandlers creates a new handlers instance
func NewHandlers(authService *auth.Service, engagementService *engagement.Service, feedAssembler *feed.Assembler, users repository.UserRepository) *Handlers {
	return &Handlers{
		auth:       authService,
		engagement: engagementService,
		feed:       feedAssembler,
		users:      users,
	}
}

// RouterOptions toggles the outer middleware; tests turn tracing off
type RouterOptions struct {
	ServiceName    string
	TracingEnabled bool
}

// SetupRouter builds the gin engine with middleware and all routes
func (h *Handlers) SetupRouter(opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.GinLoggerMiddleware())
	r.Use(middleware.MetricsMiddleware())
	if opts.TracingEnabled {
		r.Use(otelgin.Middleware(opts.ServiceName))
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"service":   "tangle-backend",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	requireAuth := middleware.AuthMiddleware(h.auth)
	optionalAuth := middleware.OptionalAuthMiddleware(h.auth)

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", h.Register)
			authGroup.POST("/login", h.Login)
			authGroup.POST("/logout", requireAuth, h.Logout)
			authGroup.GET("/me", requireAuth, h.Me)
		}

		usersGroup := api.Group("/users")
		{
			usersGroup.GET("/search", h.SearchUsers)
			usersGroup.PUT("/me", requireAuth, h.UpdateProfile)
			usersGroup.GET("/:id", optionalAuth, h.GetProfile)
			usersGroup.GET("/:id/followers", h.GetFollowers)
			usersGroup.GET("/:id/following", h.GetFollowing)
			usersGroup.GET("/:id/posts", optionalAuth, h.GetUserPosts)
			usersGroup.GET("/:id/likes", h.GetLikedPosts)
			usersGroup.POST("/:id/follow", requireAuth, h.Follow)
			usersGroup.DELETE("/:id/follow", requireAuth, h.Unfollow)
		}

		postsGroup := api.Group("/posts")
		{
			postsGroup.POST("", requireAuth, h.CreatePost)
			postsGroup.GET("/:id", optionalAuth, h.GetPost)
			postsGroup.DELETE("/:id", requireAuth, h.DeletePost)
			postsGroup.POST("/:id/like", requireAuth, h.ToggleLike)
			postsGroup.GET("/:id/comments", h.GetComments)
			postsGroup.POST("/:id/comments", requireAuth, h.AddComment)
		}

		api.GET("/feed", requireAuth, h.GetFeed)
	}

	return r
}
