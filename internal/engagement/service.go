package engagement

import (
	"context"
	"strings"
	"time"

	"github.com/tangle-social/backend/internal/aggregates"
	apierrors "github.com/tangle-social/backend/internal/errors"
	"github.com/tangle-social/backend/internal/logger"
	"github.com/tangle-social/backend/internal/models"
	"github.com/tangle-social/backend/internal/queue"
	"github.com/tangle-social/backend/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxCommentLength = 2000
const maxPostLength = 5000
const maxDisplayNameLength = 50
const maxBioLength = 500

// Service is the engagement coordinator. Every follow, like, comment and
// post mutation goes through here so the relational write, the aggregate
// cache update and any deferred task are applied in a fixed order: graph
// first, cache second, task last. Cache and task failures never roll back
// a committed graph write.
type Service struct {
	users      repository.UserRepository
	posts      repository.PostRepository
	agg        *aggregates.Cache
	dispatcher *queue.Dispatcher

	likeLocks *keyedMutex
}

func NewService(users repository.UserRepository, posts repository.PostRepository, agg *aggregates.Cache, dispatcher *queue.Dispatcher) *Service {
	return &Service{
		users:      users,
		posts:      posts,
		agg:        agg,
		dispatcher: dispatcher,
		likeLocks:  newKeyedMutex(),
	}
}

// Profile is a user decorated with their cached engagement counters
type Profile struct {
	User           *models.User `json:"user"`
	FollowerCount  int64        `json:"follower_count"`
	FollowingCount int64        `json:"following_count"`
	PostCount      int64        `json:"post_count"`
	IsFollowing    bool         `json:"is_following"`
}

// LikeResult reports the state after a toggle
type LikeResult struct {
	Liked     bool  `json:"liked"`
	LikeCount int64 `json:"like_count"`
}

// Follow creates a follow edge from follower to followee. Re-following is a
// no-op; counters and the follower's following set move only when the edge
// is actually created.
func (s *Service) Follow(ctx context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		return apierrors.InvalidOperation("cannot follow yourself")
	}
	if _, err := s.users.GetUser(ctx, followeeID); err != nil {
		if err == repository.ErrUserNotFound {
			return apierrors.NotFound("user")
		}
		return err
	}

	created, err := s.users.CreateFollow(ctx, followerID, followeeID)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	s.agg.ApplyDelta(ctx, aggregates.EntityUser, followeeID, aggregates.AggFollowerCount, 1)
	s.agg.ApplyDelta(ctx, aggregates.EntityUser, followerID, aggregates.AggFollowingCount, 1)
	s.agg.SetMember(ctx, aggregates.EntityUser, followerID, aggregates.AggFollowingSet, followeeID, true)

	s.notify(ctx, models.NotificationFollow, followerID, followeeID, "", "")
	return nil
}

// Unfollow removes the follow edge if present. Removing an absent edge is a
// no-op and moves no counters.
func (s *Service) Unfollow(ctx context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		return apierrors.InvalidOperation("cannot unfollow yourself")
	}

	removed, err := s.users.DeleteFollow(ctx, followerID, followeeID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	s.agg.ApplyDelta(ctx, aggregates.EntityUser, followeeID, aggregates.AggFollowerCount, -1)
	s.agg.ApplyDelta(ctx, aggregates.EntityUser, followerID, aggregates.AggFollowingCount, -1)
	s.agg.SetMember(ctx, aggregates.EntityUser, followerID, aggregates.AggFollowingSet, followeeID, false)
	return nil
}

// ToggleLike flips the user's like on a post. The row insert/delete and the
// post's like_count column move in one transaction; a per-pair lock keeps
// concurrent toggles for the same (user, post) from interleaving. A race
// that still slips through (another process) gets one retry before the
// conflict is surfaced.
func (s *Service) ToggleLike(ctx context.Context, userID, postID string) (*LikeResult, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		if err == repository.ErrPostNotFound {
			return nil, apierrors.NotFound("post")
		}
		return nil, err
	}

	unlock := s.likeLocks.Lock(userID + ":" + postID)
	defer unlock()

	liked, err := s.posts.ToggleLike(ctx, userID, postID)
	if err != nil {
		// retried once; toggling is idempotent in effect, so a second
		// attempt lands on a consistent row either way
		liked, err = s.posts.ToggleLike(ctx, userID, postID)
	}
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || err == gorm.ErrDuplicatedKey {
			return nil, apierrors.Conflict("like")
		}
		return nil, err
	}

	delta := int64(-1)
	if liked {
		delta = 1
	}
	s.agg.ApplyDelta(ctx, aggregates.EntityPost, postID, aggregates.AggLikeCount, delta)
	s.agg.SetMember(ctx, aggregates.EntityUser, userID, aggregates.AggLikedPostsSet, postID, liked)

	if liked {
		s.notify(ctx, models.NotificationLike, userID, post.AuthorID, postID, "")
	}

	count, err := s.agg.Counter(ctx, aggregates.EntityPost, postID, aggregates.AggLikeCount)
	if err != nil {
		return nil, err
	}
	return &LikeResult{Liked: liked, LikeCount: count}, nil
}

// HasLiked reports whether the user currently likes the post
func (s *Service) HasLiked(ctx context.Context, userID, postID string) (bool, error) {
	return s.agg.IsMember(ctx, aggregates.EntityUser, userID, aggregates.AggLikedPostsSet, postID)
}

// AddComment appends an immutable comment to a post and queues a
// notification for the author. The notification is best effort: a queue
// outage never fails the comment.
func (s *Service) AddComment(ctx context.Context, userID, postID, text string) (*models.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apierrors.ValidationError("content", "comment text is required")
	}
	if len(text) > maxCommentLength {
		return nil, apierrors.ValidationError("content", "comment is too long")
	}

	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		if err == repository.ErrPostNotFound {
			return nil, apierrors.NotFound("post")
		}
		return nil, err
	}

	comment := &models.Comment{
		PostID:  postID,
		UserID:  userID,
		Content: text,
	}
	if err := s.posts.CreateComment(ctx, comment); err != nil {
		return nil, err
	}

	s.agg.ApplyDelta(ctx, aggregates.EntityPost, postID, aggregates.AggCommentCount, 1)

	s.notify(ctx, models.NotificationComment, userID, post.AuthorID, postID, comment.ID)
	return comment, nil
}

// GetComments returns a page of a post's comments, oldest first
func (s *Service) GetComments(ctx context.Context, postID string, limit, offset int) ([]*models.Comment, error) {
	if _, err := s.posts.GetPost(ctx, postID); err != nil {
		if err == repository.ErrPostNotFound {
			return nil, apierrors.NotFound("post")
		}
		return nil, err
	}
	return s.posts.ListComments(ctx, postID, limit, offset)
}

// CreatePostInput carries everything a new post needs
type CreatePostInput struct {
	Content   string
	Hashtags  []string
	ImageURL  string
	PublishAt *time.Time
}

// CreatePost persists a post for the author. A post with a future PublishAt
// stays unpublished until the scheduler flips it; one with an image gets a
// thumbnail task queued.
func (s *Service) CreatePost(ctx context.Context, authorID string, in CreatePostInput) (*models.Post, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apierrors.ValidationError("content", "post content is required")
	}
	if len(content) > maxPostLength {
		return nil, apierrors.ValidationError("content", "post is too long")
	}
	if in.PublishAt != nil && !in.PublishAt.After(time.Now()) {
		return nil, apierrors.ValidationError("publish_at", "publish time must be in the future")
	}
	if _, err := s.users.GetUser(ctx, authorID); err != nil {
		if err == repository.ErrUserNotFound {
			return nil, apierrors.NotFound("user")
		}
		return nil, err
	}

	post := &models.Post{
		AuthorID:    authorID,
		Content:     content,
		ImageURL:    in.ImageURL,
		IsPublished: in.PublishAt == nil,
		PublishAt:   in.PublishAt,
	}
	if err := s.posts.CreatePost(ctx, post, in.Hashtags); err != nil {
		return nil, err
	}

	// post_count tracks published posts; scheduled ones are counted when
	// the publish task flips them
	if post.IsPublished {
		s.agg.ApplyDelta(ctx, aggregates.EntityUser, authorID, aggregates.AggPostCount, 1)
	}

	if post.ImageURL != "" {
		s.dispatcher.EnqueueBestEffort(ctx, queue.TaskImageThumbnail, queue.ThumbnailPayload{
			PostID:   post.ID,
			ImageURL: post.ImageURL,
		})
	}
	return post, nil
}

// DeletePost removes a post owned by userID
func (s *Service) DeletePost(ctx context.Context, userID, postID string) error {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		if err == repository.ErrPostNotFound {
			return apierrors.NotFound("post")
		}
		return err
	}
	if post.AuthorID != userID {
		return apierrors.Forbidden("only the author can delete a post")
	}
	if err := s.posts.DeletePost(ctx, postID); err != nil {
		return err
	}
	if post.IsPublished {
		s.agg.ApplyDelta(ctx, aggregates.EntityUser, userID, aggregates.AggPostCount, -1)
	}
	return nil
}

// GetPost returns a single post with its author and counters refreshed from
// the aggregate cache
func (s *Service) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		if err == repository.ErrPostNotFound {
			return nil, apierrors.NotFound("post")
		}
		return nil, err
	}
	s.decorate(ctx, post)
	return post, nil
}

// GetProfile returns the user with follower/following/post counters served
// from the aggregate cache. viewerID may be empty for anonymous reads.
func (s *Service) GetProfile(ctx context.Context, userID, viewerID string) (*Profile, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return nil, apierrors.NotFound("user")
		}
		return nil, err
	}

	p := &Profile{User: user}
	if p.FollowerCount, err = s.agg.Counter(ctx, aggregates.EntityUser, userID, aggregates.AggFollowerCount); err != nil {
		return nil, err
	}
	if p.FollowingCount, err = s.agg.Counter(ctx, aggregates.EntityUser, userID, aggregates.AggFollowingCount); err != nil {
		return nil, err
	}
	if p.PostCount, err = s.agg.Counter(ctx, aggregates.EntityUser, userID, aggregates.AggPostCount); err != nil {
		return nil, err
	}
	if viewerID != "" && viewerID != userID {
		if p.IsFollowing, err = s.agg.IsMember(ctx, aggregates.EntityUser, viewerID, aggregates.AggFollowingSet, userID); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// UpdateProfileInput carries the editable profile fields. Nil means leave
// the field untouched.
type UpdateProfileInput struct {
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatar_url"`
}

// UpdateProfile applies a partial profile edit and returns the stored user.
func (s *Service) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*models.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return nil, apierrors.NotFound("user")
		}
		return nil, err
	}

	if input.DisplayName != nil {
		name := strings.TrimSpace(*input.DisplayName)
		if name == "" {
			return nil, apierrors.ValidationError("display_name", "display name cannot be empty")
		}
		if len(name) > maxDisplayNameLength {
			return nil, apierrors.ValidationError("display_name", "display name is too long")
		}
		user.DisplayName = name
	}
	if input.Bio != nil {
		bio := strings.TrimSpace(*input.Bio)
		if len(bio) > maxBioLength {
			return nil, apierrors.ValidationError("bio", "bio is too long")
		}
		user.Bio = bio
	}
	if input.AvatarURL != nil {
		user.AvatarURL = strings.TrimSpace(*input.AvatarURL)
	}

	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserPosts returns a user's published posts, newest first
func (s *Service) GetUserPosts(ctx context.Context, userID string, limit, offset int) ([]*models.Post, error) {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		if err == repository.ErrUserNotFound {
			return nil, apierrors.NotFound("user")
		}
		return nil, err
	}
	posts, err := s.posts.ListByAuthor(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	for _, p := range posts {
		s.decorate(ctx, p)
	}
	return posts, nil
}

// GetLikedPosts returns the posts a user has liked, most recent like first
func (s *Service) GetLikedPosts(ctx context.Context, userID string, limit, offset int) ([]*models.Post, error) {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		if err == repository.ErrUserNotFound {
			return nil, apierrors.NotFound("user")
		}
		return nil, err
	}
	posts, err := s.posts.ListLikedPosts(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	for _, p := range posts {
		s.decorate(ctx, p)
	}
	return posts, nil
}

// decorate overwrites the post's stored counters with the cached aggregates
// so readers see the freshest values
func (s *Service) decorate(ctx context.Context, post *models.Post) {
	if n, err := s.agg.Counter(ctx, aggregates.EntityPost, post.ID, aggregates.AggLikeCount); err == nil {
		post.LikeCount = int(n)
	}
	if n, err := s.agg.Counter(ctx, aggregates.EntityPost, post.ID, aggregates.AggCommentCount); err == nil {
		post.CommentCount = int(n)
	}
}

// notify persists a notification row and queues its delivery. Self-actions
// are skipped. Failures are logged, never propagated; the notification gets
// another chance when its task retries or the row is re-queued.
func (s *Service) notify(ctx context.Context, kind models.NotificationKind, actorID, recipientID, postID, commentID string) {
	if actorID == recipientID {
		return
	}
	n := &models.Notification{
		RecipientID: recipientID,
		ActorID:     actorID,
		Kind:        kind,
		PostID:      postID,
		CommentID:   commentID,
	}
	if err := s.posts.CreateNotification(ctx, n); err != nil {
		logger.Log.Warn("failed to persist notification",
			zap.String("kind", string(kind)),
			logger.WithUserID(recipientID),
			zap.Error(err))
		return
	}
	s.dispatcher.EnqueueBestEffort(ctx, queue.TaskNotificationDeliver, queue.NotificationPayload{
		NotificationID: n.ID,
	})
}
