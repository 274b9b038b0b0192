package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tangle-social/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPostNotFound = errors.New("post not found")
)

// PostRepository handles database operations for posts, likes and comments
type PostRepository interface {
	// Posts
	CreatePost(ctx context.Context, post *models.Post, hashtags []string) error
	GetPost(ctx context.Context, postID string) (*models.Post, error)
	DeletePost(ctx context.Context, postID string) error
	SetThumbnail(ctx context.Context, postID, thumbnailURL string) error
	PublishPost(ctx context.Context, postID string) (bool, error)
	ListDueScheduledPosts(ctx context.Context, now time.Time, limit int) ([]*models.Post, error)
	ListByAuthors(ctx context.Context, authorIDs []string, before time.Time, beforeID string, limit int) ([]*models.Post, error)
	ListByAuthor(ctx context.Context, authorID string, limit, offset int) ([]*models.Post, error)
	CountByAuthor(ctx context.Context, authorID string) (int64, error)

	// Likes. ToggleLike is the single atomic check-and-flip used by the
	// engagement coordinator.
	ToggleLike(ctx context.Context, userID, postID string) (liked bool, err error)
	HasLiked(ctx context.Context, userID, postID string) (bool, error)
	CountLikes(ctx context.Context, postID string) (int64, error)
	ListLikedPostIDs(ctx context.Context, userID string) ([]string, error)
	ListLikedPosts(ctx context.Context, userID string, limit, offset int) ([]*models.Post, error)

	// Comments
	CreateComment(ctx context.Context, comment *models.Comment) error
	ListComments(ctx context.Context, postID string, limit, offset int) ([]*models.Comment, error)
	CountComments(ctx context.Context, postID string) (int64, error)

	// Notifications
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	MarkNotificationDelivered(ctx context.Context, id string, at time.Time) error
}

type postRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

// CreatePost persists the post and its hashtags in one transaction. Hashtag
// rows are shared, so each tag is find-or-created by its normalized text.
func (r *postRepository) CreatePost(ctx context.Context, post *models.Post, hashtags []string) error {
	if post == nil || post.AuthorID == "" {
		return ErrInvalidInput
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			return err
		}
		for _, text := range hashtags {
			text = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(text, "#")))
			if text == "" {
				continue
			}
			var tag models.Hashtag
			if err := tx.Where(models.Hashtag{Text: text}).FirstOrCreate(&tag).Error; err != nil {
				return err
			}
			if err := tx.Model(post).Association("Hashtags").Append(&tag); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *postRepository) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).
		Preload("Hashtags").
		Where("id = ?", postID).
		First(&post).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPostNotFound
	}
	return &post, err
}

func (r *postRepository) DeletePost(ctx context.Context, postID string) error {
	return r.db.WithContext(ctx).
		Where("id = ?", postID).
		Delete(&models.Post{}).Error
}

func (r *postRepository) SetThumbnail(ctx context.Context, postID, thumbnailURL string) error {
	return r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ?", postID).
		UpdateColumn("thumbnail_url", thumbnailURL).Error
}

// PublishPost flips an unpublished post live. Idempotent: the WHERE clause
// makes a re-run a no-op, reported via the bool.
func (r *postRepository) PublishPost(ctx context.Context, postID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND is_published = ?", postID, false).
		UpdateColumn("is_published", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *postRepository) ListDueScheduledPosts(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Where("is_published = ? AND publish_at IS NOT NULL AND publish_at <= ?", false, now).
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

// ListByAuthors is the feed query: published posts by any of the authors,
// older than the (before, beforeID) cursor, newest first. Ordering by
// (created_at, id) is total, so posts sharing a timestamp cannot be skipped
// across a page boundary. An empty beforeID means "strictly before the
// timestamp", used for the first page.
func (r *postRepository) ListByAuthors(ctx context.Context, authorIDs []string, before time.Time, beforeID string, limit int) ([]*models.Post, error) {
	if len(authorIDs) == 0 {
		return []*models.Post{}, nil
	}
	query := r.db.WithContext(ctx).
		Preload("Author").
		Where("author_id IN ? AND is_published = ?", authorIDs, true)
	if beforeID == "" {
		query = query.Where("created_at < ?", before)
	} else {
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", before, before, beforeID)
	}
	var posts []*models.Post
	err := query.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

func (r *postRepository) ListByAuthor(ctx context.Context, authorID string, limit, offset int) ([]*models.Post, error) {
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Where("author_id = ? AND is_published = ?", authorID, true).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&posts).Error
	return posts, err
}

func (r *postRepository) CountByAuthor(ctx context.Context, authorID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("author_id = ? AND is_published = ?", authorID, true).
		Count(&count).Error
	return count, err
}

// ToggleLike atomically flips the (user, post) like inside one transaction:
// insert if absent, delete if present, moving the posts.like_count column in
// the same transaction so count and membership can never drift. The caller
// serializes same-pair invocations; cross-pair toggles only contend on the
// atomic counter update.
func (r *postRepository) ToggleLike(ctx context.Context, userID, postID string) (bool, error) {
	var liked bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Like{UserID: userID, PostID: postID})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			liked = true
			return tx.Model(&models.Post{}).Where("id = ?", postID).
				UpdateColumn("like_count", gorm.Expr("like_count + 1")).Error
		}

		// Already liked: this toggle removes it
		liked = false
		return removeLike(tx, userID, postID)
	})
	return liked, err
}

// removeLike deletes the like row and decrements the counter only when the
// delete removed a row. A concurrent unlike on another connection can win
// between the conflict probe and this delete; decrementing for a zero-row
// delete would push the counter below the true membership size.
func removeLike(tx *gorm.DB, userID, postID string) error {
	res := tx.Where("user_id = ? AND post_id = ?", userID, postID).
		Delete(&models.Like{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	return tx.Model(&models.Post{}).Where("id = ?", postID).
		UpdateColumn("like_count", gorm.Expr("like_count - 1")).Error
}

func (r *postRepository) HasLiked(ctx context.Context, userID, postID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Like{}).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Count(&count).Error
	return count > 0, err
}

func (r *postRepository) CountLikes(ctx context.Context, postID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Like{}).
		Where("post_id = ?", postID).
		Count(&count).Error
	return count, err
}

func (r *postRepository) ListLikedPostIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Like{}).
		Where("user_id = ?", userID).
		Pluck("post_id", &ids).Error
	return ids, err
}

func (r *postRepository) ListLikedPosts(ctx context.Context, userID string, limit, offset int) ([]*models.Post, error) {
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Joins("JOIN likes ON likes.post_id = posts.id").
		Where("likes.user_id = ?", userID).
		Order("likes.created_at DESC").
		Limit(limit).Offset(offset).
		Find(&posts).Error
	return posts, err
}

func (r *postRepository) CreateComment(ctx context.Context, comment *models.Comment) error {
	if comment == nil || comment.PostID == "" || comment.UserID == "" {
		return ErrInvalidInput
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(comment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", comment.PostID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + 1")).Error
	})
}

func (r *postRepository) ListComments(ctx context.Context, postID string, limit, offset int) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("post_id = ?", postID).
		Order("created_at ASC").
		Limit(limit).Offset(offset).
		Find(&comments).Error
	return comments, err
}

func (r *postRepository) CountComments(ctx context.Context, postID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("post_id = ?", postID).
		Count(&count).Error
	return count, err
}

func (r *postRepository) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n == nil || n.RecipientID == "" {
		return ErrInvalidInput
	}
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *postRepository) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gorm.ErrRecordNotFound
	}
	return &n, err
}

// MarkNotificationDelivered is idempotent: re-delivery of an already
// delivered notification keeps the first timestamp
func (r *postRepository) MarkNotificationDelivered(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND delivered_at IS NULL", id).
		UpdateColumn("delivered_at", at).Error
}
