package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents a Tangle account with its public profile
type User struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	Email       string `gorm:"uniqueIndex;not null" json:"email"`
	Username    string `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName string `gorm:"not null" json:"display_name"`
	Bio         string `gorm:"type:text" json:"bio"`
	AvatarURL   string `json:"avatar_url"`

	PasswordHash *string `gorm:"type:text" json:"-"`

	// Cached social stats. Redis holds the hot copy; these columns are a
	// warm fallback and are rebuildable from the follows/likes tables.
	FollowerCount  int `gorm:"default:0" json:"follower_count"`
	FollowingCount int `gorm:"default:0" json:"following_count"`
	PostCount      int `gorm:"default:0" json:"post_count"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

// Follow is a directed edge in the follow graph. The unique index makes the
// (follower, followee) pair the identity of the edge; double inserts surface
// as constraint violations and are treated as idempotent successes.
type Follow struct {
	ID         uint   `gorm:"primaryKey" json:"-"`
	FollowerID string `gorm:"not null;uniqueIndex:idx_follows_pair;index" json:"follower_id"`
	FolloweeID string `gorm:"not null;uniqueIndex:idx_follows_pair;index" json:"followee_id"`

	CreatedAt time.Time `json:"created_at"`
}

// Post is a piece of content owned by exactly one user
type Post struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	AuthorID string `gorm:"not null;index:idx_posts_author_created" json:"author_id"`
	Author   *User  `gorm:"foreignKey:AuthorID" json:"author,omitempty"`

	Content string `gorm:"type:text;not null" json:"content"`

	// Optional image attachment; ThumbnailURL is filled in by the
	// background image task after upload
	ImageURL     string `json:"image_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`

	// Scheduled publication: an unpublished post with a future PublishAt is
	// flipped live by a background task
	// no column default on purpose: gorm would silently turn an explicit
	// false back into the default on insert
	IsPublished bool       `gorm:"index" json:"is_published"`
	PublishAt   *time.Time `json:"publish_at,omitempty"`

	Hashtags []Hashtag `gorm:"many2many:post_hashtags" json:"hashtags,omitempty"`

	// Cached engagement counters, rebuildable from likes/comments
	LikeCount    int `gorm:"default:0" json:"like_count"`
	CommentCount int `gorm:"default:0" json:"comment_count"`

	CreatedAt time.Time      `gorm:"index:idx_posts_author_created,sort:desc" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// Hashtag is a normalized tag shared across posts
type Hashtag struct {
	ID   uint   `gorm:"primaryKey" json:"-"`
	Text string `gorm:"uniqueIndex;size:100;not null" json:"text"`
}

// Like is a (user, post) pair; a user likes a given post at most once
type Like struct {
	ID     uint   `gorm:"primaryKey" json:"-"`
	UserID string `gorm:"not null;uniqueIndex:idx_likes_pair;index" json:"user_id"`
	PostID string `gorm:"not null;uniqueIndex:idx_likes_pair;index" json:"post_id"`

	CreatedAt time.Time `json:"created_at"`
}

// Comment is immutable once created and ordered by creation time per post
type Comment struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	PostID string `gorm:"not null;index:idx_comments_post_created" json:"post_id"`
	UserID string `gorm:"not null;index" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`

	Content string `gorm:"type:text;not null" json:"content"`

	CreatedAt time.Time `gorm:"index:idx_comments_post_created" json:"created_at"`
}

func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// NotificationKind enumerates the events fanned out to users
type NotificationKind string

const (
	NotificationComment NotificationKind = "comment"
	NotificationFollow  NotificationKind = "follow"
	NotificationLike    NotificationKind = "like"
)

// Notification is persisted before delivery so the background delivery task
// is idempotent: re-running it re-publishes the same row keyed by ID, and the
// consumer side dedupes on that key.
type Notification struct {
	ID          string           `gorm:"primaryKey;type:uuid" json:"id"`
	RecipientID string           `gorm:"not null;index" json:"recipient_id"`
	ActorID     string           `gorm:"not null" json:"actor_id"`
	Kind        NotificationKind `gorm:"not null" json:"kind"`
	PostID      string           `json:"post_id,omitempty"`
	CommentID   string           `json:"comment_id,omitempty"`

	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return nil
}
