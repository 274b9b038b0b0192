// Package seed fills a development database with realistic fake data.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/tangle-social/backend/internal/logger"
	"github.com/tangle-social/backend/internal/models"
	"github.com/tangle-social/backend/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Seeder handles database seeding operations
type Seeder struct {
	db    *gorm.DB
	users repository.UserRepository
	posts repository.PostRepository
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB) *Seeder {
	_ = gofakeit.Seed(time.Now().UnixNano())
	return &Seeder{
		db:    db,
		users: repository.NewUserRepository(db),
		posts: repository.NewPostRepository(db),
	}
}

// SeedDev seeds the development database with realistic data. Every
// generated account logs in with password "password123".
func (s *Seeder) SeedDev(ctx context.Context) error {
	logger.Log.Info("creating users")
	users, err := s.seedUsers(ctx, 50)
	if err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}

	logger.Log.Info("creating follow graph")
	if err := s.seedFollows(ctx, users, 300); err != nil {
		return fmt.Errorf("failed to seed follows: %w", err)
	}

	logger.Log.Info("creating posts")
	posts, err := s.seedPosts(ctx, users, 200)
	if err != nil {
		return fmt.Errorf("failed to seed posts: %w", err)
	}

	logger.Log.Info("creating likes")
	if err := s.seedLikes(ctx, users, posts, 600); err != nil {
		return fmt.Errorf("failed to seed likes: %w", err)
	}

	logger.Log.Info("creating comments")
	if err := s.seedComments(ctx, users, posts, 400); err != nil {
		return fmt.Errorf("failed to seed comments: %w", err)
	}

	logger.Log.Info("seed complete",
		zap.Int("users", len(users)),
		zap.Int("posts", len(posts)))
	return nil
}

func (s *Seeder) seedUsers(ctx context.Context, count int) ([]*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	hashStr := string(hash)

	users := make([]*models.User, 0, count)
	for i := 0; i < count; i++ {
		username := fmt.Sprintf("%s%d", strings.ToLower(gofakeit.Username()), i)
		user := &models.User{
			Email:        fmt.Sprintf("%s@%s", username, gofakeit.DomainName()),
			Username:     username,
			DisplayName:  gofakeit.Name(),
			Bio:          gofakeit.Sentence(10),
			AvatarURL:    fmt.Sprintf("https://i.pravatar.cc/150?u=%s", username),
			PasswordHash: &hashStr,
		}
		if err := s.users.CreateUser(ctx, user); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (s *Seeder) seedFollows(ctx context.Context, users []*models.User, count int) error {
	for i := 0; i < count; i++ {
		follower := users[rand.Intn(len(users))]
		followee := users[rand.Intn(len(users))]
		if follower.ID == followee.ID {
			continue
		}
		if _, err := s.users.CreateFollow(ctx, follower.ID, followee.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) seedPosts(ctx context.Context, users []*models.User, count int) ([]*models.Post, error) {
	topics := []string{"coffee", "travel", "code", "music", "food", "cats", "fitness", "books"}

	posts := make([]*models.Post, 0, count)
	for i := 0; i < count; i++ {
		author := users[rand.Intn(len(users))]
		post := &models.Post{
			AuthorID:    author.ID,
			Content:     gofakeit.Sentence(gofakeit.Number(5, 25)),
			IsPublished: true,
		}

		var hashtags []string
		for _, topic := range topics {
			if rand.Intn(4) == 0 {
				hashtags = append(hashtags, topic)
			}
		}
		if err := s.posts.CreatePost(ctx, post, hashtags); err != nil {
			return nil, err
		}

		// spread creation times over the last two weeks so feeds paginate
		createdAt := time.Now().Add(-time.Duration(rand.Intn(14*24)) * time.Hour)
		if err := s.db.Model(post).UpdateColumn("created_at", createdAt).Error; err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, nil
}

func (s *Seeder) seedLikes(ctx context.Context, users []*models.User, posts []*models.Post, count int) error {
	for i := 0; i < count; i++ {
		user := users[rand.Intn(len(users))]
		post := posts[rand.Intn(len(posts))]
		if _, err := s.posts.ToggleLike(ctx, user.ID, post.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) seedComments(ctx context.Context, users []*models.User, posts []*models.Post, count int) error {
	for i := 0; i < count; i++ {
		comment := &models.Comment{
			PostID:  posts[rand.Intn(len(posts))].ID,
			UserID:  users[rand.Intn(len(users))].ID,
			Content: gofakeit.Sentence(gofakeit.Number(3, 15)),
		}
		if err := s.posts.CreateComment(ctx, comment); err != nil {
			return err
		}
	}
	return nil
}

// Clean removes all seeded data. Order matters for foreign keys.
func (s *Seeder) Clean() error {
	tables := []string{"notifications", "comments", "likes", "post_hashtags", "hashtags", "posts", "follows", "users"}
	for _, table := range tables {
		if err := s.db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clean %s: %w", table, err)
		}
	}
	return nil
}
