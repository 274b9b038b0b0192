// Package testutil provides the in-memory fixtures shared by package tests:
// a sqlite-backed gorm DB and factory helpers for users and posts.
package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tangle-social/backend/internal/database"
	"github.com/tangle-social/backend/internal/logger"
	"github.com/tangle-social/backend/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SetupDB creates an in-memory SQLite database with the full schema.
// Connections are pinned to one so every query sees the same :memory: DB.
func SetupDB(t *testing.T) *gorm.DB {
	t.Helper()
	logger.InitializeForTests()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.MigrateDB(db))
	return db
}

// CreateUser inserts a user with generated identifiers
func CreateUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{
		ID:          uuid.New().String(),
		Email:       username + "@example.com",
		Username:    username,
		DisplayName: username,
	}
	require.NoError(t, db.WithContext(context.Background()).Create(user).Error)
	return user
}

// CreatePost inserts a published post for the author
func CreatePost(t *testing.T, db *gorm.DB, authorID, content string) *models.Post {
	t.Helper()
	post := &models.Post{
		ID:          uuid.New().String(),
		AuthorID:    authorID,
		Content:     content,
		IsPublished: true,
	}
	require.NoError(t, db.WithContext(context.Background()).Create(post).Error)
	return post
}
