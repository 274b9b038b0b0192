package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangle-social/backend/internal/testutil"
)

func TestUserLookupsAreCaseInsensitive(t *testing.T) {
	db := testutil.SetupDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "Alice")

	byEmail, err := repo.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, byEmail.ID)

	byUsername, err := repo.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, byUsername.ID)

	_, err = repo.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreateFollowReportsChange(t *testing.T) {
	db := testutil.SetupDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")

	created, err := repo.CreateFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, created)

	// duplicate edge reports no change
	created, err = repo.CreateFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, created)

	following, err := repo.IsFollowing(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, following)

	count, err := repo.GetFollowerCount(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDeleteFollowReportsChange(t *testing.T) {
	db := testutil.SetupDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")

	removed, err := repo.DeleteFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = repo.CreateFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	removed, err = repo.DeleteFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestGetFollowingIDs(t *testing.T) {
	db := testutil.SetupDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	carol := testutil.CreateUser(t, db, "carol")

	_, err := repo.CreateFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = repo.CreateFollow(ctx, alice.ID, carol.ID)
	require.NoError(t, err)

	ids, err := repo.GetFollowingIDs(ctx, alice.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{bob.ID, carol.ID}, ids)

	ids, err = repo.GetFollowingIDs(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSearchUsers(t *testing.T) {
	db := testutil.SetupDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	testutil.CreateUser(t, db, "alice")
	testutil.CreateUser(t, db, "alicia")
	testutil.CreateUser(t, db, "bob")

	found, err := repo.SearchUsers(ctx, "ALI", 10, 0)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = repo.SearchUsers(ctx, "zzz", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, found)
}
