package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tangle-social/backend/internal/models"
	"github.com/tangle-social/backend/internal/testutil"
)

func TestCreatePostNormalizesHashtags(t *testing.T) {
	db := testutil.SetupDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	author := testutil.CreateUser(t, db, "author")

	first := &models.Post{AuthorID: author.ID, Content: "one", IsPublished: true}
	require.NoError(t, repo.CreatePost(ctx, first, []string{"#Sunset", "BEACH"}))

	second := &models.Post{AuthorID: author.ID, Content: "two", IsPublished: true}
	require.NoError(t, repo.CreatePost(ctx, second, []string{"sunset"}))

	// hashtag rows are shared across posts
	var tags int64
	require.NoError(t, db.Model(&models.Hashtag{}).Count(&tags).Error)
	assert.Equal(t, int64(2), tags)

	got, err := repo.GetPost(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, got.Hashtags, 1)
	assert.Equal(t, "sunset", got.Hashtags[0].Text)
}

func TestToggleLikeMovesRowAndCounterTogether(t *testing.T) {
	db := testutil.SetupDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	author := testutil.CreateUser(t, db, "author")
	fan := testutil.CreateUser(t, db, "fan")
	post := testutil.CreatePost(t, db, author.ID, "hello")

	liked, err := repo.ToggleLike(ctx, fan.ID, post.ID)
	require.NoError(t, err)
	assert.True(t, liked)

	got, err := repo.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.LikeCount)

	has, err := repo.HasLiked(ctx, fan.ID, post.ID)
	require.NoError(t, err)
	assert.True(t, has)

	liked, err = repo.ToggleLike(ctx, fan.ID, post.ID)
	require.NoError(t, err)
	assert.False(t, liked)

	got, err = repo.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.LikeCount)

	count, err := repo.CountLikes(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestRemoveLikeSkipsDecrementWhenRowAlreadyGone(t *testing.T) {
	db := testutil.SetupDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	author := testutil.CreateUser(t, db, "author")
	fan := testutil.CreateUser(t, db, "fan")
	post := testutil.CreatePost(t, db, author.ID, "hello")

	liked, err := repo.ToggleLike(ctx, fan.ID, post.ID)
	require.NoError(t, err)
	require.True(t, liked)

	// Another connection finishes the same unlike first: the row is gone
	// and the counter already moved before our delete runs.
	require.NoError(t, removeLike(db, fan.ID, post.ID))

	// The late unlike finds no row to delete and must leave the counter
	// alone instead of pushing it below the membership count.
	require.NoError(t, removeLike(db, fan.ID, post.ID))

	got, err := repo.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.LikeCount)

	count, err := repo.CountLikes(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestCreateCommentBumpsCounter(t *testing.T) {
	db := testutil.SetupDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	author := testutil.CreateUser(t, db, "author")
	post := testutil.CreatePost(t, db, author.ID, "hello")

	comment := &models.Comment{PostID: post.ID, UserID: author.ID, Content: "first"}
	require.NoError(t, repo.CreateComment(ctx, comment))
	assert.NotEmpty(t, comment.ID)

	got, err := repo.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CommentCount)

	comments, err := repo.ListComments(ctx, post.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "first", comments[0].Content)
}

func TestPublishPostFlipsOnce(t *testing.T) {
	db := testutil.SetupDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	author := testutil.CreateUser(t, db, "author")
	when := time.Now().Add(-time.Minute)
	post := &models.Post{AuthorID: author.ID, Content: "scheduled", PublishAt: &when}
	require.NoError(t, db.Create(post).Error)

	flipped, err := repo.PublishPost(ctx, post.ID)
	require.NoError(t, err)
	assert.True(t, flipped)

	flipped, err = repo.PublishPost(ctx, post.ID)
	require.NoError(t, err)
	assert.False(t, flipped)

	got, err := repo.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPublished)
}

func TestListDueScheduledPosts(t *testing.T) {
	db := testutil.SetupDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	author := testutil.CreateUser(t, db, "author")
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := &models.Post{AuthorID: author.ID, Content: "due", PublishAt: &past}
	later := &models.Post{AuthorID: author.ID, Content: "later", PublishAt: &future}
	require.NoError(t, db.Create(due).Error)
	require.NoError(t, db.Create(later).Error)

	posts, err := repo.ListDueScheduledPosts(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, due.ID, posts[0].ID)
}

func TestListByAuthorsPagesByCreationTime(t *testing.T) {
	db := testutil.SetupDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	a := testutil.CreateUser(t, db, "a")
	b := testutil.CreateUser(t, db, "b")

	base := time.Now().Add(-time.Hour)
	for i, author := range []*models.User{a, b, a} {
		post := &models.Post{
			AuthorID:    author.ID,
			Content:     author.Username,
			IsPublished: true,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.Create(post).Error)
	}

	posts, err := repo.ListByAuthors(ctx, []string{a.ID, b.ID}, time.Now(), "", 2)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "a", posts[0].Content)
	assert.Equal(t, "b", posts[1].Content)
	assert.True(t, posts[0].CreatedAt.After(posts[1].CreatedAt))

	// the cursor excludes the page boundary itself
	next, err := repo.ListByAuthors(ctx, []string{a.ID, b.ID}, posts[1].CreatedAt, posts[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "a", next[0].Content)
}

func TestListByAuthorsBreaksTimestampTiesByID(t *testing.T) {
	db := testutil.SetupDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	author := testutil.CreateUser(t, db, "author")

	// four posts sharing one creation time
	at := time.Now().Add(-time.Hour)
	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		post := &models.Post{
			AuthorID:    author.ID,
			Content:     fmt.Sprintf("tied %d", i),
			IsPublished: true,
			CreatedAt:   at,
		}
		require.NoError(t, db.Create(post).Error)
		ids = append(ids, post.ID)
	}

	first, err := repo.ListByAuthors(ctx, []string{author.ID}, time.Now(), "", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	last := first[len(first)-1]
	second, err := repo.ListByAuthors(ctx, []string{author.ID}, last.CreatedAt, last.ID, 2)
	require.NoError(t, err)
	require.Len(t, second, 2)

	// all four tied posts come out exactly once across the two pages
	seen := make([]string, 0, 4)
	for _, p := range append(first, second...) {
		seen = append(seen, p.ID)
	}
	assert.ElementsMatch(t, ids, seen)
}

func TestMarkNotificationDeliveredIsIdempotent(t *testing.T) {
	db := testutil.SetupDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")

	n := &models.Notification{RecipientID: bob.ID, ActorID: alice.ID, Kind: models.NotificationFollow}
	require.NoError(t, repo.CreateNotification(ctx, n))

	first := time.Now()
	require.NoError(t, repo.MarkNotificationDelivered(ctx, n.ID, first))

	got, err := repo.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeliveredAt)
	stamp := *got.DeliveredAt

	// a second delivery attempt keeps the original stamp
	require.NoError(t, repo.MarkNotificationDelivered(ctx, n.ID, first.Add(time.Hour)))
	got, err = repo.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, stamp, *got.DeliveredAt, time.Second)
}

func TestListLikedPosts(t *testing.T) {
	db := testutil.SetupDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	author := testutil.CreateUser(t, db, "author")
	fan := testutil.CreateUser(t, db, "fan")
	one := testutil.CreatePost(t, db, author.ID, "one")
	two := testutil.CreatePost(t, db, author.ID, "two")

	_, err := repo.ToggleLike(ctx, fan.ID, one.ID)
	require.NoError(t, err)
	_, err = repo.ToggleLike(ctx, fan.ID, two.ID)
	require.NoError(t, err)

	ids, err := repo.ListLikedPostIDs(ctx, fan.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{one.ID, two.ID}, ids)

	posts, err := repo.ListLikedPosts(ctx, fan.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, posts, 2)
}
