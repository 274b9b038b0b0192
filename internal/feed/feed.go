// Package feed assembles the per-user home timeline. It resolves the follow
// set from the aggregate cache and pulls the followees' posts newest-first
// with a (creation time, ID) cursor, so already-served pages never reorder
// when new posts land.
package feed

import (
	"context"
	"time"

	"github.com/tangle-social/backend/internal/aggregates"
	"github.com/tangle-social/backend/internal/models"
	"github.com/tangle-social/backend/internal/repository"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is one slice of a user's feed. NextCursor marks the last entry
// served; pass it back to fetch the following page. HasMore is a hint
// only, a full page may still be the last one.
type Page struct {
	Posts      []*models.Post `json:"posts"`
	NextCursor *Cursor        `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

// Cursor is a feed position: the creation time of the last post served
// plus its ID as a tiebreaker, so posts sharing a timestamp order totally
// and never fall between two pages.
type Cursor struct {
	Before time.Time `json:"before"`
	LastID string    `json:"last_id"`
}

type Assembler struct {
	posts repository.PostRepository
	agg   *aggregates.Cache
}

func NewAssembler(posts repository.PostRepository, agg *aggregates.Cache) *Assembler {
	return &Assembler{posts: posts, agg: agg}
}

// GetFeed returns the posts authored by userID's followees positioned
// before cursor, newest first. A nil cursor means "from now". An empty
// follow set yields an empty page. Paging by (creation time, ID) keeps
// repeated calls with the same cursor deterministic even while followees
// keep posting; new posts only ever show up on pages not yet served.
func (a *Assembler) GetFeed(ctx context.Context, userID string, cursor *Cursor, pageSize int) (*Page, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	following, err := a.agg.Members(ctx, aggregates.EntityUser, userID, aggregates.AggFollowingSet)
	if err != nil {
		return nil, err
	}
	if len(following) == 0 {
		return &Page{Posts: []*models.Post{}}, nil
	}

	before, lastID := time.Now(), ""
	if cursor != nil {
		before, lastID = cursor.Before, cursor.LastID
	}

	// fetch one extra row to learn whether another page exists
	posts, err := a.posts.ListByAuthors(ctx, following, before, lastID, pageSize+1)
	if err != nil {
		return nil, err
	}

	page := &Page{Posts: posts}
	if len(posts) > pageSize {
		page.Posts = posts[:pageSize]
		page.HasMore = true
	}
	a.refreshCounters(ctx, page.Posts)
	if n := len(page.Posts); n > 0 {
		last := page.Posts[n-1]
		page.NextCursor = &Cursor{Before: last.CreatedAt, LastID: last.ID}
	}
	return page, nil
}

// refreshCounters swaps each post's stored counters for the cached
// aggregate values
func (a *Assembler) refreshCounters(ctx context.Context, posts []*models.Post) {
	for _, p := range posts {
		if n, err := a.agg.Counter(ctx, aggregates.EntityPost, p.ID, aggregates.AggLikeCount); err == nil {
			p.LikeCount = int(n)
		}
		if n, err := a.agg.Counter(ctx, aggregates.EntityPost, p.ID, aggregates.AggCommentCount); err == nil {
			p.CommentCount = int(n)
		}
	}
}
