package repository

import (
	"context"
	"fmt"

	"github.com/tangle-social/backend/internal/aggregates"
)

// AggregateSource recomputes cached aggregates from the graph store. It is
// the authoritative side of the aggregate cache's lazy-rebuild rule.
type AggregateSource struct {
	users UserRepository
	posts PostRepository
}

// NewAggregateSource wires the repositories the cache rebuilds from
func NewAggregateSource(users UserRepository, posts PostRepository) *AggregateSource {
	return &AggregateSource{users: users, posts: posts}
}

func (s *AggregateSource) ComputeCounter(ctx context.Context, et aggregates.EntityType, id, name string) (int64, error) {
	switch {
	case et == aggregates.EntityUser && name == aggregates.AggFollowerCount:
		return s.users.GetFollowerCount(ctx, id)
	case et == aggregates.EntityUser && name == aggregates.AggFollowingCount:
		return s.users.GetFollowingCount(ctx, id)
	case et == aggregates.EntityUser && name == aggregates.AggPostCount:
		return s.posts.CountByAuthor(ctx, id)
	case et == aggregates.EntityPost && name == aggregates.AggLikeCount:
		return s.posts.CountLikes(ctx, id)
	case et == aggregates.EntityPost && name == aggregates.AggCommentCount:
		return s.posts.CountComments(ctx, id)
	}
	return 0, fmt.Errorf("unknown aggregate %s/%s", et, name)
}

func (s *AggregateSource) ComputeMembers(ctx context.Context, et aggregates.EntityType, id, name string) ([]string, error) {
	switch {
	case et == aggregates.EntityUser && name == aggregates.AggFollowingSet:
		return s.users.GetFollowingIDs(ctx, id)
	case et == aggregates.EntityUser && name == aggregates.AggLikedPostsSet:
		return s.posts.ListLikedPostIDs(ctx, id)
	}
	return nil, fmt.Errorf("unknown aggregate set %s/%s", et, name)
}
