// Command tangle is the operations CLI: queue inspection, dead-letter
// management and aggregate cache maintenance.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tangle-social/backend/internal/aggregates"
	"github.com/tangle-social/backend/internal/cache"
	"github.com/tangle-social/backend/internal/config"
	"github.com/tangle-social/backend/internal/database"
	"github.com/tangle-social/backend/internal/logger"
	"github.com/tangle-social/backend/internal/queue"
	"github.com/tangle-social/backend/internal/repository"
)

type env struct {
	cfg    *config.Config
	redis  *cache.RedisClient
	broker *queue.RedisBroker
}

// connect wires up redis; database is connected lazily by the commands
// that need it
func connect() (*env, error) {
	_ = godotenv.Load()
	cfg := config.Load()
	logger.InitializeForTests()

	redisClient, err := cache.NewRedisClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &env{
		cfg:    cfg,
		redis:  redisClient,
		broker: queue.NewRedisBroker(redisClient.Client(), "tasks"),
	}, nil
}

func newQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the background task queue",
	}

	queueCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show queue depths",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect()
			if err != nil {
				return err
			}
			defer e.redis.Close()

			stats, err := e.broker.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("pending:     %d\n", stats.Pending)
			fmt.Printf("delayed:     %d\n", stats.Delayed)
			fmt.Printf("leased:      %d\n", stats.Leased)
			fmt.Printf("dead-letter: %d\n", stats.DeadLetter)
			return nil
		},
	})

	var limit int
	deadCmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List dead-lettered tasks with their failure reason",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect()
			if err != nil {
				return err
			}
			defer e.redis.Close()

			tasks, err := e.broker.DeadLetters(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("no dead-lettered tasks")
				return nil
			}
			for _, t := range tasks {
				fmt.Printf("%s  %-24s attempts=%d  %s\n", t.ID, t.Type, t.Attempts, t.LastError)
			}
			return nil
		},
	}
	deadCmd.Flags().IntVar(&limit, "limit", 50, "maximum tasks to list")
	queueCmd.AddCommand(deadCmd)

	queueCmd.AddCommand(&cobra.Command{
		Use:   "requeue-dead-letters",
		Short: "Move every dead-lettered task back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect()
			if err != nil {
				return err
			}
			defer e.redis.Close()

			n, err := e.broker.RequeueDeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("requeued %d task(s)\n", n)
			return nil
		},
	})

	return queueCmd
}

func newAggregatesCmd() *cobra.Command {
	aggCmd := &cobra.Command{
		Use:   "aggregates",
		Short: "Manage the aggregate cache",
	}

	aggCmd.AddCommand(&cobra.Command{
		Use:   "invalidate-user [user-id]",
		Short: "Drop a user's cached counters so the next read recomputes them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect()
			if err != nil {
				return err
			}
			defer e.redis.Close()
			return invalidate(cmd.Context(), e, aggregates.EntityUser, args[0],
				aggregates.AggFollowerCount, aggregates.AggFollowingCount, aggregates.AggPostCount,
				aggregates.AggFollowingSet, aggregates.AggLikedPostsSet)
		},
	})

	aggCmd.AddCommand(&cobra.Command{
		Use:   "invalidate-post [post-id]",
		Short: "Drop a post's cached counters so the next read recomputes them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect()
			if err != nil {
				return err
			}
			defer e.redis.Close()
			return invalidate(cmd.Context(), e, aggregates.EntityPost, args[0],
				aggregates.AggLikeCount, aggregates.AggCommentCount)
		},
	})

	return aggCmd
}

func invalidate(ctx context.Context, e *env, et aggregates.EntityType, id string, names ...string) error {
	if err := database.Initialize(e.cfg); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	users := repository.NewUserRepository(database.DB)
	posts := repository.NewPostRepository(database.DB)
	agg := aggregates.New(e.redis, repository.NewAggregateSource(users, posts))

	if err := agg.Invalidate(ctx, et, id, names...); err != nil {
		return err
	}
	fmt.Printf("invalidated %d aggregate(s) for %s %s\n", len(names), et, id)
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "tangle",
		Short: "Tangle operations CLI",
		Long:  "Operational tooling for the Tangle backend: task queue inspection and aggregate cache maintenance.",
	}
	rootCmd.AddCommand(newQueueCmd())
	rootCmd.AddCommand(newAggregatesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
