package jobs

import (
	"context"
	"time"

	"github.com/tangle-social/backend/internal/logger"
	"github.com/tangle-social/backend/internal/queue"
	"github.com/tangle-social/backend/internal/repository"
	"go.uber.org/zap"
)

const scheduledBatch = 100

// Scheduler periodically scans for scheduled posts whose publish time has
// passed and enqueues a publish task for each. The flip itself happens in
// the task handler, so a crash between scan and flip just means the next
// scan picks the post up again.
type Scheduler struct {
	posts      repository.PostRepository
	dispatcher *queue.Dispatcher
	interval   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(posts repository.PostRepository, dispatcher *queue.Dispatcher, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		posts:      posts,
		dispatcher: dispatcher,
		interval:   interval,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	logger.Log.Info("starting post scheduler", zap.Duration("interval", s.interval))
	go s.run()
}

func (s *Scheduler) Stop() {
	s.cancel()
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)

	s.Sweep(s.ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.ctx)
		}
	}
}

// Sweep enqueues publish tasks for every post due by now. Duplicate
// enqueues across overlapping sweeps are harmless; the publish handler
// flips each post at most once.
func (s *Scheduler) Sweep(ctx context.Context) {
	due, err := s.posts.ListDueScheduledPosts(ctx, time.Now(), scheduledBatch)
	if err != nil {
		logger.Log.Warn("scheduled post scan failed", zap.Error(err))
		return
	}
	for _, post := range due {
		s.dispatcher.EnqueueBestEffort(ctx, queue.TaskPostPublish, queue.PublishPayload{
			PostID: post.ID,
		})
	}
	if len(due) > 0 {
		logger.Log.Info("queued scheduled posts", zap.Int("count", len(due)))
	}
}
