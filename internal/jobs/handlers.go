// Package jobs holds the background task handlers run by the worker pool:
// image thumbnailing, notification delivery and scheduled post publication.
// Every handler is idempotent so at-least-once delivery is safe.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tangle-social/backend/internal/aggregates"
	"github.com/tangle-social/backend/internal/images"
	"github.com/tangle-social/backend/internal/logger"
	"github.com/tangle-social/backend/internal/notify"
	"github.com/tangle-social/backend/internal/queue"
	"github.com/tangle-social/backend/internal/repository"
	"github.com/tangle-social/backend/internal/storage"
	"go.uber.org/zap"
)

// Handlers bundles the dependencies shared by all task handlers
type Handlers struct {
	posts       repository.PostRepository
	agg         *aggregates.Cache
	store       storage.ObjectStore
	thumbnailer images.Thumbnailer
	publisher   notify.Publisher

	// fetches remote originals; swapped out in tests
	httpClient *http.Client
	workDir    string
}

func NewHandlers(posts repository.PostRepository, agg *aggregates.Cache, store storage.ObjectStore, thumbnailer images.Thumbnailer, publisher notify.Publisher) *Handlers {
	return &Handlers{
		posts:       posts,
		agg:         agg,
		store:       store,
		thumbnailer: thumbnailer,
		publisher:   publisher,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		workDir:     os.TempDir(),
	}
}

// RegisterAll wires every task type into the worker
func (h *Handlers) RegisterAll(w *queue.Worker) {
	w.Register(queue.TaskImageThumbnail, h.HandleThumbnail)
	w.Register(queue.TaskNotificationDeliver, h.HandleNotificationDeliver)
	w.Register(queue.TaskPostPublish, h.HandlePostPublish)
}

// HandleThumbnail downloads the post's original image, scales it and uploads
// the result. Re-running overwrites the same object key and rewrites the
// same column, so retries converge.
func (h *Handlers) HandleThumbnail(ctx context.Context, task *queue.Task) error {
	var p queue.ThumbnailPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("bad thumbnail payload: %w", err)
	}

	post, err := h.posts.GetPost(ctx, p.PostID)
	if err != nil {
		if err == repository.ErrPostNotFound {
			// post deleted while the task waited; nothing to do
			logger.Log.Info("thumbnail target gone", logger.WithPostID(p.PostID))
			return nil
		}
		return err
	}
	if post.ThumbnailURL != "" {
		return nil
	}

	srcPath := filepath.Join(h.workDir, "orig-"+p.PostID)
	dstPath := filepath.Join(h.workDir, "thumb-"+p.PostID+".jpg")
	defer os.Remove(srcPath)
	defer os.Remove(dstPath)

	if err := h.fetch(ctx, p.ImageURL, srcPath); err != nil {
		return fmt.Errorf("fetch original: %w", err)
	}
	if err := h.thumbnailer.Thumbnail(ctx, srcPath, dstPath); err != nil {
		return err
	}

	url, err := h.store.Upload(ctx, "thumbs/"+p.PostID+".jpg", dstPath, "image/jpeg")
	if err != nil {
		return err
	}
	if err := h.posts.SetThumbnail(ctx, p.PostID, url); err != nil {
		return err
	}

	logger.Log.Info("thumbnail ready", logger.WithPostID(p.PostID), zap.String("url", url))
	return nil
}

// HandleNotificationDeliver publishes the persisted notification and stamps
// delivered_at. The stamp is written only after a successful publish; an
// already-stamped row short-circuits so redelivered tasks publish nothing.
func (h *Handlers) HandleNotificationDeliver(ctx context.Context, task *queue.Task) error {
	var p queue.NotificationPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("bad notification payload: %w", err)
	}

	n, err := h.posts.GetNotification(ctx, p.NotificationID)
	if err != nil {
		return err
	}
	if n.DeliveredAt != nil {
		return nil
	}

	if err := h.publisher.Publish(ctx, n); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return h.posts.MarkNotificationDelivered(ctx, n.ID, time.Now())
}

// HandlePostPublish flips a scheduled post live and bumps the author's post
// count. PublishPost only reports true on the actual flip, so a redelivered
// task cannot double-count.
func (h *Handlers) HandlePostPublish(ctx context.Context, task *queue.Task) error {
	var p queue.PublishPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("bad publish payload: %w", err)
	}

	post, err := h.posts.GetPost(ctx, p.PostID)
	if err != nil {
		if err == repository.ErrPostNotFound {
			return nil
		}
		return err
	}

	flipped, err := h.posts.PublishPost(ctx, p.PostID)
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}

	h.agg.ApplyDelta(ctx, aggregates.EntityUser, post.AuthorID, aggregates.AggPostCount, 1)
	logger.Log.Info("scheduled post published", logger.WithPostID(p.PostID))
	return nil
}

func (h *Handlers) fetch(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = out.ReadFrom(resp.Body)
	return err
}
