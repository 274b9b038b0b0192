// Package notify publishes delivered notifications onto the Kafka topic
// that downstream push/email consumers read from.
package notify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	kgo "github.com/segmentio/kafka-go"
	"github.com/tangle-social/backend/internal/models"
)

// Event is the wire format published per delivered notification
type Event struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	ActorID     string    `json:"actor_id"`
	Kind        string    `json:"kind"`
	PostID      string    `json:"post_id,omitempty"`
	CommentID   string    `json:"comment_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Publisher delivers notification events to the fan-out channel
type Publisher interface {
	Publish(ctx context.Context, n *models.Notification) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic, keyed by recipient so one
// user's notifications stay ordered within a partition
type KafkaPublisher struct {
	writer *kgo.Writer
}

func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	addrs := strings.Split(brokers, ",")
	return &KafkaPublisher{
		writer: &kgo.Writer{
			Addr:         kgo.TCP(addrs...),
			Topic:        topic,
			Balancer:     &kgo.LeastBytes{},
			RequiredAcks: kgo.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, n *models.Notification) error {
	value, err := json.Marshal(Event{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		ActorID:     n.ActorID,
		Kind:        string(n.Kind),
		PostID:      n.PostID,
		CommentID:   n.CommentID,
		CreatedAt:   n.CreatedAt,
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kgo.Message{
		Key:   []byte(n.RecipientID),
		Value: value,
		Time:  time.Now(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// MemoryPublisher records published notifications for tests
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	fail   error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Fail makes every subsequent Publish return err
func (p *MemoryPublisher) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

func (p *MemoryPublisher) Publish(ctx context.Context, n *models.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.events = append(p.events, Event{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		ActorID:     n.ActorID,
		Kind:        string(n.Kind),
		PostID:      n.PostID,
		CommentID:   n.CommentID,
		CreatedAt:   n.CreatedAt,
	})
	return nil
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *MemoryPublisher) Close() error { return nil }
