package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Message is one outbound email. Delivery and templating belong to the mailer.
type Message struct {
	ID       string    `json:"id"`
	From     string    `json:"from"`
	To       []string  `json:"to"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	QueuedAt time.Time `json:"queued_at"`
}

// LogNotifier writes messages to the log instead of sending them.
type LogNotifier struct {
	log  *zap.Logger
	from string
}

func NewLogNotifier(log *zap.Logger, from string) *LogNotifier {
	return &LogNotifier{log: log, from: from}
}

func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.log.Info("notification",
		zap.String("from", n.from),
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// RedisQueue pushes messages as JSON onto a Redis list drained by the mailer.
type RedisQueue struct {
	client *redis.Client
	queue  string
	from   string
}

func NewRedisQueue(client *redis.Client, queue, from string) *RedisQueue {
	return &RedisQueue{client: client, queue: queue, from: from}
}

func (q *RedisQueue) Notify(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.From == "" {
		msg.From = q.from
	}
	msg.QueuedAt = time.Now().UTC()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := q.client.LPush(ctx, q.queue, data).Err(); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}
