// Package relay delivers out-of-band pushes from a Redis stream to
// connected users.
//
// Producers add entries with two fields, user_id and payload (a JSON
// document), to the push stream. Delivery is best-effort: entries for users
// without a live connection are acknowledged and dropped.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"translation-relay/models"
)

const (
	StreamKey     = "relay:push"
	ConsumerGroup = "relay-group"
	blockTimeout  = 5 * time.Second
	retryDelay    = time.Second
)

// Sender delivers a frame to a user's live connection, if any.
type Sender interface {
	Send(userID string, v any)
}

type Consumer struct {
	rdb    *redis.Client
	sender Sender
	name   string
	logger logrus.FieldLogger
	batch  int64
	block  time.Duration
}

func NewConsumer(rdb *redis.Client, sender Sender, logger logrus.FieldLogger) *Consumer {
	return &Consumer{
		rdb:    rdb,
		sender: sender,
		name:   "relay-" + uuid.New().String(),
		logger: logger,
		batch:  16,
		block:  blockTimeout,
	}
}

// EnsureConsumerGroup creates the stream and group if they do not exist.
func (c *Consumer) EnsureConsumerGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (c *Consumer) Run(ctx context.Context) {
	log := c.logger.WithField("consumer", c.name)
	log.Info("Starting push consumer")
	defer log.Info("Push consumer stopped")

	for ctx.Err() == nil {
		n, err := c.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("Error reading push stream")
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}
		if n > 0 {
			log.WithField("entries", n).Debug("Delivered pushes")
		}
	}
}

// poll reads one batch, delivers it and returns the number of entries seen.
func (c *Consumer) poll(ctx context.Context) (int, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: c.name,
		Streams:  []string{StreamKey, ">"},
		Count:    c.batch,
		Block:    c.block,
	}).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var msgs []redis.XMessage
	for _, stream := range streams {
		msgs = append(msgs, stream.Messages...)
	}
	c.deliverBatch(ctx, msgs)
	return len(msgs), nil
}

// deliverBatch keeps stream order per user but serves users in parallel, so
// a stalled connection only delays its own pushes.
func (c *Consumer) deliverBatch(ctx context.Context, msgs []redis.XMessage) {
	queues := make(map[string][]redis.XMessage)
	for _, msg := range msgs {
		userID, _ := msg.Values["user_id"].(string)
		queues[userID] = append(queues[userID], msg)
	}

	var wg sync.WaitGroup
	for _, entries := range queues {
		wg.Add(1)
		go func(entries []redis.XMessage) {
			defer wg.Done()
			for _, msg := range entries {
				c.deliver(ctx, msg)
			}
		}(entries)
	}
	wg.Wait()
}

func (c *Consumer) deliver(ctx context.Context, msg redis.XMessage) {
	defer func() {
		if err := c.rdb.XAck(ctx, StreamKey, ConsumerGroup, msg.ID).Err(); err != nil {
			c.logger.WithError(err).WithField("entry", msg.ID).Warn("Failed to ack push")
		}
	}()

	frame, userID, err := decodeEntry(msg)
	if err != nil {
		c.logger.WithError(err).WithField("entry", msg.ID).Warn("Dropping malformed push")
		return
	}
	c.sender.Send(userID, frame)
}

func decodeEntry(msg redis.XMessage) (models.WSResponse, string, error) {
	userID, _ := msg.Values["user_id"].(string)
	if userID == "" {
		return models.WSResponse{}, "", fmt.Errorf("missing user_id field")
	}
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return models.WSResponse{}, "", fmt.Errorf("missing payload field")
	}
	if !json.Valid([]byte(raw)) {
		return models.WSResponse{}, "", fmt.Errorf("payload is not valid JSON")
	}
	return models.WSResponse{Type: models.TypePush, Payload: json.RawMessage(raw)}, userID, nil
}

// Publish adds a push for userID to the stream. payload must marshal to JSON.
func Publish(ctx context.Context, rdb *redis.Client, userID string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal push: %w", err)
	}
	id, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		Values: map[string]interface{}{
			"user_id": userID,
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish push: %w", err)
	}
	return id, nil
}
