package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translation-relay/logging"
	"translation-relay/models"
)

type delivery struct {
	userID string
	frame  models.WSResponse
}

type fakeSender struct {
	mu    sync.Mutex
	got   []delivery
	gates map[string]chan struct{}
}

func (f *fakeSender) Send(userID string, v any) {
	if gate, ok := f.gates[userID]; ok {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, delivery{userID: userID, frame: v.(models.WSResponse)})
}

func (f *fakeSender) deliveries() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.got...)
}

func setup(t *testing.T) (*redis.Client, *Consumer, *fakeSender) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sender := &fakeSender{}
	c := NewConsumer(rdb, sender, logging.Discard())
	c.block = 50 * time.Millisecond
	require.NoError(t, c.EnsureConsumerGroup(context.Background()))
	return rdb, c, sender
}

func TestEnsureConsumerGroup_Idempotent(t *testing.T) {
	_, c, _ := setup(t)
	assert.NoError(t, c.EnsureConsumerGroup(context.Background()))
}

func TestPoll_DeliversAndAcks(t *testing.T) {
	ctx := context.Background()
	rdb, c, sender := setup(t)

	_, err := Publish(ctx, rdb, "u1", map[string]string{"notice": "maintenance at noon"})
	require.NoError(t, err)

	n, err := c.poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := sender.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].userID)
	assert.Equal(t, models.TypePush, got[0].frame.Type)

	raw, err := json.Marshal(got[0].frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"push","payload":{"notice":"maintenance at noon"}}`, string(raw))

	pending, err := rdb.XPending(ctx, StreamKey, ConsumerGroup).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)

	n, err = c.poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPoll_DropsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	rdb, c, sender := setup(t)

	for _, values := range []map[string]interface{}{
		{"payload": `{"a":1}`},
		{"user_id": "u1"},
		{"user_id": "u1", "payload": `{not json`},
	} {
		require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{Stream: StreamKey, Values: values}).Err())
	}

	n, err := c.poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, sender.deliveries())

	pending, err := rdb.XPending(ctx, StreamKey, ConsumerGroup).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestRun_StopsOnCancel(t *testing.T) {
	rdb, c, sender := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	_, err := Publish(context.Background(), rdb, "u2", "hello")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sender.deliveries()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "u2", sender.deliveries()[0].userID)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestPoll_StalledUserDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	rdb, c, sender := setup(t)
	gate := make(chan struct{})
	sender.gates = map[string]chan struct{}{"slow": gate}

	for _, p := range []struct{ user, body string }{
		{"slow", "first"}, {"fast", "one"}, {"fast", "two"},
	} {
		_, err := Publish(ctx, rdb, p.user, p.body)
		require.NoError(t, err)
	}

	polled := make(chan int, 1)
	go func() {
		n, err := c.poll(ctx)
		assert.NoError(t, err)
		polled <- n
	}()

	require.Eventually(t, func() bool { return len(sender.deliveries()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := sender.deliveries()
	for i, want := range []string{`"one"`, `"two"`} {
		assert.Equal(t, "fast", got[i].userID)
		assert.Equal(t, json.RawMessage(want), got[i].frame.Payload)
	}

	close(gate)
	select {
	case n := <-polled:
		assert.Equal(t, 3, n)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not finish")
	}
	assert.Len(t, sender.deliveries(), 3)
}
