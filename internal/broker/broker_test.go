package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wpphub/wpphub/internal/config"
)

func TestEmitPublishesJSON(t *testing.T) {
	mr := miniredis.RunT(t)

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = sub.Close() }()

	pubsub := sub.Subscribe(context.Background(), PatternMessageCreate)
	defer func() { _ = pubsub.Close() }()
	if _, err := pubsub.Receive(context.Background()); err != nil {
		t.Fatal(err)
	}

	b := NewRedis(config.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	defer func() { _ = b.Close() }()

	b.Emit(PatternMessageCreate, map[string]string{"sessionId": "s1", "body": "hello"})

	select {
	case msg := <-pubsub.Channel():
		var got map[string]string
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatal(err)
		}
		if got["sessionId"] != "s1" || got["body"] != "hello" {
			t.Errorf("payload = %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for published message")
	}
}

func TestEmitSwallowsPublishFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewRedis(config.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	mr.Close()

	// Must not panic or block.
	b.Emit(PatternSessionReady, map[string]string{"sessionId": "s1"})
}

func TestEmitSwallowsMarshalFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewRedis(config.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	defer func() { _ = b.Close() }()

	b.Emit(PatternSessionReady, make(chan int))
}
