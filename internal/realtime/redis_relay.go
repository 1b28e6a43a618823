package realtime

import (
	"context"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const relayChannel = "haggle:deltas"

// RedisRelay carries deltas between pods over Redis Pub/Sub, so a client
// streaming from pod A still sees steps executed on pod B. Local delivery
// never depends on Redis being up.
type RedisRelay struct {
	client *redis.Client
	fanout *Fanout
	podID  string
	cancel context.CancelFunc
	logger *log.Logger
}

// NewRedisRelay connects to Redis, attaches itself to the fan-out, and starts
// the inbound subscription loop.
func NewRedisRelay(ctx context.Context, addr string, fanout *Fanout) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r := &RedisRelay{
		client: client,
		fanout: fanout,
		podID:  uuid.NewString(),
		cancel: cancel,
		logger: log.New(log.Writer(), "[RELAY] ", log.LstdFlags),
	}
	fanout.SetRelay(r)
	go r.receive(loopCtx)
	return r, nil
}

// Forward publishes a locally-produced delta for other pods. Frames carry
// the origin pod id so a pod can skip its own publishes, which Redis echoes
// back to every subscriber.
func (r *RedisRelay) Forward(negotiationID string, payload []byte) {
	framed := append([]byte(r.podID+"|"+negotiationID+"|"), payload...)
	if err := r.client.Publish(context.Background(), relayChannel, framed).Err(); err != nil {
		r.logger.Printf("forward delta for %s: %v", negotiationID, err)
	}
}

// receive delivers deltas published by other pods into the local fan-out.
// go-redis reconnects the subscription on transient failures.
func (r *RedisRelay) receive(ctx context.Context) {
	sub := r.client.Subscribe(ctx, relayChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			origin, rest, found := strings.Cut(msg.Payload, "|")
			if !found {
				r.logger.Printf("drop malformed relay frame")
				continue
			}
			if origin == r.podID {
				continue
			}
			negotiationID, data, found := strings.Cut(rest, "|")
			if !found {
				r.logger.Printf("drop malformed relay frame")
				continue
			}
			r.fanout.Deliver(negotiationID, []byte(data))
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the subscription loop and releases the client.
func (r *RedisRelay) Close() error {
	r.cancel()
	return r.client.Close()
}

var _ Relay = (*RedisRelay)(nil)
