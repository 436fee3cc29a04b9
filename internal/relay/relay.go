// Package relay carries Publish calls from other processes into the local
// registry over a Redis pub/sub channel.
package relay

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tyrowin/projectpulse/internal/broadcast"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "projectpulse:events"

// Message is the wire form of a Publish call.
type Message struct {
	Group   broadcast.GroupKey `json:"group"`
	Type    string             `json:"type"`
	Payload json.RawMessage    `json:"payload"`
}

// Relay subscribes to a Redis channel and republishes every message into the
// local registry.
type Relay struct {
	client  *redis.Client
	channel string
	target  broadcast.Publisher
	logger  *zap.Logger
	done    chan struct{}
}

// New creates a relay; Start must be called to begin consuming.
func New(client *redis.Client, channel string, target broadcast.Publisher, logger *zap.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		client:  client,
		channel: channel,
		target:  target,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start subscribes and returns once Redis confirmed the subscription. Messages
// are consumed until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return errors.Wrapf(err, "subscribing to %s", r.channel)
	}
	r.logger.Info("relay subscribed", zap.String("channel", r.channel))

	go r.consume(ctx, sub)
	return nil
}

// Done is closed once the consumer goroutine has exited.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

func (r *Relay) consume(ctx context.Context, sub *redis.PubSub) {
	defer close(r.done)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.dispatch([]byte(msg.Payload))
		}
	}
}

func (r *Relay) dispatch(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.logger.Warn("dropping undecodable relay message", zap.Error(err))
		return
	}
	if !msg.Group.Valid() || msg.Type == "" {
		r.logger.Warn("dropping relay message with bad routing", zap.Stringer("group", msg.Group), zap.String("type", msg.Type))
		return
	}

	var payload any = msg.Payload
	if len(msg.Payload) == 0 {
		payload = nil
	}
	n := r.target.Publish(msg.Group, msg.Type, payload)
	r.logger.Debug("relayed event", zap.Stringer("group", msg.Group), zap.String("type", msg.Type), zap.Int("delivered", n))
}

// Ping reports whether Redis is reachable.
func (r *Relay) Ping(ctx context.Context) error {
	return errors.Wrap(r.client.Ping(ctx).Err(), "pinging redis")
}

// Publisher is the producer side used by other processes, such as the
// notification creation path, to reach connected clients.
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher creates a Publisher on channel.
func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

// Publish sends one event for fan-out to every process running a Relay.
func (p *Publisher) Publish(ctx context.Context, key broadcast.GroupKey, eventType string, payload any) error {
	if !key.Valid() {
		return errors.Errorf("invalid group key %q", key)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encoding payload")
	}
	raw, err := json.Marshal(Message{Group: key, Type: eventType, Payload: data})
	if err != nil {
		return errors.Wrap(err, "encoding message")
	}
	return errors.Wrap(p.client.Publish(ctx, p.channel, raw).Err(), "publishing event")
}
