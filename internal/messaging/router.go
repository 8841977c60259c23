// internal/messaging/router.go
// Message router: cross-instance fan-out over one pub/sub channel. Every
// instance subscribes and delivers only to the sockets it holds locally.

package messaging

import (
    "context"
    "encoding/json"

    "github.com/go-redis/redis/v8"
    "go.uber.org/zap"

    "github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

// Dispatcher hands a payload to the local sockets of a user. It reports
// whether any socket took it.
type Dispatcher interface {
    Deliver(userID string, payload []byte) bool
}

// Router publishes and consumes envelopes on the router channel
type Router struct {
    store   *store.Store
    channel string
    logger  *zap.Logger
}

func NewRouter(st *store.Store, channel string, logger *zap.Logger) *Router {
    if channel == "" {
        channel = store.DefaultRouterChannel
    }
    return &Router{store: st, channel: channel, logger: logger.Named("router")}
}

// Channel returns the pub/sub channel name
func (r *Router) Channel() string {
    return r.channel
}

// Publish sends an event to receiverID wherever their socket lives
func (r *Router) Publish(ctx context.Context, receiverID, eventType string, data interface{}) error {
    env, err := NewEnvelope(receiverID, eventType, data)
    if err != nil {
        return err
    }
    raw, err := json.Marshal(env)
    if err != nil {
        return err
    }

    if err := r.store.Redis().Publish(ctx, r.channel, raw).Err(); err != nil {
        return store.Wrap(err)
    }
    RecordPublished(eventType)
    return nil
}

// Subscribe confirms the subscription and then drains the channel into d
// until ctx is cancelled.
func (r *Router) Subscribe(ctx context.Context, d Dispatcher) error {
    pubsub := r.store.Redis().Subscribe(ctx, r.channel)
    if _, err := pubsub.Receive(ctx); err != nil {
        pubsub.Close()
        return store.Wrap(err)
    }

    go r.drain(ctx, pubsub, d)
    return nil
}

func (r *Router) drain(ctx context.Context, pubsub *redis.PubSub, d Dispatcher) {
    defer pubsub.Close()

    ch := pubsub.Channel()
    for {
        select {
        case <-ctx.Done():
            return
        case msg, ok := <-ch:
            if !ok {
                r.logger.Error("router subscription closed", zap.String("channel", r.channel))
                return
            }
            r.route([]byte(msg.Payload), d)
        }
    }
}

// route decodes one envelope and delivers it locally
func (r *Router) route(raw []byte, d Dispatcher) bool {
    var env Envelope
    if err := json.Unmarshal(raw, &env); err != nil {
        r.logger.Warn("dropping malformed envelope", zap.Error(err))
        RecordDropped()
        return false
    }
    if env.ReceiverID == "" {
        RecordDropped()
        return false
    }

    out, err := json.Marshal(OutboundEvent{Type: env.EventType, Payload: env.EventData})
    if err != nil {
        RecordDropped()
        return false
    }

    if !d.Deliver(env.ReceiverID, out) {
        RecordDropped()
        return false
    }
    RecordDelivered()
    return true
}
