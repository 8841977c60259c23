// internal/messaging/service.go

package messaging

import (
    "context"
    "encoding/json"
    "errors"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "github.com/imadgeboyega/kiekky-matchmaking/internal/common/utils"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/connection"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/matching"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

// QueueService is the part of the match queue sockets drive
type QueueService interface {
    Join(ctx context.Context, userID string) error
    LeaveQueue(ctx context.Context, userID string) error
}

// ChatAuthorizer decides who may talk in a conversation. An empty receiverID
// only checks that senderID participates.
type ChatAuthorizer interface {
    AuthorizeChat(ctx context.Context, connectionID, senderID, receiverID string) error
    AuthorizeHistory(ctx context.Context, connectionID, userID string) error
}

type RateLimiter interface {
    CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Service handles everything a connected user can do
type Service interface {
    Connect(ctx context.Context, userID, socketID string) error
    Disconnect(ctx context.Context, userID, socketID string) error
    Heartbeat(ctx context.Context, userID string) error

    // HandleEvent processes one inbound socket frame and returns the reply
    // for the sending socket, nil when there is none.
    HandleEvent(ctx context.Context, userID string, raw []byte) *OutboundEvent

    UnreadCounts(ctx context.Context, userID string) (map[string]int64, error)
    History(ctx context.Context, userID, connectionID string) ([]CachedMessage, error)
    NotificationCounts(ctx context.Context, userID string) (map[string]int64, error)
    ResetNotification(ctx context.Context, userID, category string) error
}

type ServiceConfig struct {
    ChatRateLimit  int
    ChatRateWindow time.Duration
}

type ServiceDeps struct {
    Presence      *Presence
    Router        *Router
    Ledger        *Ledger
    Notifications *Notifications
    Queue         QueueService
    Chats         ChatAuthorizer
    Limiter       RateLimiter
}

type service struct {
    presence      *Presence
    router        *Router
    ledger        *Ledger
    notifications *Notifications
    queue         QueueService
    chats         ChatAuthorizer
    limiter       RateLimiter
    cfg           ServiceConfig
    logger        *zap.Logger
    now           func() time.Time
}

func NewService(deps ServiceDeps, cfg ServiceConfig, logger *zap.Logger) Service {
    return &service{
        presence:      deps.Presence,
        router:        deps.Router,
        ledger:        deps.Ledger,
        notifications: deps.Notifications,
        queue:         deps.Queue,
        chats:         deps.Chats,
        limiter:       deps.Limiter,
        cfg:           cfg,
        logger:        logger.Named("messaging"),
        now:           time.Now,
    }
}

func (s *service) Connect(ctx context.Context, userID, socketID string) error {
    return s.presence.RegisterSocket(ctx, userID, socketID)
}

// Disconnect drops the socket binding. When it was the user's last socket a
// queued user is released; a matched user stays matched.
func (s *service) Disconnect(ctx context.Context, userID, socketID string) error {
    owner, remaining, err := s.presence.UnregisterSocket(ctx, socketID)
    if err != nil {
        return err
    }
    if owner == "" {
        // binding already expired
        owner = userID
        if remaining, err = s.presence.SocketCount(ctx, userID); err != nil {
            return err
        }
    }

    // another device may still be viewing the chat
    if remaining > 0 {
        return nil
    }
    if err := s.ledger.MarkInactive(ctx, owner); err != nil {
        return err
    }

    if err := s.queue.LeaveQueue(ctx, owner); err != nil && !errors.Is(err, matching.ErrAlreadyMatched) {
        return err
    }
    return nil
}

func (s *service) Heartbeat(ctx context.Context, userID string) error {
    return s.presence.Heartbeat(ctx, userID)
}

func (s *service) HandleEvent(ctx context.Context, userID string, raw []byte) *OutboundEvent {
    var in InboundEvent
    if err := json.Unmarshal(raw, &in); err != nil {
        s.logger.Warn("dropping malformed event", zap.String("user_id", userID), zap.Error(err))
        RecordInbound("unknown", "malformed")
        return nil
    }

    reply, err := s.dispatch(ctx, userID, &in)
    switch {
    case errors.Is(err, ErrInvalidEvent):
        s.logger.Warn("dropping invalid event", zap.String("user_id", userID), zap.String("type", in.Type), zap.Error(err))
        RecordInbound(eventLabel(in.Type), "invalid")
        return nil
    case err != nil:
        code, message := errorCode(err)
        if code == "INTERNAL" || code == "UNAVAILABLE" {
            s.logger.Error("event failed", zap.String("user_id", userID), zap.String("type", in.Type), zap.Error(err))
        }
        RecordInbound(eventLabel(in.Type), "error")
        return errorEvent(code, message)
    }

    RecordInbound(eventLabel(in.Type), "ok")
    return reply
}

func (s *service) dispatch(ctx context.Context, userID string, in *InboundEvent) (*OutboundEvent, error) {
    switch in.Type {
    case EventJoinQueue:
        if err := s.queue.Join(ctx, userID); err != nil {
            return nil, err
        }
        return NewOutboundEvent(ReplyQueueJoined, nil), nil

    case EventLeaveQueue:
        if err := s.queue.LeaveQueue(ctx, userID); err != nil {
            return nil, err
        }
        return NewOutboundEvent(ReplyQueueLeft, nil), nil

    case EventChatMessage:
        var p ChatMessagePayload
        if err := decodePayload(in, &p); err != nil {
            return nil, err
        }
        return s.sendChat(ctx, userID, &p)

    case EventTypingIndicator, EventStoppedTyping:
        var p ConversationPayload
        if err := decodePayload(in, &p); err != nil {
            return nil, err
        }
        return nil, s.typing(ctx, userID, &p, in.Type == EventTypingIndicator)

    case EventViewingChat:
        var p ConversationPayload
        if err := decodePayload(in, &p); err != nil {
            return nil, err
        }
        return nil, s.viewChat(ctx, userID, &p)

    case EventLeavingChat:
        return nil, s.ledger.MarkInactive(ctx, userID)

    case EventHeartbeat:
        return nil, s.presence.Heartbeat(ctx, userID)

    default:
        return nil, ErrInvalidEvent
    }
}

func (s *service) sendChat(ctx context.Context, userID string, p *ChatMessagePayload) (*OutboundEvent, error) {
    exceeded, _, err := s.limiter.CheckRateLimit(ctx, "chat:"+userID, int64(s.cfg.ChatRateLimit), s.cfg.ChatRateWindow)
    if err != nil {
        return nil, err
    }
    if exceeded {
        return errorEvent("RATE_LIMITED", "Too many messages, slow down"), nil
    }

    if err := s.chats.AuthorizeChat(ctx, p.ConnectionID, userID, p.ReceiverID); err != nil {
        return nil, err
    }

    msg := &CachedMessage{
        ID:        uuid.NewString(),
        Content:   p.Content,
        SenderID:  userID,
        CreatedAt: s.now().UTC(),
        Type:      MessageText,
    }
    if _, err := s.ledger.RecordMessage(ctx, p.ConnectionID, p.ReceiverID, RoutedChatMessage, msg); err != nil {
        return nil, err
    }

    return NewOutboundEvent(ReplyMessageAck, MessageAck{
        ID:           msg.ID,
        ConnectionID: p.ConnectionID,
        CreatedAt:    msg.CreatedAt,
    }), nil
}

func (s *service) typing(ctx context.Context, userID string, p *ConversationPayload, typing bool) error {
    if err := s.chats.AuthorizeChat(ctx, p.ConnectionID, userID, p.ReceiverID); err != nil {
        return err
    }
    if err := s.ledger.SetTyping(ctx, p.ConnectionID, userID, typing); err != nil {
        return err
    }

    eventType := RoutedStoppedTyping
    if typing {
        eventType = RoutedUserTyping
    }
    return s.router.Publish(ctx, p.ReceiverID, eventType, TypingEvent{ConnectionID: p.ConnectionID, SenderID: userID})
}

func (s *service) viewChat(ctx context.Context, userID string, p *ConversationPayload) error {
    if err := s.chats.AuthorizeChat(ctx, p.ConnectionID, userID, p.ReceiverID); err != nil {
        return err
    }
    if err := s.ledger.MarkActive(ctx, userID, p.ConnectionID); err != nil {
        return err
    }
    return s.router.Publish(ctx, p.ReceiverID, RoutedMessageRead, ReadEvent{ConnectionID: p.ConnectionID, ReaderID: userID})
}

func (s *service) UnreadCounts(ctx context.Context, userID string) (map[string]int64, error) {
    return s.ledger.UnreadCounts(ctx, userID)
}

func (s *service) History(ctx context.Context, userID, connectionID string) ([]CachedMessage, error) {
    if err := s.chats.AuthorizeHistory(ctx, connectionID, userID); err != nil {
        return nil, err
    }
    return s.ledger.History(ctx, connectionID)
}

func (s *service) NotificationCounts(ctx context.Context, userID string) (map[string]int64, error) {
    return s.notifications.Counts(ctx, userID)
}

func (s *service) ResetNotification(ctx context.Context, userID, category string) error {
    return s.notifications.Reset(ctx, userID, category)
}

// eventLabel keeps client-chosen types out of metric labels
func eventLabel(t string) string {
    switch t {
    case EventJoinQueue, EventLeaveQueue, EventChatMessage, EventTypingIndicator,
        EventStoppedTyping, EventViewingChat, EventLeavingChat, EventHeartbeat:
        return t
    }
    return "unknown"
}

func decodePayload(in *InboundEvent, dst interface{}) error {
    if len(in.Payload) == 0 {
        return ErrInvalidEvent
    }
    if err := json.Unmarshal(in.Payload, dst); err != nil {
        return errors.Join(ErrInvalidEvent, err)
    }
    if err := utils.ValidateStruct(dst); err != nil {
        return errors.Join(ErrInvalidEvent, err)
    }
    return nil
}

// errorCode maps a failure to the code sent in an ERROR reply
func errorCode(err error) (string, string) {
    switch {
    case errors.Is(err, matching.ErrProfileIncomplete):
        return "PROFILE_INCOMPLETE", "Add a location and interests before joining"
    case errors.Is(err, matching.ErrAlreadyMatched):
        return "ALREADY_MATCHED", "You are already in a chat"
    case errors.Is(err, connection.ErrSessionNotFound):
        return "CHAT_ENDED", "chat ended"
    case errors.Is(err, connection.ErrNotParticipant):
        return "NOT_PARTICIPANT", "You are not part of this conversation"
    case errors.Is(err, store.ErrUnavailable):
        return "UNAVAILABLE", "Service temporarily unavailable"
    default:
        return "INTERNAL", "Something went wrong"
    }
}
