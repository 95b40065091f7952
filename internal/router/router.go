// Package router validates, authorizes and dispatches inbound client
// events, and replays events arriving from other processes over the
// presence store's pub/sub channel onto local connections.
package router

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/chat-realtime/internal/domain"
	"github.com/example/chat-realtime/internal/presence"
	"github.com/example/chat-realtime/internal/registry"
)

// Config carries the routing knobs.
type Config struct {
	// Origin identifies this process in published envelopes. Defaults to a
	// random uuid.
	Origin string
	// ExcludeSender drops the sending connection from message broadcasts.
	ExcludeSender bool
	// TypingWindow collapses typing bursts per connection/room into the
	// latest state within the window.
	TypingWindow time.Duration
}

// Router is the per-process event router. Events from one connection are
// handled sequentially (the transport read loop calls HandleEvent inline);
// events from different connections run concurrently.
type Router struct {
	origin        string
	reg           *registry.Registry
	store         presence.Store
	chats         domain.ChatService
	messages      domain.MessageService
	excludeSender bool
	typing        *typingThrottle
	subs          []presence.Subscription
}

func New(reg *registry.Registry, store presence.Store, chats domain.ChatService, messages domain.MessageService, cfg Config) *Router {
	origin := cfg.Origin
	if origin == "" {
		origin = uuid.NewString()
	}
	window := cfg.TypingWindow
	if window <= 0 {
		window = 1500 * time.Millisecond
	}
	return &Router{
		origin:        origin,
		reg:           reg,
		store:         store,
		chats:         chats,
		messages:      messages,
		excludeSender: cfg.ExcludeSender,
		typing:        newTypingThrottle(window),
	}
}

// Start subscribes to the cross-process channels. Room envelopes arrive on
// the room:* pattern, status notifications on the status channel.
func (rt *Router) Start() error {
	roomSub, err := rt.store.PSubscribe(presence.RoomChannelPrefix+"*", rt.handleRemoteRoom)
	if err != nil {
		return err
	}
	rt.subs = append(rt.subs, roomSub)

	statusSub, err := rt.store.Subscribe(presence.StatusChannel, rt.handleRemoteStatus)
	if err != nil {
		return err
	}
	rt.subs = append(rt.subs, statusSub)
	return nil
}

// Stop tears down the pub/sub subscriptions and pending typing flushes.
func (rt *Router) Stop() {
	for _, sub := range rt.subs {
		sub.Close()
	}
	rt.subs = nil
	rt.typing.stop()
}

// ConnectionClosed releases per-connection routing state. The transport
// calls it after unregistering a connection.
func (rt *Router) ConnectionClosed(connID string) {
	rt.typing.drop(connID)
}

// HandleEvent routes one raw inbound event from a registered connection.
// Processing is isolated so one bad event cannot tear down shared state.
func (rt *Router) HandleEvent(ctx context.Context, connID string, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ROUTER] Recovered from panic handling event on %s: %v", connID, r)
		}
	}()

	identity, ok := rt.reg.IdentityFor(connID)
	if !ok {
		// Not registered means not authenticated; nothing is routed.
		return
	}

	var event domain.ClientEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		rt.ack(connID, domain.CodeMalformedEvent, "invalid event payload", "")
		return
	}

	switch event.Type {
	case domain.InboundJoin:
		rt.handleJoin(ctx, connID, identity, event)
	case domain.InboundLeave:
		rt.handleLeave(connID, event)
	case domain.InboundMessage:
		rt.handleMessage(ctx, connID, identity, event)
	case domain.InboundTyping:
		rt.handleTyping(ctx, connID, identity, event)
	case domain.InboundRead:
		rt.handleRead(ctx, connID, identity, event)
	case domain.InboundStatus:
		rt.handleStatus(ctx, identity, event)
	default:
		rt.ack(connID, domain.CodeMalformedEvent, "unknown event type", "")
	}
}

// handleJoin checks durable chat membership before subscribing the
// connection. The in-process registry only answers routing questions;
// whether the user is actually a participant is the chat service's call.
func (rt *Router) handleJoin(ctx context.Context, connID string, identity domain.Identity, event domain.ClientEvent) {
	if event.RoomID == "" {
		rt.ack(connID, domain.CodeMalformedEvent, "roomId is required", "")
		return
	}

	member, err := rt.chats.IsMember(ctx, event.RoomID, identity.UserID)
	if err != nil {
		log.Printf("[ROUTER] Membership lookup failed for room %s: %v", event.RoomID, err)
		rt.ack(connID, domain.CodeStoreUnavailable, "could not verify membership", event.RoomID)
		return
	}
	if !member {
		rt.ack(connID, domain.CodeForbidden, "not a member of this chat", event.RoomID)
		return
	}

	rt.reg.JoinRoom(connID, event.RoomID)
	_ = rt.reg.Send(connID, map[string]string{"type": domain.EventRoomJoined, "roomId": event.RoomID})
}

func (rt *Router) handleLeave(connID string, event domain.ClientEvent) {
	if event.RoomID == "" {
		rt.ack(connID, domain.CodeMalformedEvent, "roomId is required", "")
		return
	}
	rt.reg.LeaveRoom(connID, event.RoomID)
	_ = rt.reg.Send(connID, map[string]string{"type": domain.EventRoomLeft, "roomId": event.RoomID})
}

func (rt *Router) handleMessage(ctx context.Context, connID string, identity domain.Identity, event domain.ClientEvent) {
	if event.RoomID == "" || (event.Content == "" && len(event.FileIDs) == 0) {
		rt.ack(connID, domain.CodeMalformedEvent, "roomId and content are required", event.RoomID)
		return
	}
	if !rt.reg.InRoom(connID, event.RoomID) {
		rt.ack(connID, domain.CodeForbidden, "join the room before sending", event.RoomID)
		return
	}

	msg, err := rt.messages.CreateMessage(ctx, domain.CreateMessageParams{
		ChatID:    event.RoomID,
		UserID:    identity.UserID,
		Content:   event.Content,
		ReplyToID: event.ReplyToID,
		FileIDs:   event.FileIDs,
	})
	if err != nil {
		log.Printf("[ROUTER] Failed to persist message in room %s: %v", event.RoomID, err)
		rt.ack(connID, domain.CodeStoreUnavailable, "message could not be saved", event.RoomID)
		return
	}

	out := domain.NewMessageEvent{
		Type:      domain.EventNewMessage,
		ID:        msg.ID,
		Content:   msg.Content,
		ChatID:    msg.ChatID,
		UserID:    msg.UserID,
		CreatedAt: msg.CreatedAt,
		Files:     msg.Files,
		ReplyToID: msg.ReplyToID,
		User: domain.MessageUser{
			ID:    msg.User.ID,
			Name:  msg.User.Name,
			Image: msg.User.Image,
		},
	}

	exclude := ""
	if rt.excludeSender {
		exclude = connID
	}
	rt.broadcastRoom(event.RoomID, exclude, out)
	rt.publishRoom(ctx, event.RoomID, out)

	updatedAt := msg.CreatedAt
	if ts, err := rt.chats.Touch(ctx, event.RoomID); err == nil {
		updatedAt = ts
	} else {
		log.Printf("[ROUTER] Failed to touch chat %s: %v", event.RoomID, err)
	}
	update := domain.ChatUpdateEvent{
		Type:       domain.EventChatUpdate,
		ID:         event.RoomID,
		UpdatedAt:  updatedAt,
		UpdatedBy:  identity.UserID,
		UpdateType: "message",
	}
	rt.broadcastRoom(event.RoomID, "", update)
	rt.publishRoom(ctx, event.RoomID, update)
}

func (rt *Router) handleTyping(ctx context.Context, connID string, identity domain.Identity, event domain.ClientEvent) {
	if event.RoomID == "" {
		rt.ack(connID, domain.CodeMalformedEvent, "roomId is required", "")
		return
	}
	if !rt.reg.InRoom(connID, event.RoomID) {
		rt.ack(connID, domain.CodeForbidden, "join the room before typing", event.RoomID)
		return
	}

	out := domain.TypingEvent{
		Type:     domain.EventTyping,
		UserID:   identity.UserID,
		UserName: identity.Email,
		ChatID:   event.RoomID,
		IsTyping: event.IsTyping,
	}

	// Bursts inside the window collapse into the latest state; nothing is
	// persisted.
	rt.typing.submit(connID, event.RoomID, out, func(latest domain.TypingEvent) {
		rt.broadcastRoom(latest.ChatID, connID, latest)
		rt.publishRoom(context.Background(), latest.ChatID, latest)
	})
}

func (rt *Router) handleRead(ctx context.Context, connID string, identity domain.Identity, event domain.ClientEvent) {
	if event.RoomID == "" || event.MessageID == "" {
		rt.ack(connID, domain.CodeMalformedEvent, "roomId and messageId are required", event.RoomID)
		return
	}
	if !rt.reg.InRoom(connID, event.RoomID) {
		rt.ack(connID, domain.CodeForbidden, "join the room first", event.RoomID)
		return
	}

	// Read-state persistence is the message service's concern; a failure
	// there never blocks the fan-out.
	if err := rt.messages.MarkRead(ctx, event.RoomID, event.MessageID, identity.UserID); err != nil {
		log.Printf("[ROUTER] Failed to persist read state for message %s: %v", event.MessageID, err)
	}

	out := domain.MessageReadEvent{
		Type:      domain.EventMessageRead,
		MessageID: event.MessageID,
		ChatID:    event.RoomID,
		UserID:    identity.UserID,
	}
	rt.broadcastRoom(event.RoomID, connID, out)
	rt.publishRoom(ctx, event.RoomID, out)
}

// handleStatus delegates to the presence store. The broadcast happens only
// through the store's own publish; the router never duplicates it.
func (rt *Router) handleStatus(ctx context.Context, identity domain.Identity, event domain.ClientEvent) {
	if !event.Status.Valid() {
		return
	}
	if err := rt.store.SetStatus(ctx, identity.UserID, event.Status); err != nil {
		log.Printf("[ROUTER] Failed to set status for user %s: %v", identity.UserID, err)
	}
}

// handleRemoteRoom replays a room envelope from another process onto local
// connections. Self-originated envelopes are dropped so an event never
// echoes back onto the process that published it, and remote events are
// never re-published.
func (rt *Router) handleRemoteRoom(channel string, payload []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Printf("[ROUTER] Dropping malformed envelope on %s: %v", channel, err)
		return
	}
	if env.Origin == rt.origin {
		return
	}

	roomID := env.RoomID
	if roomID == "" {
		roomID = strings.TrimPrefix(channel, presence.RoomChannelPrefix)
	}
	for _, connID := range rt.reg.ConnectionsInRoom(roomID) {
		_ = rt.reg.Send(connID, json.RawMessage(env.Payload))
	}
}

// handleRemoteStatus delivers a status notification to every local
// connection. Status events are not origin-filtered: local delivery also
// rides the store's publish, exactly once per process.
func (rt *Router) handleRemoteStatus(channel string, payload []byte) {
	var event domain.UserStatusEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("[ROUTER] Dropping malformed status event: %v", err)
		return
	}
	for _, connID := range rt.reg.AllConnections() {
		_ = rt.reg.Send(connID, event)
	}
}

// broadcastRoom fans an event out to the snapshot of connections in the
// room, optionally skipping the sender.
func (rt *Router) broadcastRoom(roomID, excludeConn string, v interface{}) {
	for _, connID := range rt.reg.ConnectionsInRoom(roomID) {
		if connID == excludeConn {
			continue
		}
		_ = rt.reg.Send(connID, v)
	}
}

// publishRoom wraps the event in an origin-tagged envelope for the other
// processes. Local fan-out already happened, so a publish failure only
// costs cross-process delivery.
func (rt *Router) publishRoom(ctx context.Context, roomID string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("[ROUTER] Failed to marshal event for room %s: %v", roomID, err)
		return
	}
	env := domain.Envelope{Origin: rt.origin, RoomID: roomID, Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[ROUTER] Failed to marshal envelope for room %s: %v", roomID, err)
		return
	}
	if err := rt.store.Publish(ctx, presence.RoomChannel(roomID), data); err != nil {
		log.Printf("[ROUTER] Failed to publish to room %s: %v", roomID, err)
	}
}

func (rt *Router) ack(connID string, code domain.Code, message, roomID string) {
	_ = rt.reg.Send(connID, domain.NewErrorAck(code, message, roomID))
}
