// Package broadcast fans outbound events to the connections selected by a
// derived read of the session registry. Membership is computed at send time,
// never cached, so a broadcast always reflects registry state no older than
// the event that triggered it.
package broadcast

import (
	"encoding/json"
	"log/slog"

	"github.com/mkhaled87/chat-relay/pkg/state"
)

type Broadcaster struct {
	registry state.Registry
	logger   *slog.Logger
}

func New(registry state.Registry, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		logger:   logger.With(slog.String("component", "broadcaster")),
	}
}

// ToConn delivers an event to a single connection.
func (b *Broadcaster) ToConn(conn state.Sender, event string, payload any) {
	data, ok := b.marshal(event, payload)
	if !ok {
		return
	}
	conn.Send(data)
}

// ToRoom delivers an event to every connection currently in the room.
func (b *Broadcaster) ToRoom(room, event string, payload any) {
	b.fanOut(b.registry.MembersOf(room), event, payload)
}

// ToGlobal delivers an event to every live connection regardless of room.
func (b *Broadcaster) ToGlobal(event string, payload any) {
	b.fanOut(b.registry.AllSenders(), event, payload)
}

// ToUsers delivers an event to every live session of each named user,
// once per connection even when usernames overlap. Unknown or offline
// usernames contribute no recipients.
func (b *Broadcaster) ToUsers(event string, payload any, usernames ...string) {
	seen := make(map[state.Sender]struct{})
	var conns []state.Sender
	for _, username := range usernames {
		for _, conn := range b.registry.SessionsOf(username) {
			if _, dup := seen[conn]; dup {
				continue
			}
			seen[conn] = struct{}{}
			conns = append(conns, conn)
		}
	}
	b.fanOut(conns, event, payload)
}

func (b *Broadcaster) fanOut(conns []state.Sender, event string, payload any) {
	data, ok := b.marshal(event, payload)
	if !ok {
		return
	}
	for _, conn := range conns {
		conn.Send(data)
	}
	b.logger.Debug("Event fanned out",
		slog.String("event", event),
		slog.Int("connections", len(conns)),
	)
}

func (b *Broadcaster) marshal(event string, payload any) ([]byte, bool) {
	data, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		b.logger.Error("Failed to marshal outbound event",
			slog.String("event", event),
			slog.Any("error", err),
		)
		return nil, false
	}
	return data, true
}
