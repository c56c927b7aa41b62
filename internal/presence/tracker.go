// Package presence recomputes the online-user list and per-room typing sets
// from the session registry and pushes them whenever a relevant transition
// occurs. It holds no state of its own.
package presence

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/mkhaled87/chat-relay/internal/broadcast"
	"github.com/mkhaled87/chat-relay/pkg/state"
)

type Tracker struct {
	registry    state.Registry
	broadcaster *broadcast.Broadcaster
	logger      *slog.Logger
}

func New(registry state.Registry, broadcaster *broadcast.Broadcaster, logger *slog.Logger) *Tracker {
	return &Tracker{
		registry:    registry,
		broadcaster: broadcaster,
		logger:      logger.With(slog.String("component", "presence")),
	}
}

// PushOnlineList broadcasts the derived online-user list to every live
// connection. Called after every join and disconnect.
func (t *Tracker) PushOnlineList() {
	t.broadcaster.ToGlobal(broadcast.EventOnlineUserList, t.registry.ListOnline())
}

// PushTyping broadcasts the room's current typing usernames to that room.
func (t *Tracker) PushTyping(room string) {
	t.broadcaster.ToRoom(room, broadcast.EventTypingUsers, t.registry.TypingFor(room))
}

// SetTyping records a typing transition for the connection and re-broadcasts
// the typing set of its current room. A no-op for unbound connections;
// typing state requires identity.
func (t *Tracker) SetTyping(connID uuid.UUID, typing bool) {
	sess, ok := t.registry.Session(connID)
	if !ok || !sess.Bound() {
		return
	}
	t.registry.SetTyping(connID, typing)
	t.PushTyping(sess.Room)
}
