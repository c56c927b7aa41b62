package state

import "github.com/google/uuid"

// Registry is the single source of truth for which connections are live,
// who they belong to, and which room each one occupies. All mutation is
// serialized behind one lock so derived reads (room membership, presence,
// typing sets) never observe a torn state.
type Registry interface {
	// --- Connection Lifecycle ---
	// OnConnect registers a room-less, identity-less placeholder.
	OnConnect(connID uuid.UUID, transport Sender, ipAddr string) error
	// Bind associates a registered connection with a resolved user identity
	// and places it in the default room.
	Bind(connID uuid.UUID, userID, username string) (Session, error)
	// Disconnect removes the session and its typing entry. The removed
	// session is returned (ok=false if the connection was never registered)
	// so callers run cleanup exactly once.
	Disconnect(connID uuid.UUID) (Session, bool)
	Session(connID uuid.UUID) (Session, bool)

	// --- Room Management ---
	// SwitchRoom atomically moves a bound connection between rooms and
	// returns the vacated room.
	SwitchRoom(connID uuid.UUID, room string) (previous string, err error)
	Rooms() []string
	DefaultRoom() string

	// --- Derived Reads ---
	// ListOnline returns one entry per online user, in the order their
	// earliest live session was bound.
	ListOnline() []OnlineUser
	// MembersOf computes room membership by scanning live sessions.
	MembersOf(room string) []Sender
	// SessionsOf returns the transports of every live session bound to the
	// given username.
	SessionsOf(username string) []Sender
	AllSenders() []Sender
	CountForIP(ipAddr string) int

	// --- Typing State ---
	// SetTyping is a no-op for unbound connections; typing requires identity.
	SetTyping(connID uuid.UUID, typing bool)
	TypingFor(room string) []string
}
