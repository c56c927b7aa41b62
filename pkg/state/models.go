package state

import (
	"time"

	"github.com/google/uuid"
)

// Sender delivers one outbound frame to a single live connection. It is
// satisfied by *transport.Connection; tests substitute capture fakes so the
// registry and everything derived from it can be exercised without a live
// websocket.
type Sender interface {
	Send(message []byte)
}

// Session is the binding of a live connection to a user identity and a
// current room. A session starts as an identity-less placeholder when the
// transport connects and becomes bound on a successful join. The registry is
// the only writer; callers always receive copies.
type Session struct {
	ConnID    uuid.UUID
	UserID    string // durable user id, empty while unbound
	Username  string
	Room      string // exactly one room while bound
	IPAddress string
	Transport Sender
	CreatedAt time.Time
}

// Bound reports whether the session has an identity and a room.
func (s Session) Bound() bool {
	return s.UserID != ""
}

// OnlineUser is one entry of the derived presence list.
type OnlineUser struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}
