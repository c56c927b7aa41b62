package broadcast

// Outbound event names. Every frame sent to a client is an Envelope carrying
// one of these.
const (
	EventOnlineUserList = "onlineUserList"
	EventUserJoined     = "userJoined"
	EventUserLeft       = "userLeft"
	EventRoomList       = "roomList"
	EventRoomMessages   = "roomMessages"
	EventUserJoinedRoom = "userJoinedRoom"
	EventReceiveMessage = "receiveMessage"
	EventPrivateMessage = "privateMessage"
	EventTypingUsers    = "typingUsers"
	EventErrorNotice    = "errorNotice"
)

// Envelope is the wire frame for outbound events.
type Envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// RoomPresence announces a user entering a room, scoped to that room.
type RoomPresence struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

// ErrorNotice is sent to a single connection when handling one of its events
// fails.
type ErrorNotice struct {
	Message string `json:"message"`
}
