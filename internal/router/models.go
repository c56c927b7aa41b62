package router

import "encoding/json"

// Inbound event names.
const (
	EventJoin               = "join"
	EventSendRoomMessage    = "sendRoomMessage"
	EventSendPrivateMessage = "sendPrivateMessage"
	EventSetTyping          = "setTyping"
	EventSwitchRoom         = "switchRoom"
)

// ClientMessage is the wire frame for inbound events. Payload fields are
// extracted per event:
//
//	join               {"username": string}
//	sendRoomMessage    {"content": string}
//	sendPrivateMessage {"to": string, "content": string}
//	setTyping          {"typing": bool}
//	switchRoom         {"room": string}
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}
