package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is the durable identity record. Usernames are globally unique and
// stable across reconnects; IsOnline reflects the last connect/disconnect
// transition written by the relay.
type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username string             `bson:"username" json:"username"`
	IsOnline bool               `bson:"isOnline" json:"isOnline"`
	LastSeen time.Time          `bson:"lastSeen" json:"lastSeen"`
	JoinedAt time.Time          `bson:"joinedAt" json:"joinedAt"`
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
	MessageFile   MessageType = "file"
)

// ReadReceipt records one user having read a message. ReadBy is append-only.
type ReadReceipt struct {
	UserID   string    `bson:"userId" json:"userId"`
	Username string    `bson:"username" json:"username"`
	ReadAt   time.Time `bson:"readAt" json:"readAt"`
}

// Message is the durable chat record. A message is either room-scoped
// (IsPrivate false, Room set) or recipient-scoped (IsPrivate true, Recipient
// set), never both. Immutable once written except for ReadBy growth.
type Message struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Content   string             `bson:"content" json:"content"`
	Sender    string             `bson:"sender" json:"sender"`
	SenderID  string             `bson:"senderId" json:"senderId"`
	Room      string             `bson:"room,omitempty" json:"room,omitempty"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
	IsPrivate bool               `bson:"isPrivate" json:"isPrivate"`
	Recipient string             `bson:"recipient,omitempty" json:"to,omitempty"`
	Type      MessageType        `bson:"messageType" json:"type"`
	ReadBy    []ReadReceipt      `bson:"readBy,omitempty" json:"readBy,omitempty"`
}
