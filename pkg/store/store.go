// Package store defines the durable persistence boundary for User and
// Message records. The relay treats it as an abstract collaborator; the
// mongostore subpackage provides the MongoDB implementation.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("store: not found")

type Store interface {
	// Ping verifies the store is reachable. The process refuses to start
	// without it.
	Ping(ctx context.Context) error

	// FindUserByUsername resolves a durable user by exact, case-sensitive
	// username match. Returns ErrNotFound when no such user exists.
	FindUserByUsername(ctx context.Context, username string) (*User, error)

	// UpsertUser creates the user record for username if absent, marks it
	// online, and returns the stored record with its durable id.
	UpsertUser(ctx context.Context, username string) (*User, error)

	// SetUserOnline flips the online flag and refreshes lastSeen.
	SetUserOnline(ctx context.Context, userID string, online bool) error

	// InsertMessage persists a new message and assigns its durable id.
	InsertMessage(ctx context.Context, msg *Message) error

	// FindRecentMessages returns up to limit non-private messages for the
	// room, most recent first. Callers reverse for chronological display.
	FindRecentMessages(ctx context.Context, room string, limit int) ([]Message, error)

	Close(ctx context.Context) error
}
