// Package pipeline validates, persists, and redistributes chat messages.
// A message is broadcast only after the durable write succeeds; persistence
// failures abort the whole send and are reported to the sender alone.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mkhaled87/chat-relay/internal/broadcast"
	"github.com/mkhaled87/chat-relay/pkg/state"
	"github.com/mkhaled87/chat-relay/pkg/store"
)

// MaxContentLength bounds message content in runes, after trimming.
const MaxContentLength = 1000

var (
	ErrEmptyContent   = errors.New("message content is required")
	ErrContentTooLong = fmt.Errorf("message content exceeds %d characters", MaxContentLength)
	ErrEmptyRecipient = errors.New("recipient is required")

	// ErrPersistence marks failures of the durable store. The in-memory
	// session state is left untouched when it occurs.
	ErrPersistence = errors.New("persistence unavailable")
)

type Pipeline struct {
	registry    state.Registry
	store       store.Store
	broadcaster *broadcast.Broadcaster
	logger      *slog.Logger
}

func New(registry state.Registry, st store.Store, broadcaster *broadcast.Broadcaster, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		registry:    registry,
		store:       st,
		broadcaster: broadcaster,
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// SendRoomMessage persists a message in the sender's current room and
// delivers it to every member of that room, the sender's own connection
// included.
func (p *Pipeline) SendRoomMessage(ctx context.Context, connID uuid.UUID, content string) (*store.Message, error) {
	sess, ok := p.registry.Session(connID)
	if !ok || !sess.Bound() {
		return nil, state.ErrNotJoined
	}
	content, err := validateContent(content)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		Content:   content,
		Sender:    sess.Username,
		SenderID:  sess.UserID,
		Room:      sess.Room,
		Timestamp: time.Now(),
		Type:      store.MessageText,
	}
	// The store call runs outside the registry lock; the room snapshot for
	// delivery is taken afterwards so it is no older than the send itself.
	// WithoutCancel: a sender disconnecting mid-persistence must not lose
	// the durable write.
	if err := p.store.InsertMessage(context.WithoutCancel(ctx), msg); err != nil {
		p.logger.Error("Failed to persist room message", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	p.broadcaster.ToRoom(msg.Room, broadcast.EventReceiveMessage, msg)
	return msg, nil
}

// SendPrivateMessage persists a recipient-scoped message and delivers it to
// every live session of the recipient plus the sender's own sessions. The
// recipient need not be online or exist; the message persists regardless.
func (p *Pipeline) SendPrivateMessage(ctx context.Context, connID uuid.UUID, recipient, content string) (*store.Message, error) {
	sess, ok := p.registry.Session(connID)
	if !ok || !sess.Bound() {
		return nil, state.ErrNotJoined
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil, ErrEmptyRecipient
	}
	content, err := validateContent(content)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		Content:   content,
		Sender:    sess.Username,
		SenderID:  sess.UserID,
		Timestamp: time.Now(),
		IsPrivate: true,
		Recipient: recipient,
		Type:      store.MessageText,
	}
	if err := p.store.InsertMessage(context.WithoutCancel(ctx), msg); err != nil {
		p.logger.Error("Failed to persist private message", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	p.broadcaster.ToUsers(broadcast.EventPrivateMessage, msg, recipient, sess.Username)
	return msg, nil
}

// RecentRoomMessages returns up to limit non-private messages for the room
// in chronological order, used to seed a connection's view on room entry.
func (p *Pipeline) RecentRoomMessages(ctx context.Context, room string, limit int) ([]store.Message, error) {
	msgs, err := p.store.FindRecentMessages(ctx, room, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return content, nil
}
