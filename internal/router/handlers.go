package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/mkhaled87/chat-relay/internal/broadcast"
	"github.com/mkhaled87/chat-relay/internal/pipeline"
	"github.com/mkhaled87/chat-relay/pkg/state"
	"github.com/mkhaled87/chat-relay/pkg/store"
)

const (
	minUsernameLength = 2
	maxUsernameLength = 50
)

var errUsernameLength = fmt.Errorf("username must be between %d and %d characters", minUsernameLength, maxUsernameLength)

// handleJoin resolves or creates the durable user for the self-declared
// username, binds the connection to it in the default room, and announces
// the arrival. On persistence failure the connection stays unbound and only
// the caller is notified.
func (d *Dispatcher) handleJoin(ctx context.Context, connID uuid.UUID, payload gjson.Result) error {
	username := strings.TrimSpace(payload.Get("username").String())
	if n := utf8.RuneCountInString(username); n < minUsernameLength || n > maxUsernameLength {
		return errUsernameLength
	}

	user, err := d.resolveUser(ctx, username)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrPersistence, err)
	}

	sess, err := d.registry.Bind(connID, user.ID.Hex(), user.Username)
	if err != nil {
		return err
	}

	d.presence.PushOnlineList()
	d.broadcaster.ToGlobal(broadcast.EventUserJoined,
		state.OnlineUser{Username: sess.Username, UserID: sess.UserID})
	d.broadcaster.ToGlobal(broadcast.EventRoomList, d.registry.Rooms())
	d.logger.Info("User joined the chat", slog.String("username", username))
	return nil
}

// resolveUser finds the durable record for username, creating it on first
// join, and marks it online. Exact, case-sensitive match.
func (d *Dispatcher) resolveUser(ctx context.Context, username string) (*store.User, error) {
	user, err := d.store.FindUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return d.store.UpsertUser(ctx, username)
	}
	if err != nil {
		return nil, err
	}
	if err := d.store.SetUserOnline(ctx, user.ID.Hex(), true); err != nil {
		return nil, err
	}
	user.IsOnline = true
	return user, nil
}

func (d *Dispatcher) handleSendRoomMessage(ctx context.Context, connID uuid.UUID, payload gjson.Result) error {
	_, err := d.pipeline.SendRoomMessage(ctx, connID, payload.Get("content").String())
	if errors.Is(err, state.ErrNotJoined) {
		return nil // connection raced its own disconnect
	}
	return err
}

func (d *Dispatcher) handleSendPrivateMessage(ctx context.Context, connID uuid.UUID, payload gjson.Result) error {
	_, err := d.pipeline.SendPrivateMessage(ctx, connID,
		payload.Get("to").String(), payload.Get("content").String())
	if errors.Is(err, state.ErrNotJoined) {
		return nil
	}
	return err
}

func (d *Dispatcher) handleSetTyping(_ context.Context, connID uuid.UUID, payload gjson.Result) error {
	d.presence.SetTyping(connID, payload.Get("typing").Bool())
	return nil
}

// handleSwitchRoom atomically moves the session, seeds the requester with the
// new room's recent history, and announces the arrival to the room. Unknown
// room names are ignored without touching any state.
func (d *Dispatcher) handleSwitchRoom(ctx context.Context, connID uuid.UUID, payload gjson.Result) error {
	room := strings.TrimSpace(payload.Get("room").String())

	previous, err := d.registry.SwitchRoom(connID, room)
	if errors.Is(err, state.ErrUnknownRoom) || errors.Is(err, state.ErrNotJoined) {
		return nil
	}
	if err != nil {
		return err
	}

	sess, ok := d.registry.Session(connID)
	if !ok {
		return nil
	}

	history, err := d.pipeline.RecentRoomMessages(ctx, room, d.historyLimit)
	if err != nil {
		return err
	}
	d.broadcaster.ToConn(sess.Transport, broadcast.EventRoomMessages, history)
	d.broadcaster.ToRoom(room, broadcast.EventUserJoinedRoom,
		broadcast.RoomPresence{Username: sess.Username, Room: room})

	d.presence.PushTyping(previous)
	d.presence.PushTyping(room)
	d.logger.Info("User switched room",
		slog.String("username", sess.Username),
		slog.String("from", previous),
		slog.String("to", room),
	)
	return nil
}
