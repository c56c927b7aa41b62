// Package router is the per-connection entry point: it parses inbound event
// frames, routes them through a dispatch table, and drives the
// connect/disconnect lifecycle. A connection is Unbound until its join event
// succeeds; every other event received while Unbound is dropped.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/mkhaled87/chat-relay/internal/broadcast"
	"github.com/mkhaled87/chat-relay/internal/pipeline"
	"github.com/mkhaled87/chat-relay/internal/presence"
	"github.com/mkhaled87/chat-relay/pkg/state"
	"github.com/mkhaled87/chat-relay/pkg/store"
)

// HandlerFunc handles one inbound event for one connection. Errors are
// reported to that connection only; they never propagate to other sessions.
type HandlerFunc func(ctx context.Context, connID uuid.UUID, payload gjson.Result) error

type Dispatcher struct {
	logger       *slog.Logger
	registry     state.Registry
	store        store.Store
	pipeline     *pipeline.Pipeline
	presence     *presence.Tracker
	broadcaster  *broadcast.Broadcaster
	historyLimit int

	handlers map[string]HandlerFunc
}

func NewDispatcher(
	logger *slog.Logger,
	registry state.Registry,
	st store.Store,
	pl *pipeline.Pipeline,
	tracker *presence.Tracker,
	broadcaster *broadcast.Broadcaster,
	historyLimit int,
) *Dispatcher {
	d := &Dispatcher{
		logger:       logger.With(slog.String("component", "dispatcher")),
		registry:     registry,
		store:        st,
		pipeline:     pl,
		presence:     tracker,
		broadcaster:  broadcaster,
		historyLimit: historyLimit,
	}
	d.handlers = map[string]HandlerFunc{
		EventJoin:               d.handleJoin,
		EventSendRoomMessage:    d.handleSendRoomMessage,
		EventSendPrivateMessage: d.handleSendPrivateMessage,
		EventSetTyping:          d.handleSetTyping,
		EventSwitchRoom:         d.handleSwitchRoom,
	}
	return d
}

// OnConnect registers the transport as an unbound placeholder session.
func (d *Dispatcher) OnConnect(connID uuid.UUID, conn state.Sender, ipAddr string) error {
	return d.registry.OnConnect(connID, conn, ipAddr)
}

// HandleMessage parses one inbound frame and executes its handler.
func (d *Dispatcher) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var clientMsg ClientMessage
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		d.logger.Warn("Failed to unmarshal client message", "connID", connID, "error", err)
		return
	}

	handler, ok := d.handlers[clientMsg.Event]
	if !ok {
		d.logger.Warn("Received unknown event", "event", clientMsg.Event, "connID", connID)
		return
	}

	// Only join may act on an unidentified connection.
	if clientMsg.Event != EventJoin {
		sess, found := d.registry.Session(connID)
		if !found || !sess.Bound() {
			d.logger.Debug("Dropping event from unbound connection",
				"event", clientMsg.Event, "connID", connID)
			return
		}
	}

	payload := gjson.ParseBytes(clientMsg.Payload)
	if err := handler(ctx, connID, payload); err != nil {
		d.logger.Warn("Event handler failed",
			slog.String("event", clientMsg.Event),
			slog.String("connID", connID.String()),
			slog.Any("error", err),
		)
		d.notifyError(connID, clientMsg.Event, err)
	}
}

// OnDisconnect tears down the connection's session: removes it from the
// registry (purging its typing entry), marks the durable record offline, and
// announces the departure to every live connection.
func (d *Dispatcher) OnDisconnect(ctx context.Context, connID uuid.UUID) {
	sess, ok := d.registry.Disconnect(connID)
	if !ok || !sess.Bound() {
		return
	}

	// The durable flag goes false even if the user still has other live
	// sessions; ListOnline stays correct because it is derived from live
	// sessions, not from this flag.
	if err := d.store.SetUserOnline(ctx, sess.UserID, false); err != nil {
		d.logger.Error("Failed to mark user offline",
			slog.String("userID", sess.UserID),
			slog.Any("error", err),
		)
	}

	d.broadcaster.ToGlobal(broadcast.EventUserLeft,
		state.OnlineUser{Username: sess.Username, UserID: sess.UserID})
	d.presence.PushOnlineList()
	d.presence.PushTyping(sess.Room)
	d.logger.Info("User left the chat", slog.String("username", sess.Username))
}

// notifyError reports a handler failure to the originating connection only.
func (d *Dispatcher) notifyError(connID uuid.UUID, event string, err error) {
	sess, ok := d.registry.Session(connID)
	if !ok {
		return
	}
	d.broadcaster.ToConn(sess.Transport, broadcast.EventErrorNotice,
		broadcast.ErrorNotice{Message: noticeText(event, err)})
}

func noticeText(event string, err error) string {
	if errors.Is(err, pipeline.ErrPersistence) {
		switch event {
		case EventJoin:
			return "Failed to join chat"
		case EventSendPrivateMessage:
			return "Failed to send private message"
		case EventSwitchRoom:
			return "Failed to join room"
		default:
			return "Failed to send message"
		}
	}
	return err.Error()
}
