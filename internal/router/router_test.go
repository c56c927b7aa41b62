package router_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mkhaled87/chat-relay/internal/broadcast"
	"github.com/mkhaled87/chat-relay/internal/pipeline"
	"github.com/mkhaled87/chat-relay/internal/presence"
	"github.com/mkhaled87/chat-relay/internal/router"
	"github.com/mkhaled87/chat-relay/pkg/state/statemanager"
	"github.com/mkhaled87/chat-relay/pkg/store"
)

// --- Test Doubles ---

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type captureSender struct {
	mu     sync.Mutex
	frames []frame
}

func (c *captureSender) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		panic("malformed outbound frame: " + err.Error())
	}
	c.frames = append(c.frames, f)
}

func (c *captureSender) received(event string) []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []frame
	for _, f := range c.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// last decodes the most recent frame for event into v, failing the test if
// none arrived.
func (c *captureSender) last(t *testing.T, event string, v any) {
	t.Helper()
	frames := c.received(event)
	if len(frames) == 0 {
		t.Fatalf("no %s frame received", event)
	}
	if err := json.Unmarshal(frames[len(frames)-1].Payload, v); err != nil {
		t.Fatalf("decode %s payload: %v", event, err)
	}
}

type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*store.User
	messages []store.Message
	fail     bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]*store.User)}
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) FindUserByUsername(_ context.Context, username string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("store down")
	}
	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *fakeStore) UpsertUser(_ context.Context, username string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("store down")
	}
	user, ok := s.users[username]
	if !ok {
		user = &store.User{ID: primitive.NewObjectID(), Username: username, JoinedAt: time.Now()}
		s.users[username] = user
	}
	user.IsOnline = true
	user.LastSeen = time.Now()
	copied := *user
	return &copied, nil
}

func (s *fakeStore) SetUserOnline(_ context.Context, userID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	for _, user := range s.users {
		if user.ID.Hex() == userID {
			user.IsOnline = online
			user.LastSeen = time.Now()
		}
	}
	return nil
}

func (s *fakeStore) InsertMessage(_ context.Context, msg *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	msg.ID = primitive.NewObjectID()
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *fakeStore) FindRecentMessages(_ context.Context, room string, limit int) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("store down")
	}
	var out []store.Message
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if s.messages[i].Room == room && !s.messages[i].IsPrivate {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}

func (s *fakeStore) Close(context.Context) error { return nil }

// --- Fixture ---

type fixture struct {
	registry   *statemanager.InMemoryRegistry
	store      *fakeStore
	dispatcher *router.Dispatcher
}

func newFixture() *fixture {
	logger := newTestLogger()
	registry := statemanager.NewInMemoryRegistry(logger, []string{"general", "random", "tech"}, "general")
	st := newFakeStore()
	bcast := broadcast.New(registry, logger)
	tracker := presence.New(registry, bcast, logger)
	pl := pipeline.New(registry, st, bcast, logger)
	return &fixture{
		registry:   registry,
		store:      st,
		dispatcher: router.NewDispatcher(logger, registry, st, pl, tracker, bcast, 50),
	}
}

func (f *fixture) connect(t *testing.T) (uuid.UUID, *captureSender) {
	t.Helper()
	id := uuid.New()
	sender := &captureSender{}
	if err := f.dispatcher.OnConnect(id, sender, "127.0.0.1"); err != nil {
		t.Fatalf("OnConnect failed: %v", err)
	}
	return id, sender
}

func (f *fixture) send(t *testing.T, connID uuid.UUID, event string, payload map[string]any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "payload": payload})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	f.dispatcher.HandleMessage(context.Background(), connID, raw)
}

func (f *fixture) join(t *testing.T, username string) (uuid.UUID, *captureSender) {
	t.Helper()
	id, sender := f.connect(t)
	f.send(t, id, router.EventJoin, map[string]any{"username": username})
	if sess, ok := f.registry.Session(id); !ok || !sess.Bound() {
		t.Fatalf("join as %q did not bind the session", username)
	}
	return id, sender
}

// --- Join Tests ---

func TestJoinAnnouncesPresenceAndRooms(t *testing.T) {
	f := newFixture()
	_, aliceConn := f.join(t, "alice")

	var online []map[string]string
	aliceConn.last(t, broadcast.EventOnlineUserList, &online)
	if len(online) != 1 || online[0]["username"] != "alice" {
		t.Errorf("unexpected online list: %v", online)
	}

	var joined map[string]string
	aliceConn.last(t, broadcast.EventUserJoined, &joined)
	if joined["username"] != "alice" || joined["userId"] == "" {
		t.Errorf("unexpected userJoined payload: %v", joined)
	}

	var rooms []string
	aliceConn.last(t, broadcast.EventRoomList, &rooms)
	if len(rooms) != 3 {
		t.Errorf("expected 3 rooms, got %v", rooms)
	}
}

func TestJoinReusesDurableIdentityAcrossReconnects(t *testing.T) {
	f := newFixture()
	first, _ := f.join(t, "alice")
	firstSess, _ := f.registry.Session(first)
	f.dispatcher.OnDisconnect(context.Background(), first)

	second, _ := f.join(t, "alice")
	secondSess, _ := f.registry.Session(second)
	if firstSess.UserID != secondSess.UserID {
		t.Errorf("userId changed across reconnects: %s vs %s", firstSess.UserID, secondSess.UserID)
	}
}

func TestJoinRejectsInvalidUsername(t *testing.T) {
	f := newFixture()
	for _, username := range []string{"", "a", "  x  "} {
		id, sender := f.connect(t)
		f.send(t, id, router.EventJoin, map[string]any{"username": username})

		if sess, _ := f.registry.Session(id); sess.Bound() {
			t.Errorf("invalid username %q produced a bound session", username)
		}
		if got := sender.received(broadcast.EventErrorNotice); len(got) != 1 {
			t.Errorf("username %q: expected 1 errorNotice, got %d", username, len(got))
		}
	}
}

func TestJoinPersistenceFailureLeavesConnectionUnregistered(t *testing.T) {
	f := newFixture()
	_, witnessConn := f.join(t, "witness")
	witnessBefore := witnessConn.count()

	id, sender := f.connect(t)
	f.store.fail = true
	f.send(t, id, router.EventJoin, map[string]any{"username": "alice"})

	if sess, _ := f.registry.Session(id); sess.Bound() {
		t.Error("session bound despite persistence failure")
	}
	var notice map[string]string
	sender.last(t, broadcast.EventErrorNotice, &notice)
	if notice["message"] != "Failed to join chat" {
		t.Errorf("unexpected notice: %v", notice)
	}
	// failure is reported to the caller only, never broadcast
	if witnessConn.count() != witnessBefore {
		t.Error("persistence failure leaked frames to other connections")
	}
}

// --- Lifecycle Tests ---

func TestEventsFromUnboundConnectionsAreDropped(t *testing.T) {
	f := newFixture()
	id, sender := f.connect(t)

	f.send(t, id, router.EventSendRoomMessage, map[string]any{"content": "hi"})
	f.send(t, id, router.EventSwitchRoom, map[string]any{"room": "tech"})
	f.send(t, id, router.EventSetTyping, map[string]any{"typing": true})

	if sender.count() != 0 {
		t.Errorf("unbound connection received %d frames", sender.count())
	}
	if len(f.store.messages) != 0 {
		t.Error("unbound connection persisted a message")
	}
}

func TestMalformedAndUnknownFramesAreIgnored(t *testing.T) {
	f := newFixture()
	id, sender := f.join(t, "alice")
	before := sender.count()

	f.dispatcher.HandleMessage(context.Background(), id, []byte("not json"))
	f.send(t, id, "teleport", map[string]any{"to": "nowhere"})

	if sender.count() != before {
		t.Errorf("bad frames produced %d responses", sender.count()-before)
	}
}

func TestDisconnectOfUnboundConnectionIsQuiet(t *testing.T) {
	f := newFixture()
	_, aliceConn := f.join(t, "alice")
	before := aliceConn.count()

	id, _ := f.connect(t)
	f.dispatcher.OnDisconnect(context.Background(), id)

	if aliceConn.count() != before {
		t.Error("unbound disconnect broadcast frames")
	}
}

func TestDisconnectMarksDurableRecordOffline(t *testing.T) {
	f := newFixture()
	id, _ := f.join(t, "alice")
	f.dispatcher.OnDisconnect(context.Background(), id)

	user, err := f.store.FindUserByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("user lookup failed: %v", err)
	}
	if user.IsOnline {
		t.Error("durable record still online after disconnect")
	}
}

// --- Room Switch Tests ---

func TestSwitchRoomSeedsHistoryAndAnnounces(t *testing.T) {
	f := newFixture()
	alice, _ := f.join(t, "alice")
	f.send(t, alice, router.EventSendRoomMessage, map[string]any{"content": "old news"})

	bob, bobConn := f.join(t, "bob")
	f.send(t, bob, router.EventSwitchRoom, map[string]any{"room": "tech"})
	f.send(t, bob, router.EventSwitchRoom, map[string]any{"room": "general"})

	var history []store.Message
	bobConn.last(t, broadcast.EventRoomMessages, &history)
	if len(history) != 1 || history[0].Content != "old news" {
		t.Errorf("unexpected history: %+v", history)
	}

	var arrival map[string]string
	bobConn.last(t, broadcast.EventUserJoinedRoom, &arrival)
	if arrival["username"] != "bob" || arrival["room"] != "general" {
		t.Errorf("unexpected arrival announcement: %v", arrival)
	}
}

func TestSwitchRoomToUnknownRoomIsSilentlyIgnored(t *testing.T) {
	f := newFixture()
	alice, aliceConn := f.join(t, "alice")
	before := aliceConn.count()

	f.send(t, alice, router.EventSwitchRoom, map[string]any{"room": "lounge"})

	sess, _ := f.registry.Session(alice)
	if sess.Room != "general" {
		t.Errorf("room changed to %q despite unknown name", sess.Room)
	}
	if aliceConn.count() != before {
		t.Error("unknown room produced frames")
	}
}

// --- Scenario ---

// Exercises the full alice/bob session: join, room message, room switch,
// typing, disconnect.
func TestTwoUserSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	alice, aliceConn := f.join(t, "alice")
	bob, bobConn := f.join(t, "bob")

	// both see an online list of size 2 after bob joins
	for name, conn := range map[string]*captureSender{"alice": aliceConn, "bob": bobConn} {
		var online []map[string]string
		conn.last(t, broadcast.EventOnlineUserList, &online)
		if len(online) != 2 {
			t.Fatalf("%s sees %d online users, want 2", name, len(online))
		}
	}

	// alice messages general; both receive it
	f.send(t, alice, router.EventSendRoomMessage, map[string]any{"content": "hi"})
	for name, conn := range map[string]*captureSender{"alice": aliceConn, "bob": bobConn} {
		var msg store.Message
		conn.last(t, broadcast.EventReceiveMessage, &msg)
		if msg.Sender != "alice" || msg.Room != "general" || msg.Content != "hi" {
			t.Errorf("%s got unexpected message: %+v", name, msg)
		}
	}

	// bob switches to tech: history goes to bob only, the arrival
	// announcement stays inside tech
	f.send(t, bob, router.EventSwitchRoom, map[string]any{"room": "tech"})
	if got := aliceConn.received(broadcast.EventUserJoinedRoom); len(got) != 0 {
		t.Error("alice received a userJoinedRoom push for a room she is not in")
	}
	if got := aliceConn.received(broadcast.EventRoomMessages); len(got) != 0 {
		t.Error("alice received bob's room history")
	}
	var history []store.Message
	bobConn.last(t, broadcast.EventRoomMessages, &history)

	// alice types in general; only general members are notified
	bobBefore := bobConn.count()
	f.send(t, alice, router.EventSetTyping, map[string]any{"typing": true})
	var typing []string
	aliceConn.last(t, broadcast.EventTypingUsers, &typing)
	if len(typing) != 1 || typing[0] != "alice" {
		t.Errorf("unexpected typing set: %v", typing)
	}
	if bobConn.count() != bobBefore {
		t.Error("typing notification leaked outside the room")
	}

	// bob disconnects; alice sees the departure and a shrunken online list
	f.dispatcher.OnDisconnect(ctx, bob)
	var left map[string]string
	aliceConn.last(t, broadcast.EventUserLeft, &left)
	if left["username"] != "bob" {
		t.Errorf("unexpected userLeft payload: %v", left)
	}
	var online []map[string]string
	aliceConn.last(t, broadcast.EventOnlineUserList, &online)
	if len(online) != 1 || online[0]["username"] != "alice" {
		t.Errorf("unexpected online list after disconnect: %v", online)
	}
}
