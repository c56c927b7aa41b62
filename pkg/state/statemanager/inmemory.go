package statemanager

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mkhaled87/chat-relay/pkg/state"
)

// InMemoryRegistry keeps all session and typing state behind a single mutex.
// Room membership, presence, and typing sets are derived by scanning the
// session table rather than maintained as separate indexes, so they cannot
// drift from the sessions they describe.
type InMemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*state.Session
	order    []uuid.UUID       // bind order, bound sessions only
	typing   map[uuid.UUID]string // connID -> username

	rooms       []string
	roomSet     map[string]struct{}
	defaultRoom string

	logger *slog.Logger
}

func NewInMemoryRegistry(logger *slog.Logger, rooms []string, defaultRoom string) *InMemoryRegistry {
	roomSet := make(map[string]struct{}, len(rooms))
	for _, r := range rooms {
		roomSet[r] = struct{}{}
	}
	return &InMemoryRegistry{
		sessions:    make(map[uuid.UUID]*state.Session),
		typing:      make(map[uuid.UUID]string),
		rooms:       slices.Clone(rooms),
		roomSet:     roomSet,
		defaultRoom: defaultRoom,
		logger:      logger.With(slog.String("component", "state_registry")),
	}
}

// compile-time check to ensure InMemoryRegistry implements Registry.
var _ state.Registry = (*InMemoryRegistry)(nil)

func (m *InMemoryRegistry) OnConnect(connID uuid.UUID, transport state.Sender, ipAddr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[connID]; exists {
		return state.ErrAlreadyRegistered
	}
	m.sessions[connID] = &state.Session{
		ConnID:    connID,
		IPAddress: ipAddr,
		Transport: transport,
		CreatedAt: time.Now(),
	}
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return nil
}

func (m *InMemoryRegistry) Bind(connID uuid.UUID, userID, username string) (state.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[connID]
	if !ok {
		return state.Session{}, state.ErrNotJoined
	}
	sess.UserID = userID
	sess.Username = username
	sess.Room = m.defaultRoom
	if !slices.Contains(m.order, connID) {
		m.order = append(m.order, connID)
	}
	m.logger.Debug("Session bound",
		slog.String("connID", connID.String()),
		slog.String("userID", userID),
		slog.String("username", username),
	)
	return *sess, nil
}

func (m *InMemoryRegistry) Disconnect(connID uuid.UUID) (state.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[connID]
	if !ok {
		return state.Session{}, false
	}
	delete(m.sessions, connID)
	delete(m.typing, connID)
	if i := slices.Index(m.order, connID); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	return *sess, true
}

func (m *InMemoryRegistry) Session(connID uuid.UUID) (state.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[connID]
	if !ok {
		return state.Session{}, false
	}
	return *sess, true
}

// --- Room Management ---

func (m *InMemoryRegistry) SwitchRoom(connID uuid.UUID, room string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate membership in the fixed room set before touching any state.
	if _, ok := m.roomSet[room]; !ok {
		return "", state.ErrUnknownRoom
	}
	sess, ok := m.sessions[connID]
	if !ok || !sess.Bound() {
		return "", state.ErrNotJoined
	}
	previous := sess.Room
	sess.Room = room
	m.logger.Debug("Session switched room",
		slog.String("connID", connID.String()),
		slog.String("from", previous),
		slog.String("to", room),
	)
	return previous, nil
}

func (m *InMemoryRegistry) Rooms() []string {
	return slices.Clone(m.rooms)
}

func (m *InMemoryRegistry) DefaultRoom() string {
	return m.defaultRoom
}

// --- Derived Reads ---

func (m *InMemoryRegistry) ListOnline() []state.OnlineUser {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{}, len(m.order))
	out := make([]state.OnlineUser, 0, len(m.order))
	for _, connID := range m.order {
		sess, ok := m.sessions[connID]
		if !ok || !sess.Bound() {
			continue
		}
		if _, dup := seen[sess.UserID]; dup {
			continue
		}
		seen[sess.UserID] = struct{}{}
		out = append(out, state.OnlineUser{Username: sess.Username, UserID: sess.UserID})
	}
	return out
}

func (m *InMemoryRegistry) MembersOf(room string) []state.Sender {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []state.Sender
	for _, connID := range m.order {
		if sess, ok := m.sessions[connID]; ok && sess.Room == room {
			out = append(out, sess.Transport)
		}
	}
	return out
}

func (m *InMemoryRegistry) SessionsOf(username string) []state.Sender {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []state.Sender
	for _, connID := range m.order {
		if sess, ok := m.sessions[connID]; ok && sess.Username == username {
			out = append(out, sess.Transport)
		}
	}
	return out
}

func (m *InMemoryRegistry) AllSenders() []state.Sender {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]state.Sender, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.Transport)
	}
	return out
}

func (m *InMemoryRegistry) CountForIP(ipAddr string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, sess := range m.sessions {
		if sess.IPAddress == ipAddr {
			count++
		}
	}
	return count
}

// --- Typing State ---

func (m *InMemoryRegistry) SetTyping(connID uuid.UUID, typing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[connID]
	if !ok || !sess.Bound() {
		// Typing state requires identity; silently ignore.
		return
	}
	if typing {
		m.typing[connID] = sess.Username
	} else {
		delete(m.typing, connID)
	}
}

func (m *InMemoryRegistry) TypingFor(room string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.typing))
	for _, connID := range m.order {
		username, ok := m.typing[connID]
		if !ok {
			continue
		}
		if sess, live := m.sessions[connID]; live && sess.Room == room {
			out = append(out, username)
		}
	}
	return out
}
