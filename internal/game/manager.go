package game

import (
	"errors"
	"math/rand"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

const DefaultMaxRooms = 4

// Broadcaster delivers server events to connections.
type Broadcaster interface {
	EmitTo(connID, event string, payload any)
	EmitAll(event string, payload any)
}

// RoomManager owns the live sessions and the connection to room mapping.
type RoomManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	conns    map[string]string // connID -> room code
	users    map[string]string // stable user id -> room of the latest membership

	maxRooms int
	out      Broadcaster
	deps     Deps
	newCode  func() string
}

type Option func(*RoomManager)

func WithMaxRooms(n int) Option {
	return func(rm *RoomManager) {
		if n > 0 {
			rm.maxRooms = n
		}
	}
}

func WithCodeGenerator(f func() string) Option {
	return func(rm *RoomManager) { rm.newCode = f }
}

func NewRoomManager(out Broadcaster, deps Deps, opts ...Option) *RoomManager {
	rm := &RoomManager{
		sessions: make(map[string]*Session),
		conns:    make(map[string]string),
		users:    make(map[string]string),
		maxRooms: DefaultMaxRooms,
		out:      out,
		deps:     deps.withDefaults(),
		newCode:  func() string { return randomCode(5) },
	}
	for _, o := range opts {
		o(rm)
	}
	return rm
}

// CreateRoom opens a new room with conn as its host.
func (rm *RoomManager) CreateRoom(conn, name, userID string) (string, error) {
	if userID == "" {
		return "", ErrInvalidPayload
	}
	rm.leaveCurrent(conn)

	rm.mu.Lock()
	if len(rm.sessions) >= rm.maxRooms {
		rm.mu.Unlock()
		return "", ErrCapacityExceeded
	}
	code := rm.newCode()
	for rm.sessions[code] != nil {
		code = rm.newCode()
	}
	s := NewSession(code, rm.deps)
	s.observe(rm.publishState, rm.publishRooms)
	rm.sessions[code] = s
	rm.mu.Unlock()

	if _, err := s.AddParticipant(conn, name, userID); err != nil {
		rm.destroy(code)
		return "", err
	}
	rm.mu.Lock()
	rm.conns[conn] = code
	rm.users[userID] = code
	rm.mu.Unlock()
	log.Info().Str("room", code).Str("conn", conn).Msg("room created")
	return code, nil
}

// JoinRoom admits conn into an existing room.
func (rm *RoomManager) JoinRoom(code, conn, name, userID string) error {
	s, err := rm.Get(code)
	if err != nil {
		return err
	}
	if current, ok := rm.roomOf(conn); ok && current != code {
		rm.leaveCurrent(conn)
	}
	replaced, err := s.AddParticipant(conn, name, userID)
	if err != nil {
		return err
	}
	rm.mu.Lock()
	if replaced != "" && replaced != conn {
		delete(rm.conns, replaced)
	}
	rm.conns[conn] = code
	rm.users[userID] = code
	rm.mu.Unlock()
	return nil
}

// Rejoin reattaches a new connection to the room userID last entered. When
// that room is gone the remaining rooms are searched in code order, rooms the
// user is still active in first.
func (rm *RoomManager) Rejoin(conn, userID string) (string, error) {
	if userID == "" {
		return "", ErrInvalidPayload
	}
	code, s := rm.findUser(userID)
	if s == nil {
		return "", ErrRoomNotFound
	}
	if current, ok := rm.roomOf(conn); ok && current != code {
		rm.leaveCurrent(conn)
	}
	old, err := s.Rejoin(conn, userID)
	if err != nil {
		return "", err
	}
	rm.mu.Lock()
	if old != conn {
		delete(rm.conns, old)
	}
	rm.conns[conn] = code
	rm.users[userID] = code
	rm.mu.Unlock()
	return code, nil
}

// findUser picks the room to rejoin. Sessions are queried after the registry
// lock is released.
func (rm *RoomManager) findUser(userID string) (string, *Session) {
	rm.mu.RLock()
	latest := rm.users[userID]
	codes := make([]string, 0, len(rm.sessions))
	sessions := make(map[string]*Session, len(rm.sessions))
	for c, sess := range rm.sessions {
		codes = append(codes, c)
		sessions[c] = sess
	}
	rm.mu.RUnlock()

	if s := sessions[latest]; s != nil && s.HasUser(userID) {
		return latest, s
	}
	sort.Strings(codes)
	for _, c := range codes {
		if sessions[c].HasActiveUser(userID) {
			return c, sessions[c]
		}
	}
	for _, c := range codes {
		if sessions[c].HasUser(userID) {
			return c, sessions[c]
		}
	}
	return "", nil
}

// Route returns the session conn belongs to.
func (rm *RoomManager) Route(conn string) (*Session, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	code, ok := rm.conns[conn]
	if !ok {
		return nil, false
	}
	s := rm.sessions[code]
	return s, s != nil
}

// Dispatch runs fn against the session of conn. Unroutable connections are
// logged and ignored.
func (rm *RoomManager) Dispatch(conn, action string, fn func(*Session) error) error {
	s, ok := rm.Route(conn)
	if !ok {
		log.Debug().Str("conn", conn).Str("action", action).Msg("no room for connection, ignoring")
		return nil
	}
	return fn(s)
}

func (rm *RoomManager) Get(code string) (*Session, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	s := rm.sessions[code]
	if s == nil {
		return nil, ErrRoomNotFound
	}
	return s, nil
}

// Leave handles an explicit leave. The room is destroyed once empty.
func (rm *RoomManager) Leave(conn string) {
	rm.leaveCurrent(conn)
}

// Disconnect marks conn as gone without touching the mapping.
func (rm *RoomManager) Disconnect(conn string) {
	if s, ok := rm.Route(conn); ok {
		s.Disconnect(conn)
	}
}

// CloseRoom force-destroys a room and drops every mapping into it.
func (rm *RoomManager) CloseRoom(code string) error {
	s, err := rm.Get(code)
	if err != nil {
		return err
	}
	snap := s.Snapshot()
	rm.destroy(code)
	if rm.out == nil {
		return nil
	}
	for _, p := range snap.Participants {
		rm.out.EmitTo(p.ConnID, "notice", map[string]any{"message": "room closed"})
	}
	return nil
}

func (rm *RoomManager) ListRooms() []RoomSummary {
	rm.mu.RLock()
	sessions := make([]*Session, 0, len(rm.sessions))
	for _, s := range rm.sessions {
		sessions = append(sessions, s)
	}
	rm.mu.RUnlock()

	out := make([]RoomSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

func (rm *RoomManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.sessions)
}

func (rm *RoomManager) roomOf(conn string) (string, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	code, ok := rm.conns[conn]
	return code, ok
}

func (rm *RoomManager) leaveCurrent(conn string) {
	rm.mu.Lock()
	code, ok := rm.conns[conn]
	delete(rm.conns, conn)
	s := rm.sessions[code]
	rm.mu.Unlock()
	if !ok || s == nil {
		return
	}
	empty, err := s.Leave(conn)
	if err != nil && !errors.Is(err, ErrUnknownParticipant) {
		log.Warn().Err(err).Str("room", code).Str("conn", conn).Msg("leave failed")
	}
	if empty {
		rm.destroy(code)
	}
}

func (rm *RoomManager) destroy(code string) {
	rm.mu.Lock()
	s := rm.sessions[code]
	delete(rm.sessions, code)
	for conn, c := range rm.conns {
		if c == code {
			delete(rm.conns, conn)
		}
	}
	for user, c := range rm.users {
		if c == code {
			delete(rm.users, user)
		}
	}
	rm.mu.Unlock()
	if s == nil {
		return
	}
	s.Close()
	log.Info().Str("room", code).Msg("room destroyed")
	rm.publishRooms()
}

// publishState sends a room snapshot to each of its connected participants.
func (rm *RoomManager) publishState(snap Snapshot) {
	if rm.out == nil {
		return
	}
	for _, p := range snap.Participants {
		if !p.Connected {
			continue
		}
		rm.out.EmitTo(p.ConnID, "game_state", snap.ForViewer(p.ConnID))
	}
}

func (rm *RoomManager) publishRooms() {
	if rm.out == nil {
		return
	}
	rm.out.EmitAll("room_list", map[string]any{"rooms": rm.ListRooms()})
}

func randomCode(n int) string {
	letters := []rune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
