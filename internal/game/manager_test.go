package game

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts ...Option) (*RoomManager, *fakeBroadcaster) {
	t.Helper()
	out := &fakeBroadcaster{}
	n := 0
	opts = append([]Option{WithCodeGenerator(func() string {
		n++
		return fmt.Sprintf("ROOM%d", n)
	})}, opts...)
	return NewRoomManager(out, testDeps(&manualTickers{}), opts...), out
}

func TestNewRoomManager(t *testing.T) {
	rm, _ := newTestManager(t)
	assert.Equal(t, 0, rm.Count())
	assert.Empty(t, rm.ListRooms())
	assert.Equal(t, DefaultMaxRooms, rm.maxRooms)

	rm = NewRoomManager(nil, Deps{}, WithMaxRooms(0))
	assert.Equal(t, DefaultMaxRooms, rm.maxRooms, "non-positive limits are ignored")
}

func TestCreateRoom(t *testing.T) {
	rm, out := newTestManager(t)

	code, err := rm.CreateRoom("h1", "Alice", "u1")
	require.NoError(t, err)
	assert.Equal(t, "ROOM1", code)

	s, ok := rm.Route("h1")
	require.True(t, ok)
	assert.Equal(t, code, s.ID)

	snap := s.Snapshot()
	require.Len(t, snap.Participants, 1)
	assert.True(t, snap.Participants[0].IsHost)
	assert.Equal(t, PhaseLobby, snap.Phase)

	assert.Positive(t, out.count("*", "room_list"), "room list is broadcast on creation")
	assert.Positive(t, out.count("h1", "game_state"))
}

func TestCreateRoomCapacity(t *testing.T) {
	rm, _ := newTestManager(t)

	for i := 0; i < DefaultMaxRooms; i++ {
		_, err := rm.CreateRoom(fmt.Sprintf("h%d", i), "Host", fmt.Sprintf("u%d", i))
		require.NoError(t, err)
	}
	_, err := rm.CreateRoom("h-extra", "Host", "u-extra")
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, DefaultMaxRooms, rm.Count())
	_, ok := rm.Route("h-extra")
	assert.False(t, ok)
}

func TestCreateRoomCustomCapacity(t *testing.T) {
	rm, _ := newTestManager(t, WithMaxRooms(1))

	_, err := rm.CreateRoom("h1", "Host", "u1")
	require.NoError(t, err)
	_, err = rm.CreateRoom("h2", "Host", "u2")
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestCreateRoomLeavesPreviousRoom(t *testing.T) {
	rm, _ := newTestManager(t)

	first, err := rm.CreateRoom("h1", "Alice", "u1")
	require.NoError(t, err)
	second, err := rm.CreateRoom("h1", "Alice", "u1")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	_, err = rm.Get(first)
	assert.ErrorIs(t, err, ErrRoomNotFound, "the emptied room is destroyed")
	assert.Equal(t, 1, rm.Count())
}

func TestJoinRoom(t *testing.T) {
	rm, _ := newTestManager(t)
	code, err := rm.CreateRoom("h1", "Alice", "u1")
	require.NoError(t, err)

	require.NoError(t, rm.JoinRoom(code, "c2", "Bob", "u2"))

	s, ok := rm.Route("c2")
	require.True(t, ok)
	assert.Equal(t, code, s.ID)
	assert.Len(t, s.Snapshot().Participants, 2)

	assert.ErrorIs(t, rm.JoinRoom("NOPE", "c3", "Carol", "u3"), ErrRoomNotFound)
	_, ok = rm.Route("c3")
	assert.False(t, ok)
}

func TestJoinRoomErrorsLeaveMappingUntouched(t *testing.T) {
	rm, _ := newTestManager(t)
	code, err := rm.CreateRoom("h1", "A", "u1")
	require.NoError(t, err)
	for i := 2; i <= MaxPlayers; i++ {
		require.NoError(t, rm.JoinRoom(code, fmt.Sprintf("c%d", i), "P", fmt.Sprintf("u%d", i)))
	}

	assert.ErrorIs(t, rm.JoinRoom(code, "c5", "P", "u5"), ErrRoomFull)
	_, ok := rm.Route("c5")
	assert.False(t, ok)
}

func TestJoinRoomSessionInProgress(t *testing.T) {
	rm, _ := newTestManager(t)
	code, err := rm.CreateRoom("h1", "A", "u1")
	require.NoError(t, err)
	require.NoError(t, rm.JoinRoom(code, "c2", "B", "u2"))
	require.NoError(t, rm.JoinRoom(code, "c3", "C", "u3"))
	require.NoError(t, rm.Dispatch("h1", "start_game", func(s *Session) error { return s.Start("h1") }))

	assert.ErrorIs(t, rm.JoinRoom(code, "c4", "D", "u4"), ErrSessionInProgress)

	// reconnecting with a known user id replaces the old mapping
	require.NoError(t, rm.JoinRoom(code, "c2-new", "B", "u2"))
	_, ok := rm.Route("c2")
	assert.False(t, ok)
	_, ok = rm.Route("c2-new")
	assert.True(t, ok)
}

func TestLeaveDestroysEmptyRoom(t *testing.T) {
	rm, out := newTestManager(t)
	code, err := rm.CreateRoom("h1", "Alice", "u1")
	require.NoError(t, err)
	require.NoError(t, rm.JoinRoom(code, "c2", "Bob", "u2"))

	rm.Leave("h1")
	s, err := rm.Get(code)
	require.NoError(t, err)
	snap := s.Snapshot()
	require.Len(t, snap.Participants, 1)
	assert.True(t, snap.Participants[0].IsHost, "host moves to the remaining participant")

	before := out.count("*", "room_list")
	rm.Leave("c2")
	_, err = rm.Get(code)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, 0, rm.Count())
	assert.Greater(t, out.count("*", "room_list"), before)

	rm.Leave("never-joined")
}

func TestDisconnectKeepsMapping(t *testing.T) {
	rm, _ := newTestManager(t)
	code, err := rm.CreateRoom("h1", "Alice", "u1")
	require.NoError(t, err)
	require.NoError(t, rm.JoinRoom(code, "c2", "Bob", "u2"))

	rm.Disconnect("c2")

	s, ok := rm.Route("c2")
	require.True(t, ok)
	snap := s.Snapshot()
	require.Len(t, snap.Participants, 2)
	assert.False(t, snap.Participants[1].Connected)
	assert.Equal(t, 1, rm.Count())

	rm.Disconnect("unknown")
}

func TestRejoinMovesRouting(t *testing.T) {
	rm, out := newTestManager(t)
	code, err := rm.CreateRoom("h1", "Alice", "u1")
	require.NoError(t, err)
	require.NoError(t, rm.JoinRoom(code, "c2", "Bob", "u2"))
	rm.Disconnect("c2")

	got, err := rm.Rejoin("c2b", "u2")
	require.NoError(t, err)
	assert.Equal(t, code, got)

	_, ok := rm.Route("c2")
	assert.False(t, ok)
	s, ok := rm.Route("c2b")
	require.True(t, ok)
	p := s.Snapshot().Participants[1]
	assert.Equal(t, "c2b", p.ConnID)
	assert.True(t, p.Connected)
	assert.Positive(t, out.count("c2b", "game_state"))

	_, err = rm.Rejoin("c9", "nobody")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = rm.Rejoin("c9", "")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestListRooms(t *testing.T) {
	rm, _ := newTestManager(t)
	code, err := rm.CreateRoom("h1", "Alice", "u1")
	require.NoError(t, err)
	require.NoError(t, rm.JoinRoom(code, "c2", "Bob", "u2"))
	_, err = rm.CreateRoom("h2", "Zed", "u9")
	require.NoError(t, err)

	rooms := rm.ListRooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, RoomSummary{
		RoomID:           "ROOM1",
		HostName:         "Alice",
		ParticipantCount: 2,
		Phase:            PhaseLobby,
		ParticipantNames: []string{"Alice", "Bob"},
	}, rooms[0])
	assert.Equal(t, "ROOM2", rooms[1].RoomID)
	assert.Equal(t, "Zed", rooms[1].HostName)
}

func TestGameStateOnlyReachesConnected(t *testing.T) {
	rm, out := newTestManager(t)
	code, err := rm.CreateRoom("h1", "Alice", "u1")
	require.NoError(t, err)
	require.NoError(t, rm.JoinRoom(code, "c2", "Bob", "u2"))
	require.NoError(t, rm.JoinRoom(code, "c3", "Carol", "u3"))
	rm.Disconnect("c3")

	before := out.count("c3", "game_state")
	require.NoError(t, rm.Dispatch("h1", "start_game", func(s *Session) error { return s.Start("h1") }))
	assert.Equal(t, before, out.count("c3", "game_state"))

	out.mu.Lock()
	var last Snapshot
	for _, e := range out.events {
		if e.conn == "c2" && e.event == "game_state" {
			last = e.payload.(Snapshot)
		}
	}
	out.mu.Unlock()
	assert.Equal(t, PhaseSuggestion, last.Phase)
	assert.Equal(t, "c2", last.You)
}

func TestCloseRoom(t *testing.T) {
	rm, out := newTestManager(t)
	code, err := rm.CreateRoom("h1", "Alice", "u1")
	require.NoError(t, err)
	require.NoError(t, rm.JoinRoom(code, "c2", "Bob", "u2"))

	require.NoError(t, rm.CloseRoom(code))
	assert.Equal(t, 0, rm.Count())
	_, ok := rm.Route("h1")
	assert.False(t, ok)
	_, ok = rm.Route("c2")
	assert.False(t, ok)
	assert.Equal(t, 1, out.count("c2", "notice"))

	assert.ErrorIs(t, rm.CloseRoom(code), ErrRoomNotFound)
}

func TestDispatchUnroutableIsNoop(t *testing.T) {
	rm, _ := newTestManager(t)
	called := false
	err := rm.Dispatch("ghost", "advance_phase", func(*Session) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.False(t, called)
}

func TestDispatchReturnsSessionError(t *testing.T) {
	rm, _ := newTestManager(t)
	code, err := rm.CreateRoom("h1", "Alice", "u1")
	require.NoError(t, err)
	require.NoError(t, rm.JoinRoom(code, "c2", "Bob", "u2"))

	err = rm.Dispatch("c2", "start_game", func(s *Session) error { return s.Start("c2") })
	assert.ErrorIs(t, err, ErrNotHost)
	assert.Equal(t, "not_host", Code(err))
}

func TestEveryoneLeavingMidGameDestroysRoom(t *testing.T) {
	rm, _ := newTestManager(t, WithMaxRooms(1))
	code, err := rm.CreateRoom("h1", "Alice", "u1")
	require.NoError(t, err)
	require.NoError(t, rm.JoinRoom(code, "c2", "Bob", "u2"))
	require.NoError(t, rm.JoinRoom(code, "c3", "Carol", "u3"))
	require.NoError(t, rm.Dispatch("h1", "start_game", func(s *Session) error { return s.Start("h1") }))

	rm.Leave("h1")
	rm.Leave("c2")
	_, err = rm.Get(code)
	require.NoError(t, err, "one participant is still in the game")

	rm.Leave("c3")
	_, err = rm.Get(code)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, 0, rm.Count())

	_, err = rm.CreateRoom("h9", "Dana", "u9")
	assert.NoError(t, err, "the slot is free again")
}

func TestJoinRoomSameConnAsAnotherUser(t *testing.T) {
	rm, _ := newTestManager(t)
	code, err := rm.CreateRoom("h1", "Alice", "u1")
	require.NoError(t, err)
	require.NoError(t, rm.JoinRoom(code, "c2", "Bob", "u2"))

	assert.ErrorIs(t, rm.JoinRoom(code, "c2", "Bob again", "u2b"), ErrAlreadyJoined)
	s, ok := rm.Route("c2")
	require.True(t, ok)
	snap := s.Snapshot()
	require.Len(t, snap.Participants, 2)
	assert.Equal(t, "u2", snap.Participants[1].UserID)
}

func TestRejoinPrefersLatestRoom(t *testing.T) {
	rm, _ := newTestManager(t)
	first, err := rm.CreateRoom("h1", "Alice", "u1")
	require.NoError(t, err)
	require.NoError(t, rm.JoinRoom(first, "c2", "Bob", "u2"))
	require.NoError(t, rm.JoinRoom(first, "c3", "Carol", "u3"))
	require.NoError(t, rm.Dispatch("h1", "start_game", func(s *Session) error { return s.Start("h1") }))

	// c2 leaves the running game and hosts a new room; the first room keeps a
	// seat for u2.
	rm.Leave("c2")
	second, err := rm.CreateRoom("c2", "Bob", "u2")
	require.NoError(t, err)
	rm.Disconnect("c2")

	for i := 0; i < 20; i++ {
		conn := fmt.Sprintf("c2-%d", i)
		got, err := rm.Rejoin(conn, "u2")
		require.NoError(t, err)
		require.Equal(t, second, got)
		rm.Disconnect(conn)
	}
}

func TestGameStateHidesOtherHiddenFacets(t *testing.T) {
	rm, out := newTestManager(t)
	code, err := rm.CreateRoom("h1", "Alice", "u1")
	require.NoError(t, err)
	require.NoError(t, rm.JoinRoom(code, "c2", "Bob", "u2"))
	require.NoError(t, rm.JoinRoom(code, "c3", "Carol", "u3"))
	require.NoError(t, rm.Dispatch("h1", "start_game", func(s *Session) error { return s.Start("h1") }))
	require.NoError(t, rm.Dispatch("h1", "advance_phase", func(s *Session) error { return s.Advance("h1") }))

	out.mu.Lock()
	var last Snapshot
	for _, e := range out.events {
		if e.conn == "c2" && e.event == "game_state" {
			last = e.payload.(Snapshot)
		}
	}
	out.mu.Unlock()

	require.Len(t, last.Documents, 3)
	for _, d := range last.Documents {
		if d.OwnerConnID == "c2" {
			continue
		}
		assert.Empty(t, d.Constraints.Hidden, "document of %s", d.OwnerConnID)
	}

	s, ok := rm.Route("c2")
	require.True(t, ok)
	for _, d := range s.Snapshot().Documents {
		assert.NotEmpty(t, d.Constraints.Hidden, "the unfiltered snapshot keeps every facet")
	}
}
