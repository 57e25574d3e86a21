package game

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// manualTickers hands out tickers that only fire when a test sends on them.
type manualTickers struct {
	mu      sync.Mutex
	chans   []chan time.Time
	stopped []bool
}

func (m *manualTickers) Create(time.Duration) (<-chan time.Time, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time)
	idx := len(m.chans)
	m.chans = append(m.chans, ch)
	m.stopped = append(m.stopped, false)
	return ch, func() {
		m.mu.Lock()
		m.stopped[idx] = true
		m.mu.Unlock()
	}
}

func (m *manualTickers) last() (chan time.Time, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chans[len(m.chans)-1], len(m.chans) - 1
}

func (m *manualTickers) isStopped(idx int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped[idx]
}

type fixedTiers map[string]Tier

func (f fixedTiers) DifficultyTier(_ context.Context, userID string) (Tier, error) {
	if t, ok := f[userID]; ok {
		return t, nil
	}
	return "", fmt.Errorf("no profile for %s", userID)
}

type recorderFunc func(ctx context.Context, rec Record) error

func (f recorderFunc) RecordGame(ctx context.Context, rec Record) error { return f(ctx, rec) }

type emitted struct {
	conn    string
	event   string
	payload any
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []emitted
}

func (b *fakeBroadcaster) EmitTo(conn, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, emitted{conn: conn, event: event, payload: payload})
}

func (b *fakeBroadcaster) EmitAll(event string, payload any) {
	b.EmitTo("*", event, payload)
}

func (b *fakeBroadcaster) count(conn, event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.conn == conn && e.event == event {
			n++
		}
	}
	return n
}

func testDeps(tickers TickerFactory) Deps {
	n := 0
	var mu sync.Mutex
	return Deps{
		Tickers: tickers,
		NewRand: func() *rand.Rand { return rand.New(rand.NewSource(42)) },
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("doc-%d", n)
		},
	}
}

// newTestSession returns a session in LOBBY with n participants c1..cn
// (users u1..un). c1 is the host.
func newTestSession(t *testing.T, n int) (*Session, []string, *manualTickers) {
	t.Helper()
	tickers := &manualTickers{}
	s := NewSession("ROOM1", testDeps(tickers))
	conns := make([]string, n)
	for i := range conns {
		conns[i] = fmt.Sprintf("c%d", i+1)
		_, err := s.AddParticipant(conns[i], fmt.Sprintf("P%d", i+1), fmt.Sprintf("u%d", i+1))
		require.NoError(t, err)
	}
	return s, conns, tickers
}

func ownedDoc(t *testing.T, s *Session, conn string) Document {
	t.Helper()
	for _, d := range s.Snapshot().Documents {
		if d.OwnerConnID == conn {
			return d
		}
	}
	t.Fatalf("no document owned by %s", conn)
	return Document{}
}

// playToWriting starts the game and completes suggestion and choice, leaving
// the session in WRITE_1.
func playToWriting(t *testing.T, s *Session, conns []string) {
	t.Helper()
	require.NoError(t, s.Start(conns[0]))
	for i, c := range conns {
		kws := make([]string, SuggestionCount)
		for k := range kws {
			kws[k] = fmt.Sprintf("kw-%d-%d", i, k)
		}
		require.NoError(t, s.SubmitSuggestion(c, kws))
	}
	require.NoError(t, s.Advance(conns[0]))
	require.Equal(t, PhaseChoice, s.Phase())
	for _, c := range conns {
		d := ownedDoc(t, s, c)
		require.NoError(t, s.SubmitChoice(c, d.AssignedKeywords[:ChoiceCount]))
	}
	require.NoError(t, s.Advance(conns[0]))
	require.Equal(t, PhaseWrite1, s.Phase())
}

// writeAll has every participant submit for the current stage and advances.
func writeAll(t *testing.T, s *Session, conns []string) {
	t.Helper()
	phase := s.Phase()
	for _, c := range conns {
		p := ScriptPayload{Text: fmt.Sprintf("%s by %s", phase, c)}
		if phase == PhaseWrite4 {
			p = ScriptPayload{Title: "Title by " + c, Conclusion: "End by " + c}
		}
		require.NoError(t, s.SubmitScript(c, p))
	}
	require.NoError(t, s.Advance(conns[0]))
}
