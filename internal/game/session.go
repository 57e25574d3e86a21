package game

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TierSource resolves a participant's difficulty tier at join time.
type TierSource interface {
	DifficultyTier(ctx context.Context, userID string) (Tier, error)
}

// Recorder persists a finished game.
type Recorder interface {
	RecordGame(ctx context.Context, rec Record) error
}

type Deps struct {
	Tiers         TierSource
	Recorder      Recorder
	Tickers       TickerFactory
	Rulesets      []Ruleset
	NewRand       func() *rand.Rand
	NewID         func() string
	LookupTimeout time.Duration
	RecordTimeout time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Tickers == nil {
		d.Tickers = NewTickerFactory()
	}
	if len(d.Rulesets) == 0 {
		d.Rulesets = defaultRulesets
	}
	if d.NewRand == nil {
		d.NewRand = func() *rand.Rand { return rand.New(rand.NewSource(time.Now().UnixNano())) }
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.LookupTimeout == 0 {
		d.LookupTimeout = 3 * time.Second
	}
	if d.RecordTimeout == 0 {
		d.RecordTimeout = 10 * time.Second
	}
	return d
}

// Session is the orchestrator of one room. Every mutation, including timer
// ticks, runs under mu; state is published after mu is released.
type Session struct {
	ID string

	mu           sync.Mutex
	phase        Phase
	participants []*Participant
	suggestions  map[string][]string
	documents    []*Document
	timer        Timer
	ready        map[string]bool
	votes        Votes
	cursor       int
	notice       string
	closed       bool
	game         int

	stopTimer func()
	timerGen  int
	version   int

	pubMu     sync.Mutex
	published int

	deps    Deps
	rng     *rand.Rand
	onState func(Snapshot)
	onRooms func()
}

func NewSession(id string, deps Deps) *Session {
	deps = deps.withDefaults()
	return &Session{
		ID:          id,
		phase:       PhaseLobby,
		suggestions: map[string][]string{},
		ready:       map[string]bool{},
		votes:       newVotes(),
		deps:        deps,
		rng:         deps.NewRand(),
	}
}

// observe installs the callbacks used to publish state and room summaries.
func (s *Session) observe(state func(Snapshot), rooms func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = state
	s.onRooms = rooms
}

// update runs fn under the lock. When fn reports a change, the new snapshot
// is published and the registry is told if the room summary moved.
func (s *Session) update(fn func() (bool, error)) error {
	s.mu.Lock()
	before := s.summaryLocked()
	changed, err := fn()
	if !changed || s.closed {
		s.mu.Unlock()
		return err
	}
	s.version++
	v := s.version
	snap := s.snapshotLocked()
	after := s.summaryLocked()
	onState, onRooms := s.onState, s.onRooms
	s.mu.Unlock()

	s.pubMu.Lock()
	if v > s.published {
		s.published = v
		if onState != nil {
			onState(snap)
		}
	}
	s.pubMu.Unlock()
	if onRooms != nil && !sameSummary(before, after) {
		onRooms()
	}
	return err
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) HasUser(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byUserLocked(userID) != nil
}

// HasActiveUser reports whether userID is on the roster and has not left.
func (s *Session) HasActiveUser(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.byUserLocked(userID)
	return p != nil && !p.left
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) Summary() RoomSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

// AddParticipant admits a connection. A known userID is a reconnection and is
// always accepted; replaced then holds the connection id it took over.
// Otherwise the room must be in LOBBY and not full. The difficulty tier of a
// new user is fetched before the room is locked.
func (s *Session) AddParticipant(conn, name, userID string) (replaced string, err error) {
	if userID == "" || conn == "" {
		return "", ErrInvalidPayload
	}
	name = strings.TrimSpace(name)
	tier := TierC
	if !s.HasUser(userID) {
		tier = s.lookupTier(userID)
	}
	err = s.update(func() (bool, error) {
		if cur := s.byConnLocked(conn); cur != nil && cur.UserID != userID {
			return false, ErrAlreadyJoined
		}
		if p := s.byUserLocked(userID); p != nil {
			replaced = p.ConnID
			s.migrateLocked(p.ConnID, conn)
			p.Connected = true
			p.left = false
			if name != "" {
				p.Name = name
			}
			log.Info().Str("room", s.ID).Str("conn", conn).Str("user", userID).Msg("participant reconnected")
			return true, nil
		}
		if s.phase != PhaseLobby {
			return false, ErrSessionInProgress
		}
		if len(s.participants) >= MaxPlayers {
			return false, ErrRoomFull
		}
		s.participants = append(s.participants, &Participant{
			ConnID:    conn,
			UserID:    userID,
			Name:      name,
			IsHost:    len(s.participants) == 0,
			Connected: true,
			Tier:      tier,
		})
		log.Info().Str("room", s.ID).Str("conn", conn).Str("user", userID).Msg("participant joined")
		return true, nil
	})
	return replaced, err
}

// Rejoin installs conn for the participant identified by userID and returns
// the connection id it replaced.
func (s *Session) Rejoin(conn, userID string) (string, error) {
	var old string
	err := s.update(func() (bool, error) {
		p := s.byUserLocked(userID)
		if p == nil {
			return false, ErrUnknownParticipant
		}
		if cur := s.byConnLocked(conn); cur != nil && cur != p {
			return false, ErrAlreadyJoined
		}
		old = p.ConnID
		s.migrateLocked(old, conn)
		p.Connected = true
		p.left = false
		return true, nil
	})
	return old, err
}

func (s *Session) Disconnect(conn string) {
	_ = s.update(func() (bool, error) {
		p := s.byConnLocked(conn)
		if p == nil || !p.Connected {
			return false, nil
		}
		p.Connected = false
		return true, nil
	})
}

// Leave removes the participant while in LOBBY and reports whether the room
// is now empty. During a game the participant stays on the roster so the
// order holds, marked as left; the room counts as empty once everyone left.
func (s *Session) Leave(conn string) (bool, error) {
	empty := false
	err := s.update(func() (bool, error) {
		idx := s.indexLocked(conn)
		if idx < 0 {
			return false, ErrUnknownParticipant
		}
		if s.phase != PhaseLobby {
			p := s.participants[idx]
			p.Connected = false
			p.left = true
			if p.IsHost {
				s.passHostLocked(p)
			}
			empty = s.allLeftLocked()
			return true, nil
		}
		wasHost := s.participants[idx].IsHost
		s.participants = append(s.participants[:idx], s.participants[idx+1:]...)
		delete(s.ready, conn)
		delete(s.suggestions, conn)
		if wasHost && len(s.participants) > 0 {
			s.participants[0].IsHost = true
		}
		empty = len(s.participants) == 0
		return true, nil
	})
	return empty, err
}

func (s *Session) Start(conn string) error {
	return s.update(func() (bool, error) {
		if err := s.requireHostLocked(conn); err != nil {
			return false, err
		}
		return s.startLocked()
	})
}

// Advance moves the room forward on the host's request. PRESENT steps
// through the documents before moving to VOTE.
func (s *Session) Advance(conn string) error {
	var rec *Record
	var game int
	err := s.update(func() (bool, error) {
		if err := s.requireHostLocked(conn); err != nil {
			return false, err
		}
		switch s.phase {
		case PhaseLobby:
			return s.startLocked()
		case PhaseSuggestion:
			s.distributeLocked()
		case PhaseChoice:
			s.fillChoicesLocked()
		case PhasePresent:
			if s.cursor < len(s.documents)-1 {
				s.cursor++
				return true, nil
			}
		case PhaseVote:
			s.scoreLocked()
			r := s.recordLocked()
			rec, game = &r, s.game
		case PhaseResult:
			s.dropLeftLocked()
			s.resetGameLocked()
		}
		s.enterPhaseLocked(NextPhase(s.phase, len(s.participants)))
		return true, nil
	})
	if rec != nil {
		go s.record(*rec, game)
	}
	return err
}

func (s *Session) SubmitSuggestion(conn string, keywords []string) error {
	keywords = normalizeKeywords(keywords)
	if len(keywords) != SuggestionCount || hasEmpty(keywords) {
		return ErrInvalidPayload
	}
	return s.update(func() (bool, error) {
		if err := s.readyCheckLocked(conn, PhaseSuggestion); err != nil {
			return false, err
		}
		s.suggestions[conn] = keywords
		s.ready[conn] = true
		return true, nil
	})
}

// SubmitChoice sets the chosen keywords of the document conn owns. Every
// chosen keyword must come from the keywords assigned to that document.
func (s *Session) SubmitChoice(conn string, keywords []string) error {
	keywords = normalizeKeywords(keywords)
	if len(keywords) != ChoiceCount || hasEmpty(keywords) {
		return ErrInvalidPayload
	}
	return s.update(func() (bool, error) {
		if err := s.readyCheckLocked(conn, PhaseChoice); err != nil {
			return false, err
		}
		d := s.ownedDocumentLocked(conn)
		if d == nil {
			return false, ErrUnknownParticipant
		}
		available := map[string]int{}
		for _, k := range d.AssignedKeywords {
			available[k]++
		}
		for _, k := range keywords {
			if available[k] == 0 {
				return false, fmt.Errorf("%w: %q was not assigned", ErrInvalidPayload, k)
			}
			available[k]--
		}
		d.ChosenKeywords = keywords
		s.ready[conn] = true
		return true, nil
	})
}

// SubmitScript writes the caller's section of the document assigned to them
// for the current writing stage.
func (s *Session) SubmitScript(conn string, payload ScriptPayload) error {
	return s.update(func() (bool, error) {
		if !s.phase.IsWriting() {
			return false, ErrInvalidPhase
		}
		idx := s.indexLocked(conn)
		if idx < 0 {
			return false, ErrUnknownParticipant
		}
		if s.ready[conn] {
			return false, ErrAlreadySubmitted
		}
		di, _ := AssignedDocument(idx, len(s.participants), s.phase)
		if di >= len(s.documents) {
			return false, ErrInvalidPhase
		}
		d := s.documents[di]
		switch s.phase {
		case PhaseWrite1:
			d.Procedures = payload.Text
			d.SectionAuthors[0] = conn
		case PhaseWrite2:
			d.EarlyDescription = payload.Text
			d.SectionAuthors[1] = conn
		case PhaseWrite3:
			d.LateDescription = payload.Text
			d.SectionAuthors[2] = conn
		case PhaseWrite4:
			d.Title, d.Conclusion = finalSection(payload)
		}
		s.ready[conn] = true
		return true, nil
	})
}

// CancelSubmission clears the caller's ready flag so they can resubmit.
func (s *Session) CancelSubmission(conn string) {
	_ = s.update(func() (bool, error) {
		if !s.ready[conn] {
			return false, nil
		}
		delete(s.ready, conn)
		return true, nil
	})
}

// SubmitVote adds one best-document vote and records compliance checks keyed
// by voter, so a repeated check overwrites the previous one.
func (s *Session) SubmitVote(conn string, ballot Ballot) error {
	return s.update(func() (bool, error) {
		if err := s.readyCheckLocked(conn, PhaseVote); err != nil {
			return false, err
		}
		if ballot.BestDocumentID != "" && s.documentLocked(ballot.BestDocumentID) == nil {
			return false, fmt.Errorf("%w: unknown document %s", ErrInvalidPayload, ballot.BestDocumentID)
		}
		for id := range ballot.Compliance {
			if s.documentLocked(id) == nil {
				return false, fmt.Errorf("%w: unknown document %s", ErrInvalidPayload, id)
			}
		}
		if ballot.BestDocumentID != "" {
			s.votes.Best[ballot.BestDocumentID]++
		}
		for id, ok := range ballot.Compliance {
			checks := s.votes.Compliance[id]
			if checks == nil {
				checks = map[string]bool{}
				s.votes.Compliance[id] = checks
			}
			checks[conn] = ok
		}
		s.ready[conn] = true
		return true, nil
	})
}

// Notify attaches a best-effort notice to the room state.
func (s *Session) Notify(msg string) {
	_ = s.update(func() (bool, error) {
		s.notice = msg
		return true, nil
	})
}

// Close cancels the timer. A closed session publishes nothing further.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cancelTimerLocked()
}

func (s *Session) startLocked() (bool, error) {
	if s.phase != PhaseLobby {
		return false, ErrInvalidPhase
	}
	if n := len(s.participants); n < MinPlayers || n > MaxPlayers {
		return false, fmt.Errorf("%w: need %d to %d participants, have %d", ErrInvalidPhase, MinPlayers, MaxPlayers, n)
	}
	s.resetGameLocked()
	s.enterPhaseLocked(PhaseSuggestion)
	return true, nil
}

func (s *Session) resetGameLocked() {
	s.game++
	for _, p := range s.participants {
		p.Score = 0
	}
	s.suggestions = map[string][]string{}
	s.documents = nil
	s.votes = newVotes()
	s.cursor = 0
	s.notice = ""
}

func (s *Session) enterPhaseLocked(p Phase) {
	s.phase = p
	s.ready = map[string]bool{}
	if p == PhasePresent {
		s.cursor = 0
	}
	if secs, ok := phaseDurations[p]; ok {
		s.startTimerLocked(secs)
	} else {
		s.cancelTimerLocked()
		s.timer.Stop()
	}
	log.Info().Str("room", s.ID).Str("phase", string(p)).Msg("phase entered")
}

// distributeLocked deals the shuffled keyword pool and draws one constraint
// set per participant, creating the documents in roster order.
func (s *Session) distributeLocked() {
	n := len(s.participants)
	batches := make([][]string, 0, n)
	for _, p := range s.participants {
		batches = append(batches, s.suggestions[p.ConnID])
	}
	chunks := distributeKeywords(s.rng, batches, n)
	s.documents = make([]*Document, 0, n)
	for i, p := range s.participants {
		rs := pickRuleset(s.rng, s.deps.Rulesets, p.Tier)
		s.documents = append(s.documents, &Document{
			ID:               s.deps.NewID(),
			OwnerConnID:      p.ConnID,
			AssignedKeywords: chunks[i],
			Constraints:      rs.instantiate(s.rng),
		})
	}
}

// fillChoicesLocked picks the first keywords for owners who never chose.
func (s *Session) fillChoicesLocked() {
	for _, d := range s.documents {
		if len(d.ChosenKeywords) > 0 {
			continue
		}
		n := min(ChoiceCount, len(d.AssignedKeywords))
		d.ChosenKeywords = append([]string(nil), d.AssignedKeywords[:n]...)
	}
}

func (s *Session) scoreLocked() {
	scores := computeScores(s.documents, s.votes)
	for _, p := range s.participants {
		p.Score = scores[p.ConnID]
	}
}

func (s *Session) recordLocked() Record {
	snap := s.snapshotLocked()
	return Record{
		RoomID:     s.ID,
		FinishedAt: time.Now().UTC(),
		Players:    snap.Participants,
		Documents:  snap.Documents,
		Votes:      snap.Votes,
	}
}

// record hands rec to the recorder. A failure notice is only attached while
// the room still shows the game that produced rec.
func (s *Session) record(rec Record, game int) {
	if s.deps.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.RecordTimeout)
	defer cancel()
	if err := s.deps.Recorder.RecordGame(ctx, rec); err != nil {
		log.Error().Err(err).Str("room", s.ID).Msg("failed to record game")
		_ = s.update(func() (bool, error) {
			if s.game != game || s.phase != PhaseResult {
				return false, nil
			}
			s.notice = "results could not be archived"
			return true, nil
		})
		return
	}
	log.Info().Str("room", s.ID).Int("documents", len(rec.Documents)).Msg("recorded game")
}

func (s *Session) lookupTier(userID string) Tier {
	if s.deps.Tiers == nil {
		return TierC
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.LookupTimeout)
	defer cancel()
	t, err := s.deps.Tiers.DifficultyTier(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("difficulty lookup failed, using C")
		return TierC
	}
	if !t.Valid() {
		return TierC
	}
	return t
}

// migrateLocked rewrites every reference to old so it points at conn.
func (s *Session) migrateLocked(old, conn string) {
	if old == conn {
		return
	}
	for _, p := range s.participants {
		if p.ConnID == old {
			p.ConnID = conn
		}
	}
	for _, d := range s.documents {
		if d.OwnerConnID == old {
			d.OwnerConnID = conn
		}
		for i, a := range d.SectionAuthors {
			if a == old {
				d.SectionAuthors[i] = conn
			}
		}
	}
	if s.ready[old] {
		delete(s.ready, old)
		s.ready[conn] = true
	}
	if kw, ok := s.suggestions[old]; ok {
		delete(s.suggestions, old)
		s.suggestions[conn] = kw
	}
	for _, checks := range s.votes.Compliance {
		if v, ok := checks[old]; ok {
			delete(checks, old)
			checks[conn] = v
		}
	}
}

func (s *Session) requireHostLocked(conn string) error {
	p := s.byConnLocked(conn)
	if p == nil {
		return ErrUnknownParticipant
	}
	if !p.IsHost {
		return ErrNotHost
	}
	return nil
}

// passHostLocked hands the host role from p to the first participant who
// has not left.
func (s *Session) passHostLocked(p *Participant) {
	for _, q := range s.participants {
		if q != p && !q.left {
			p.IsHost = false
			q.IsHost = true
			return
		}
	}
}

// dropLeftLocked removes participants who left during the game once the
// room is back in the lobby.
func (s *Session) dropLeftLocked() {
	kept := s.participants[:0]
	host := false
	for _, p := range s.participants {
		if p.left {
			continue
		}
		host = host || p.IsHost
		kept = append(kept, p)
	}
	s.participants = kept
	if !host && len(kept) > 0 {
		kept[0].IsHost = true
	}
}

func (s *Session) allLeftLocked() bool {
	for _, p := range s.participants {
		if !p.left {
			return false
		}
	}
	return true
}

func (s *Session) readyCheckLocked(conn string, phase Phase) error {
	if s.phase != phase {
		return ErrInvalidPhase
	}
	if s.byConnLocked(conn) == nil {
		return ErrUnknownParticipant
	}
	if s.ready[conn] {
		return ErrAlreadySubmitted
	}
	return nil
}

func (s *Session) indexLocked(conn string) int {
	for i, p := range s.participants {
		if p.ConnID == conn {
			return i
		}
	}
	return -1
}

func (s *Session) byConnLocked(conn string) *Participant {
	if i := s.indexLocked(conn); i >= 0 {
		return s.participants[i]
	}
	return nil
}

func (s *Session) byUserLocked(userID string) *Participant {
	for _, p := range s.participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (s *Session) ownedDocumentLocked(conn string) *Document {
	for _, d := range s.documents {
		if d.OwnerConnID == conn {
			return d
		}
	}
	return nil
}

func (s *Session) documentLocked(id string) *Document {
	for _, d := range s.documents {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		RoomID:             s.ID,
		Phase:              s.phase,
		Participants:       make([]Participant, 0, len(s.participants)),
		Documents:          make([]Document, 0, len(s.documents)),
		Timer:              s.timer,
		Ready:              make([]string, 0, len(s.ready)),
		Votes:              newVotes(),
		PresentationCursor: s.cursor,
		Notice:             s.notice,
	}
	for _, p := range s.participants {
		snap.Participants = append(snap.Participants, *p)
	}
	for _, d := range s.documents {
		c := *d
		c.AssignedKeywords = append([]string(nil), d.AssignedKeywords...)
		c.ChosenKeywords = append([]string(nil), d.ChosenKeywords...)
		c.Constraints.Public = append([]string(nil), d.Constraints.Public...)
		snap.Documents = append(snap.Documents, c)
	}
	for conn := range s.ready {
		snap.Ready = append(snap.Ready, conn)
	}
	sort.Strings(snap.Ready)
	for id, n := range s.votes.Best {
		snap.Votes.Best[id] = n
	}
	for id, checks := range s.votes.Compliance {
		c := make(map[string]bool, len(checks))
		for voter, ok := range checks {
			c[voter] = ok
		}
		snap.Votes.Compliance[id] = c
	}
	for _, kw := range s.suggestions {
		snap.KeywordPoolSize += len(kw)
	}
	return snap
}

func (s *Session) summaryLocked() RoomSummary {
	sum := RoomSummary{
		RoomID:           s.ID,
		ParticipantCount: len(s.participants),
		Phase:            s.phase,
		ParticipantNames: make([]string, 0, len(s.participants)),
	}
	for _, p := range s.participants {
		if p.IsHost {
			sum.HostName = p.Name
		}
		sum.ParticipantNames = append(sum.ParticipantNames, p.Name)
	}
	return sum
}

func sameSummary(a, b RoomSummary) bool {
	if a.RoomID != b.RoomID || a.HostName != b.HostName || a.ParticipantCount != b.ParticipantCount || a.Phase != b.Phase {
		return false
	}
	if len(a.ParticipantNames) != len(b.ParticipantNames) {
		return false
	}
	for i := range a.ParticipantNames {
		if a.ParticipantNames[i] != b.ParticipantNames[i] {
			return false
		}
	}
	return true
}

// finalSection extracts title and conclusion. Without either structured
// field the whole text becomes the conclusion and the title stays empty.
func finalSection(p ScriptPayload) (title, conclusion string) {
	if strings.TrimSpace(p.Title) != "" || strings.TrimSpace(p.Conclusion) != "" {
		return strings.TrimSpace(p.Title), p.Conclusion
	}
	return "", p.Text
}

func hasEmpty(xs []string) bool {
	for _, x := range xs {
		if x == "" {
			return true
		}
	}
	return false
}

func (s *Session) startTimerLocked(seconds int) {
	s.cancelTimerLocked()
	s.timer.Start(seconds)
	gen := s.timerGen
	ch, stop := s.deps.Tickers.Create(time.Second)
	done := make(chan struct{})
	s.stopTimer = func() {
		stop()
		close(done)
	}
	go s.runTimer(gen, ch, done)
}

// cancelTimerLocked stops the running ticker, if any, and invalidates ticks
// already in flight.
func (s *Session) cancelTimerLocked() {
	s.timerGen++
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
}

func (s *Session) runTimer(gen int, ticks <-chan time.Time, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case _, ok := <-ticks:
			if !ok || !s.tick(gen) {
				return
			}
		}
	}
}

func (s *Session) tick(gen int) bool {
	alive := true
	_ = s.update(func() (bool, error) {
		if gen != s.timerGen || s.closed {
			alive = false
			return false, nil
		}
		changed := s.timer.Tick()
		if !s.timer.Active {
			s.cancelTimerLocked()
			alive = false
		}
		return changed, nil
	})
	return alive
}
