package game

import (
	"time"
)

type Phase string

const (
	PhaseLobby      Phase = "LOBBY"
	PhaseSuggestion Phase = "SUGGESTION"
	PhaseChoice     Phase = "CHOICE"
	PhaseWrite1     Phase = "WRITE_1"
	PhaseWrite2     Phase = "WRITE_2"
	PhaseWrite3     Phase = "WRITE_3"
	PhaseWrite4     Phase = "WRITE_4"
	PhasePresent    Phase = "PRESENT"
	PhaseVote       Phase = "VOTE"
	PhaseResult     Phase = "RESULT"
)

// IsWriting reports whether p is one of the four writing stages.
func (p Phase) IsWriting() bool {
	switch p {
	case PhaseWrite1, PhaseWrite2, PhaseWrite3, PhaseWrite4:
		return true
	}
	return false
}

// Tier is a participant's difficulty level. A is the hardest.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

func (t Tier) Valid() bool {
	return t == TierA || t == TierB || t == TierC
}

const (
	MinPlayers       = 3
	MaxPlayers       = 4
	SuggestionCount  = 5
	ChoiceCount      = 3
	PublicFacetCount = 4
)

type Participant struct {
	ConnID    string `json:"connectionId"`
	UserID    string `json:"stableUserId"`
	Name      string `json:"displayName"`
	IsHost    bool   `json:"isHost"`
	Score     int    `json:"score"`
	Connected bool   `json:"isConnected"`
	Tier      Tier   `json:"difficultyTier"`

	// left is set when the participant explicitly leaves a running game.
	left bool
}

type ConstraintSet struct {
	Ruleset string   `json:"ruleset"`
	Public  []string `json:"publicFacets"`
	Hidden  string   `json:"hiddenFacet"`
}

// Document is one participant's case file. Section authors hold connection
// ids for procedures, early description and late description in that order.
type Document struct {
	ID               string        `json:"id"`
	OwnerConnID      string        `json:"ownerConnectionId"`
	AssignedKeywords []string      `json:"assignedKeywords"`
	ChosenKeywords   []string      `json:"chosenKeywords"`
	Constraints      ConstraintSet `json:"constraintSet"`
	Procedures       string        `json:"procedures"`
	EarlyDescription string        `json:"earlyDescription"`
	LateDescription  string        `json:"lateDescription"`
	Conclusion       string        `json:"conclusion"`
	Title            string        `json:"title"`
	SectionAuthors   [3]string     `json:"sectionAuthors"`
}

type Votes struct {
	Best       map[string]int             `json:"bestDocumentVotes"`
	Compliance map[string]map[string]bool `json:"complianceChecks"`
}

func newVotes() Votes {
	return Votes{Best: map[string]int{}, Compliance: map[string]map[string]bool{}}
}

// ScriptPayload is the body of submit_script. Text is used for the first
// three writing stages; Title and Conclusion for the final one. A final
// payload without either takes Text as the conclusion.
type ScriptPayload struct {
	Text       string `json:"text"`
	Title      string `json:"title"`
	Conclusion string `json:"conclusion"`
}

type Ballot struct {
	BestDocumentID string          `json:"bestDocumentId"`
	Compliance     map[string]bool `json:"complianceChecks"`
}

// Snapshot is the full room state sent to every connection on change.
type Snapshot struct {
	RoomID             string        `json:"roomId"`
	Phase              Phase         `json:"phase"`
	Participants       []Participant `json:"participants"`
	Documents          []Document    `json:"documents"`
	Timer              Timer         `json:"timer"`
	Ready              []string      `json:"ready"`
	Votes              Votes         `json:"votes"`
	PresentationCursor int           `json:"presentationCursor"`
	KeywordPoolSize    int           `json:"keywordPoolSize"`
	Notice             string        `json:"notice,omitempty"`
	You                string        `json:"you,omitempty"`
}

// ForViewer returns the snapshot as conn may see it: hidden facets of
// documents owned by someone else are blanked.
func (s Snapshot) ForViewer(conn string) Snapshot {
	s.You = conn
	docs := make([]Document, len(s.Documents))
	for i, d := range s.Documents {
		if d.OwnerConnID != conn {
			d.Constraints.Hidden = ""
		}
		docs[i] = d
	}
	s.Documents = docs
	return s
}

type RoomSummary struct {
	RoomID           string   `json:"roomId"`
	HostName         string   `json:"hostName"`
	ParticipantCount int      `json:"participantCount"`
	Phase            Phase    `json:"phase"`
	ParticipantNames []string `json:"participantNames"`
}

// Record is handed to the recorder when a game reaches RESULT.
type Record struct {
	RoomID     string
	FinishedAt time.Time
	Players    []Participant
	Documents  []Document
	Votes      Votes
}
