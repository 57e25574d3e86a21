package game

// writeOffsets gives the roster rotation used for each writing stage.
var writeOffsets = map[Phase]int{
	PhaseWrite1: 1,
	PhaseWrite2: 2,
	PhaseWrite3: 3,
	PhaseWrite4: 0,
}

// AssignedDocument returns the index of the document that the participant at
// roster index i writes during phase, for a room of n participants. ok is
// false outside the writing stages.
func AssignedDocument(i, n int, phase Phase) (doc int, ok bool) {
	offset, ok := writeOffsets[phase]
	if !ok || n <= 0 {
		return 0, false
	}
	return ((i-offset)%n + n) % n, true
}

// WriterOf is the inverse of AssignedDocument: the roster index writing
// document doc during phase.
func WriterOf(doc, n int, phase Phase) (i int, ok bool) {
	offset, ok := writeOffsets[phase]
	if !ok || n <= 0 {
		return 0, false
	}
	return (doc + offset) % n, true
}

// NextPhase returns the phase that follows p in a room of n participants.
// WRITE_3 only exists with four participants.
func NextPhase(p Phase, n int) Phase {
	switch p {
	case PhaseLobby:
		return PhaseSuggestion
	case PhaseSuggestion:
		return PhaseChoice
	case PhaseChoice:
		return PhaseWrite1
	case PhaseWrite1:
		return PhaseWrite2
	case PhaseWrite2:
		if n == 3 {
			return PhaseWrite4
		}
		return PhaseWrite3
	case PhaseWrite3:
		return PhaseWrite4
	case PhaseWrite4:
		return PhasePresent
	case PhasePresent:
		return PhaseVote
	case PhaseVote:
		return PhaseResult
	}
	return PhaseLobby
}
