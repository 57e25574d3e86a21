package game

import "time"

// Phase durations in seconds.
var phaseDurations = map[Phase]int{
	PhaseSuggestion: 180,
	PhaseChoice:     60,
	PhaseWrite1:     300,
	PhaseWrite2:     300,
	PhaseWrite3:     300,
	PhaseWrite4:     900,
}

// Timer is a whole-second countdown. Reaching zero only flips Blinking, it
// never changes the phase.
type Timer struct {
	Duration  int  `json:"duration"`
	Remaining int  `json:"remaining"`
	Active    bool `json:"isActive"`
	Blinking  bool `json:"isBlinking"`
}

func (t *Timer) Start(seconds int) {
	*t = Timer{Duration: seconds, Remaining: seconds, Active: seconds > 0, Blinking: seconds <= 0}
}

func (t *Timer) Stop() {
	*t = Timer{}
}

// Tick advances the countdown by one second and reports whether anything
// changed.
func (t *Timer) Tick() bool {
	if !t.Active {
		return false
	}
	if t.Remaining > 0 {
		t.Remaining--
	}
	if t.Remaining == 0 {
		t.Active = false
		t.Blinking = true
	}
	return true
}

// TickerFactory creates the 1 Hz source driving a room timer. The returned
// stop func releases it.
type TickerFactory interface {
	Create(d time.Duration) (<-chan time.Time, func())
}

type realTickers struct{}

func (realTickers) Create(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

func NewTickerFactory() TickerFactory {
	return realTickers{}
}
