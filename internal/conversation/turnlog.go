package conversation

import (
	"errors"
	"fmt"
)

// ErrTurnOrder is returned when an append would break the strictly
// increasing, gap-free turn numbering.
var ErrTurnOrder = errors.New("conversation: turn number out of order")

// TurnLog is the append-only ordered record of a session's turns. Turns are
// appended only once their outcome is final and are immutable afterwards.
//
// The log is owned by a single session actor and needs no locking of its
// own; [TurnLog.Turns] returns a copy safe to hand across goroutines.
type TurnLog struct {
	turns []Turn
}

// Len returns the number of appended turns.
func (l *TurnLog) Len() int {
	return len(l.turns)
}

// Next returns the turn number the next append must carry.
func (l *TurnLog) Next() int {
	return len(l.turns) + 1
}

// Append adds a finalized turn. The turn's number must be exactly Next().
func (l *TurnLog) Append(t Turn) error {
	if t.TurnNumber != l.Next() {
		return fmt.Errorf("%w: got %d, want %d", ErrTurnOrder, t.TurnNumber, l.Next())
	}
	l.turns = append(l.turns, t)
	return nil
}

// Turns returns a copy of the log in append order.
func (l *TurnLog) Turns() []Turn {
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Last returns the most recent turn and whether the log is non-empty.
func (l *TurnLog) Last() (Turn, bool) {
	if len(l.turns) == 0 {
		return Turn{}, false
	}
	return l.turns[len(l.turns)-1], true
}
