package model

import "fmt"

// Presence is the two-state attendance machine: a scan always moves a
// participant to the other state.
type Presence string

const (
	Outside Presence = "OUTSIDE"
	Inside  Presence = "INSIDE"
)

// Transition is the result of applying one scan to a presence state.
type Transition struct {
	From      Presence
	To        Presence
	Direction Direction
}

// Next returns the transition a scan causes from p.
//
//	OUTSIDE --scan--> INSIDE   (ENTRY)
//	INSIDE  --scan--> OUTSIDE  (EXIT)
func (p Presence) Next() (Transition, error) {
	switch p {
	case Outside, "":
		return Transition{From: Outside, To: Inside, Direction: DirectionEntry}, nil
	case Inside:
		return Transition{From: Inside, To: Outside, Direction: DirectionExit}, nil
	default:
		return Transition{}, fmt.Errorf("unknown presence state %q", p)
	}
}

// Valid reports whether p is a known state.
func (p Presence) Valid() bool { return p == Inside || p == Outside }
