package models

import (
	"fmt"
	"slices"
)

// Status is the booking lifecycle state.
type Status string

const (
	StatusBooked    Status = "booked"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusBooked:    {StatusActive: true, StatusCancelled: true},
	StatusActive:    {StatusCompleted: true, StatusCancelled: true},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether from -> to is a forward edge of the lifecycle.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusBooked, StatusActive, StatusCompleted, StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown booking status %q", raw)
	}
}

// NonTerminalStatuses are the statuses in which a booking holds its room.
// Storage filters live bookings with this list.
var NonTerminalStatuses = []Status{StatusBooked, StatusActive}

// HoldsRoom is true while the booking occupies its interval.
func (s Status) HoldsRoom() bool {
	return slices.Contains(NonTerminalStatuses, s)
}

func (s Status) String() string { return string(s) }

// Action is a caller-requested transition.
type Action string

const (
	ActionCheckin  Action = "checkin"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

func ParseAction(raw string) (Action, error) {
	a := Action(raw)
	switch a {
	case ActionCheckin, ActionComplete, ActionCancel:
		return a, nil
	default:
		return "", fmt.Errorf("unknown booking action %q", raw)
	}
}

// Target returns the status the action moves a booking into.
func (a Action) Target() Status {
	switch a {
	case ActionCheckin:
		return StatusActive
	case ActionComplete:
		return StatusCompleted
	case ActionCancel:
		return StatusCancelled
	default:
		return ""
	}
}
