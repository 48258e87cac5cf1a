package sos

import (
	apperrors "ResQFlow/pkg/errors"
)

// Status of an SOS request. Rescued and Cancelled are terminal.
type Status string

const (
	Pending   Status = "Pending"
	Assigned  Status = "Assigned"
	EnRoute   Status = "EnRoute"
	Rescued   Status = "Rescued"
	Cancelled Status = "Cancelled"
)

// Event drives a Status transition.
type Event string

const (
	EventAssign   Event = "assign"
	EventDispatch Event = "dispatch"
	EventRescue   Event = "rescue"
	EventCancel   Event = "cancel"
)

var transitions = map[Status]map[Event]Status{
	Pending:  {EventAssign: Assigned, EventCancel: Cancelled},
	Assigned: {EventDispatch: EnRoute, EventCancel: Cancelled},
	EnRoute:  {EventRescue: Rescued},
}

var eventTarget = map[Event]Status{
	EventAssign:   Assigned,
	EventDispatch: EnRoute,
	EventRescue:   Rescued,
	EventCancel:   Cancelled,
}

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case Pending, Assigned, EnRoute, Rescued, Cancelled:
		return st, true
	}
	return "", false
}

func (s Status) Terminal() bool {
	return s == Rescued || s == Cancelled
}

// HasTeam reports whether a request in s must carry an assigned team.
func (s Status) HasTeam() bool {
	return s == Assigned || s == EnRoute || s == Rescued
}

// Next returns the status reached from s by e.
func (s Status) Next(e Event) (Status, error) {
	if s.Terminal() {
		return "", apperrors.TerminalState("sos request", string(s))
	}
	if next, ok := transitions[s][e]; ok {
		return next, nil
	}
	return "", apperrors.InvalidTransition("sos request", string(s), string(eventTarget[e]))
}

// EventFor maps a requested target status to the event that reaches it.
func EventFor(target Status) (Event, bool) {
	for e, st := range eventTarget {
		if st == target {
			return e, true
		}
	}
	return "", false
}

// TeamStatus of a rescue team.
type TeamStatus string

const (
	TeamAvailable   TeamStatus = "Available"
	TeamDeployed    TeamStatus = "Deployed"
	TeamOnMission   TeamStatus = "OnMission"
	TeamUnavailable TeamStatus = "Unavailable"
)

func ParseTeamStatus(s string) (TeamStatus, bool) {
	switch st := TeamStatus(s); st {
	case TeamAvailable, TeamDeployed, TeamOnMission, TeamUnavailable:
		return st, true
	}
	return "", false
}
