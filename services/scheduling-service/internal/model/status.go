package model

import "fmt"

// Status is the appointment lifecycle state.
type Status uint8

const (
	StatusScheduled Status = iota + 1
	StatusConfirmed
	StatusInProgress
	StatusCompleted
	StatusCancelled
	StatusNoShow
)

var statusNames = map[Status]string{
	StatusScheduled:  "scheduled",
	StatusConfirmed:  "confirmed",
	StatusInProgress: "in_progress",
	StatusCompleted:  "completed",
	StatusCancelled:  "cancelled",
	StatusNoShow:     "no_show",
}

// transitions lists every legal move. Anything absent is rejected.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	for s, name := range statusNames {
		if name == raw {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown appointment status %q", raw)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid appointment status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// NonTerminalStatuses is the set that blocks a doctor's time.
func NonTerminalStatuses() []Status {
	return []Status{StatusScheduled, StatusConfirmed, StatusInProgress}
}
