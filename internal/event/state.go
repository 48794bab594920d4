package event

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// State is the lifecycle state of a scheduled event. The zero value is not a
// valid state.
type State uint8

const (
	Scheduled State = iota + 1
	Disabled
	Completed
)

// stateNames is the single mapping between states and their literal form on
// the wire, in memory and in the event_state database enum.
var stateNames = map[State]string{
	Scheduled: "SCHEDULED",
	Disabled:  "DISABLED",
	Completed: "COMPLETED",
}

// States lists every valid state in declaration order.
func States() []State {
	return []State{Scheduled, Disabled, Completed}
}

// ParseState parses the literal form of a state, ignoring case.
func ParseState(s string) (State, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for st, name := range stateNames {
		if name == want {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown event state %q", s)
}

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	name, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("cannot marshal invalid event state %d", uint8(s))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	st, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Value implements driver.Valuer.
func (s State) Value() (driver.Value, error) {
	name, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("cannot store invalid event state %d", uint8(s))
	}
	return name, nil
}

// Scan implements sql.Scanner.
func (s *State) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into event state", src)
	}
}
