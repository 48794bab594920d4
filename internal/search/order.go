package search

import (
	"fmt"
	"strings"
)

// Order is the ordering of search results by scheduled time.
type Order uint8

const (
	Asc Order = iota
	Desc
	Rand
)

var orderNames = map[Order]string{
	Asc:  "Asc",
	Desc: "Desc",
	Rand: "Rand",
}

var orderAliases = map[string]Order{
	"asc":        Asc,
	"ascending":  Asc,
	"desc":       Desc,
	"descending": Desc,
	"rand":       Rand,
	"random":     Rand,
}

// ParseOrder parses an order name or one of its long aliases, ignoring case.
func ParseOrder(s string) (Order, error) {
	o, ok := orderAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown search order %q", s)
	}
	return o, nil
}

func (o Order) String() string {
	if name, ok := orderNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Order(%d)", uint8(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Order) MarshalText() ([]byte, error) {
	name, ok := orderNames[o]
	if !ok {
		return nil, fmt.Errorf("cannot marshal invalid search order %d", uint8(o))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Order) UnmarshalText(text []byte) error {
	parsed, err := ParseOrder(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
