// Package risk defines the coarse ordinal used to rank events, checks and
// payment operations.
package risk

import (
	"fmt"
	"strings"
)

// Level is a coarse risk ordinal. The zero value is Low.
type Level int

const (
	Low Level = iota
	Medium
	High
	Critical
)

var levelNames = [...]string{
	Low:      "low",
	Medium:   "medium",
	High:     "high",
	Critical: "critical",
}

// Levels lists every level from lowest to highest.
func Levels() []Level { return []Level{Low, Medium, High, Critical} }

func (l Level) String() string {
	if l < Low || l > Critical {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Valid reports whether l is one of the declared levels.
func (l Level) Valid() bool { return l >= Low && l <= Critical }

// Parse maps a level name back to its Level.
func Parse(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range levelNames {
		if name == s {
			return Level(i), nil
		}
	}
	return Low, fmt.Errorf("unknown risk level %q", s)
}

// Max returns the higher of a and b.
func Max(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid risk level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
