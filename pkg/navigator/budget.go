package navigator

import "fmt"

// Mode selects how a Budget drives the automatic traversal.
type Mode int

const (
	// ModeTarget aims at a landmark count as close as possible to Target.
	ModeTarget Mode = iota
	// ModeRange climbs from the data scale until the count drops below Max.
	ModeRange
	// ModeTopDown descends from the top scale while the count stays below Max.
	ModeTopDown
)

func (m Mode) String() string {
	switch m {
	case ModeTarget:
		return "target"
	case ModeRange:
		return "range"
	case ModeTopDown:
		return "topdown"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode converts the textual form used in configuration files.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "target":
		return ModeTarget, nil
	case "range":
		return ModeRange, nil
	case "topdown":
		return ModeTopDown, nil
	}
	return ModeTarget, fmt.Errorf("unknown budget mode %q", s)
}

// Budget is the visual budget: how many landmarks the view should show.
type Budget struct {
	Min    int  `yaml:"min"`
	Max    int  `yaml:"max"`
	Target int  `yaml:"target"`
	Mode   Mode `yaml:"-"`
	// Heuristic allows the target traversal to run downward from the top
	// scale and lets the top-down traversal stop inside [Min, Max].
	Heuristic bool `yaml:"heuristic"`
}

// DefaultBudget mirrors the initial values of an interactive session.
func DefaultBudget() Budget {
	return Budget{Min: 1000, Max: 2000, Target: 1500, Mode: ModeTarget, Heuristic: true}
}

// Range returns the width of the [Min, Max] window.
func (b Budget) Range() int { return b.Max - b.Min }

// WithinRange reports whether n lies inside [Min, Max].
func (b Budget) WithinRange(n int) bool { return n >= b.Min && n <= b.Max }

// Direction is the traversal direction of an update.
type Direction int

const (
	Auto Direction = iota
	// Up moves one scale towards the coarsest level.
	Up
	// Down moves one scale towards the data level.
	Down
)

func (d Direction) String() string {
	switch d {
	case Auto:
		return "auto"
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "auto":
		return Auto, nil
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	}
	return Auto, fmt.Errorf("unknown direction %q", s)
}
