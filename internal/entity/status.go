package entity

import "fmt"

// Status is the lifecycle state of an entity. Tasks and containers
// (Sprints/Epics) use distinct vocabularies that share the terminal
// "complete" state.
type Status string

const (
	// Task statuses.
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"

	// Sprint/Epic statuses.
	StatusPlanned Status = "planned"
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"

	// Shared terminal state.
	StatusComplete Status = "complete"

	// StatusTombstone marks a soft-deleted entity. Deletion is always a
	// tombstone push, never a remote DELETE.
	StatusTombstone Status = "tombstone"
)

// taskStatuses and containerStatuses are the closed vocabularies.
var (
	taskStatuses = map[Status]bool{
		StatusNotStarted: true,
		StatusInProgress: true,
		StatusBlocked:    true,
		StatusComplete:   true,
		StatusTombstone:  true,
	}
	containerStatuses = map[Status]bool{
		StatusPlanned:   true,
		StatusActive:    true,
		StatusPaused:    true,
		StatusComplete:  true,
		StatusTombstone: true,
	}
)

// ValidateStatus checks that the status belongs to the kind's vocabulary.
func ValidateStatus(kind Kind, s Status) error {
	var ok bool
	if kind == KindTask {
		ok = taskStatuses[s]
	} else {
		ok = containerStatuses[s]
	}
	if !ok {
		return fmt.Errorf("status %q is not valid for %s", s, kind)
	}
	return nil
}

// InitialStatus returns the default status for a freshly parsed entity.
func InitialStatus(kind Kind) Status {
	if kind == KindTask {
		return StatusNotStarted
	}
	return StatusPlanned
}

// IsTerminal reports whether the status is terminal in this scope.
// No reopen transition is defined from complete.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusTombstone
}

// Symbol is the single-character status marker used in markdown
// checkboxes. Parsing and serialization happen only here; no other
// package branches on raw marker strings.
type Symbol string

const (
	SymbolOpen     Symbol = " "
	SymbolProgress Symbol = "@"
	SymbolDone     Symbol = "x"
	SymbolPaused   Symbol = "Z"
)

// ParseSymbol maps a status symbol to the status for the given kind.
// Unknown symbols are an error so malformed markers surface as parse
// warnings instead of being guessed at.
func ParseSymbol(kind Kind, sym string) (Status, error) {
	switch Symbol(sym) {
	case SymbolOpen:
		return InitialStatus(kind), nil
	case SymbolProgress:
		if kind == KindTask {
			return StatusInProgress, nil
		}
		return StatusActive, nil
	case SymbolDone:
		return StatusComplete, nil
	case SymbolPaused:
		if kind == KindTask {
			return StatusNotStarted, nil
		}
		return StatusPaused, nil
	default:
		return "", fmt.Errorf("unknown status symbol %q", sym)
	}
}

// SymbolFor serializes a status back to its markdown marker. Blocked has
// no marker of its own: blocked state is graph-authoritative, so blocked
// tasks render as in-progress in markdown.
func SymbolFor(s Status) Symbol {
	switch s {
	case StatusComplete, StatusTombstone:
		return SymbolDone
	case StatusInProgress, StatusActive, StatusBlocked:
		return SymbolProgress
	case StatusPaused:
		return SymbolPaused
	default:
		return SymbolOpen
	}
}
