// Package machine validates and applies entity status transitions.
//
// The machine is side-effect-free: it decides whether a transition is
// legal and what the resulting state looks like, and it computes cascade
// proposals. Committing a transition to the remote is the sync engine's
// job; local state is speculative until the remote acknowledges.
package machine

import (
	"errors"
	"fmt"

	"github.com/tetherdev/tether/internal/entity"
)

// ErrInvalidTransition is wrapped by every transition rejection so
// callers can classify with errors.Is.
var ErrInvalidTransition = errors.New("invalid transition")

// InvalidTransitionError reports a rejected transition with its context.
type InvalidTransitionError struct {
	Kind entity.Kind
	From entity.Status
	To   entity.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.Kind, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// transitions is the closed transition table, keyed by kind then source
// status. Complete is terminal in this scope: no reopen transition
// exists, so uncompleting after a cascade is rejected rather than
// guessed at.
var transitions = map[entity.Kind]map[entity.Status][]entity.Status{
	entity.KindTask: {
		entity.StatusNotStarted: {entity.StatusInProgress, entity.StatusComplete, entity.StatusTombstone},
		entity.StatusInProgress: {entity.StatusBlocked, entity.StatusNotStarted, entity.StatusComplete, entity.StatusTombstone},
		entity.StatusBlocked:    {entity.StatusInProgress, entity.StatusTombstone},
	},
	entity.KindSprint: {
		entity.StatusPlanned: {entity.StatusActive, entity.StatusComplete, entity.StatusTombstone},
		entity.StatusActive:  {entity.StatusPaused, entity.StatusComplete, entity.StatusTombstone},
		entity.StatusPaused:  {entity.StatusActive, entity.StatusTombstone},
	},
	entity.KindEpic: {
		entity.StatusPlanned: {entity.StatusActive, entity.StatusComplete, entity.StatusTombstone},
		entity.StatusActive:  {entity.StatusPaused, entity.StatusComplete, entity.StatusTombstone},
		entity.StatusPaused:  {entity.StatusActive, entity.StatusTombstone},
	},
}

// Validate rejects an illegal transition before any network call.
// Entering blocked requires a non-empty reason.
func Validate(kind entity.Kind, from, to entity.Status, reason string) error {
	if err := entity.ValidateStatus(kind, from); err != nil {
		return err
	}
	if err := entity.ValidateStatus(kind, to); err != nil {
		return err
	}
	allowed := false
	for _, t := range transitions[kind][from] {
		if t == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return &InvalidTransitionError{Kind: kind, From: from, To: to}
	}
	if to == entity.StatusBlocked && reason == "" {
		return fmt.Errorf("%w: blocking %s requires a reason", ErrInvalidTransition, kind)
	}
	return nil
}

// Apply validates the transition and returns the resulting state.
// Leaving blocked clears the reason as part of the transition; the
// reason is never mutated independently of a transition.
func Apply(kind entity.Kind, cur entity.State, to entity.Status, reason string) (entity.State, error) {
	if err := Validate(kind, cur.Status, to, reason); err != nil {
		return entity.State{}, err
	}
	next := cur
	next.Status = to
	if to == entity.StatusBlocked {
		next.BlockedReason = reason
	} else {
		next.BlockedReason = ""
	}
	return next, nil
}

// CommandFor maps a user-facing verb to the target status for a kind.
func CommandFor(kind entity.Kind, verb string) (entity.Status, error) {
	type key struct {
		kind entity.Kind
		verb string
	}
	targets := map[key]entity.Status{
		{entity.KindTask, "start"}:      entity.StatusInProgress,
		{entity.KindTask, "pause"}:      entity.StatusNotStarted,
		{entity.KindTask, "block"}:      entity.StatusBlocked,
		{entity.KindTask, "unblock"}:    entity.StatusInProgress,
		{entity.KindTask, "complete"}:   entity.StatusComplete,
		{entity.KindTask, "delete"}:     entity.StatusTombstone,
		{entity.KindSprint, "start"}:    entity.StatusActive,
		{entity.KindSprint, "pause"}:    entity.StatusPaused,
		{entity.KindSprint, "resume"}:   entity.StatusActive,
		{entity.KindSprint, "complete"}: entity.StatusComplete,
		{entity.KindSprint, "delete"}:   entity.StatusTombstone,
		{entity.KindEpic, "start"}:      entity.StatusActive,
		{entity.KindEpic, "pause"}:      entity.StatusPaused,
		{entity.KindEpic, "resume"}:     entity.StatusActive,
		{entity.KindEpic, "complete"}:   entity.StatusComplete,
		{entity.KindEpic, "delete"}:     entity.StatusTombstone,
	}
	target, ok := targets[key{kind, verb}]
	if !ok {
		return "", fmt.Errorf("unknown command %q for %s", verb, kind)
	}
	return target, nil
}
