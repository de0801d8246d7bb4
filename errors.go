// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is the error wrapped by every [*StateError].
var ErrInvalidTransition = errors.New("invalid transition")

// ErrTooManyRedirects indicates that [*Client] stopped following redirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// Automaton names used by [*StateError].
const (
	AutomatonCall     = "call"
	AutomatonRequest  = "request"
	AutomatonResponse = "response"
)

// StateError is returned when a notification arrives while an
// automaton is not in one of the allowed predecessor states.
type StateError struct {
	// Automaton is one of [AutomatonCall], [AutomatonRequest], [AutomatonResponse].
	Automaton string

	// Event is the notification name (e.g., "requestBodyStart").
	Event string

	// Actual is the state the automaton was in.
	Actual fmt.Stringer

	// Allowed contains the states that would have been accepted.
	Allowed []fmt.Stringer
}

var _ error = &StateError{}

// Error implements error.
func (e *StateError) Error() string {
	return fmt.Sprintf("callcheck: %s: expected %s state %s to be in %v",
		e.Event, e.Automaton, e.Actual, e.Allowed)
}

// Unwrap returns [ErrInvalidTransition].
func (e *StateError) Unwrap() error {
	return ErrInvalidTransition
}

// requireState returns a [*StateError] unless actual belongs to allowed.
func requireState[S automatonState](automaton, event string, actual S, allowed stateSet[S]) error {
	if allowed.contains(actual) {
		return nil
	}
	members := []fmt.Stringer{}
	for _, s := range allowed.states() {
		members = append(members, s)
	}
	return &StateError{
		Automaton: automaton,
		Event:     event,
		Actual:    actual,
		Allowed:   members,
	}
}
