// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying the span of a call.
//
// [NewCheckerFactory] assigns one to each [*Checker] so that all the
// notifications of a call share the same spanID log attribute. Callers
// may also attach it to the [SLogger] given to [*Client].
//
// This function panics if the system random number generator fails.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
