// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// DefaultSLogger discards everything without panicking.
func TestDefaultSLogger(t *testing.T) {
	logger := DefaultSLogger()
	assert.NotNil(t, logger)

	var _ SLogger = discardSLogger{}
	logger.Debug("requestBodyStart", "automaton", "request")
	logger.Info("callStart", "automaton", "call", "spanID", 42)
}
