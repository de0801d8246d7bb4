// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSpanID(t *testing.T) {
	spanID := NewSpanID()

	parsed, err := uuid.Parse(spanID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

// Each checker created by the factory gets its own span ID.
func TestNewSpanIDPerChecker(t *testing.T) {
	factory := NewCheckerFactory(NewConfig(), DefaultSLogger())
	seen := make(map[string]struct{})

	for range 32 {
		checker := factory.New(nil).(*Checker)
		_, duplicate := seen[checker.SpanID]
		require.False(t, duplicate, "duplicate span ID generated: %s", checker.SpanID)
		seen[checker.SpanID] = struct{}{}
	}
}
