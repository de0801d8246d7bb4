// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallStateString(t *testing.T) {
	tests := []struct {
		state CallState
		want  string
	}{
		{CallNew, "NEW"},
		{CallStarted, "STARTED"},
		{CallDNSResolving, "DNS_RESOLVING"},
		{CallDNSResolved, "DNS_RESOLVED"},
		{CallConnecting, "CONNECTING"},
		{CallSecureConnecting, "SECURE_CONNECTING"},
		{CallSecureConnected, "SECURE_CONNECTED"},
		{CallConnected, "CONNECTED"},
		{CallConnectFailed, "CONNECT_FAILED"},
		{CallConnectionHeld, "CONNECTION_HELD"},
		{CallConnectionReleased, "CONNECTION_RELEASED"},
		{CallEnded, "ENDED"},
		{CallFailed, "FAILED"},
		{CallState(42), "CallState(42)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestMessageStateString(t *testing.T) {
	tests := []struct {
		state MessageState
		want  string
	}{
		{MessageReady, "READY"},
		{MessageHeadersTransmitting, "HEADERS_TRANSMITTING"},
		{MessageHeadersTransmitted, "HEADERS_TRANSMITTED"},
		{MessageBodyTransmitting, "BODY_TRANSMITTING"},
		{MessageBodyTransmitted, "BODY_TRANSMITTED"},
		{MessageDone, "DONE"},
		{MessageState(7), "MessageState(7)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

// Only ENDED and FAILED are terminal.
func TestCallStateTerminal(t *testing.T) {
	for s := CallNew; s < callStateCount; s++ {
		want := s == CallEnded || s == CallFailed
		assert.Equal(t, want, s.Terminal(), s.String())
	}
}

// The zero values are the initial states.
func TestStateZeroValues(t *testing.T) {
	var call CallState
	var msg MessageState
	assert.Equal(t, CallNew, call)
	assert.Equal(t, MessageReady, msg)
}

func TestStateSet(t *testing.T) {
	set := newStateSet(CallConnectionReleased, CallStarted, CallStarted)

	assert.True(t, set.contains(CallStarted))
	assert.True(t, set.contains(CallConnectionReleased))
	assert.False(t, set.contains(CallNew))
	assert.False(t, set.contains(CallState(200)))
	assert.Equal(t, []CallState{CallStarted, CallConnectionReleased}, set.states())

	var empty stateSet[MessageState]
	assert.Empty(t, empty.states())
	assert.False(t, empty.contains(MessageReady))
}
