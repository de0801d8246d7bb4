// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import "fmt"

// CallState is the coarse phase of a single call.
//
// The zero value is [CallNew].
type CallState uint8

const (
	CallNew CallState = iota
	CallStarted
	CallDNSResolving
	CallDNSResolved
	CallConnecting
	CallSecureConnecting
	CallSecureConnected
	CallConnected
	CallConnectFailed
	CallConnectionHeld
	CallConnectionReleased
	CallEnded
	CallFailed

	// callStateCount is the number of valid call states.
	callStateCount
)

var callStateNames = [callStateCount]string{
	CallNew:                "NEW",
	CallStarted:            "STARTED",
	CallDNSResolving:       "DNS_RESOLVING",
	CallDNSResolved:        "DNS_RESOLVED",
	CallConnecting:         "CONNECTING",
	CallSecureConnecting:   "SECURE_CONNECTING",
	CallSecureConnected:    "SECURE_CONNECTED",
	CallConnected:          "CONNECTED",
	CallConnectFailed:      "CONNECT_FAILED",
	CallConnectionHeld:     "CONNECTION_HELD",
	CallConnectionReleased: "CONNECTION_RELEASED",
	CallEnded:              "ENDED",
	CallFailed:             "FAILED",
}

// String implements [fmt.Stringer].
func (s CallState) String() string {
	if s < callStateCount {
		return callStateNames[s]
	}
	return fmt.Sprintf("CallState(%d)", uint8(s))
}

// Terminal returns true for [CallEnded] and [CallFailed], which
// have no outgoing transitions.
func (s CallState) Terminal() bool {
	return s == CallEnded || s == CallFailed
}

// MessageState is the transmission progress of a request or response.
//
// The zero value is [MessageReady].
type MessageState uint8

const (
	MessageReady MessageState = iota
	MessageHeadersTransmitting
	MessageHeadersTransmitted
	MessageBodyTransmitting
	MessageBodyTransmitted

	// MessageDone is reserved: no transition assigns it.
	MessageDone

	// messageStateCount is the number of valid message states.
	messageStateCount
)

var messageStateNames = [messageStateCount]string{
	MessageReady:               "READY",
	MessageHeadersTransmitting: "HEADERS_TRANSMITTING",
	MessageHeadersTransmitted:  "HEADERS_TRANSMITTED",
	MessageBodyTransmitting:    "BODY_TRANSMITTING",
	MessageBodyTransmitted:     "BODY_TRANSMITTED",
	MessageDone:                "DONE",
}

// String implements [fmt.Stringer].
func (s MessageState) String() string {
	if s < messageStateCount {
		return messageStateNames[s]
	}
	return fmt.Sprintf("MessageState(%d)", uint8(s))
}

// The state sets are uint16 bitmasks: adding states beyond the
// mask width must fail to compile.
var (
	_ [stateSetWidth - uint(callStateCount)]struct{}
	_ [stateSetWidth - uint(messageStateCount)]struct{}
)

// stateSetWidth is the number of bits in a [stateSet].
const stateSetWidth = 16

// automatonState is the constraint satisfied by [CallState] and [MessageState].
type automatonState interface {
	~uint8
	fmt.Stringer
}

// stateSet is an immutable set of allowed predecessor states.
type stateSet[S automatonState] uint16

// newStateSet builds a [stateSet] containing the given states.
func newStateSet[S automatonState](states ...S) stateSet[S] {
	var set stateSet[S]
	for _, s := range states {
		if uint(s) < stateSetWidth {
			set |= stateSet[S](1) << uint(s)
		}
	}
	return set
}

// contains returns whether s belongs to the set.
func (set stateSet[S]) contains(s S) bool {
	return uint(s) < stateSetWidth && set&(stateSet[S](1)<<uint(s)) != 0
}

// states returns the members in ascending order.
func (set stateSet[S]) states() []S {
	out := []S{}
	for idx := range stateSetWidth {
		if set&(stateSet[S](1)<<idx) != 0 {
			out = append(out, S(idx))
		}
	}
	return out
}
