// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

// Allowed predecessor states of the call automaton, one set per notification.
var (
	callStartFrom = newStateSet(CallNew)

	dnsStartFrom = newStateSet(CallStarted, CallDNSResolved, CallConnectFailed, CallConnectionReleased)

	dnsEndFrom = newStateSet(CallDNSResolving)

	// CallConnected is accepted because a client may try further
	// addresses after a successful connect.
	connectStartFrom = newStateSet(CallStarted, CallDNSResolved, CallConnectFailed,
		CallConnectionReleased, CallConnected)

	secureConnectStartFrom = newStateSet(CallConnecting)

	secureConnectEndFrom = newStateSet(CallSecureConnecting)

	connectEndFrom = newStateSet(CallConnecting, CallSecureConnected)

	connectFailedFrom = newStateSet(CallConnecting, CallSecureConnecting)

	connectionAcquiredFrom = newStateSet(CallStarted, CallDNSResolved, CallConnected, CallConnectionReleased)

	connectionReleasedFrom = newStateSet(CallConnectionHeld)

	callEndFrom = newStateSet(CallConnectionReleased, CallStarted)

	callFailedFrom = newStateSet(CallStarted, CallDNSResolved, CallDNSResolving,
		CallConnected, CallConnectFailed, CallConnectionReleased)

	// messageGate is the call state required by every message notification.
	messageGate = newStateSet(CallConnectionHeld)
)

// Allowed predecessor states of the request and response automata.
var (
	headersStartFrom = newStateSet(MessageReady, MessageHeadersTransmitted, MessageBodyTransmitted)

	headersEndFrom = newStateSet(MessageHeadersTransmitting)

	bodyStartFrom = newStateSet(MessageHeadersTransmitted)

	bodyEndFrom = newStateSet(MessageBodyTransmitting)
)

// Validator tracks the call, request, and response automata of a single call.
//
// Each method validates one notification. On success it advances the
// relevant automaton and returns nil. Otherwise, it returns a [*StateError]
// and leaves the state untouched.
//
// A Validator is not safe for concurrent use: the notifications of a
// call must be serialized by the caller.
//
// Construct using [NewValidator].
type Validator struct {
	call     CallState
	request  MessageState
	response MessageState
}

// NewValidator returns a [*Validator] in the NEW/READY/READY state.
func NewValidator() *Validator {
	return &Validator{
		call:     CallNew,
		request:  MessageReady,
		response: MessageReady,
	}
}

// CallState returns the state of the call automaton.
func (v *Validator) CallState() CallState {
	return v.call
}

// RequestState returns the state of the request automaton.
func (v *Validator) RequestState() MessageState {
	return v.request
}

// ResponseState returns the state of the response automaton.
func (v *Validator) ResponseState() MessageState {
	return v.response
}

// advanceCall moves the call automaton to next if the current state is allowed.
func (v *Validator) advanceCall(event string, allowed stateSet[CallState], next CallState) error {
	if err := requireState(AutomatonCall, event, v.call, allowed); err != nil {
		return err
	}
	v.call = next
	return nil
}

// advanceMessage moves *msg to next if the connection is held and the
// current message state is allowed.
func (v *Validator) advanceMessage(automaton, event string,
	msg *MessageState, allowed stateSet[MessageState], next MessageState) error {
	if err := requireState(AutomatonCall, event, v.call, messageGate); err != nil {
		return err
	}
	if err := requireState(automaton, event, *msg, allowed); err != nil {
		return err
	}
	*msg = next
	return nil
}

// CallStart validates the callStart notification.
func (v *Validator) CallStart() error {
	return v.advanceCall("callStart", callStartFrom, CallStarted)
}

// DNSStart validates the dnsStart notification.
func (v *Validator) DNSStart() error {
	return v.advanceCall("dnsStart", dnsStartFrom, CallDNSResolving)
}

// DNSEnd validates the dnsEnd notification.
func (v *Validator) DNSEnd() error {
	return v.advanceCall("dnsEnd", dnsEndFrom, CallDNSResolved)
}

// ConnectStart validates the connectStart notification.
func (v *Validator) ConnectStart() error {
	return v.advanceCall("connectStart", connectStartFrom, CallConnecting)
}

// SecureConnectStart validates the secureConnectStart notification.
func (v *Validator) SecureConnectStart() error {
	return v.advanceCall("secureConnectStart", secureConnectStartFrom, CallSecureConnecting)
}

// SecureConnectEnd validates the secureConnectEnd notification.
func (v *Validator) SecureConnectEnd() error {
	return v.advanceCall("secureConnectEnd", secureConnectEndFrom, CallSecureConnected)
}

// ConnectEnd validates the connectEnd notification.
func (v *Validator) ConnectEnd() error {
	return v.advanceCall("connectEnd", connectEndFrom, CallConnected)
}

// ConnectFailed validates the connectFailed notification.
func (v *Validator) ConnectFailed() error {
	return v.advanceCall("connectFailed", connectFailedFrom, CallConnectFailed)
}

// ConnectionAcquired validates the connectionAcquired notification.
func (v *Validator) ConnectionAcquired() error {
	return v.advanceCall("connectionAcquired", connectionAcquiredFrom, CallConnectionHeld)
}

// ConnectionReleased validates the connectionReleased notification.
//
// On success, both message automata return to [MessageReady] so that
// the call may issue another exchange over a reacquired connection.
func (v *Validator) ConnectionReleased() error {
	if err := v.advanceCall("connectionReleased", connectionReleasedFrom, CallConnectionReleased); err != nil {
		return err
	}
	v.request = MessageReady
	v.response = MessageReady
	return nil
}

// RequestHeadersStart validates the requestHeadersStart notification.
func (v *Validator) RequestHeadersStart() error {
	return v.advanceMessage(AutomatonRequest, "requestHeadersStart",
		&v.request, headersStartFrom, MessageHeadersTransmitting)
}

// RequestHeadersEnd validates the requestHeadersEnd notification.
func (v *Validator) RequestHeadersEnd() error {
	return v.advanceMessage(AutomatonRequest, "requestHeadersEnd",
		&v.request, headersEndFrom, MessageHeadersTransmitted)
}

// RequestBodyStart validates the requestBodyStart notification.
func (v *Validator) RequestBodyStart() error {
	return v.advanceMessage(AutomatonRequest, "requestBodyStart",
		&v.request, bodyStartFrom, MessageBodyTransmitting)
}

// RequestBodyEnd validates the requestBodyEnd notification.
func (v *Validator) RequestBodyEnd() error {
	return v.advanceMessage(AutomatonRequest, "requestBodyEnd",
		&v.request, bodyEndFrom, MessageBodyTransmitted)
}

// ResponseHeadersStart validates the responseHeadersStart notification.
func (v *Validator) ResponseHeadersStart() error {
	return v.advanceMessage(AutomatonResponse, "responseHeadersStart",
		&v.response, headersStartFrom, MessageHeadersTransmitting)
}

// ResponseHeadersEnd validates the responseHeadersEnd notification.
func (v *Validator) ResponseHeadersEnd() error {
	return v.advanceMessage(AutomatonResponse, "responseHeadersEnd",
		&v.response, headersEndFrom, MessageHeadersTransmitted)
}

// ResponseBodyStart validates the responseBodyStart notification.
func (v *Validator) ResponseBodyStart() error {
	return v.advanceMessage(AutomatonResponse, "responseBodyStart",
		&v.response, bodyStartFrom, MessageBodyTransmitting)
}

// ResponseBodyEnd validates the responseBodyEnd notification.
func (v *Validator) ResponseBodyEnd() error {
	return v.advanceMessage(AutomatonResponse, "responseBodyEnd",
		&v.response, bodyEndFrom, MessageBodyTransmitted)
}

// CallEnd validates the callEnd notification.
func (v *Validator) CallEnd() error {
	return v.advanceCall("callEnd", callEndFrom, CallEnded)
}

// CallFailed validates the callFailed notification.
func (v *Validator) CallFailed() error {
	return v.advanceCall("callFailed", callFailedFrom, CallFailed)
}
