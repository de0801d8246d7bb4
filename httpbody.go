// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// requestBody observes the outgoing request body for an [*exchange].
//
// The transport reads it from its own goroutine. Reads before the headers
// are written (e.g., the transport probing a body of unknown length) are
// counted but the requestBodyStart notification is deferred until the
// headers are written.
type requestBody struct {
	body      io.ReadCloser
	closeOnce sync.Once
	ex        *exchange
}

var _ io.ReadCloser = &requestBody{}

// Read implements [io.ReadCloser].
func (b *requestBody) Read(buffer []byte) (int, error) {
	count, err := b.body.Read(buffer)
	b.ex.requestBodyRead(count, err)
	return count, err
}

// Close implements [io.ReadCloser].
func (b *requestBody) Close() (err error) {
	b.closeOnce.Do(func() {
		err = b.body.Close()
		b.ex.requestBodyDone()
	})
	return
}

// responseBody observes the incoming response body for an [*exchange].
//
// The first Read emits responseBodyStart, reaching EOF emits responseBodyEnd,
// and Close releases the connection. When finish is not nil, Close also
// ends the call by invoking finish with the first non-EOF read error.
//
// The body also logs the httpBodyStreamStart/httpBodyStreamDone span.
type responseBody struct {
	body      io.ReadCloser
	closeOnce sync.Once
	ex        *exchange

	// finish completes the call; nil for redirect responses being discarded.
	finish func(readErr error)

	// mu protects the fields below.
	mu      sync.Mutex
	count   int64
	ended   bool
	readErr error
	started bool
	t0      time.Time
}

var _ io.ReadCloser = &responseBody{}

// Read implements [io.ReadCloser].
func (b *responseBody) Read(buffer []byte) (int, error) {
	b.mu.Lock()
	if !b.started {
		b.started = true
		b.t0 = b.ex.cs.client.TimeNow()
		b.ex.emitHeld(func(l Listener) { l.ResponseBodyStart() })
		b.ex.cs.client.Logger.Info(
			"httpBodyStreamStart",
			slog.String("localAddr", b.ex.laddr),
			slog.String("protocol", b.ex.hc.Protocol()),
			slog.String("remoteAddr", b.ex.raddr),
			slog.Time("t", b.t0),
		)
	}
	b.mu.Unlock()

	count, err := b.body.Read(buffer)

	b.mu.Lock()
	b.count += int64(count)
	switch {
	case errors.Is(err, io.EOF):
		b.endLocked()
	case err != nil && b.readErr == nil:
		b.readErr = err
	}
	b.mu.Unlock()
	return count, err
}

// endLocked emits responseBodyEnd once. The caller holds b.mu.
func (b *responseBody) endLocked() {
	if b.started && !b.ended {
		b.ended = true
		count := b.count
		b.ex.emitHeld(func(l Listener) { l.ResponseBodyEnd(count) })
	}
}

// Close implements [io.ReadCloser].
func (b *responseBody) Close() (err error) {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.endLocked()
		started, readErr, t0 := b.started, b.readErr, b.t0
		b.mu.Unlock()

		err = b.body.Close()
		if started {
			b.ex.cs.client.Logger.Info(
				"httpBodyStreamDone",
				slog.Any("err", readErr),
				slog.String("errClass", b.ex.cs.client.ErrClassifier.Classify(readErr)),
				slog.String("localAddr", b.ex.laddr),
				slog.String("protocol", b.ex.hc.Protocol()),
				slog.String("remoteAddr", b.ex.raddr),
				slog.Time("t0", t0),
				slog.Time("t", b.ex.cs.client.TimeNow()),
			)
		}

		b.ex.release()
		if b.finish != nil {
			b.finish(readErr)
		}
	})
	return
}

// discard drains up to limit bytes and closes the body without ending the call.
func (b *responseBody) discard(limit int64) {
	b.finish = nil
	io.CopyN(io.Discard, b, limit)
	b.Close()
}
