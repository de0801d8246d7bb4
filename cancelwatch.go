// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"context"
	"net"
)

// watchCancel arranges for conn to be closed when ctx is done, so that
// blocking I/O fails instead of outliving the context.
//
// Closing the returned connection unregisters the watcher and closes conn.
// Use only when the context lifetime matches the connection lifetime, as
// for the single exchange of a [*DNSResolver] lookup.
func watchCancel(ctx context.Context, conn net.Conn) net.Conn {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	return &cancelWatchedConn{Conn: conn, stop: stop}
}

// cancelWatchedConn is a [net.Conn] with a context watcher.
type cancelWatchedConn struct {
	net.Conn
	stop func() bool
}

// Close unregisters the watcher and closes the underlying connection.
func (c *cancelWatchedConn) Close() error {
	c.stop()
	return c.Conn.Close()
}
