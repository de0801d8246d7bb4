// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import "context"

// Func is an operation with exactly one success mode and one failure mode.
//
// [*ConnectFunc], [*TLSHandshakeFunc], and [*HTTPConnFunc] implement it;
// [*Client] invokes them in sequence, emitting [Listener] notifications
// between the steps.
//
// Resource cleanup contract: when a Func receives a closeable resource as input
// and returns an error, it closes that resource before returning.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}
