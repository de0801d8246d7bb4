// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/bassosimone/callcheck"
	"github.com/bassosimone/runtimex"
)

// This example shows how a [*callcheck.Validator] rejects a request
// notification arriving before a connection is held.
func ExampleValidator() {
	validator := callcheck.NewValidator()

	runtimex.Assert(validator.CallStart() == nil)
	err := validator.RequestHeadersStart()

	fmt.Println(errors.Is(err, callcheck.ErrInvalidTransition))
	fmt.Println(validator.CallState(), validator.RequestState())
	// Output:
	// true
	// STARTED READY
}

// This example shows how to validate every call issued by a [*callcheck.Client].
func ExampleClient() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	// The default logger discards everything; pass a *slog.Logger to
	// see the transitions accepted by each checker.
	cfg := callcheck.NewConfig()
	logger := callcheck.DefaultSLogger()
	client := callcheck.NewClient(cfg, callcheck.NewCheckerFactory(cfg, logger), logger)

	resp := runtimex.PanicOnError1(client.Get(context.Background(), srv.URL))
	defer resp.Body.Close()
	body := runtimex.PanicOnError1(io.ReadAll(resp.Body))

	fmt.Println(resp.StatusCode, string(body))
	// Output:
	// 200 hello
}
