// SPDX-License-Identifier: GPL-3.0-or-later

package callcheck

import (
	"fmt"
	"net/http"
)

// nextRedirect returns the request to send after resp, or nil when resp
// is not a redirect the client follows.
func nextRedirect(req *http.Request, resp *http.Response) (*http.Request, error) {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return nil, nil
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return nil, nil
	}
	target, err := req.URL.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("callcheck: invalid redirect location %q: %w", location, err)
	}

	next := req.Clone(req.Context())
	next.URL = target
	next.Host = ""
	next.RequestURI = ""
	next.Response = resp

	switch resp.StatusCode {
	case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		if req.Body != nil && req.Body != http.NoBody {
			if req.GetBody == nil {
				return nil, nil
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			next.Body = body
		}

	default:
		if req.Method != http.MethodHead {
			next.Method = http.MethodGet
		}
		next.Body = nil
		next.GetBody = nil
		next.ContentLength = 0
		next.Header.Del("Content-Type")
		next.Header.Del("Content-Length")
	}

	if target.Host != req.URL.Host {
		next.Header.Del("Authorization")
		next.Header.Del("Cookie")
	}
	return next, nil
}
