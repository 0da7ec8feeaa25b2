package amcrest

import (
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/icholy/digest"
)

// newAuthTransport wraps next with camera authentication. Digest challenges
// are answered by digest.Transport, which caches the challenge and counts
// nonces. Older firmware that only offers Basic is handled by basicTransport
// underneath it.
func newAuthTransport(username, password string, next http.RoundTripper) http.RoundTripper {
	return &digest.Transport{
		Username: username,
		Password: password,
		Transport: &basicTransport{
			username: username,
			password: password,
			next:     next,
		},
	}
}

// basicTransport answers a Basic challenge once and then authenticates every
// later request up front.
type basicTransport struct {
	username string
	password string
	next     http.RoundTripper

	enabled atomic.Bool
}

// RoundTrip implements http.RoundTripper.
func (t *basicTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.enabled.Load() && req.Header.Get("Authorization") == "" {
		req = t.withAuth(req)
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if !hasBasicChallenge(resp.Header) || req.Header.Get("Authorization") != "" {
		return resp, nil
	}
	// Camera CGI requests are body-less GETs, so they can be replayed.
	if req.Body != nil && req.Body != http.NoBody {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	t.enabled.Store(true)
	return t.next.RoundTrip(t.withAuth(req))
}

func (t *basicTransport) withAuth(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	clone.SetBasicAuth(t.username, t.password)
	return clone
}

func hasBasicChallenge(h http.Header) bool {
	for _, v := range h.Values("WWW-Authenticate") {
		scheme, _, _ := strings.Cut(strings.TrimSpace(v), " ")
		if strings.EqualFold(scheme, "basic") {
			return true
		}
	}
	return false
}
