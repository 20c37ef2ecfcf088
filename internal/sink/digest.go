// Package sink is the Sink Adapter: it implements the institutional media
// platform's ingest protocol and keeps its reference catalogs fresh.
package sink

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// digestTransport wraps an http.RoundTripper to add HTTP Digest
// Authentication (RFC 7616), the only scheme the Sink accepts. The shape
// mirrors the teacher's MD5 challenge-response client
// (pkg/mist/client.go authenticate()): probe once, cache the server's
// challenge, compute a response digest per request. There is no
// ecosystem Digest-auth client in the retrieved pack, so this is written
// against the standard library's crypto/md5 and net/http, following the
// teacher's own hand-rolled-auth precedent rather than importing a new
// untested dependency.
type digestTransport struct {
	base     http.RoundTripper
	username string
	password string

	mu        sync.Mutex
	challenge *digestChallenge
}

type digestChallenge struct {
	realm  string
	nonce  string
	qop    string
	opaque string
	nc     int
}

func newDigestTransport(username, password string, base http.RoundTripper) *digestTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &digestTransport{base: base, username: username, password: password}
}

// RoundTrip performs a request carrying a digest Authorization header, the
// required X-Requested-Auth header, and retries once against a 401 to
// refresh the challenge. The request body must be re-playable (GetBody
// set) when a retry is possible.
func (t *digestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("X-Requested-Auth", "Digest")

	t.mu.Lock()
	challenge := t.challenge
	t.mu.Unlock()

	if challenge != nil {
		if err := t.setAuthHeader(req, challenge); err != nil {
			return nil, err
		}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	newChallenge, perr := parseDigestChallenge(resp.Header.Get("WWW-Authenticate"))
	if perr != nil {
		return resp, nil
	}
	resp.Body.Close()

	t.mu.Lock()
	t.challenge = newChallenge
	t.mu.Unlock()

	if req.GetBody != nil {
		body, berr := req.GetBody()
		if berr != nil {
			return nil, berr
		}
		req.Body = body
	}
	if err := t.setAuthHeader(req, newChallenge); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

func (t *digestTransport) setAuthHeader(req *http.Request, c *digestChallenge) error {
	t.mu.Lock()
	c.nc++
	nc := c.nc
	t.mu.Unlock()

	cnonce, err := randomHex(8)
	if err != nil {
		return err
	}
	ha1 := md5Hex(t.username + ":" + c.realm + ":" + t.password)
	ha2 := md5Hex(req.Method + ":" + req.URL.RequestURI())

	ncStr := fmt.Sprintf("%08x", nc)
	var response string
	if c.qop != "" {
		response = md5Hex(strings.Join([]string{ha1, c.nonce, ncStr, cnonce, "auth", ha2}, ":"))
	} else {
		response = md5Hex(strings.Join([]string{ha1, c.nonce, ha2}, ":"))
	}

	header := fmt.Sprintf(`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		t.username, c.realm, c.nonce, req.URL.RequestURI(), response)
	if c.qop != "" {
		header += fmt.Sprintf(`, qop=auth, nc=%s, cnonce="%s"`, ncStr, cnonce)
	}
	if c.opaque != "" {
		header += fmt.Sprintf(`, opaque="%s"`, c.opaque)
	}
	req.Header.Set("Authorization", header)
	return nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func parseDigestChallenge(header string) (*digestChallenge, error) {
	if !strings.HasPrefix(header, "Digest ") {
		return nil, fmt.Errorf("sink: not a digest challenge: %q", header)
	}
	fields := splitAuthParams(strings.TrimPrefix(header, "Digest "))
	c := &digestChallenge{
		realm:  unquote(fields["realm"]),
		nonce:  unquote(fields["nonce"]),
		opaque: unquote(fields["opaque"]),
	}
	if qop, ok := fields["qop"]; ok {
		options := strings.Split(unquote(qop), ",")
		for _, opt := range options {
			if strings.TrimSpace(opt) == "auth" {
				c.qop = "auth"
				break
			}
		}
	}
	if c.nonce == "" {
		return nil, fmt.Errorf("sink: digest challenge missing nonce")
	}
	return c, nil
}

func splitAuthParams(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
