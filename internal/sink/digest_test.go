package sink

import "testing"

func TestParseDigestChallenge(t *testing.T) {
	header := `Digest realm="Opencast", qop="auth", nonce="abc123", opaque="xyz"`
	c, err := parseDigestChallenge(header)
	if err != nil {
		t.Fatalf("parseDigestChallenge: %v", err)
	}
	if c.realm != "Opencast" || c.nonce != "abc123" || c.qop != "auth" || c.opaque != "xyz" {
		t.Fatalf("unexpected challenge: %+v", c)
	}
}

func TestParseDigestChallengeRejectsNonDigest(t *testing.T) {
	if _, err := parseDigestChallenge(`Basic realm="x"`); err == nil {
		t.Fatalf("expected error for non-digest scheme")
	}
}

func TestParseDigestChallengeRequiresNonce(t *testing.T) {
	if _, err := parseDigestChallenge(`Digest realm="x"`); err == nil {
		t.Fatalf("expected error for missing nonce")
	}
}

func TestMD5HexDeterministic(t *testing.T) {
	a := md5Hex("user:realm:pass")
	b := md5Hex("user:realm:pass")
	if a != b || len(a) != 32 {
		t.Fatalf("expected stable 32-char hex digest, got %q", a)
	}
}
