package source

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenMinterSignsHS256WithExpectedClaims(t *testing.T) {
	m := newTokenMinter("key-1", "secret-1")
	raw, err := m.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	parsed, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			t.Fatalf("unexpected signing method: %v", token.Method)
		}
		return []byte("secret-1"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("expected valid token, err=%v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["iss"] != "key-1" {
		t.Fatalf("expected iss claim to be the api key, got %v", claims["iss"])
	}
}

func TestTokenMinterReusesUnexpiredToken(t *testing.T) {
	m := newTokenMinter("key-1", "secret-1")
	first, err := m.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	second, err := m.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached token to be reused within its lifetime")
	}
}

func TestTokenMinterReissuesNearExpiry(t *testing.T) {
	m := newTokenMinter("key-1", "secret-1")
	_, _ = m.Token()
	m.mu.Lock()
	m.expireAt = time.Now().Add(500 * time.Millisecond)
	m.mu.Unlock()
	if _, err := m.Token(); err != nil {
		t.Fatalf("Token: %v", err)
	}
	m.mu.Lock()
	remaining := time.Until(m.expireAt)
	m.mu.Unlock()
	if remaining <= time.Second {
		t.Fatalf("expected reissue once under one second of lifetime remains, %v left", remaining)
	}
}
