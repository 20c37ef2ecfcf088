// Package source is the Source Adapter: the single point of contact with
// the cloud video-conferencing provider's REST API.
package source

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenLifetime = 5 * time.Minute

// tokenMinter produces signed bearer tokens and caches the current one
// until fewer than one second of its lifetime remains (spec §4.2
// "Credential minting").
type tokenMinter struct {
	key    string
	secret string

	mu       sync.Mutex
	current  string
	expireAt time.Time
}

func newTokenMinter(key, secret string) *tokenMinter {
	return &tokenMinter{key: key, secret: secret}
}

// Token returns a valid bearer token, reissuing it if necessary.
func (m *tokenMinter) Token() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != "" && time.Until(m.expireAt) > time.Second {
		return m.current, nil
	}

	now := time.Now()
	exp := now.Add(tokenLifetime)
	claims := jwt.MapClaims{
		"iss": m.key,
		"exp": exp.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.secret))
	if err != nil {
		return "", fmt.Errorf("source: sign bearer token: %w", err)
	}
	m.current = signed
	m.expireAt = exp
	return signed, nil
}
