// Package auth verifies the HS256 access tokens gateways accept on
// WebSocket upgrade (spec §6 "Token format").
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the claims carried by a rockim access token:
// {iss, iat, exp, sub, uid: string-decimal}. uid is kept as a string on
// the wire (per spec §6) and parsed to uint64 by UID64().
type Claims struct {
	jwt.RegisteredClaims
	UID string `json:"uid"`
}

// UID64 parses the string-decimal uid claim.
func (c Claims) UID64() (uint64, error) {
	uid, err := strconv.ParseUint(c.UID, 10, 64)
	if err != nil || uid == 0 {
		return 0, ErrUIDUnparsable
	}
	return uid, nil
}

// Manager signs and verifies HS256 access tokens against a shared secret
// (spec §6: "JWT signed HS256 ... verified with a shared secret"). The
// structure mirrors the teacher's RS256 JWTManager — sentinel errors,
// an explicit signing-method check in the keyfunc to block alg-confusion
// attacks — with the key material and algorithm swapped for HS256.
type Manager struct {
	secret   []byte
	issuer   string
	expiresIn time.Duration
}

// NewManager builds a Manager. expiresIn is used only by Generate; the
// gateway itself never mints tokens, only verifies them, but tests and
// any future login service need a matching issuer.
func NewManager(secret []byte, issuer string, expiresIn time.Duration) (*Manager, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: secret must not be empty")
	}
	if expiresIn == 0 {
		expiresIn = 15 * time.Minute
	}
	return &Manager{secret: secret, issuer: issuer, expiresIn: expiresIn}, nil
}

// Generate mints a signed token for uid. Exposed mainly for tests and
// tooling — production token issuance lives in the out-of-scope auth
// service this core only verifies against.
func (m *Manager) Generate(uid uint64) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiresIn)),
			Subject:   strconv.FormatUint(uid, 10),
		},
		UID: strconv.FormatUint(uid, 10),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and verifies tokenString, returning the embedded claims
// on success or a sentinel error (ErrTokenExpired / ErrTokenInvalid).
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(m.issuer),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
