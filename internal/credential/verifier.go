package credential

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exam-gateway/internal/model"
)

var (
	ErrTokenMalformed = errors.New("access token is malformed")
	ErrTokenExpired   = errors.New("access token has expired")
	ErrTokenSignature = errors.New("access token signature is invalid")
	ErrNoSubject      = errors.New("access token carries no user id")
	ErrNoVerifyKey    = errors.New("no session token key configured")
)

// AccessClaims are the claims the gateway reads from the session manager's token.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID model.ID `json:"user_id,omitempty"`
}

// TTL is how long the credential should be kept; zero when the token never expires.
func (c *AccessClaims) TTL(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Time.Sub(now)
}

// Verifier checks session manager tokens against a shared HMAC secret,
// an RSA public key, or both.
type Verifier struct {
	secret    []byte
	publicKey *rsa.PublicKey
	methods   []string
}

// NewVerifier builds a verifier. publicKeyPEM may be nil when only the secret is used.
func NewVerifier(secret string, publicKeyPEM []byte) (*Verifier, error) {
	v := &Verifier{}
	if secret != "" {
		v.secret = []byte(secret)
		v.methods = append(v.methods, "HS256", "HS384", "HS512")
	}
	if len(publicKeyPEM) > 0 {
		key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse session public key: %w", err)
		}
		v.publicKey = key
		v.methods = append(v.methods, "RS256", "RS384", "RS512")
	}
	if len(v.methods) == 0 {
		return nil, ErrNoVerifyKey
	}
	return v, nil
}

// ParseAccessToken verifies a bearer token and reads the caller's identity from it.
func (v *Verifier) ParseAccessToken(raw string, now time.Time) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.methods),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if _, err := parser.ParseWithClaims(raw, claims, v.key); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, fmt.Errorf("%w: %v", ErrTokenSignature, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		}
	}
	if claims.UserID.IsZero() {
		claims.UserID = model.ID(claims.Subject)
	}
	if claims.UserID.IsZero() {
		return nil, ErrNoSubject
	}
	return claims, nil
}

func (v *Verifier) key(t *jwt.Token) (interface{}, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if v.secret != nil {
			return v.secret, nil
		}
	case *jwt.SigningMethodRSA:
		if v.publicKey != nil {
			return v.publicKey, nil
		}
	}
	return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
}
