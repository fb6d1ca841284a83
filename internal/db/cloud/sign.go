package cloud

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureHeader carries the HS256 request signature.
const SignatureHeader = "X-Holo-Signature"

// RequestIDHeader carries the idempotency key. Retries reuse it.
const RequestIDHeader = "X-Request-Id"

const signatureTTL = 5 * time.Minute

// RequestClaims bind a signature to one request.
type RequestClaims struct {
	jwt.RegisteredClaims
	Method   string `json:"mth"`
	Path     string `json:"pth"`
	BodyHash string `json:"bsh"`
}

// BodyHash returns the hex SHA-256 of body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Sign creates a signature for method, path and body under requestID.
func Sign(secret []byte, method, path, requestID string, body []byte) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("no signing key configured")
	}
	now := time.Now().UTC()
	claims := &RequestClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        requestID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(signatureTTL)),
		},
		Method:   method,
		Path:     path,
		BodyHash: BodyHash(body),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify checks that token signs exactly this request.
func Verify(secret []byte, token, method, path, requestID string, body []byte) error {
	if len(secret) == 0 {
		return errors.New("no signing key configured")
	}
	parsed, err := jwt.ParseWithClaims(token, &RequestClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	c, ok := parsed.Claims.(*RequestClaims)
	if !ok || !parsed.Valid {
		return errors.New("invalid signature")
	}
	switch {
	case c.Method != method, c.Path != path:
		return errors.New("signature does not match request line")
	case c.ID != requestID:
		return errors.New("signature does not match request id")
	case c.BodyHash != BodyHash(body):
		return errors.New("signature does not match body")
	}
	return nil
}
