package auth

import (
	"github.com/golang-jwt/jwt"
	"github.com/pkg/errors"
)

// Tokenizer encodes and decodes the JSON Web Tokens carried by the
// session cookie.
type Tokenizer struct {
	secret []byte
	method jwt.SigningMethod
}

func NewTokenizer(secret string) *Tokenizer {
	return &Tokenizer{secret: []byte(secret), method: jwt.SigningMethodHS512}
}

// Encode signs payload into a compact token.
func (t *Tokenizer) Encode(payload jwt.MapClaims) (string, error) {
	token, err := jwt.NewWithClaims(t.method, payload).SignedString(t.secret)
	return token, errors.Wrap(err, "signing token")
}

// Decode verifies raw and returns its payload.
func (t *Tokenizer) Decode(raw string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(raw, func(parsed *jwt.Token) (any, error) {
		if parsed.Method.Alg() != t.method.Alg() {
			return nil, errors.Errorf("unexpected signing method '%s'", parsed.Method.Alg())
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "parsing token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// TryDecode decodes raw, reporting expired, tampered, or absent tokens
// as a plain false rather than an error.
func (t *Tokenizer) TryDecode(raw string) (jwt.MapClaims, bool) {
	if raw == "" {
		return nil, false
	}
	claims, err := t.Decode(raw)
	if err != nil {
		return nil, false
	}
	return claims, true
}
