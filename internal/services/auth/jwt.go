package auth

import (
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Verifier checks identity tokens minted by the external identity provider.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

type identityClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		now:    time.Now,
	}
}

func (v *Verifier) Parse(raw string) (Identity, error) {
	if len(v.secret) == 0 {
		return Identity{}, fmt.Errorf("identity secret is empty")
	}
	if strings.TrimSpace(raw) == "" {
		return Identity{}, ErrUnauthorized
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &identityClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || token == nil || !token.Valid {
		return Identity{}, ErrUnauthorized
	}

	subject := strings.TrimSpace(claims.Subject)
	email := strings.TrimSpace(claims.Email)
	if subject == "" || email == "" {
		return Identity{}, ErrUnauthorized
	}

	return Identity{
		UserID:    subject,
		Email:     email,
		Name:      strings.TrimSpace(claims.Name),
		AvatarURL: strings.TrimSpace(claims.Picture),
	}, nil
}

// Sign mints a token in the provider's format. Used by tooling and tests.
func (v *Verifier) Sign(identity Identity, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("identity secret is empty")
	}
	if strings.TrimSpace(identity.UserID) == "" || strings.TrimSpace(identity.Email) == "" {
		return "", ErrInvalidInput
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	now := v.now().UTC()
	claims := identityClaims{
		Email:   identity.Email,
		Name:    identity.Name,
		Picture: identity.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign identity token: %w", err)
	}
	return signed, nil
}
