// Package identity resolves who is behind a connection. The arena itself only keeps participant IDs.
package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/errors"
)

// Resolver maps a participant ID to its display handle.
type Resolver interface {
	Resolve(ctx context.Context, participantID string) (domain.Participant, error)
}

// Passthrough uses the participant ID as its handle.
type Passthrough struct{}

func (Passthrough) Resolve(_ context.Context, participantID string) (domain.Participant, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return domain.Participant{}, errors.InvalidArgument("participant id is required")
	}
	return domain.Participant{ID: participantID, Handle: participantID}, nil
}

// Claims carried by arena tokens. The subject is the participant ID.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWT verifies HS256 tokens issued by the identity provider.
type JWT struct {
	secret []byte
	issuer string
}

func NewJWT(secret, issuer string) *JWT {
	return &JWT{secret: []byte(secret), issuer: issuer}
}

// Verify checks the token signature and expiry and returns the participant it was issued for.
func (j *JWT) Verify(token string) (domain.Participant, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return domain.Participant{}, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid token"),
			errors.WithCause(err),
		)
	}

	if c.Subject == "" {
		return domain.Participant{}, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("token has no subject"))
	}

	p := domain.Participant{ID: c.Subject, Handle: c.Name}
	if p.Handle == "" {
		p.Handle = p.ID
	}

	return p, nil
}

// Issue signs a token for p valid for ttl.
func (j *JWT) Issue(p domain.Participant, ttl time.Duration) (string, error) {
	now := time.Now()
	c := Claims{
		Name: p.Handle,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}

	return s, nil
}
