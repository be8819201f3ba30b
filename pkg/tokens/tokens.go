package tokens

import (
	"crypto/rsa"
	"math/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/mealdesk/authsession/pkg/saferand"
)

const issuer = "mealdesk-auth"

var randSrc = rand.New(saferand.NewSource(time.Now().UnixNano()))

// Service issues and verifies short-lived access tokens for the dev auth
// backend. Refresh credentials are opaque rotating sessions, not JWTs, so
// there is no refresh-token path here.
type Service struct {
	c Config
}

type Config struct {
	AccessTTL time.Duration

	SignKey     *rsa.PrivateKey
	ValidateKey *rsa.PublicKey
}

func New(cfg Config) *Service {
	return &Service{c: cfg}
}

// AccessToken is an issued token together with its validity window.
type AccessToken struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type accessClaims struct {
	UserID string `json:"userID"`
	Rand   int64  `json:"rand"`
	jwt.RegisteredClaims
}

// Generate signs a new access token for the user.
func (s *Service) Generate(userID string) (AccessToken, error) {
	now := time.Now()
	expiresAt := now.Add(s.c.AccessTTL)
	claims := accessClaims{
		UserID: userID,
		Rand:   randSrc.Int63(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	// RS512 -> public/private key pair
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS512, claims).SignedString(s.c.SignKey)
	if err != nil {
		return AccessToken{}, errors.Wrap(err, "signing access token")
	}
	return AccessToken{Token: tok, IssuedAt: now, ExpiresAt: expiresAt}, nil
}

// Check validates the token and returns the user it was issued for, along
// with the validity window baked into the claims.
func (s *Service) Check(tokStr string) (userID string, issuedAt, expiresAt time.Time, err error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS512.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithIssuedAt(),
	)
	token, err := parser.ParseWithClaims(tokStr, &accessClaims{},
		func(token *jwt.Token) (interface{}, error) {
			return s.c.ValidateKey, nil
		})
	if err != nil {
		return "", time.Time{}, time.Time{}, errors.Wrap(err, "validation failed")
	}

	claims := token.Claims.(*accessClaims)
	if claims.UserID == "" {
		return "", time.Time{}, time.Time{}, errors.New("user ID is empty")
	}
	return claims.UserID, claims.IssuedAt.Time, claims.ExpiresAt.Time, nil
}
