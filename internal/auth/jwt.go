package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the identity issued by the external identity provider.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the caller resolved from a verified token.
type Identity struct {
	Subject string
	Email   string
}

// Verifier checks bearer tokens against either a shared HS256 secret or the
// identity provider's JWKS.
type Verifier struct {
	secret []byte
	jwks   *keyfunc.JWKS
	issuer string
}

type Options struct {
	Secret  string
	JWKSURL string
	Issuer  string
}

func NewVerifier(ctx context.Context, opts Options, log zerolog.Logger) (*Verifier, error) {
	v := &Verifier{issuer: strings.TrimSpace(opts.Issuer)}
	if url := strings.TrimSpace(opts.JWKSURL); url != "" {
		jwks, err := keyfunc.Get(url, keyfunc.Options{
			Ctx:               ctx,
			RefreshInterval:   time.Hour,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				log.Error().Err(err).Msg("jwks refresh error")
			},
		})
		if err != nil {
			return nil, err
		}
		v.jwks = jwks
		return v, nil
	}
	if strings.TrimSpace(opts.Secret) == "" {
		return nil, errors.New("auth: secret or jwks url is required")
	}
	v.secret = []byte(opts.Secret)
	return v, nil
}

// Verify parses tokenStr and returns the caller identity.
func (v *Verifier) Verify(tokenStr string) (*Identity, error) {
	claims := &Claims{}
	parserOpts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	var keyFunc jwt.Keyfunc
	if v.jwks != nil {
		keyFunc = v.jwks.Keyfunc
		parserOpts = append(parserOpts, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256"}))
	} else {
		keyFunc = func(t *jwt.Token) (any, error) { return v.secret, nil }
		parserOpts = append(parserOpts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, parserOpts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{Subject: claims.Subject, Email: claims.Email}, nil
}

// SignJWT issues an HS256 token for subject; used by local tooling and tests.
func SignJWT(subject, email, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
