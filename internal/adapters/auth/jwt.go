package auth

import (
	"errors"
	"time"

	"github.com/dkeye/Viewing/internal/domain"
	"github.com/golang-jwt/jwt"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrInvalidIssuer  = errors.New("invalid issuer")
	ErrTokenExpired   = errors.New("token expired")
	ErrInvalidSubject = errors.New("invalid subject")
)

type Claims struct {
	jwt.StandardClaims
}

// Verifier signs and checks HS256 access tokens issued by the platform.
type Verifier struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
	now       func() time.Time
}

func NewVerifier(secret, issuer string, clockSkew time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, clockSkew: clockSkew, now: time.Now}
}

func (v *Verifier) Sign(uid domain.UserID, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   string(uid),
			Issuer:    v.issuer,
			IssuedAt:  now.Unix(),
			NotBefore: now.Add(-v.clockSkew).Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify returns the user id carried in the token subject.
func (v *Verifier) Verify(tokenStr string) (domain.UserID, error) {
	claims := &Claims{}
	parser := &jwt.Parser{SkipClaimsValidation: true}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return "", ErrInvalidIssuer
	}

	now := v.now()
	nbf := time.Unix(claims.NotBefore, 0).Add(-v.clockSkew)
	exp := time.Unix(claims.ExpiresAt, 0).Add(v.clockSkew)
	if now.Before(nbf) || now.After(exp) {
		return "", ErrTokenExpired
	}

	if claims.Subject == "" || len(claims.Subject) > domain.MaxUserIDLen {
		return "", ErrInvalidSubject
	}
	return domain.UserID(claims.Subject), nil
}
