package auth

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carried by shopcal access tokens. ShopID scopes every staff request
// to one tenant.
type Claims struct {
	Sub    string `json:"sub"`
	ShopID string `json:"shop_id"`
	Role   string `json:"role"`
	Exp    int64  `json:"exp,omitempty"`
	Iat    int64  `json:"iat,omitempty"`
}

func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) { return numericDate(c.Exp), nil }
func (c Claims) GetIssuedAt() (*jwt.NumericDate, error)       { return numericDate(c.Iat), nil }
func (c Claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c Claims) GetIssuer() (string, error)                   { return "", nil }
func (c Claims) GetSubject() (string, error)                  { return c.Sub, nil }
func (c Claims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

func numericDate(unix int64) *jwt.NumericDate {
	if unix == 0 {
		return nil
	}
	return jwt.NewNumericDate(time.Unix(unix, 0))
}

// SignHS256 issues a token. Production tokens come from the identity
// provider; this exists for local tooling and tests.
func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseAndVerifyHS256(token, secret string, now time.Time) (*Claims, error) {
	return parse(token, now, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, jwt.SigningMethodHS256.Alg())
}

func VerifyRS256(token string, pubKey *rsa.PublicKey, now time.Time) (*Claims, error) {
	return parse(token, now, func(*jwt.Token) (any, error) {
		return pubKey, nil
	}, jwt.SigningMethodRS256.Alg())
}

// parse pins the accepted algorithms so a token cannot pick its own
// verification method.
func parse(token string, now time.Time, key jwt.Keyfunc, algs ...string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, key,
		jwt.WithValidMethods(algs),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
