package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopcal/shopcal/libs/httpx"
)

type ctxKey struct{}

// ClaimsFromContext returns the verified claims stored by Verifier.Require.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}

func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// Verifier checks bearer tokens signed with HS256 (Secret) or RS256 (JWKS).
type Verifier struct {
	Secret string
	JWKS   *JWKSClient
	Now    func() time.Time
}

// Verify accepts HS256 tokens when Secret is set and RS256 tokens whose kid
// resolves through JWKS.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	return parse(token, now, func(t *jwt.Token) (any, error) {
		switch t.Method.Alg() {
		case jwt.SigningMethodHS256.Alg():
			if v.Secret == "" {
				return nil, ErrInvalidToken
			}
			return []byte(v.Secret), nil
		case jwt.SigningMethodRS256.Alg():
			kid, _ := t.Header["kid"].(string)
			if v.JWKS == nil || kid == "" {
				return nil, ErrInvalidToken
			}
			return v.JWKS.Get(ctx, kid)
		default:
			return nil, ErrInvalidToken
		}
	}, jwt.SigningMethodHS256.Alg(), jwt.SigningMethodRS256.Alg())
}

// Require rejects requests without a valid bearer token scoped to a shop.
func (v *Verifier) Require() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				httpx.WriteError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := v.Verify(r.Context(), strings.TrimSpace(raw))
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if claims.ShopID == "" {
				httpx.WriteError(w, http.StatusForbidden, "token is not scoped to a shop")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}
