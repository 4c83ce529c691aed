package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testClaims() Claims {
	return Claims{
		Sub:    "staff-1",
		ShopID: "shop-1",
		Role:   "owner",
		Iat:    fixedNow.Unix(),
		Exp:    fixedNow.Add(time.Hour).Unix(),
	}
}

func TestHS256RoundTrip(t *testing.T) {
	claims := testClaims()
	token, err := SignHS256(claims, "test-secret")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(token, "test-secret", fixedNow)
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if *parsed != claims {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	if _, err := ParseAndVerifyHS256(token, "wrong-secret", fixedNow); err == nil {
		t.Fatal("expected verification error with wrong secret")
	}
	if _, err := ParseAndVerifyHS256(token, "test-secret", fixedNow.Add(2*time.Hour)); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestRS256ViaJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "kid-1",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	claims := testClaims()
	token, err := signRS256(claims, key, "kid-1")
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	v := &Verifier{JWKS: NewJWKSClient(srv.URL, time.Minute), Now: func() time.Time { return fixedNow }}
	parsed, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if parsed.ShopID != "shop-1" {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}

	other, _ := signRS256(claims, key, "kid-unknown")
	if _, err := v.Verify(context.Background(), other); err == nil {
		t.Fatal("expected unknown kid to fail")
	}
}

func TestRequireMiddleware(t *testing.T) {
	v := &Verifier{Secret: "s", Now: func() time.Time { return fixedNow }}
	var seen *Claims
	h := v.Require()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	noShop := testClaims()
	noShop.ShopID = ""
	token, _ := SignHS256(noShop, "s")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without shop scope, got %d", rec.Code)
	}

	token, _ = SignHS256(testClaims(), "s")
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen == nil || seen.ShopID != "shop-1" {
		t.Fatalf("expected claims in context, code=%d claims=%+v", rec.Code, seen)
	}
}

func signRS256(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	return tok.SignedString(key)
}

func TestVerifyRejectsUnexpectedAlgorithms(t *testing.T) {
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, testClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none failed: %v", err)
	}
	v := &Verifier{Secret: "s", Now: func() time.Time { return fixedNow }}
	if _, err := v.Verify(context.Background(), unsigned); err == nil {
		t.Fatal("expected alg none to be rejected")
	}

	hs, _ := SignHS256(testClaims(), "s")
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	if _, err := VerifyRS256(hs, &key.PublicKey, fixedNow); err == nil {
		t.Fatal("expected HS256 token to fail RS256 verification")
	}
}
