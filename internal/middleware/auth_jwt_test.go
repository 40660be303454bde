package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignAndVerifyJWT(t *testing.T) {
	claims := TokenClaims{
		Locale: "id",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := SignJWT("test-secret", claims)
	if err != nil {
		t.Fatalf("SignJWT() unexpected error: %v", err)
	}
	parsed, err := VerifyJWT("test-secret", token)
	if err != nil {
		t.Fatalf("VerifyJWT() unexpected error: %v", err)
	}
	if parsed.Subject != "user-123" || parsed.Locale != "id" {
		t.Fatalf("VerifyJWT() returned %+v", parsed)
	}
}

func TestVerifyJWTRejects(t *testing.T) {
	good, _ := IssueToken("secret-a", "user-123", time.Hour)
	expired, _ := IssueToken("secret-a", "user-123", -time.Minute)
	noSubject, _ := SignJWT("secret-a", TokenClaims{})
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, TokenClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"wrong secret": good,
		"expired":      expired,
		"no subject":   noSubject,
		"alg none":     none,
		"garbage":      "a.b.c",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			secret := "secret-a"
			if name == "wrong secret" {
				secret = "secret-b"
			}
			if _, err := VerifyJWT(secret, token); err == nil {
				t.Fatal("VerifyJWT() accepted token")
			}
		})
	}
}

func TestAuthJWTMiddleware(t *testing.T) {
	var seen string
	h := AuthJWT("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header status = %d", rec.Code)
	}

	token, _ := IssueToken("s3cret", "owner-9", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != "owner-9" {
		t.Fatalf("status = %d, user = %q", rec.Code, seen)
	}
}
