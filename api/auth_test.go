package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": sub,
		"aud": "api://board",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
		err    error
	}{
		{name: "ok", header: "Bearer header.payload.signature", want: "header.payload.signature"},
		{name: "padded", header: "  Bearer a.b.c  ", want: "a.b.c"},
		{name: "missing", header: "", err: errMissingAuthorization},
		{name: "blank", header: "   ", err: errMissingAuthorization},
		{name: "scheme", header: "Basic a.b.c", err: errBadAuthorization},
		{name: "prefixOnly", header: "Bearer ", err: errBadAuthorization},
		{name: "manyPeriods", header: "Bearer " + strings.Repeat(".", 1000), err: errBadAuthorization},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := bearerToken(tc.header)
			if err != tc.err {
				t.Fatalf("bearerToken(%q) error = %v, want %v", tc.header, err, tc.err)
			}
			if got != tc.want {
				t.Fatalf("bearerToken(%q) = %q, want %q", tc.header, got, tc.want)
			}
		})
	}
}

func TestUserIDFromAuthHeaderHS256(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewAuth(nil, "api://board", "https://issuer/", WithSharedSecret(secret))

	userID, err := auth.UserIDFromAuthHeader("Bearer " + signHS256(t, secret, validClaims("user-123")))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromAuthHeaderRejects(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewAuth(nil, "api://board", "https://issuer/", WithSharedSecret(secret))

	expired := validClaims("u")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongAud := validClaims("u")
	wrongAud["aud"] = "api://other"
	noSub := validClaims("")

	cases := map[string]string{
		"expired":     signHS256(t, secret, expired),
		"audience":    signHS256(t, secret, wrongAud),
		"missingSub":  signHS256(t, secret, noSub),
		"wrongSecret": signHS256(t, []byte("other"), validClaims("u")),
	}
	for name, token := range cases {
		if _, err := auth.UserIDFromAuthHeader("Bearer " + token); err == nil {
			t.Fatalf("%s: expected token to be rejected", name)
		}
	}
}

func TestUserIDFromAuthHeaderWithoutJWKS(t *testing.T) {
	auth := NewAuth(nil, "", "")
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("u"))
	token.Header["kid"] = "k1"
	// Signature is never checked because key lookup fails first.
	unsigned, err := token.SigningString()
	if err != nil {
		t.Fatalf("signing string: %v", err)
	}
	if _, err := auth.UserIDFromAuthHeader("Bearer " + unsigned + ".c2ln"); err == nil {
		t.Fatalf("expected error without jwks")
	}
}
