package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/sport-scheduler/internal/application"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTokens_IssueAndVerify(t *testing.T) {
	now := time.Date(2025, time.January, 13, 9, 0, 0, 0, time.UTC)
	tokens, err := NewTokens("secret", time.Hour, fixedNow(now))
	if err != nil {
		t.Fatalf("NewTokens failed: %v", err)
	}

	token, err := tokens.Issue(application.Principal{UserID: "user-1", IsAdmin: true})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	principal, err := tokens.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if principal.UserID != "user-1" || !principal.IsAdmin {
		t.Fatalf("unexpected principal: %#v", principal)
	}
}

func TestTokens_VerifyRejects(t *testing.T) {
	now := time.Date(2025, time.January, 13, 9, 0, 0, 0, time.UTC)
	tokens, _ := NewTokens("secret", time.Hour, fixedNow(now))
	valid, _ := tokens.Issue(application.Principal{UserID: "user-1"})

	otherSecret, _ := NewTokens("other", time.Hour, fixedNow(now))
	forged, _ := otherSecret.Issue(application.Principal{UserID: "user-1"})

	later, _ := NewTokens("secret", time.Hour, fixedNow(now.Add(2*time.Hour)))

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}

	tests := []struct {
		name     string
		verifier *Tokens
		token    string
		want     error
	}{
		{name: "empty", verifier: tokens, token: "", want: ErrMissingToken},
		{name: "garbage", verifier: tokens, token: "not-a-token", want: ErrInvalidToken},
		{name: "wrong secret", verifier: tokens, token: forged, want: ErrInvalidToken},
		{name: "expired", verifier: later, token: valid, want: ErrInvalidToken},
		{name: "alg none", verifier: tokens, token: unsigned, want: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.verifier.Verify(tt.token); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewTokensRequiresSecret(t *testing.T) {
	if _, err := NewTokens("  ", 0, nil); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"abc":          "",
		"":             "",
	}
	for header, want := range tests {
		if got := BearerToken(header); got != want {
			t.Fatalf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
