package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVerifierRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")
	tok, err := v.Issue("user-42", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	got, err := v.UserID("Bearer " + tok)
	if err != nil {
		t.Fatalf("UserID: %v", err)
	}
	if got != "user-42" {
		t.Fatalf("user = %q, want user-42", got)
	}
}

func TestVerifierRejections(t *testing.T) {
	v := NewVerifier("test-secret")
	expired, _ := v.Issue("user-42", -time.Minute)
	wrongKey, _ := NewVerifier("other-secret").Issue("user-42", time.Minute)

	cases := []struct {
		name   string
		header string
		want   error
	}{
		{"empty header", "", ErrNoToken},
		{"no bearer prefix", "Token abc", ErrNoToken},
		{"garbage token", "Bearer not.a.jwt", ErrInvalidToken},
		{"expired", "Bearer " + expired, ErrInvalidToken},
		{"wrong secret", "Bearer " + wrongKey, ErrInvalidToken},
	}
	for _, tc := range cases {
		if _, err := v.UserID(tc.header); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithUserID(context.Background(), "u1")
	if id, ok := UserIDFrom(ctx); !ok || id != "u1" {
		t.Fatalf("got %q %v", id, ok)
	}
	if _, ok := UserIDFrom(context.Background()); ok {
		t.Fatal("empty context should carry no user")
	}
}
