package main

import (
	"net/http/httptest"
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := issueToken(42)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	t.Run("BearerHeader", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		id, ok := getUserIDFromRequest(req)
		if !ok {
			t.Fatal("expected token to be accepted")
		}
		if id != 42 {
			t.Errorf("expected user 42, got %d", id)
		}
	})

	t.Run("QueryParameter", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/ws/chat?token="+token, nil)
		id, ok := getUserIDFromRequest(req)
		if !ok {
			t.Fatal("expected query token to be accepted")
		}
		if id != 42 {
			t.Errorf("expected user 42, got %d", id)
		}
	})

	t.Run("MissingToken", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/me", nil)
		if _, ok := getUserIDFromRequest(req); ok {
			t.Error("expected rejection without a token")
		}
	})

	t.Run("MalformedToken", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/me", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		if _, ok := getUserIDFromRequest(req); ok {
			t.Error("expected rejection of a malformed token")
		}
	})
}

func TestMatchingSettingsChanged(t *testing.T) {
	base := defaultSettings(1)

	same := *base
	if matchingSettingsChanged(base, &same) {
		t.Error("expected no change for identical settings")
	}

	theme := *base
	theme.Theme = "dark"
	if matchingSettingsChanged(base, &theme) {
		t.Error("expected theme changes not to count as matching changes")
	}

	radius := *base
	radius.LocationRadius = 75
	if !matchingSettingsChanged(base, &radius) {
		t.Error("expected a radius change to count")
	}

	ages := *base
	ages.MaxAge = 40
	if !matchingSettingsChanged(base, &ages) {
		t.Error("expected an age range change to count")
	}
}
