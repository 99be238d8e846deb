package auth

import "testing"

func TestFromEnvTestMode(t *testing.T) {
	t.Setenv("AUTH0_TEST_MODE", "1")
	t.Setenv("TEST_JWT_SECRET", "s3cret")
	t.Setenv("AUTH0_DOMAIN", "tenant.example.com")
	t.Setenv("AUTH0_AUDIENCE", "prism")

	a, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if !a.TestMode || string(a.TestSecret) != "s3cret" {
		t.Fatalf("expected shared-secret auth, got %+v", a)
	}
	if a.Issuer != "https://tenant.example.com/" || a.Audience != "prism" {
		t.Fatalf("unexpected issuer/audience %q %q", a.Issuer, a.Audience)
	}
}

func TestFromEnvRequiresAuth0Config(t *testing.T) {
	t.Setenv("AUTH0_TEST_MODE", "")
	t.Setenv("AUTH0_DOMAIN", "")
	t.Setenv("AUTH0_AUDIENCE", "")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error without Auth0 config")
	}
}
