package auth

import (
	"errors"
	"fmt"
	"os"

	"github.com/MicahParks/keyfunc"
)

// FromEnv builds an Auth from AUTH0_DOMAIN and AUTH0_AUDIENCE, fetching the
// tenant JWKS. In test mode no JWKS is fetched.
func FromEnv() (*Auth, error) {
	audience := os.Getenv("AUTH0_AUDIENCE")
	domain := os.Getenv("AUTH0_DOMAIN")
	issuer := ""
	if domain != "" {
		issuer = "https://" + domain + "/"
	}
	if os.Getenv(envAuth0TestMode) == "1" {
		return New(nil, audience, issuer)
	}
	if audience == "" || domain == "" {
		return nil, errors.New("missing Auth0 config")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return New(jwks, audience, issuer)
}
