package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

var errInvalidKey = errors.New("service account key is not a valid key document")

// GoogleSource exchanges a signed service-account assertion for an access
// token at the key's token endpoint. The key document is loaded on every
// refresh so rotated keys are picked up without a restart.
type GoogleSource struct {
	keys   KeyLoader
	scopes []string
	client *http.Client
}

// NewGoogleSource builds a source; client is used for the token exchange
// and may be nil for the default transport.
func NewGoogleSource(keys KeyLoader, client *http.Client, scopes ...string) *GoogleSource {
	if len(scopes) == 0 {
		scopes = []string{CloudPlatformScope}
	}
	return &GoogleSource{
		keys:   keys,
		scopes: scopes,
		client: client,
	}
}

func (s *GoogleSource) Token(ctx context.Context) (Token, error) {
	key, err := s.keys.Load(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("load service account key: %w", err)
	}

	// The parse error can quote fragments of the document, so it is not wrapped.
	conf, err := google.JWTConfigFromJSON(key, s.scopes...)
	if err != nil {
		return Token{}, errInvalidKey
	}

	if s.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	}

	tok, err := conf.TokenSource(ctx).Token()
	if err != nil {
		return Token{}, fmt.Errorf("exchange service account assertion: %w", err)
	}

	return Token{Value: tok.AccessToken, Expiry: tok.Expiry}, nil
}
