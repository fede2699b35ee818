package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v1/userinfo"

// GoogleProvider authenticates Google OAuth2 access tokens by fetching
// the token owner's user info.
type GoogleProvider struct {
	client *http.Client
	base   string
}

// NewGoogleProvider builds a provider with a timeout-bounded client. A
// timeout or provider error reports as unauthenticated rather than
// propagating.
func NewGoogleProvider() *GoogleProvider {
	return &GoogleProvider{
		client: &http.Client{Timeout: 10 * time.Second},
		base:   googleUserInfoURL,
	}
}

func (p *GoogleProvider) Name() string {
	return "google"
}

func (p *GoogleProvider) Authenticate(ctx context.Context, accessToken string) (map[string]any, error) {
	endpoint := p.base + "?" + url.Values{"access_token": []string{accessToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building user info request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	var userData map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&userData); err != nil {
		return nil, nil
	}
	return userData, nil
}
