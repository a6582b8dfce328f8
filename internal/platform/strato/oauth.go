package strato

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// tokenExpiryMargin renews the access token this long before it expires.
const tokenExpiryMargin = 10 * time.Second

// defaultTokenLifetime applies when the token response has no expires_in.
const defaultTokenLifetime = time.Hour

// OAuthConfig holds the password-grant credentials for the node's identity
// provider.
type OAuthConfig struct {
	DiscoveryURL string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// NewTokenSource returns a cached token source that discovers the token
// endpoint from the OpenID configuration document and authenticates with
// the password grant. httpClient carries the request timeout.
func NewTokenSource(cfg OAuthConfig, httpClient *http.Client) oauth2.TokenSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	src := &passwordSource{cfg: cfg, httpClient: httpClient, now: time.Now}
	return oauth2.ReuseTokenSourceWithExpiry(nil, src, tokenExpiryMargin)
}

// passwordSource fetches a fresh token on every call. It is wrapped by a
// reuse source, so calls only happen near expiry.
type passwordSource struct {
	cfg        OAuthConfig
	httpClient *http.Client
	now        func() time.Time

	mu            sync.Mutex
	tokenEndpoint string
}

func (s *passwordSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.httpClient.Timeout+time.Second)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)

	endpoint, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}
	conf := &oauth2.Config{
		ClientID:     s.cfg.ClientID,
		ClientSecret: s.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  endpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	tok, err := conf.PasswordCredentialsToken(ctx, s.cfg.Username, s.cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("strato: oauth authentication failed: %w", err)
	}
	if tok.Expiry.IsZero() {
		tok.Expiry = s.now().Add(defaultTokenLifetime)
	}
	return tok, nil
}

func (s *passwordSource) discover(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenEndpoint != "" {
		return s.tokenEndpoint, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.DiscoveryURL, nil)
	if err != nil {
		return "", fmt.Errorf("strato: oauth discovery: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("strato: oauth discovery: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("strato: oauth discovery: HTTP %d", resp.StatusCode)
	}

	var doc struct {
		TokenEndpoint string `json:"token_endpoint"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("strato: oauth discovery: decode: %w", err)
	}
	if doc.TokenEndpoint == "" {
		return "", errors.New("strato: oauth discovery: token endpoint not found in discovery document")
	}
	s.tokenEndpoint = doc.TokenEndpoint
	return s.tokenEndpoint, nil
}
