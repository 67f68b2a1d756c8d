package connector

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"backoffice-sync/internal/core"
)

// expirySafetyMargin is subtracted from the advertised expires_in to guard
// against clock skew between us and the token endpoint.
const expirySafetyMargin = 60 * time.Second

// TokenCache caches OAuth2 client-credentials bearer tokens keyed by
// (token endpoint, client id). The grant itself goes through the orchestration
// core so redaction and error classification apply to token traffic too.
type TokenCache struct {
	mutex  sync.Mutex
	tokens map[string]*oauth2.Token
	logger *zap.SugaredLogger

	// grant is swappable in tests.
	grant func(ctx context.Context, creds *Credentials) (*oauth2.Token, error)
}

func NewTokenCache(logger *zap.SugaredLogger) *TokenCache {
	tc := &TokenCache{
		tokens: make(map[string]*oauth2.Token),
		logger: logger,
	}
	tc.grant = tc.clientCredentialsGrant
	return tc
}

// Token returns a valid bearer token for creds, refreshing when needed.
// A valid cached token is returned without any network call.
func (tc *TokenCache) Token(ctx context.Context, creds *Credentials) (string, error) {
	key := creds.TokenEndpoint + "|" + creds.ClientID

	tc.mutex.Lock()
	if token, ok := tc.tokens[key]; ok && token.Valid() {
		tc.mutex.Unlock()
		return token.AccessToken, nil
	}

	// Credentials supplied with a still-valid token are adopted as-is.
	if creds.AccessToken != "" && creds.TokenExpiry.After(time.Now()) {
		token := &oauth2.Token{AccessToken: creds.AccessToken, Expiry: creds.TokenExpiry}
		tc.tokens[key] = token
		tc.mutex.Unlock()
		return token.AccessToken, nil
	}
	tc.mutex.Unlock()

	// Grant happens outside the lock; concurrent refreshes for the same key
	// are harmless, last writer wins.
	token, err := tc.grant(ctx, creds)
	if err != nil {
		if se, ok := core.AsStructured(err); ok {
			return "", se
		}
		return "", core.NewStructuredError(
			fmt.Sprintf("oauth2 token refresh failed: %v", err), 401, core.CodeOAuthRefreshFailed, false)
	}

	tc.mutex.Lock()
	tc.tokens[key] = token
	tc.mutex.Unlock()

	tc.logger.Infof("Refreshed OAuth2 token for client %s (expires %s)", creds.ClientID, token.Expiry.UTC().Format(time.RFC3339))
	return token.AccessToken, nil
}

// Clear drops all cached tokens (credential rotation, tests).
func (tc *TokenCache) Clear() {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()
	tc.tokens = make(map[string]*oauth2.Token)
}

// clientCredentialsGrant performs the grant against the token endpoint via a
// credential-less Client so timeouts and error mapping are uniform.
func (tc *TokenCache) clientCredentialsGrant(ctx context.Context, creds *Credentials) (*oauth2.Token, error) {
	endpoint, err := url.Parse(creds.TokenEndpoint)
	if err != nil || endpoint.Host == "" {
		return nil, core.NewStructuredError(
			fmt.Sprintf("invalid token endpoint %q", creds.TokenEndpoint), 0, core.CodeInvalidConfig, false)
	}

	cfg := &ConnectionConfig{
		Host:        endpoint.Hostname(),
		UseTLS:      endpoint.Scheme == "https",
		Credentials: Credentials{Type: CredentialNone},
	}
	if port := endpoint.Port(); port != "" {
		fmt.Sscanf(port, "%d", &cfg.Port)
	}

	client, err := NewClient(cfg, nil, tc.logger)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)

	resp, err := client.Do(ctx, &RequestDescriptor{
		Method: "POST",
		Path:   endpoint.Path,
		Body:   form,
	})
	if err != nil {
		if se, ok := core.AsStructured(err); ok && se.StatusCode >= 400 && se.StatusCode < 500 {
			// Bad credentials do not heal on retry.
			return nil, core.NewStructuredError(
				fmt.Sprintf("oauth2 token refresh failed: %s", se.Message), se.StatusCode, core.CodeOAuthRefreshFailed, false)
		}
		return nil, err
	}

	body, ok := resp.Data.(map[string]interface{})
	if !ok {
		return nil, core.NewStructuredError("token endpoint returned a non-JSON response", resp.Status, core.CodeOAuthRefreshFailed, false)
	}

	accessToken, _ := body["access_token"].(string)
	if accessToken == "" {
		return nil, core.NewStructuredError("token endpoint response missing access_token", resp.Status, core.CodeOAuthRefreshFailed, false)
	}

	expiresIn := 3600.0
	if v, ok := body["expires_in"].(float64); ok && v > 0 {
		expiresIn = v
	}

	return &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Duration(expiresIn)*time.Second - expirySafetyMargin),
	}, nil
}
