// Package connector implements the transport side of the adapter framework:
// request orchestration against a POS endpoint, authentication, retry with
// backoff, rate-limit admission and pagination. Vendor adapters compose these
// pieces; they never talk to net/http directly.
package connector

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"backoffice-sync/internal/core"
)

type CredentialType string

const (
	CredentialNone        CredentialType = "none"
	CredentialAPIKey      CredentialType = "api_key"
	CredentialBasic       CredentialType = "basic"
	CredentialOAuth2      CredentialType = "oauth2"
	CredentialCertificate CredentialType = "certificate"
)

// Credentials is the tagged union over the supported authentication schemes.
// Only the fields for the selected Type are consulted. AccessToken/TokenExpiry
// are mutated by the TokenCache only.
type Credentials struct {
	Type CredentialType `json:"type" yaml:"type"`

	// api_key
	APIKey       string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APIKeyHeader string `json:"api_key_header,omitempty" yaml:"api_key_header,omitempty"`

	// basic
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// oauth2 client-credentials
	ClientID      string    `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret  string    `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	TokenEndpoint string    `json:"token_endpoint,omitempty" yaml:"token_endpoint,omitempty"`
	AccessToken   string    `json:"access_token,omitempty" yaml:"access_token,omitempty"`
	TokenExpiry   time.Time `json:"token_expiry,omitempty" yaml:"token_expiry,omitempty"`

	// certificate (mutual TLS)
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
}

// ConnectionConfig is the typed connection configuration for one POS system.
// It is owned by the caller and read-only to the framework for the duration
// of a sync run. Extra carries adapter-specific fields (merchant id, store
// number, mapping file path, directory overrides).
type ConnectionConfig struct {
	Host        string            `json:"host" yaml:"host"`
	Port        int               `json:"port,omitempty" yaml:"port,omitempty"`
	UseTLS      bool              `json:"use_tls" yaml:"use_tls"`
	Timeout     time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Credentials Credentials       `json:"credentials" yaml:"credentials"`
	Extra       map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

const defaultTimeout = 30 * time.Second

// Validate fails fast on programmer-error configuration. Missing required
// config is not a retryable runtime condition.
func (c *ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return core.NewStructuredError("connection config requires a host", 0, core.CodeInvalidConfig, false)
	}
	switch c.Credentials.Type {
	case CredentialNone, "":
	case CredentialAPIKey:
		if c.Credentials.APIKey == "" {
			return core.NewStructuredError("api_key credentials require api_key", 0, core.CodeInvalidConfig, false)
		}
	case CredentialBasic:
		if c.Credentials.Username == "" {
			return core.NewStructuredError("basic credentials require username", 0, core.CodeInvalidConfig, false)
		}
	case CredentialOAuth2:
		if c.Credentials.ClientID == "" || c.Credentials.ClientSecret == "" || c.Credentials.TokenEndpoint == "" {
			return core.NewStructuredError("oauth2 credentials require client_id, client_secret and token_endpoint", 0, core.CodeInvalidConfig, false)
		}
	case CredentialCertificate:
		if c.Credentials.CertFile == "" || c.Credentials.KeyFile == "" {
			return core.NewStructuredError("certificate credentials require cert_file and key_file", 0, core.CodeInvalidConfig, false)
		}
	default:
		return core.NewStructuredError(fmt.Sprintf("unknown credential type %q", c.Credentials.Type), 0, core.CodeInvalidConfig, false)
	}
	return nil
}

// BaseURL renders scheme://host[:port] for this connection.
func (c *ConnectionConfig) BaseURL() string {
	scheme := "http"
	if c.UseTLS {
		scheme = "https"
	}
	host := c.Host
	if c.Port > 0 {
		host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}
	return (&url.URL{Scheme: scheme, Host: host}).String()
}

// RequestTimeout returns the effective per-request timeout.
func (c *ConnectionConfig) RequestTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

// ExtraString reads an adapter-specific extension field with a fallback.
func (c *ConnectionConfig) ExtraString(key, fallback string) string {
	if v, ok := c.Extra[key]; ok && v != "" {
		return v
	}
	return fallback
}
