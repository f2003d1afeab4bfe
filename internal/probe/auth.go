package probe

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/loykin/smokerun/pkg/env"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AuthSpec configures authentication for probe requests against services that
// protect their endpoints. Type selects the provider:
//
//   - basic:  Username/Password, sent as a Basic header
//   - bearer: a pre-acquired Token, sent as Bearer
//   - jwt:    a self-issued HS256 token signed with Secret (for services that
//     share the signing key with the harness)
//   - oauth2: client credentials grant against TokenURL
//
// Header defaults to Authorization. All string fields are rendered against
// the pipeline env before use, so secrets can come from variables.
type AuthSpec struct {
	Type   string `yaml:"type" mapstructure:"type"`
	Name   string `yaml:"name" mapstructure:"name"`
	Header string `yaml:"header" mapstructure:"header"`

	// basic
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`

	// bearer
	Token string `yaml:"token" mapstructure:"token"`

	// jwt
	Secret     string   `yaml:"secret" mapstructure:"secret"`
	Subject    string   `yaml:"sub" mapstructure:"sub"`
	Issuer     string   `yaml:"iss" mapstructure:"iss"`
	Audience   []string `yaml:"aud" mapstructure:"aud"`
	TTLSeconds int64    `yaml:"ttl_seconds" mapstructure:"ttl_seconds"`

	// oauth2 client credentials
	ClientID     string   `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string   `yaml:"client_secret" mapstructure:"client_secret"`
	TokenURL     string   `yaml:"token_url" mapstructure:"token_url"`
	Scopes       []string `yaml:"scopes" mapstructure:"scopes"`
}

// headerOrDefault returns Authorization if empty
func headerOrDefault(h string) string {
	h = strings.TrimSpace(h)
	if h == "" {
		return "Authorization"
	}
	return h
}

// Validate reports configuration errors before the pipeline starts.
func (a *AuthSpec) Validate() error {
	switch strings.ToLower(strings.TrimSpace(a.Type)) {
	case "basic":
		if strings.TrimSpace(a.Username) == "" || strings.TrimSpace(a.Password) == "" {
			return fmt.Errorf("auth: basic requires username and password")
		}
	case "bearer":
		if strings.TrimSpace(a.Token) == "" {
			return fmt.Errorf("auth: bearer requires token")
		}
	case "jwt":
		if strings.TrimSpace(a.Secret) == "" {
			return fmt.Errorf("auth: jwt requires secret")
		}
	case "oauth2":
		if strings.TrimSpace(a.TokenURL) == "" {
			return fmt.Errorf("auth: oauth2 requires token_url")
		}
		if strings.TrimSpace(a.ClientID) == "" || strings.TrimSpace(a.ClientSecret) == "" {
			return fmt.Errorf("auth: oauth2 requires client_id and client_secret")
		}
	case "":
		return fmt.Errorf("auth: missing type")
	default:
		return fmt.Errorf("auth: unknown type %q", a.Type)
	}
	return nil
}

// Acquire resolves the header name and value for this auth configuration.
// Templated fields are rendered against e first.
func (a *AuthSpec) Acquire(ctx context.Context, e *env.Env) (string, string, error) {
	if a == nil {
		return "", "", nil
	}
	header := headerOrDefault(a.Header)

	switch strings.ToLower(strings.TrimSpace(a.Type)) {
	case "basic":
		u := strings.TrimSpace(e.RenderGoTemplate(a.Username))
		p := strings.TrimSpace(e.RenderGoTemplate(a.Password))
		if u == "" || p == "" {
			return "", "", fmt.Errorf("auth: basic requires username and password")
		}
		cred := base64.StdEncoding.EncodeToString([]byte(u + ":" + p))
		return header, "Basic " + cred, nil

	case "bearer":
		tok := strings.TrimSpace(e.RenderGoTemplate(a.Token))
		if tok == "" {
			return "", "", fmt.Errorf("auth: bearer requires token")
		}
		return header, "Bearer " + tok, nil

	case "jwt":
		tok, err := a.issueJWT(e)
		if err != nil {
			return "", "", err
		}
		return header, "Bearer " + tok, nil

	case "oauth2":
		val, err := a.clientCredentials(ctx, e)
		if err != nil {
			return "", "", err
		}
		return header, val, nil
	}

	return "", "", fmt.Errorf("auth: unknown type %q", a.Type)
}

// MakeLazy wraps Acquire into an env lazy value so named auth values are only
// acquired when a template actually references {{.auth.<name>}}.
func (a *AuthSpec) MakeLazy(ctx context.Context, e *env.Env) *env.VarLazy {
	return e.MakeLazy(func(ev *env.Env) (string, error) {
		_, val, err := a.Acquire(ctx, ev)
		return val, err
	})
}

// issueJWT creates a signed HS256 token string from the spec.
func (a *AuthSpec) issueJWT(e *env.Env) (string, error) {
	secret := strings.TrimSpace(e.RenderGoTemplate(a.Secret))
	if secret == "" {
		return "", fmt.Errorf("auth: jwt requires secret")
	}
	ttl := a.TTLSeconds
	if ttl <= 0 {
		ttl = 300
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Unix() + ttl,
	}
	if s := strings.TrimSpace(e.RenderGoTemplate(a.Subject)); s != "" {
		claims["sub"] = s
	}
	if s := strings.TrimSpace(e.RenderGoTemplate(a.Issuer)); s != "" {
		claims["iss"] = s
	}
	if len(a.Audience) > 0 {
		claims["aud"] = e.RenderAll(a.Audience)
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

// clientCredentials performs the OAuth2 client credentials grant and returns
// the Authorization header value.
func (a *AuthSpec) clientCredentials(ctx context.Context, e *env.Env) (string, error) {
	cc := &clientcredentials.Config{
		ClientID:     strings.TrimSpace(e.RenderGoTemplate(a.ClientID)),
		ClientSecret: strings.TrimSpace(e.RenderGoTemplate(a.ClientSecret)),
		TokenURL:     strings.TrimSpace(e.RenderGoTemplate(a.TokenURL)),
		Scopes:       e.RenderAll(a.Scopes),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("auth: oauth2 token request failed: %w", err)
	}
	if tok == nil || !tok.Valid() || strings.TrimSpace(tok.AccessToken) == "" {
		return "", fmt.Errorf("auth: oauth2 received invalid token")
	}
	typ := strings.TrimSpace(tok.TokenType)
	if typ == "" {
		typ = "Bearer"
	}
	return typ + " " + tok.AccessToken, nil
}
