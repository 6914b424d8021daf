package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
)

// MarketplaceScopes are the scopes needed to list and publish items.
var MarketplaceScopes = []string{
	"https://api.ebay.com/oauth/api_scope",
	"https://api.ebay.com/oauth/api_scope/sell.inventory",
	"https://api.ebay.com/oauth/api_scope/sell.account",
	"https://api.ebay.com/oauth/api_scope/sell.fulfillment",
}

// CredentialsConfig configures the marketplace user credential.
type CredentialsConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	RefreshToken string
	TokenFile    string
	Scopes       []string
}

// Credentials holds the marketplace user token and refreshes it with the
// refresh-token grant. It implements oauth2.TokenSource.
type Credentials struct {
	conf   *oauth2.Config
	file   string
	client *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewCredentials loads the persisted token file if present, otherwise seeds the
// credential from the configured refresh token.
func NewCredentials(cfg CredentialsConfig, client *http.Client, logger *slog.Logger) (*Credentials, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = MarketplaceScopes
	}

	c := &Credentials{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      scopes,
		},
		file:   cfg.TokenFile,
		client: client,
		logger: logger.With("component", "credentials"),
	}

	tok, err := c.load()
	if err != nil {
		return nil, err
	}
	if tok == nil && cfg.RefreshToken != "" {
		tok = &oauth2.Token{RefreshToken: cfg.RefreshToken}
	}
	c.token = tok
	return c, nil
}

// AuthCodeURL returns the consent URL used to obtain the first refresh token.
func (c *Credentials) AuthCodeURL(state string) string {
	return c.conf.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "login"))
}

// Exchange trades an authorization code for a token and persists it.
func (c *Credentials) Exchange(ctx context.Context, code string) error {
	tok, err := c.conf.Exchange(c.httpContext(ctx), code)
	if err != nil {
		return fmt.Errorf("marketplace token exchange: %w", err)
	}
	return c.store(tok)
}

// Token returns a valid access token, refreshing it when expired.
func (c *Credentials) Token() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Valid() {
		return c.token, nil
	}
	return c.refreshLocked(context.Background())
}

// Refresh forces a refresh-token grant regardless of the current expiry.
func (c *Credentials) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.refreshLocked(ctx)
	return err
}

// Expiry returns when the current access token expires; zero if there is none.
func (c *Credentials) Expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return time.Time{}
	}
	return c.token.Expiry
}

// Client returns an HTTP client that authorizes every request with the current token.
func (c *Credentials) Client(ctx context.Context) *http.Client {
	return oauth2.NewClient(c.httpContext(ctx), c)
}

func (c *Credentials) refreshLocked(ctx context.Context) (*oauth2.Token, error) {
	if c.token == nil || c.token.RefreshToken == "" {
		return nil, fmt.Errorf("refresh marketplace token: %w: no refresh token", domain.ErrUnauthorized)
	}

	// An already-expired seed forces the oauth2 package to run the refresh grant.
	seed := &oauth2.Token{RefreshToken: c.token.RefreshToken, Expiry: time.Unix(1, 0)}
	tok, err := c.conf.TokenSource(c.httpContext(ctx), seed).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && (re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized || re.ErrorCode == "invalid_grant") {
			return nil, errors.Join(domain.ErrUnauthorized, fmt.Errorf("refresh marketplace token: %w", err))
		}
		return nil, fmt.Errorf("refresh marketplace token: %w", err)
	}

	// The marketplace answers with token_type "User Access Token", which
	// oauth2 would otherwise copy verbatim into the Authorization header.
	tok.TokenType = "Bearer"
	c.token = tok
	if err := c.save(tok); err != nil {
		c.logger.Warn("persist refreshed token", "error", err)
	}
	c.logger.Info("marketplace token refreshed", "expiry", tok.Expiry)
	return tok, nil
}

func (c *Credentials) store(tok *oauth2.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok.TokenType = "Bearer"
	c.token = tok
	return c.save(tok)
}

func (c *Credentials) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.client)
}

func (c *Credentials) load() (*oauth2.Token, error) {
	if c.file == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.file)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token file %s: %w", c.file, err)
	}
	return &tok, nil
}

func (c *Credentials) save(tok *oauth2.Token) error {
	if c.file == "" {
		return nil
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.file), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp := c.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return os.Rename(tmp, c.file)
}
