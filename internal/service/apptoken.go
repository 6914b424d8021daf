package service

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// PublicScope is the application scope for read-only public endpoints.
const PublicScope = "https://api.ebay.com/oauth/api_scope"

// AppClient returns an HTTP client authorized with an application token
// obtained through the client-credentials grant. The token is cached and
// renewed on expiry.
func AppClient(ctx context.Context, clientID, clientSecret, tokenURL string, base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{PublicScope},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	src := oauth2.ReuseTokenSource(nil, bearerSource{cc.TokenSource(ctx)})
	return oauth2.NewClient(ctx, src)
}

// bearerSource rewrites the marketplace's descriptive token_type
// ("Application Access Token") to Bearer.
type bearerSource struct {
	src oauth2.TokenSource
}

func (b bearerSource) Token() (*oauth2.Token, error) {
	tok, err := b.src.Token()
	if err != nil {
		return nil, err
	}
	out := *tok
	out.TokenType = "Bearer"
	return &out, nil
}
