package mail

import (
	"context"
	"fmt"
	"net/smtp"

	"golang.org/x/oauth2"
)

// Token endpoints per provider family. Generic hosts with OAuth2 credentials
// are assumed Google-compatible, which covers workspace domains behind Gmail.
const (
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	microsoftTokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
)

// OAuthCredentials are the decrypted OAuth2 fields of an EmailAccount.
type OAuthCredentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	AccessToken  string
}

// tokenSource builds a refreshing token source for the provider family.
// oauth2.TokenSource caches the access token until expiry, which is the
// connection-reuse win the transport cache exists for.
func tokenSource(ctx context.Context, provider Provider, creds OAuthCredentials) oauth2.TokenSource {
	tokenURL := googleTokenURL
	if provider == ProviderMicrosoft {
		tokenURL = microsoftTokenURL
	}
	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	seed := &oauth2.Token{RefreshToken: creds.RefreshToken, AccessToken: creds.AccessToken}
	return cfg.TokenSource(ctx, seed)
}

// xoauth2Auth implements the SASL XOAUTH2 mechanism over net/smtp.
type xoauth2Auth struct {
	user  string
	token string
}

func (a *xoauth2Auth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, fmt.Errorf("xoauth2 requires a TLS connection")
	}
	resp := []byte("user=" + a.user + "\x01auth=Bearer " + a.token + "\x01\x01")
	return "XOAUTH2", resp, nil
}

func (a *xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	// the server sends a base64 JSON error blob on failure; replying with an
	// empty line makes it fail the exchange with a proper 535
	if more {
		return []byte(""), nil
	}
	return nil, nil
}
