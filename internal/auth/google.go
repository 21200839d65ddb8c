package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"csquare/marketplace/marketplace-backend/internal/config"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// GoogleProvider runs the OAuth code flow against Google
type GoogleProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (GoogleProfile, error)
}

// GoogleOAuth is the oauth2 implementation of GoogleProvider
type GoogleOAuth struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewGoogleOAuth returns a provider for cfg, or nil when Google sign-in is
// not configured.
func NewGoogleOAuth(cfg config.GoogleConfig) *GoogleOAuth {
	if !cfg.Enabled() {
		return nil
	}
	return &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
}

// AuthCodeURL returns the consent page URL carrying state.
func (g *GoogleOAuth) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades code for a token and loads the user's profile.
func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (GoogleProfile, error) {
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return GoogleProfile{}, fmt.Errorf("failed to exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return GoogleProfile{}, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	resp, err := g.config.Client(ctx, token).Do(req)
	if err != nil {
		return GoogleProfile{}, fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return GoogleProfile{}, fmt.Errorf("failed to read userinfo: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return GoogleProfile{}, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}
	return parseGoogleProfile(body), nil
}

func parseGoogleProfile(body []byte) GoogleProfile {
	info := gjson.ParseBytes(body)
	name := info.Get("name").String()
	if name == "" {
		name = strings.TrimSpace(info.Get("given_name").String() + " " + info.Get("family_name").String())
	}
	return GoogleProfile{
		ID:            info.Get("sub").String(),
		Email:         strings.ToLower(info.Get("email").String()),
		EmailVerified: info.Get("email_verified").Bool(),
		Name:          name,
		Picture:       info.Get("picture").String(),
	}
}
