package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/Zmiievskyi/Mine-sub000/internal/domain"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	githubUserURL     = "https://api.github.com/user"
	githubEmailsURL   = "https://api.github.com/user/emails"

	profileFetchTimeout = 10 * time.Second
)

// Profile is the provider-agnostic identity extracted from a provider's
// userinfo endpoint.
type Profile struct {
	ExternalID string
	Email      string
	Name       *string
	AvatarURL  *string
}

// Config holds the client credentials for both providers. RedirectBaseURL is
// the externally reachable origin of this service; callback paths are
// appended per provider.
type Config struct {
	GoogleClientID     string
	GoogleClientSecret string
	GithubClientID     string
	GithubClientSecret string
	RedirectBaseURL    string
}

// Manager drives the authorization-code flow against Google and GitHub.
type Manager struct {
	google *oauth2.Config
	github *oauth2.Config
}

// NewManager builds the per-provider oauth2 configs. Scopes are the minimum
// needed to read the user's id, email, name, and avatar.
func NewManager(cfg Config) *Manager {
	return &Manager{
		google: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  cfg.RedirectBaseURL + "/api/v1/auth/google/callback",
			Scopes:       []string{"openid", "email", "profile"},
		},
		github: &oauth2.Config{
			ClientID:     cfg.GithubClientID,
			ClientSecret: cfg.GithubClientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  cfg.RedirectBaseURL + "/api/v1/auth/github/callback",
			Scopes:       []string{"read:user", "user:email"},
		},
	}
}

// StateToken generates the CSRF state carried through the redirect round
// trip.
func StateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthURL returns the provider's consent page URL for the given state.
func (m *Manager) AuthURL(provider domain.Provider, state string) (string, error) {
	conf, err := m.config(provider)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state), nil
}

// Exchange trades the authorization code for a token and fetches the user's
// profile from the provider.
func (m *Manager) Exchange(ctx context.Context, provider domain.Provider, code string) (*Profile, error) {
	conf, err := m.config(provider)
	if err != nil {
		return nil, err
	}

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange %s authorization code: %w", provider, err)
	}

	ctx, cancel := context.WithTimeout(ctx, profileFetchTimeout)
	defer cancel()

	client := conf.Client(ctx, token)
	switch provider {
	case domain.ProviderGoogle:
		return fetchGoogleProfile(ctx, client)
	case domain.ProviderGithub:
		return fetchGithubProfile(ctx, client)
	default:
		return nil, fmt.Errorf("provider %q does not support code exchange", provider)
	}
}

func (m *Manager) config(provider domain.Provider) (*oauth2.Config, error) {
	switch provider {
	case domain.ProviderGoogle:
		return m.google, nil
	case domain.ProviderGithub:
		return m.github, nil
	default:
		return nil, fmt.Errorf("unknown oauth provider %q", provider)
	}
}

func fetchGoogleProfile(ctx context.Context, client *http.Client) (*Profile, error) {
	var payload struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := getJSON(ctx, client, googleUserInfoURL, &payload); err != nil {
		return nil, fmt.Errorf("fetch google profile: %w", err)
	}

	return &Profile{
		ExternalID: payload.ID,
		Email:      payload.Email,
		Name:       optional(payload.Name),
		AvatarURL:  optional(payload.Picture),
	}, nil
}

func fetchGithubProfile(ctx context.Context, client *http.Client) (*Profile, error) {
	var payload struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(ctx, client, githubUserURL, &payload); err != nil {
		return nil, fmt.Errorf("fetch github profile: %w", err)
	}

	email := payload.Email
	if email == "" {
		// GitHub omits the email from /user when it is private; the
		// dedicated emails endpoint still lists it.
		primary, err := fetchGithubPrimaryEmail(ctx, client)
		if err != nil {
			return nil, err
		}
		email = primary
	}

	name := payload.Name
	if name == "" {
		name = payload.Login
	}

	return &Profile{
		ExternalID: strconv.FormatInt(payload.ID, 10),
		Email:      email,
		Name:       optional(name),
		AvatarURL:  optional(payload.AvatarURL),
	}, nil
}

func fetchGithubPrimaryEmail(ctx context.Context, client *http.Client) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(ctx, client, githubEmailsURL, &emails); err != nil {
		return "", fmt.Errorf("fetch github emails: %w", err)
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}

	return "", nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
