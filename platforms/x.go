package platforms

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"postvolve/config"
	"postvolve/models"
)

const xMaxLength = 280

var xEndpoint = oauth2.Endpoint{
	AuthURL:   "https://twitter.com/i/oauth2/authorize",
	TokenURL:  "https://api.twitter.com/2/oauth2/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

// X posts through the v2 API. Images are not uploaded; the tweet carries the
// text only.
type X struct {
	creds config.PlatformCredentials
	api   *apiClient
}

func NewX(creds config.PlatformCredentials, client *http.Client) *X {
	return &X{
		creds: creds,
		api:   &apiClient{platform: models.PlatformX, baseURL: creds.BaseURL, http: client},
	}
}

func (x *X) Name() string   { return models.PlatformX }
func (x *X) MaxLength() int { return xMaxLength }
func (x *X) UsesPKCE() bool { return true }

func (x *X) OAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     x.creds.ClientID,
		ClientSecret: x.creds.ClientSecret,
		Endpoint:     xEndpoint,
		RedirectURL:  redirectURL,
		Scopes:       []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
	}
}

func (x *X) Publish(ctx context.Context, acct *models.ConnectedAccount, c Content) (*Result, error) {
	if err := checkLength(x, c.Text); err != nil {
		return nil, err
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	body := map[string]string{"text": c.Text}
	if _, err := x.api.do(ctx, http.MethodPost, "/2/tweets", acct.AccessToken, body, &out); err != nil {
		return nil, err
	}
	return &Result{
		ExternalID: out.Data.ID,
		URL:        "https://x.com/i/web/status/" + out.Data.ID,
	}, nil
}

func (x *X) FetchIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	var out struct {
		Data struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if _, err := x.api.do(ctx, http.MethodGet, "/2/users/me", token.AccessToken, nil, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, ErrNoIdentity
	}
	name := out.Data.Name
	if out.Data.Username != "" {
		name = "@" + out.Data.Username
	}
	return &Identity{ExternalID: out.Data.ID, DisplayName: name}, nil
}
