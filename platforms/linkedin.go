package platforms

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"postvolve/config"
	"postvolve/models"
)

const linkedInMaxLength = 3000

var linkedInEndpoint = oauth2.Endpoint{
	AuthURL:   "https://www.linkedin.com/oauth/v2/authorization",
	TokenURL:  "https://www.linkedin.com/oauth/v2/accessToken",
	AuthStyle: oauth2.AuthStyleInParams,
}

type LinkedIn struct {
	creds config.PlatformCredentials
	api   *apiClient
}

func NewLinkedIn(creds config.PlatformCredentials, client *http.Client) *LinkedIn {
	return &LinkedIn{
		creds: creds,
		api: &apiClient{
			platform: models.PlatformLinkedIn,
			baseURL:  creds.BaseURL,
			http:     client,
			headers:  map[string]string{"X-Restli-Protocol-Version": "2.0.0"},
		},
	}
}

func (l *LinkedIn) Name() string   { return models.PlatformLinkedIn }
func (l *LinkedIn) MaxLength() int { return linkedInMaxLength }
func (l *LinkedIn) UsesPKCE() bool { return false }

func (l *LinkedIn) OAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     l.creds.ClientID,
		ClientSecret: l.creds.ClientSecret,
		Endpoint:     linkedInEndpoint,
		RedirectURL:  redirectURL,
		Scopes:       []string{"openid", "profile", "w_member_social"},
	}
}

type ugcMedia struct {
	Status      string `json:"status"`
	OriginalURL string `json:"originalUrl"`
}

type ugcShareContent struct {
	ShareCommentary struct {
		Text string `json:"text"`
	} `json:"shareCommentary"`
	ShareMediaCategory string     `json:"shareMediaCategory"`
	Media              []ugcMedia `json:"media,omitempty"`
}

type ugcPost struct {
	Author          string                     `json:"author"`
	LifecycleState  string                     `json:"lifecycleState"`
	SpecificContent map[string]ugcShareContent `json:"specificContent"`
	Visibility      map[string]string          `json:"visibility"`
}

func (l *LinkedIn) Publish(ctx context.Context, acct *models.ConnectedAccount, c Content) (*Result, error) {
	if err := checkLength(l, c.Text); err != nil {
		return nil, err
	}

	share := ugcShareContent{ShareMediaCategory: "NONE"}
	share.ShareCommentary.Text = c.Text
	if c.ImageURL != "" {
		share.ShareMediaCategory = "ARTICLE"
		share.Media = []ugcMedia{{Status: "READY", OriginalURL: c.ImageURL}}
	}

	body := ugcPost{
		Author:          "urn:li:person:" + acct.ExternalID,
		LifecycleState:  "PUBLISHED",
		SpecificContent: map[string]ugcShareContent{"com.linkedin.ugc.ShareContent": share},
		Visibility:      map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	}

	var out struct {
		ID string `json:"id"`
	}
	hdr, err := l.api.do(ctx, http.MethodPost, "/v2/ugcPosts", acct.AccessToken, body, &out)
	if err != nil {
		return nil, err
	}

	id := hdr.Get("X-RestLi-Id")
	if id == "" {
		id = out.ID
	}
	return &Result{ExternalID: id, URL: "https://www.linkedin.com/feed/update/" + id}, nil
}

func (l *LinkedIn) FetchIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	var out struct {
		Sub  string `json:"sub"`
		Name string `json:"name"`
	}
	if _, err := l.api.do(ctx, http.MethodGet, "/v2/userinfo", token.AccessToken, nil, &out); err != nil {
		return nil, err
	}
	if out.Sub == "" {
		return nil, ErrNoIdentity
	}
	return &Identity{ExternalID: out.Sub, DisplayName: out.Name}, nil
}
