package platforms

import (
	"context"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"postvolve/config"
	"postvolve/models"
)

const (
	facebookMaxLength  = 63206
	instagramMaxLength = 2200
)

var facebookEndpoint = oauth2.Endpoint{
	AuthURL:   "https://www.facebook.com/v19.0/dialog/oauth",
	TokenURL:  "https://graph.facebook.com/v19.0/oauth/access_token",
	AuthStyle: oauth2.AuthStyleInParams,
}

type graphPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
	Instagram   *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"instagram_business_account"`
}

func listPages(ctx context.Context, api *apiClient, userToken, fields string) ([]graphPage, error) {
	var out struct {
		Data []graphPage `json:"data"`
	}
	if _, err := api.do(ctx, http.MethodGet, "/me/accounts?fields="+url.QueryEscape(fields), userToken, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Facebook posts to the first Page the user manages, using that Page's token.
type Facebook struct {
	creds config.PlatformCredentials
	api   *apiClient
}

func NewFacebook(creds config.PlatformCredentials, client *http.Client) *Facebook {
	return &Facebook{
		creds: creds,
		api:   &apiClient{platform: models.PlatformFacebook, baseURL: creds.BaseURL, http: client},
	}
}

func (f *Facebook) Name() string   { return models.PlatformFacebook }
func (f *Facebook) MaxLength() int { return facebookMaxLength }
func (f *Facebook) UsesPKCE() bool { return false }

func (f *Facebook) OAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.creds.ClientID,
		ClientSecret: f.creds.ClientSecret,
		Endpoint:     facebookEndpoint,
		RedirectURL:  redirectURL,
		Scopes:       []string{"pages_show_list", "pages_manage_posts", "pages_read_engagement"},
	}
}

func (f *Facebook) Publish(ctx context.Context, acct *models.ConnectedAccount, c Content) (*Result, error) {
	if err := checkLength(f, c.Text); err != nil {
		return nil, err
	}

	var out struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	var err error
	if c.ImageURL != "" {
		body := map[string]string{"url": c.ImageURL, "caption": c.Text}
		_, err = f.api.do(ctx, http.MethodPost, "/"+acct.ExternalID+"/photos", acct.AccessToken, body, &out)
	} else {
		body := map[string]string{"message": c.Text}
		_, err = f.api.do(ctx, http.MethodPost, "/"+acct.ExternalID+"/feed", acct.AccessToken, body, &out)
	}
	if err != nil {
		return nil, err
	}

	id := out.PostID
	if id == "" {
		id = out.ID
	}
	return &Result{ExternalID: id, URL: "https://www.facebook.com/" + id}, nil
}

func (f *Facebook) FetchIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	pages, err := listPages(ctx, f.api, token.AccessToken, "id,name,access_token")
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrNoIdentity
	}
	p := pages[0]
	return &Identity{ExternalID: p.ID, DisplayName: p.Name, AccessToken: p.AccessToken}, nil
}

// Instagram publishes through the Graph API container flow on the first
// Instagram business account linked to one of the user's Pages.
type Instagram struct {
	creds config.PlatformCredentials
	api   *apiClient
}

func NewInstagram(creds config.PlatformCredentials, client *http.Client) *Instagram {
	return &Instagram{
		creds: creds,
		api:   &apiClient{platform: models.PlatformInstagram, baseURL: creds.BaseURL, http: client},
	}
}

func (i *Instagram) Name() string   { return models.PlatformInstagram }
func (i *Instagram) MaxLength() int { return instagramMaxLength }
func (i *Instagram) UsesPKCE() bool { return false }

func (i *Instagram) OAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     i.creds.ClientID,
		ClientSecret: i.creds.ClientSecret,
		Endpoint:     facebookEndpoint,
		RedirectURL:  redirectURL,
		Scopes:       []string{"pages_show_list", "instagram_basic", "instagram_content_publish"},
	}
}

func (i *Instagram) Publish(ctx context.Context, acct *models.ConnectedAccount, c Content) (*Result, error) {
	if err := checkLength(i, c.Text); err != nil {
		return nil, err
	}
	if c.ImageURL == "" {
		return nil, ErrImageRequired
	}

	var container struct {
		ID string `json:"id"`
	}
	body := map[string]string{"image_url": c.ImageURL, "caption": c.Text}
	if _, err := i.api.do(ctx, http.MethodPost, "/"+acct.ExternalID+"/media", acct.AccessToken, body, &container); err != nil {
		return nil, err
	}

	var published struct {
		ID string `json:"id"`
	}
	body = map[string]string{"creation_id": container.ID}
	if _, err := i.api.do(ctx, http.MethodPost, "/"+acct.ExternalID+"/media_publish", acct.AccessToken, body, &published); err != nil {
		return nil, err
	}
	return &Result{ExternalID: published.ID}, nil
}

func (i *Instagram) FetchIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	pages, err := listPages(ctx, i.api, token.AccessToken, "name,access_token,instagram_business_account{id,username}")
	if err != nil {
		return nil, err
	}
	for _, p := range pages {
		if p.Instagram == nil || p.Instagram.ID == "" {
			continue
		}
		name := p.Instagram.Username
		if name == "" {
			name = p.Name
		}
		return &Identity{ExternalID: p.Instagram.ID, DisplayName: name, AccessToken: p.AccessToken}, nil
	}
	return nil, ErrNoIdentity
}
