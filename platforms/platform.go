// Package platforms wraps the posting APIs of the social networks PostVolve
// publishes to.
package platforms

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/oauth2"

	"postvolve/config"
	"postvolve/models"
)

var (
	ErrContentTooLong = errors.New("content exceeds platform limit")
	ErrImageRequired  = errors.New("platform requires an image")
	ErrUnauthorized   = errors.New("platform rejected access token")
	ErrNoIdentity     = errors.New("no publishable identity on this account")
	ErrUnknown        = errors.New("unknown platform")
)

// APIError is a non-2xx answer from a platform API.
type APIError struct {
	Platform string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api: status %d: %s", e.Platform, e.Status, e.Message)
}

type Content struct {
	Text     string
	ImageURL string
}

type Result struct {
	ExternalID string
	URL        string
}

// Identity is who the OAuth grant lets us post as. AccessToken overrides the
// user token when the platform posts with a derived one (Facebook pages).
type Identity struct {
	ExternalID  string
	DisplayName string
	AccessToken string
}

type Publisher interface {
	Name() string
	MaxLength() int
	Publish(ctx context.Context, acct *models.ConnectedAccount, c Content) (*Result, error)
	FetchIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error)
	OAuthConfig(redirectURL string) *oauth2.Config
	UsesPKCE() bool
}

// Registry resolves publishers by platform name.
type Registry struct {
	byName map[string]Publisher
}

func NewRegistry(pubs ...Publisher) *Registry {
	r := &Registry{byName: make(map[string]Publisher, len(pubs))}
	for _, p := range pubs {
		r.byName[p.Name()] = p
	}
	return r
}

// NewDefaultRegistry wires all four networks from configuration.
func NewDefaultRegistry(cfg *config.Config) *Registry {
	client := newHTTPClient()
	return NewRegistry(
		NewLinkedIn(cfg.LinkedIn, client),
		NewX(cfg.X, client),
		NewFacebook(cfg.Facebook, client),
		NewInstagram(cfg.Instagram, client),
	)
}

func (r *Registry) Get(name string) (Publisher, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return p, nil
}

// MaxLength returns the character limit for name, or 0 when unknown.
func (r *Registry) MaxLength(name string) int {
	if p, ok := r.byName[name]; ok {
		return p.MaxLength()
	}
	return 0
}

func checkLength(p Publisher, text string) error {
	if n := utf8.RuneCountInString(text); n > p.MaxLength() {
		return fmt.Errorf("%w: %s allows %d characters, got %d", ErrContentTooLong, p.Name(), p.MaxLength(), n)
	}
	return nil
}

// Truncate cuts text to at most limit runes, ending in an ellipsis when cut.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}
