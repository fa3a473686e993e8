package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"postvolve/logger"
	"postvolve/models"
	"postvolve/platforms"
)

const (
	oauthStateTTL    = 10 * time.Minute
	oauthStatePrefix = "oauth:state:"
)

type AccountStore interface {
	GetAccount(ctx context.Context, userID, platform string) (*models.ConnectedAccount, error)
	CountAccounts(ctx context.Context, userID string) (int, error)
	UpsertAccount(ctx context.Context, a *models.ConnectedAccount) error
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
}

type oauthState struct {
	UserID   string `json:"user_id"`
	Platform string `json:"platform"`
	Verifier string `json:"verifier,omitempty"`
}

// OAuth runs the connect-account flows. Pending states live in Redis and are
// consumed exactly once.
type OAuth struct {
	rdb      *redis.Client
	registry *platforms.Registry
	store    AccountStore
	apiURL   string
}

func NewOAuth(rdb *redis.Client, reg *platforms.Registry, st AccountStore, apiURL string) *OAuth {
	return &OAuth{rdb: rdb, registry: reg, store: st, apiURL: apiURL}
}

func (o *OAuth) redirectURL(platform string) string {
	return o.apiURL + "/api/oauth/" + platform + "/callback"
}

// ConnectURL starts a connect flow and returns the provider authorization URL.
func (o *OAuth) ConnectURL(ctx context.Context, userID, platform string) (string, error) {
	pub, err := o.registry.Get(platform)
	if err != nil {
		return "", err
	}

	st := oauthState{UserID: userID, Platform: platform}
	var opts []oauth2.AuthCodeOption
	if pub.UsesPKCE() {
		st.Verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(st.Verifier))
	}

	data, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	state := oauth2.GenerateVerifier()
	if err := o.rdb.Set(ctx, oauthStatePrefix+state, data, oauthStateTTL).Err(); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}

	return pub.OAuthConfig(o.redirectURL(platform)).AuthCodeURL(state, opts...), nil
}

// Callback completes a connect flow and stores the connected account.
func (o *OAuth) Callback(ctx context.Context, platform, code, state string) (*models.ConnectedAccount, error) {
	if state == "" || code == "" {
		return nil, ErrInvalidOAuthState
	}
	raw, err := o.rdb.GetDel(ctx, oauthStatePrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrInvalidOAuthState
	}
	if err != nil {
		return nil, fmt.Errorf("load oauth state: %w", err)
	}

	var st oauthState
	if err := json.Unmarshal(raw, &st); err != nil || st.Platform != platform {
		return nil, ErrInvalidOAuthState
	}

	pub, err := o.registry.Get(platform)
	if err != nil {
		return nil, err
	}

	var opts []oauth2.AuthCodeOption
	if st.Verifier != "" {
		opts = append(opts, oauth2.VerifierOption(st.Verifier))
	}
	tok, err := pub.OAuthConfig(o.redirectURL(platform)).Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("exchange %s code: %w", platform, err)
	}

	ident, err := pub.FetchIdentity(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("fetch %s identity: %w", platform, err)
	}

	if err := o.checkAccountLimit(ctx, st.UserID, platform); err != nil {
		return nil, err
	}

	acct := &models.ConnectedAccount{
		UserID:       st.UserID,
		Platform:     platform,
		ExternalID:   ident.ExternalID,
		DisplayName:  ident.DisplayName,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Status:       models.AccountStatusConnected,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		acct.ExpiresAt = &exp
	}
	if ident.AccessToken != "" {
		// Page tokens derived from the user grant do not expire and are not refreshed.
		acct.AccessToken = ident.AccessToken
		acct.RefreshToken = ""
		acct.ExpiresAt = nil
	}

	if err := o.store.UpsertAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("save account: %w", err)
	}
	logger.Info("account connected", zap.String("user_id", acct.UserID), zap.String("platform", platform),
		zap.String("external_id", acct.ExternalID))
	return acct, nil
}

// checkAccountLimit allows reconnecting an existing platform, and a new one
// only while the plan has room.
func (o *OAuth) checkAccountLimit(ctx context.Context, userID, platform string) error {
	_, err := o.store.GetAccount(ctx, userID, platform)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	sub, err := o.store.GetSubscription(ctx, userID)
	if err != nil {
		return err
	}
	n, err := o.store.CountAccounts(ctx, userID)
	if err != nil {
		return err
	}
	if !AllowsAnotherAccount(sub.Plan, n) {
		return fmt.Errorf("%w: %s plan allows %d connected accounts", ErrLimitReached, sub.Plan, LimitsFor(sub.Plan).Accounts)
	}
	return nil
}
