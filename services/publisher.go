package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"postvolve/config"
	"postvolve/logger"
	"postvolve/models"
	"postvolve/platforms"
)

const (
	publishLockTTL = config.PublishLockTTL
	// Tokens expiring within this window are refreshed before use.
	refreshWindow = 5 * time.Minute
)

type PublishStore interface {
	ClaimDuePosts(ctx context.Context, now time.Time, limit int) ([]models.Post, error)
	ClaimPost(ctx context.Context, userID, postID string) (*models.Post, error)
	GetPost(ctx context.Context, userID, postID string) (*models.Post, error)
	RecoverStuckPosts(ctx context.Context, cutoff time.Time) (int64, error)
	TouchPost(ctx context.Context, postID string) error
	ListPlatforms(ctx context.Context, postID string) ([]models.PostPlatform, error)
	UpdatePlatformResult(ctx context.Context, pp *models.PostPlatform) error
	FinishPost(ctx context.Context, postID, status, lastError string, publishedAt *time.Time) error
	InsertPublishLog(ctx context.Context, l models.PublishLog) error
	GetAccount(ctx context.Context, userID, platform string) (*models.ConnectedAccount, error)
	UpdateAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error
	SetAccountStatus(ctx context.Context, id, status string) error
}

// FailureNotifier is told about posts that ended failed or partial.
type FailureNotifier interface {
	PostFailed(ctx context.Context, post *models.Post, status string, failures []string)
}

type PublishConfig struct {
	BatchSize   int
	MaxAttempts int
	StuckAfter  time.Duration
}

type RunSummary struct {
	Processed int   `json:"processed"`
	Posted    int   `json:"posted"`
	Partial   int   `json:"partial"`
	Failed    int   `json:"failed"`
	Retrying  int   `json:"retrying"`
	Recovered int64 `json:"recovered"`
	Skipped   bool  `json:"skipped"`
}

func (s *RunSummary) add(status string) {
	s.Processed++
	switch status {
	case models.PostStatusPosted:
		s.Posted++
	case models.PostStatusPartial:
		s.Partial++
	case models.PostStatusFailed:
		s.Failed++
	case models.PostStatusScheduled:
		s.Retrying++
	}
}

// Publisher claims due posts and sends each to its target platforms.
type Publisher struct {
	store    PublishStore
	registry *platforms.Registry
	locker   Locker
	notifier FailureNotifier
	events   EventPublisher
	cfg      PublishConfig
	now      func() time.Time
}

func NewPublisher(st PublishStore, reg *platforms.Registry, locker Locker, notifier FailureNotifier, events EventPublisher, cfg PublishConfig) *Publisher {
	if events == nil {
		events = NopEvents{}
	}
	return &Publisher{
		store:    st,
		registry: reg,
		locker:   locker,
		notifier: notifier,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
	}
}

// RunDue publishes one batch of due posts. A run that finds the lock held
// returns a skipped summary.
func (p *Publisher) RunDue(ctx context.Context) (*RunSummary, error) {
	release, ok, err := p.locker.Acquire(ctx, PublishLockKey, publishLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire publish lock: %w", err)
	}
	if !ok {
		logger.Info("publish run skipped, lock held")
		return &RunSummary{Skipped: true}, nil
	}
	defer release()

	summary := &RunSummary{}
	if summary.Recovered, err = p.RecoverStuck(ctx); err != nil {
		logger.Error("recover stuck posts", zap.Error(err))
	}

	posts, err := p.store.ClaimDuePosts(ctx, p.now(), p.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	for i := range posts {
		summary.add(p.publishPost(ctx, &posts[i], true))
	}

	logger.Info("publish run finished",
		zap.Int("processed", summary.Processed),
		zap.Int("posted", summary.Posted),
		zap.Int("partial", summary.Partial),
		zap.Int("failed", summary.Failed),
		zap.Int("retrying", summary.Retrying),
		zap.Int64("recovered", summary.Recovered))
	return summary, nil
}

// PublishNow publishes one of the user's posts immediately. Failures are
// terminal; there is no scheduled retry for a manual publish.
func (p *Publisher) PublishNow(ctx context.Context, userID, postID string) (*models.Post, error) {
	existing, err := p.store.GetPost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	if existing.Status == models.PostStatusPublishing || existing.Status == models.PostStatusPosted {
		return nil, ErrInvalidState
	}

	post, err := p.store.ClaimPost(ctx, userID, postID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}

	p.publishPost(ctx, post, false)
	return p.store.GetPost(ctx, userID, postID)
}

// publishPost dispatches every non-posted child of a claimed post, then
// reconciles the post status. It returns the status the post was left in.
func (p *Publisher) publishPost(ctx context.Context, post *models.Post, retry bool) string {
	children, err := p.store.ListPlatforms(ctx, post.ID)
	if err != nil {
		logger.Error("load post platforms", zap.String("post_id", post.ID), zap.Error(err))
		status := models.PostStatusFailed
		if retry && post.Attempts < p.cfg.MaxAttempts {
			status = models.PostStatusScheduled
		}
		p.finish(ctx, post, status, []string{err.Error()}, nil)
		return status
	}

	for i := range children {
		if children[i].Status == models.PlatformStatusPosted {
			continue
		}
		// The claim time alone would let a long batch look stuck to recovery.
		if err := p.store.TouchPost(ctx, post.ID); err != nil {
			logger.Warn("touch post", zap.String("post_id", post.ID), zap.Error(err))
		}
		p.dispatch(ctx, post, &children[i])
	}

	status := reconcile(children, retry && post.Attempts < p.cfg.MaxAttempts)

	var failures []string
	for _, c := range children {
		if c.Status == models.PlatformStatusFailed {
			failures = append(failures, c.Platform+": "+c.Error)
		}
	}
	if len(children) == 0 {
		failures = []string{"no target platforms"}
	}
	p.finish(ctx, post, status, failures, children)
	return status
}

// reconcile derives the post status from its children. canRetry leaves a
// post with unposted children in scheduled for the next run.
func reconcile(children []models.PostPlatform, canRetry bool) string {
	if len(children) == 0 {
		return models.PostStatusFailed
	}
	posted := 0
	for _, c := range children {
		if c.Status == models.PlatformStatusPosted {
			posted++
		}
	}
	switch {
	case posted == len(children):
		return models.PostStatusPosted
	case canRetry:
		return models.PostStatusScheduled
	case posted > 0:
		return models.PostStatusPartial
	default:
		return models.PostStatusFailed
	}
}

func (p *Publisher) finish(ctx context.Context, post *models.Post, status string, failures []string, children []models.PostPlatform) {
	var publishedAt *time.Time
	if status == models.PostStatusPosted {
		now := p.now()
		publishedAt = &now
	}
	lastError := strings.Join(failures, "; ")
	if err := p.store.FinishPost(ctx, post.ID, status, lastError, publishedAt); err != nil {
		logger.Error("finish post", zap.String("post_id", post.ID), zap.String("status", status), zap.Error(err))
		return
	}
	post.Status = status
	post.LastError = lastError
	post.PublishedAt = publishedAt

	names := make([]string, 0, len(children))
	for _, c := range children {
		names = append(names, c.Platform)
	}
	ev := PostEvent{PostID: post.ID, UserID: post.UserID, Status: status, Error: lastError, Platforms: names, At: p.now()}

	switch status {
	case models.PostStatusPosted:
		if err := p.events.Publish(ctx, SubjectPostPublished, ev); err != nil {
			logger.Warn("publish event", zap.String("subject", SubjectPostPublished), zap.Error(err))
		}
	case models.PostStatusFailed, models.PostStatusPartial:
		if p.notifier != nil {
			p.notifier.PostFailed(ctx, post, status, failures)
		}
		if err := p.events.Publish(ctx, SubjectPostFailed, ev); err != nil {
			logger.Warn("publish event", zap.String("subject", SubjectPostFailed), zap.Error(err))
		}
	}
}

// dispatch publishes one child and records the outcome on it.
func (p *Publisher) dispatch(ctx context.Context, post *models.Post, child *models.PostPlatform) {
	res, err := p.send(ctx, post, child)
	if err != nil {
		child.Status = models.PlatformStatusFailed
		child.Error = err.Error()
		logger.Warn("platform publish failed",
			zap.String("post_id", post.ID), zap.String("platform", child.Platform), zap.Error(err))
	} else {
		now := p.now()
		child.Status = models.PlatformStatusPosted
		child.ExternalID = res.ExternalID
		child.ExternalURL = res.URL
		child.Error = ""
		child.PostedAt = &now
		logger.Info("platform publish ok",
			zap.String("post_id", post.ID), zap.String("platform", child.Platform), zap.String("external_id", res.ExternalID))
	}

	if err := p.store.UpdatePlatformResult(ctx, child); err != nil {
		logger.Error("save platform result", zap.String("post_id", post.ID), zap.String("platform", child.Platform), zap.Error(err))
	}

	msg := child.ExternalID
	if child.Status == models.PlatformStatusFailed {
		msg = child.Error
	}
	if err := p.store.InsertPublishLog(ctx, models.PublishLog{
		PostID:   post.ID,
		Platform: child.Platform,
		Status:   child.Status,
		Message:  msg,
	}); err != nil {
		logger.Warn("write publish log", zap.String("post_id", post.ID), zap.Error(err))
	}
}

func (p *Publisher) send(ctx context.Context, post *models.Post, child *models.PostPlatform) (*platforms.Result, error) {
	pub, err := p.registry.Get(child.Platform)
	if err != nil {
		return nil, err
	}

	acct, err := p.store.GetAccount(ctx, post.UserID, child.Platform)
	if errors.Is(err, models.ErrNotFound) || (err == nil && acct.Status != models.AccountStatusConnected) {
		return nil, errors.New("account not connected")
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	if err := p.ensureFreshToken(ctx, pub, acct); err != nil {
		p.markExpired(ctx, acct)
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	text := child.Content
	if text == "" {
		text = post.Body
	}
	res, err := pub.Publish(ctx, acct, platforms.Content{Text: text, ImageURL: post.ImageURL})
	if errors.Is(err, platforms.ErrUnauthorized) {
		p.markExpired(ctx, acct)
	}
	return res, err
}

// ensureFreshToken refreshes the account's access token when it expires
// within refreshWindow and a refresh token is on file.
func (p *Publisher) ensureFreshToken(ctx context.Context, pub platforms.Publisher, acct *models.ConnectedAccount) error {
	if acct.RefreshToken == "" || acct.ExpiresAt == nil || acct.ExpiresAt.After(p.now().Add(refreshWindow)) {
		return nil
	}

	// An empty access token forces the token source to refresh.
	src := pub.OAuthConfig("").TokenSource(ctx, &oauth2.Token{RefreshToken: acct.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return err
	}

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = acct.RefreshToken
	}
	var expires *time.Time
	if !tok.Expiry.IsZero() {
		expires = &tok.Expiry
	}
	if err := p.store.UpdateAccountTokens(ctx, acct.ID, tok.AccessToken, refresh, expires); err != nil {
		return fmt.Errorf("save refreshed token: %w", err)
	}

	acct.AccessToken = tok.AccessToken
	acct.RefreshToken = refresh
	acct.ExpiresAt = expires
	logger.Info("refreshed platform token", zap.String("platform", acct.Platform), zap.String("account_id", acct.ID))
	return nil
}

func (p *Publisher) markExpired(ctx context.Context, acct *models.ConnectedAccount) {
	if err := p.store.SetAccountStatus(ctx, acct.ID, models.AccountStatusExpired); err != nil {
		logger.Error("mark account expired", zap.String("account_id", acct.ID), zap.Error(err))
	}
}
