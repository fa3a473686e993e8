package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"postvolve/models"
	"postvolve/platforms"
)

// memStore is an in-memory stand-in for the Postgres store.
type memStore struct {
	mu            sync.Mutex
	posts         map[string]*models.Post
	children      map[string][]models.PostPlatform
	accounts      map[string]*models.ConnectedAccount // user|platform
	subs          map[string]*models.Subscription
	users         map[string]*models.User
	logs          []models.PublishLog
	notifications []models.Notification
	schedules     []models.GenerationSchedule
	marked        map[string]time.Time
	generated     map[string]int
	events        map[string]bool
	clock         func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		posts:     map[string]*models.Post{},
		children:  map[string][]models.PostPlatform{},
		accounts:  map[string]*models.ConnectedAccount{},
		subs:      map[string]*models.Subscription{},
		users:     map[string]*models.User{},
		marked:    map[string]time.Time{},
		generated: map[string]int{},
		events:    map[string]bool{},
		clock:     time.Now,
	}
}

func (m *memStore) addPost(p models.Post, children ...models.PostPlatform) {
	m.posts[p.ID] = &p
	for i := range children {
		children[i].PostID = p.ID
		if children[i].Status == "" {
			children[i].Status = models.PlatformStatusPending
		}
	}
	m.children[p.ID] = children
}

func (m *memStore) addAccount(a models.ConnectedAccount) {
	if a.Status == "" {
		a.Status = models.AccountStatusConnected
	}
	m.accounts[a.UserID+"|"+a.Platform] = &a
}

func (m *memStore) ClaimDuePosts(ctx context.Context, now time.Time, limit int) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Post
	for _, p := range m.posts {
		if len(out) == limit {
			break
		}
		if p.Status == models.PostStatusScheduled && p.ScheduledAt != nil && !p.ScheduledAt.After(now) {
			p.Status = models.PostStatusPublishing
			p.Attempts++
			p.UpdatedAt = m.clock()
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) ClaimPost(ctx context.Context, userID, postID string) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok || p.UserID != userID {
		return nil, models.ErrNotFound
	}
	switch p.Status {
	case models.PostStatusDraft, models.PostStatusScheduled, models.PostStatusFailed, models.PostStatusPartial:
	default:
		return nil, models.ErrNotFound
	}
	p.Status = models.PostStatusPublishing
	p.Attempts++
	p.UpdatedAt = m.clock()
	cp := *p
	return &cp, nil
}

func (m *memStore) GetPost(ctx context.Context, userID, postID string) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok || p.UserID != userID {
		return nil, models.ErrNotFound
	}
	cp := *p
	cp.Platforms = append([]models.PostPlatform(nil), m.children[postID]...)
	return &cp, nil
}

func (m *memStore) RecoverStuckPosts(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.posts {
		if p.Status == models.PostStatusPublishing && p.UpdatedAt.Before(cutoff) {
			p.Status = models.PostStatusScheduled
			if p.ScheduledAt == nil {
				at := m.clock()
				p.ScheduledAt = &at
			}
			p.UpdatedAt = m.clock()
			n++
		}
	}
	return n, nil
}

func (m *memStore) TouchPost(ctx context.Context, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.posts[postID]; ok && p.Status == models.PostStatusPublishing {
		p.UpdatedAt = m.clock()
	}
	return nil
}

func (m *memStore) ListPlatforms(ctx context.Context, postID string) ([]models.PostPlatform, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PostPlatform(nil), m.children[postID]...), nil
}

func (m *memStore) UpdatePlatformResult(ctx context.Context, pp *models.PostPlatform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.children[pp.PostID] {
		if c.Platform == pp.Platform {
			m.children[pp.PostID][i] = *pp
		}
	}
	return nil
}

func (m *memStore) FinishPost(ctx context.Context, postID, status, lastError string, publishedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.posts[postID]
	p.Status = status
	p.LastError = lastError
	p.PublishedAt = publishedAt
	return nil
}

func (m *memStore) InsertPublishLog(ctx context.Context, l models.PublishLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
	return nil
}

func (m *memStore) GetAccount(ctx context.Context, userID, platform string) (*models.ConnectedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID+"|"+platform]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) accountByID(id string) *models.ConnectedAccount {
	for _, a := range m.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (m *memStore) UpdateAccountTokens(ctx context.Context, id, access, refresh string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accountByID(id)
	a.AccessToken, a.RefreshToken, a.ExpiresAt = access, refresh, expiresAt
	return nil
}

func (m *memStore) SetAccountStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountByID(id).Status = status
	return nil
}

func (m *memStore) CountAccounts(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.accounts {
		if a.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) UpsertAccount(ctx context.Context, a *models.ConnectedAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = "acct-" + a.Platform
	}
	cp := *a
	m.accounts[a.UserID+"|"+a.Platform] = &cp
	return nil
}

func (m *memStore) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[userID]; ok {
		cp := *s
		return &cp, nil
	}
	return &models.Subscription{UserID: userID, Plan: PlanFree, Status: models.SubscriptionActive}, nil
}

func (m *memStore) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	if old, ok := m.subs[sub.UserID]; ok {
		if cp.StripeCustomerID == "" {
			cp.StripeCustomerID = old.StripeCustomerID
		}
		if cp.StripeSubscriptionID == "" {
			cp.StripeSubscriptionID = old.StripeSubscriptionID
		}
	}
	m.subs[sub.UserID] = &cp
	return nil
}

func (m *memStore) FindUserByCustomer(ctx context.Context, customerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.StripeCustomerID == customerID {
			return s.UserID, nil
		}
	}
	return "", models.ErrNotFound
}

func (m *memStore) MarkEventProcessed(ctx context.Context, id, eventType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events[id] {
		return false, nil
	}
	m.events[id] = true
	return true, nil
}

func (m *memStore) UnmarkEvent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, id)
	return nil
}

func (m *memStore) CountGeneratedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generated[userID], nil
}

func (m *memStore) ListAutoSchedules(ctx context.Context) ([]models.GenerationSchedule, error) {
	return m.schedules, nil
}

func (m *memStore) MarkGenerated(ctx context.Context, id string, localDate time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked[id] = localDate
	return nil
}

func (m *memStore) CreatePost(ctx context.Context, p *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = "post-" + p.UserID
	}
	cp := *p
	m.posts[p.ID] = &cp
	m.children[p.ID] = append([]models.PostPlatform(nil), p.Platforms...)
	if p.Source == models.SourceAI {
		m.generated[p.UserID]++
	}
	return nil
}

func (m *memStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *memStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return u, nil
}

// fakePlatform records what it was asked to publish.
type fakePlatform struct {
	name      string
	onPublish func()
	maxLen    int
	err       error
	tokenURL  string
	published []platforms.Content
	tokens    []string
	identity  *platforms.Identity
}

func (f *fakePlatform) Name() string { return f.name }

func (f *fakePlatform) MaxLength() int {
	if f.maxLen == 0 {
		return 1000
	}
	return f.maxLen
}

func (f *fakePlatform) UsesPKCE() bool { return f.name == models.PlatformX }

func (f *fakePlatform) Publish(ctx context.Context, acct *models.ConnectedAccount, c platforms.Content) (*platforms.Result, error) {
	f.tokens = append(f.tokens, acct.AccessToken)
	if f.onPublish != nil {
		f.onPublish()
	}
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, c)
	return &platforms.Result{ExternalID: f.name + "-id", URL: "https://example.com/" + f.name}, nil
}

func (f *fakePlatform) FetchIdentity(ctx context.Context, token *oauth2.Token) (*platforms.Identity, error) {
	if f.identity != nil {
		return f.identity, nil
	}
	return &platforms.Identity{ExternalID: "ext-" + f.name, DisplayName: f.name + " user"}, nil
}

func (f *fakePlatform) OAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://auth.example.com/authorize",
			TokenURL:  f.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

type fakeLocker struct {
	held     bool
	released int
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if l.held {
		return func() {}, false, nil
	}
	return func() { l.released++ }, true, nil
}

type fakeNotifier struct {
	failed    []string
	generated []string
}

func (n *fakeNotifier) PostFailed(ctx context.Context, post *models.Post, status string, failures []string) {
	n.failed = append(n.failed, post.ID+":"+status)
}

func (n *fakeNotifier) PostGenerated(ctx context.Context, post *models.Post) {
	n.generated = append(n.generated, post.ID)
}

type fakeEvents struct {
	subjects []string
}

func (e *fakeEvents) Publish(ctx context.Context, subject string, ev PostEvent) error {
	e.subjects = append(e.subjects, subject)
	return nil
}
