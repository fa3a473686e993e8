package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postvolve/models"
	"postvolve/platforms"
)

func TestReconcile(t *testing.T) {
	posted := models.PostPlatform{Status: models.PlatformStatusPosted}
	failed := models.PostPlatform{Status: models.PlatformStatusFailed}

	tests := []struct {
		name     string
		children []models.PostPlatform
		canRetry bool
		want     string
	}{
		{"no children", nil, true, models.PostStatusFailed},
		{"all posted", []models.PostPlatform{posted, posted}, false, models.PostStatusPosted},
		{"all posted ignores retry", []models.PostPlatform{posted}, true, models.PostStatusPosted},
		{"some failed with retry", []models.PostPlatform{posted, failed}, true, models.PostStatusScheduled},
		{"some failed no retry", []models.PostPlatform{posted, failed}, false, models.PostStatusPartial},
		{"all failed no retry", []models.PostPlatform{failed, failed}, false, models.PostStatusFailed},
		{"all failed with retry", []models.PostPlatform{failed}, true, models.PostStatusScheduled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reconcile(tt.children, tt.canRetry))
		})
	}
}

type publisherFixture struct {
	store    *memStore
	li       *fakePlatform
	x        *fakePlatform
	locker   *fakeLocker
	notifier *fakeNotifier
	events   *fakeEvents
	pub      *Publisher
	now      time.Time
}

func newPublisherFixture(maxAttempts int) *publisherFixture {
	f := &publisherFixture{
		store:    newMemStore(),
		li:       &fakePlatform{name: models.PlatformLinkedIn},
		x:        &fakePlatform{name: models.PlatformX, maxLen: 280},
		locker:   &fakeLocker{},
		notifier: &fakeNotifier{},
		events:   &fakeEvents{},
		now:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	f.pub = NewPublisher(f.store, platforms.NewRegistry(f.li, f.x), f.locker, f.notifier, f.events,
		PublishConfig{BatchSize: 10, MaxAttempts: maxAttempts, StuckAfter: 10 * time.Minute})
	f.pub.now = func() time.Time { return f.now }
	f.store.clock = f.pub.now

	f.store.addAccount(models.ConnectedAccount{ID: "a-li", UserID: "u1", Platform: models.PlatformLinkedIn, AccessToken: "li-token"})
	f.store.addAccount(models.ConnectedAccount{ID: "a-x", UserID: "u1", Platform: models.PlatformX, AccessToken: "x-token"})
	return f
}

func (f *publisherFixture) addDue(id string, children ...models.PostPlatform) {
	at := f.now.Add(-time.Minute)
	f.store.addPost(models.Post{ID: id, UserID: "u1", Body: "hello", Status: models.PostStatusScheduled, ScheduledAt: &at}, children...)
}

func TestRunDue_AllPosted(t *testing.T) {
	f := newPublisherFixture(3)
	f.addDue("p1",
		models.PostPlatform{Platform: models.PlatformLinkedIn, Content: "for linkedin"},
		models.PostPlatform{Platform: models.PlatformX})

	summary, err := f.pub.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Posted)
	assert.Equal(t, 1, f.locker.released)

	post := f.store.posts["p1"]
	assert.Equal(t, models.PostStatusPosted, post.Status)
	require.NotNil(t, post.PublishedAt)
	assert.Equal(t, "for linkedin", f.li.published[0].Text)
	assert.Equal(t, "hello", f.x.published[0].Text, "empty variant falls back to body")
	assert.Len(t, f.store.logs, 2)
	assert.Equal(t, []string{SubjectPostPublished}, f.events.subjects)
	assert.Empty(t, f.notifier.failed)

	for _, c := range f.store.children["p1"] {
		assert.Equal(t, models.PlatformStatusPosted, c.Status)
		assert.NotEmpty(t, c.ExternalID)
	}
}

func TestRunDue_LockHeld(t *testing.T) {
	f := newPublisherFixture(3)
	f.locker.held = true
	f.addDue("p1", models.PostPlatform{Platform: models.PlatformX})

	summary, err := f.pub.RunDue(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Skipped)
	assert.Equal(t, models.PostStatusScheduled, f.store.posts["p1"].Status)
}

func TestRunDue_RetryThenPartial(t *testing.T) {
	f := newPublisherFixture(2)
	f.x.err = errors.New("x is down")
	f.addDue("p1",
		models.PostPlatform{Platform: models.PlatformLinkedIn},
		models.PostPlatform{Platform: models.PlatformX})

	summary, err := f.pub.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retrying)
	assert.Equal(t, models.PostStatusScheduled, f.store.posts["p1"].Status)
	assert.Empty(t, f.notifier.failed)

	summary, err = f.pub.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Partial)

	post := f.store.posts["p1"]
	assert.Equal(t, models.PostStatusPartial, post.Status)
	assert.Contains(t, post.LastError, "x: x is down")
	assert.Len(t, f.li.published, 1, "posted child is not sent twice")
	assert.Equal(t, []string{"p1:" + models.PostStatusPartial}, f.notifier.failed)
	assert.Equal(t, SubjectPostFailed, f.events.subjects[len(f.events.subjects)-1])
}

func TestRunDue_MissingAccount(t *testing.T) {
	f := newPublisherFixture(1)
	delete(f.store.accounts, "u1|"+models.PlatformX)
	f.addDue("p1", models.PostPlatform{Platform: models.PlatformX})

	_, err := f.pub.RunDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.PostStatusFailed, f.store.posts["p1"].Status)
	assert.Equal(t, "account not connected", f.store.children["p1"][0].Error)
}

func TestRunDue_UnauthorizedMarksAccountExpired(t *testing.T) {
	f := newPublisherFixture(1)
	f.x.err = errors.Join(platforms.ErrUnauthorized, errors.New("401"))
	f.addDue("p1", models.PostPlatform{Platform: models.PlatformX})

	_, err := f.pub.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusExpired, f.store.accounts["u1|"+models.PlatformX].Status)
}

func TestRunDue_RefreshesExpiringToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh","refresh_token":"new-refresh","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	f := newPublisherFixture(1)
	f.x.tokenURL = srv.URL
	soon := time.Now().Add(time.Minute)
	acct := f.store.accounts["u1|"+models.PlatformX]
	acct.RefreshToken = "old-refresh"
	acct.ExpiresAt = &soon
	f.pub.now = time.Now
	f.addDue("p1", models.PostPlatform{Platform: models.PlatformX})
	past := time.Now().Add(-time.Minute)
	f.store.posts["p1"].ScheduledAt = &past

	_, err := f.pub.RunDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"fresh"}, f.x.tokens)
	acct = f.store.accounts["u1|"+models.PlatformX]
	assert.Equal(t, "fresh", acct.AccessToken)
	assert.Equal(t, "new-refresh", acct.RefreshToken)
	assert.Equal(t, models.PostStatusPosted, f.store.posts["p1"].Status)
}

func TestRunDue_RefreshFailureExpiresAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	f := newPublisherFixture(1)
	f.x.tokenURL = srv.URL
	soon := f.now.Add(time.Minute)
	acct := f.store.accounts["u1|"+models.PlatformX]
	acct.RefreshToken = "revoked"
	acct.ExpiresAt = &soon
	f.addDue("p1", models.PostPlatform{Platform: models.PlatformX})

	_, err := f.pub.RunDue(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.x.tokens, "publish is not attempted")
	assert.Contains(t, f.store.children["p1"][0].Error, "token refresh failed")
	assert.Equal(t, models.AccountStatusExpired, f.store.accounts["u1|"+models.PlatformX].Status)
}

func TestPublishNow(t *testing.T) {
	f := newPublisherFixture(3)
	f.x.err = errors.New("boom")
	f.store.addPost(models.Post{ID: "p1", UserID: "u1", Body: "hi", Status: models.PostStatusDraft},
		models.PostPlatform{Platform: models.PlatformX})

	post, err := f.pub.PublishNow(context.Background(), "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusFailed, post.Status, "manual publish does not retry")
	assert.Equal(t, []string{"p1:" + models.PostStatusFailed}, f.notifier.failed)
}

func TestPublishNow_InvalidState(t *testing.T) {
	f := newPublisherFixture(3)
	f.store.addPost(models.Post{ID: "p1", UserID: "u1", Status: models.PostStatusPosted})
	f.store.addPost(models.Post{ID: "p2", UserID: "u1", Status: models.PostStatusPublishing})

	_, err := f.pub.PublishNow(context.Background(), "u1", "p1")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.pub.PublishNow(context.Background(), "u1", "p2")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.pub.PublishNow(context.Background(), "u2", "p1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunDue_RecoversStuckPost(t *testing.T) {
	f := newPublisherFixture(3)
	f.addDue("p1", models.PostPlatform{Platform: models.PlatformX})
	post := f.store.posts["p1"]
	post.Status = models.PostStatusPublishing
	post.UpdatedAt = f.now.Add(-20 * time.Minute)

	summary, err := f.pub.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Recovered)
	assert.Equal(t, 1, summary.Posted)
	assert.Equal(t, models.PostStatusPosted, f.store.posts["p1"].Status)
	assert.Len(t, f.x.published, 1)
}

func TestRunDue_RecentPublishingNotRecovered(t *testing.T) {
	f := newPublisherFixture(3)
	f.addDue("p1", models.PostPlatform{Platform: models.PlatformX})
	post := f.store.posts["p1"]
	post.Status = models.PostStatusPublishing
	post.UpdatedAt = f.now.Add(-time.Minute)

	summary, err := f.pub.RunDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Recovered)
	assert.Zero(t, summary.Processed)
	assert.Equal(t, models.PostStatusPublishing, f.store.posts["p1"].Status)
	assert.Empty(t, f.x.published)
}

// A batch that outlives StuckAfter must not hand its pending posts to
// another run's recovery.
func TestRunDue_LongBatchNotRecoveredMidRun(t *testing.T) {
	f := newPublisherFixture(3)
	f.addDue("p1", models.PostPlatform{Platform: models.PlatformLinkedIn})
	f.addDue("p2", models.PostPlatform{Platform: models.PlatformX})

	// Whichever post goes first takes 20 minutes; the second one checks
	// what a concurrent run's recovery would see when it starts.
	var calls int
	var recovered []int64
	slow := func() {
		calls++
		if calls == 1 {
			f.now = f.now.Add(20 * time.Minute)
			return
		}
		n, err := f.pub.RecoverStuck(context.Background())
		require.NoError(t, err)
		recovered = append(recovered, n)
	}
	f.li.onPublish = slow
	f.x.onPublish = slow

	summary, err := f.pub.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Posted)
	assert.Equal(t, []int64{0}, recovered)
	assert.Len(t, f.li.published, 1)
	assert.Len(t, f.x.published, 1)
}
