package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postvolve/config"
	"postvolve/models"
	"postvolve/store"
)

const testSecret = "jwt-secret"

type fakeUsers struct {
	ensured map[string]int
	system  *models.User
}

func (f *fakeUsers) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if f.system != nil && email == store.SystemEmail {
		return f.system, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeUsers) EnsureUser(ctx context.Context, id, email string) error {
	if f.ensured == nil {
		f.ensured = map[string]int{}
	}
	f.ensured[id]++
	return nil
}

func signToken(t *testing.T, claims jwt.MapClaims, method jwt.SigningMethod, key any) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func newAuth(t *testing.T, secret string, features config.Features, users UserStore) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(secret, features, users)
	require.NoError(t, err)
	return a
}

func authRouter(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", a.Required(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": UserID(c), "email": UserEmail(c)})
	})
	return r
}

func get(r http.Handler, path string, mod func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if mod != nil {
		mod(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func TestAuth_LoginToken(t *testing.T) {
	users := &fakeUsers{}
	r := authRouter(newAuth(t, testSecret, config.Features{AuthEnabled: true}, users))

	tok := signToken(t, jwt.MapClaims{"user_id": "u1", "email": "a@b.c", "exp": time.Now().Add(time.Hour).Unix()},
		jwt.SigningMethodHS256, []byte(testSecret))

	w := get(r, "/me", bearer(tok))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"u1","email":"a@b.c"}`, w.Body.String())
	assert.Empty(t, users.ensured)
}

func TestAuth_CookieToken(t *testing.T) {
	r := authRouter(newAuth(t, testSecret, config.Features{AuthEnabled: true}, &fakeUsers{}))
	tok := signToken(t, jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(time.Hour).Unix()},
		jwt.SigningMethodHS256, []byte(testSecret))

	w := get(r, "/me", func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: CookieName, Value: tok})
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_SupabaseSubjectMirroredOnce(t *testing.T) {
	users := &fakeUsers{}
	r := authRouter(newAuth(t, testSecret, config.Features{AuthEnabled: true}, users))
	tok := signToken(t, jwt.MapClaims{"sub": "supa-1", "email": "s@b.c", "exp": time.Now().Add(time.Hour).Unix()},
		jwt.SigningMethodHS256, []byte(testSecret))

	for i := 0; i < 3; i++ {
		w := get(r, "/me", bearer(tok))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"id":"supa-1"`)
	}
	assert.Equal(t, 1, users.ensured["supa-1"])
}

func TestAuth_Rejections(t *testing.T) {
	r := authRouter(newAuth(t, testSecret, config.Features{AuthEnabled: true}, &fakeUsers{}))

	expired := signToken(t, jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(-time.Hour).Unix()},
		jwt.SigningMethodHS256, []byte(testSecret))
	wrongKey := signToken(t, jwt.MapClaims{"user_id": "u1"}, jwt.SigningMethodHS256, []byte("other"))
	wrongAlg := signToken(t, jwt.MapClaims{"user_id": "u1"}, jwt.SigningMethodHS512, []byte(testSecret))
	noSubject := signToken(t, jwt.MapClaims{"email": "x@y.z"}, jwt.SigningMethodHS256, []byte(testSecret))

	cases := map[string]struct {
		mod  func(*http.Request)
		want string
	}{
		"missing":    {nil, "Authentication required"},
		"expired":    {bearer(expired), "Token expired"},
		"wrong key":  {bearer(wrongKey), "Invalid token"},
		"wrong alg":  {bearer(wrongAlg), "Invalid token"},
		"no subject": {bearer(noSubject), "Invalid token claims"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := get(r, "/me", tc.mod)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tc.want)
		})
	}
}

func TestAuth_DisabledUsesSystemUser(t *testing.T) {
	r := authRouter(newAuth(t, testSecret, config.Features{}, &fakeUsers{system: &models.User{ID: "sys-1"}}))

	w := get(r, "/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"sys-1","email":"`+store.SystemEmail+`"}`, w.Body.String())
}

func TestNewAuthenticator_RequiresSecret(t *testing.T) {
	_, err := NewAuthenticator("", config.Features{AuthEnabled: true}, &fakeUsers{})
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = NewAuthenticator("", config.Features{}, &fakeUsers{})
	assert.NoError(t, err, "no secret needed while auth is off")
}

func TestAuth_EmptyKeyNeverVerifies(t *testing.T) {
	a := &Authenticator{features: config.Features{AuthEnabled: true}, users: &fakeUsers{}}
	r := authRouter(a)
	forged := signToken(t, jwt.MapClaims{"user_id": "victim-user"}, jwt.SigningMethodHS256, []byte(""))

	w := get(r, "/me", bearer(forged))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), "victim-user")
}

func TestCronAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/cron", CronAuth("s3cret"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusUnauthorized, get(r, "/cron", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/cron", bearer("nope")).Code)
	assert.Equal(t, http.StatusNoContent, get(r, "/cron", bearer("s3cret")).Code)

	open := gin.New()
	open.GET("/cron", CronAuth(""), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	assert.Equal(t, http.StatusUnauthorized, get(open, "/cron", bearer("")).Code, "empty secret never admits")
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRateLimiter(2).Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	from := func(ip string) func(*http.Request) {
		return func(req *http.Request) { req.RemoteAddr = ip + ":1234" }
	}

	assert.Equal(t, http.StatusOK, get(r, "/", from("10.0.0.1")).Code)
	assert.Equal(t, http.StatusOK, get(r, "/", from("10.0.0.1")).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/", from("10.0.0.1")).Code)
	assert.Equal(t, http.StatusOK, get(r, "/", from("10.0.0.2")).Code, "buckets are per IP")
}

func TestRateLimiter_DropsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(10)
	now := time.Now()
	rl.get("10.0.0.1", now)
	rl.get("10.0.0.2", now.Add(11*time.Minute))

	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "10.0.0.2")
}

func TestValidatorPlatformTag(t *testing.T) {
	require.NoError(t, RegisterValidators())
	type in struct {
		P string `binding:"platform"`
	}
	assert.NoError(t, binding.Validator.ValidateStruct(in{P: models.PlatformLinkedIn}))
	assert.Error(t, binding.Validator.ValidateStruct(in{P: "friendster"}))
}
