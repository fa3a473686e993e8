package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"postvolve/config"
	"postvolve/logger"
	"postvolve/models"
	"postvolve/platforms"
	"postvolve/services"
	"postvolve/store"
)

// Store is the persistence the HTTP layer reads and writes directly.
type Store interface {
	CreatePost(ctx context.Context, p *models.Post) error
	UpdatePost(ctx context.Context, p *models.Post) error
	GetPost(ctx context.Context, userID, postID string) (*models.Post, error)
	ListPosts(ctx context.Context, userID, status string, before models.PostCursor, limit int) ([]models.Post, error)
	SetPostSchedule(ctx context.Context, userID, postID, status string, at *time.Time) error
	DeletePost(ctx context.Context, userID, postID string) error
	ListPublishLogs(ctx context.Context, postID string, limit int) ([]models.PublishLog, error)

	ListAccounts(ctx context.Context, userID string) ([]models.ConnectedAccount, error)
	DeleteAccount(ctx context.Context, userID, platform string) error

	ListSchedules(ctx context.Context, userID string) ([]models.GenerationSchedule, error)
	GetSchedule(ctx context.Context, userID, id string) (*models.GenerationSchedule, error)
	CreateSchedule(ctx context.Context, g *models.GenerationSchedule) error
	UpdateSchedule(ctx context.Context, g *models.GenerationSchedule) error
	DeleteSchedule(ctx context.Context, userID, id string) error

	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID, id string) (int64, error)

	StatsOverview(ctx context.Context, userID string) (*store.Overview, error)

	CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
}

type PublishService interface {
	RunDue(ctx context.Context) (*services.RunSummary, error)
	PublishNow(ctx context.Context, userID, postID string) (*models.Post, error)
}

type GenerateService interface {
	RunDaily(ctx context.Context) (*services.GenerateSummary, error)
	GenerateNow(ctx context.Context, userID string, in services.GenerateInput) (*models.Post, error)
}

type OAuthService interface {
	ConnectURL(ctx context.Context, userID, platform string) (string, error)
	Callback(ctx context.Context, platform, code, state string) (*models.ConnectedAccount, error)
}

type BillingService interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	Checkout(ctx context.Context, userID, email, plan string) (string, error)
	Portal(ctx context.Context, userID string) (string, error)
	Usage(ctx context.Context, userID string) (*services.Usage, error)
}

type Deps struct {
	Store     Store
	Publisher PublishService
	Generator GenerateService
	OAuth     OAuthService
	Billing   BillingService
	Features  config.Features
	JWTSecret string
	AppURL    string
	Secure    bool
}

type Handler struct {
	store     Store
	publisher PublishService
	generator GenerateService
	oauth     OAuthService
	billing   BillingService
	features  config.Features
	jwtSecret []byte
	appURL    string
	secure    bool
}

func New(d Deps) *Handler {
	return &Handler{
		store:     d.Store,
		publisher: d.Publisher,
		generator: d.Generator,
		oauth:     d.OAuth,
		billing:   d.Billing,
		features:  d.Features,
		jwtSecret: []byte(d.JWTSecret),
		appURL:    d.AppURL,
		secure:    d.Secure,
	}
}

// respondError maps service errors to status codes. Anything unexpected is
// logged, reported and answered with a generic 500.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, models.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Already exists"})
	case errors.Is(err, services.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrLimitReached):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidPlan),
		errors.Is(err, platforms.ErrContentTooLong),
		errors.Is(err, platforms.ErrUnknown):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrBillingDisabled):
		c.JSON(http.StatusNotFound, gin.H{"error": "Billing not enabled"})
	case errors.Is(err, services.ErrGenerationOff):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		} else {
			sentry.CaptureException(err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
