package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"postvolve/logger"
	"postvolve/models"
	"postvolve/platforms"
	"postvolve/store"
)

type NotifyStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type NotifierConfig struct {
	SendGridAPIKey  string
	MailFrom        string
	SlackWebhookURL string
	AppURL          string
}

// Notifier records in-app notifications and fans failures out to email and
// Slack. The notifications row is the source of truth; email and Slack are
// best effort.
type Notifier struct {
	store    NotifyStore
	cfg      NotifierConfig
	sendMail func(m *mail.SGMailV3) error
	http     *http.Client
}

func NewNotifier(st NotifyStore, cfg NotifierConfig) *Notifier {
	n := &Notifier{store: st, cfg: cfg, http: &http.Client{Timeout: 10 * time.Second}}
	if cfg.SendGridAPIKey != "" {
		client := sendgrid.NewSendClient(cfg.SendGridAPIKey)
		n.sendMail = func(m *mail.SGMailV3) error {
			resp, err := client.Send(m)
			if err != nil {
				return err
			}
			if resp.StatusCode >= 400 {
				return fmt.Errorf("sendgrid status %d: %s", resp.StatusCode, resp.Body)
			}
			return nil
		}
	}
	return n
}

// PostFailed reports a post that ended failed or partial.
func (n *Notifier) PostFailed(ctx context.Context, post *models.Post, status string, failures []string) {
	kind := models.NotificationPublishFailed
	headline := fmt.Sprintf("%q could not be published", displayTitle(post))
	if status == models.PostStatusPartial {
		kind = models.NotificationPublishPartial
		headline = fmt.Sprintf("%q was only published to some platforms", displayTitle(post))
	}

	note := &models.Notification{
		UserID:  post.UserID,
		PostID:  post.ID,
		Kind:    kind,
		Message: headline + ": " + strings.Join(failures, "; "),
	}
	if err := n.store.CreateNotification(ctx, note); err != nil {
		logger.Error("save notification", zap.String("post_id", post.ID), zap.Error(err))
		return
	}

	go n.notifySlack(fmt.Sprintf(":rotating_light: PostVolve publish %s\n\nPost: %s\nUser: %s\nAttempts: %d\n\n%s",
		status, post.ID, post.UserID, post.Attempts, strings.Join(failures, "\n")))

	n.emailUser(ctx, post.UserID, "[PostVolve] "+headline, fmt.Sprintf(`%s.

WHAT WENT WRONG:
%s

Attempts: %d

Open your dashboard to retry or edit the post:
%s/dashboard/posts/%s`, headline, strings.Join(failures, "\n"), post.Attempts, n.cfg.AppURL, post.ID))
}

// PostGenerated tells the owner a new AI post is waiting.
func (n *Notifier) PostGenerated(ctx context.Context, post *models.Post) {
	msg := fmt.Sprintf("New %s post generated: %q", post.Category, displayTitle(post))
	if post.Status == models.PostStatusScheduled && post.ScheduledAt != nil {
		msg += " (scheduled for " + post.ScheduledAt.UTC().Format(time.RFC3339) + ")"
	}
	note := &models.Notification{UserID: post.UserID, PostID: post.ID, Kind: models.NotificationGenerated, Message: msg}
	if err := n.store.CreateNotification(ctx, note); err != nil {
		logger.Error("save notification", zap.String("post_id", post.ID), zap.Error(err))
	}
}

func (n *Notifier) emailUser(ctx context.Context, userID, subject, body string) {
	if n.sendMail == nil || n.cfg.MailFrom == "" {
		logger.Debug("email skipped, sendgrid not configured")
		return
	}
	user, err := n.store.GetUser(ctx, userID)
	if err != nil {
		logger.Warn("email skipped, user lookup failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if user.Email == "" || user.Email == store.SystemEmail {
		return
	}

	from := mail.NewEmail("PostVolve", n.cfg.MailFrom)
	to := mail.NewEmail("", user.Email)
	if err := n.sendMail(mail.NewSingleEmail(from, subject, to, body, "")); err != nil {
		logger.Warn("send email", zap.String("user_id", userID), zap.Error(err))
	}
}

func (n *Notifier) notifySlack(text string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("slack panic recovered", zap.Any("panic", r))
		}
	}()

	if n.cfg.SlackWebhookURL == "" {
		return
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		logger.Warn("marshal slack payload", zap.Error(err))
		return
	}

	resp, err := n.http.Post(n.cfg.SlackWebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		logger.Warn("slack request", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		logger.Warn("slack api error", zap.Int("status", resp.StatusCode))
	}
}

func displayTitle(p *models.Post) string {
	if p.Title != "" {
		return p.Title
	}
	return platforms.Truncate(p.Body, 40)
}
