package models

import (
	"time"
)

const (
	PostStatusDraft      = "draft"
	PostStatusScheduled  = "scheduled"
	PostStatusPublishing = "publishing"
	PostStatusPosted     = "posted"
	PostStatusPartial    = "partial"
	PostStatusFailed     = "failed"

	PlatformStatusPending = "pending"
	PlatformStatusPosted  = "posted"
	PlatformStatusFailed  = "failed"

	SourceManual = "manual"
	SourceAI     = "ai"
)

const (
	PlatformLinkedIn  = "linkedin"
	PlatformX         = "x"
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
)

// Platforms lists every network a post can target, in dispatch order.
var Platforms = []string{PlatformLinkedIn, PlatformX, PlatformFacebook, PlatformInstagram}

func IsValidPlatform(p string) bool {
	switch p {
	case PlatformLinkedIn, PlatformX, PlatformFacebook, PlatformInstagram:
		return true
	default:
		return false
	}
}

type Post struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Category    string         `json:"category"`
	ImageURL    string         `json:"image_url,omitempty"`
	Source      string         `json:"source"`
	Status      string         `json:"status"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Platforms   []PostPlatform `json:"platforms,omitempty"`
}

// Editable reports whether the post content may still change.
func (p *Post) Editable() bool {
	switch p.Status {
	case PostStatusDraft, PostStatusScheduled, PostStatusFailed:
		return true
	default:
		return false
	}
}

type PostPlatform struct {
	ID          string     `json:"id"`
	PostID      string     `json:"post_id"`
	Platform    string     `json:"platform"`
	Content     string     `json:"content"`
	Status      string     `json:"status"`
	ExternalID  string     `json:"external_id,omitempty"`
	ExternalURL string     `json:"external_url,omitempty"`
	Error       string     `json:"error,omitempty"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
}

const (
	AccountStatusConnected = "connected"
	AccountStatusExpired   = "expired"
	AccountStatusRevoked   = "revoked"
)

type ConnectedAccount struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Platform     string     `json:"platform"`
	ExternalID   string     `json:"external_id"`
	DisplayName  string     `json:"display_name"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

const (
	LaneAuto   = "auto"
	LaneManual = "manual"
)

type GenerationSchedule struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Category        string     `json:"category"`
	Tone            string     `json:"tone"`
	Platforms       []string   `json:"platforms"`
	PostingTime     string     `json:"posting_time"` // HH:MM, local to Timezone
	Timezone        string     `json:"timezone"`
	Weekdays        []int      `json:"weekdays"` // 0 = Sunday
	Lane            string     `json:"lane"`
	AutoPublish     bool       `json:"auto_publish"`
	Enabled         bool       `json:"enabled"`
	LastGeneratedOn *time.Time `json:"last_generated_on,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type PublishLog struct {
	ID        int64     `json:"id"`
	PostID    string    `json:"post_id"`
	Platform  string    `json:"platform"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	NotificationPublishFailed  = "publish_failed"
	NotificationPublishPartial = "publish_partial"
	NotificationGenerated      = "post_generated"
)

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	PostID    string    `json:"post_id,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// PostCursor marks the last post of a page. Posts are listed newest first,
// with ID breaking ties between equal creation times.
type PostCursor struct {
	CreatedAt time.Time
	ID        string
}
