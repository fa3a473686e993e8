package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"postvolve/logger"
	"postvolve/models"
	"postvolve/platforms"
)

const generateLockTTL = 10 * time.Minute

type GenerateStore interface {
	ListAutoSchedules(ctx context.Context) ([]models.GenerationSchedule, error)
	MarkGenerated(ctx context.Context, id string, localDate time.Time) error
	CountGeneratedSince(ctx context.Context, userID string, since time.Time) (int, error)
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	CreatePost(ctx context.Context, p *models.Post) error
}

// GeneratedNotifier is told about every post the generator creates.
type GeneratedNotifier interface {
	PostGenerated(ctx context.Context, post *models.Post)
}

type GenerateSummary struct {
	Checked   int  `json:"checked"`
	Generated int  `json:"generated"`
	Limited   int  `json:"limited"`
	Failed    int  `json:"failed"`
	Skipped   bool `json:"skipped"`
}

type GenerateInput struct {
	Category  string   `json:"category" binding:"required,max=200"`
	Tone      string   `json:"tone" binding:"max=100"`
	Platforms []string `json:"platforms" binding:"required,min=1,dive,platform"`
	ImageURL  string   `json:"image_url" binding:"omitempty,url"`
}

// Generator creates AI posts from generation schedules.
type Generator struct {
	store    GenerateStore
	ai       ContentGenerator
	registry *platforms.Registry
	locker   Locker
	notifier GeneratedNotifier
	lead     time.Duration
	now      func() time.Time
}

// NewGenerator builds a Generator. A nil ai makes every generation fail with
// ErrGenerationOff.
func NewGenerator(st GenerateStore, ai ContentGenerator, reg *platforms.Registry, locker Locker, notifier GeneratedNotifier, lead time.Duration) *Generator {
	return &Generator{
		store:    st,
		ai:       ai,
		registry: reg,
		locker:   locker,
		notifier: notifier,
		lead:     lead,
		now:      time.Now,
	}
}

// RunDaily generates one post for every auto schedule that is due.
func (g *Generator) RunDaily(ctx context.Context) (*GenerateSummary, error) {
	if g.ai == nil {
		return nil, ErrGenerationOff
	}
	release, ok, err := g.locker.Acquire(ctx, GenerateLockKey, generateLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire generate lock: %w", err)
	}
	if !ok {
		logger.Info("generate run skipped, lock held")
		return &GenerateSummary{Skipped: true}, nil
	}
	defer release()

	schedules, err := g.store.ListAutoSchedules(ctx)
	if err != nil {
		return nil, err
	}

	summary := &GenerateSummary{}
	now := g.now()
	for i := range schedules {
		s := &schedules[i]
		summary.Checked++

		slot, err := dueSlot(s, now, g.lead)
		if err != nil {
			logger.Warn("bad generation schedule", zap.String("schedule_id", s.ID), zap.Error(err))
			summary.Failed++
			continue
		}
		if slot == nil {
			continue
		}

		switch err := g.generateForSchedule(ctx, s, slot, now); {
		case errors.Is(err, ErrLimitReached):
			summary.Limited++
		case err != nil:
			summary.Failed++
			logger.Error("generate post", zap.String("schedule_id", s.ID), zap.String("user_id", s.UserID), zap.Error(err))
		default:
			summary.Generated++
		}
	}

	logger.Info("generate run finished",
		zap.Int("checked", summary.Checked),
		zap.Int("generated", summary.Generated),
		zap.Int("limited", summary.Limited),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// slot is a schedule's posting occasion on one local day.
type slot struct {
	date      time.Time // local midnight
	postingAt time.Time
}

// dueSlot returns today's slot when s should generate now, or nil.
func dueSlot(s *models.GenerationSchedule, now time.Time, lead time.Duration) (*slot, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", s.Timezone, err)
	}
	hour, minute, err := parseClock(s.PostingTime)
	if err != nil {
		return nil, err
	}

	local := now.In(loc)
	if !containsDay(s.Weekdays, int(local.Weekday())) {
		return nil, nil
	}

	y, m, d := local.Date()
	sl := &slot{
		date:      time.Date(y, m, d, 0, 0, 0, 0, loc),
		postingAt: time.Date(y, m, d, hour, minute, 0, 0, loc),
	}
	if local.Before(sl.postingAt.Add(-lead)) {
		return nil, nil
	}
	if s.LastGeneratedOn != nil && s.LastGeneratedOn.Format("2006-01-02") == sl.date.Format("2006-01-02") {
		return nil, nil
	}
	return sl, nil
}

func parseClock(v string) (int, int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, fmt.Errorf("posting time %q: want HH:MM", v)
	}
	return t.Hour(), t.Minute(), nil
}

func containsDay(days []int, d int) bool {
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}

func (g *Generator) generateForSchedule(ctx context.Context, s *models.GenerationSchedule, sl *slot, now time.Time) error {
	if err := g.checkDailyLimit(ctx, s.UserID, sl.date); err != nil {
		if errors.Is(err, ErrLimitReached) {
			g.markGenerated(ctx, s, sl.date)
		}
		return err
	}

	post, err := g.generate(ctx, s.UserID, GenerateInput{Category: s.Category, Tone: s.Tone, Platforms: s.Platforms})
	if err != nil {
		return err
	}
	if s.AutoPublish {
		at := sl.postingAt
		if at.Before(now) {
			at = now
		}
		at = at.UTC()
		post.Status = models.PostStatusScheduled
		post.ScheduledAt = &at
	}

	if err := g.store.CreatePost(ctx, post); err != nil {
		return fmt.Errorf("save generated post: %w", err)
	}
	g.markGenerated(ctx, s, sl.date)
	if g.notifier != nil {
		g.notifier.PostGenerated(ctx, post)
	}
	logger.Info("generated post", zap.String("post_id", post.ID), zap.String("schedule_id", s.ID), zap.String("status", post.Status))
	return nil
}

func (g *Generator) markGenerated(ctx context.Context, s *models.GenerationSchedule, date time.Time) {
	if err := g.store.MarkGenerated(ctx, s.ID, date); err != nil {
		logger.Error("mark schedule generated", zap.String("schedule_id", s.ID), zap.Error(err))
	}
}

// GenerateNow creates a draft for the user immediately, under the same daily
// limit as the scheduled runs. The day is counted in UTC.
func (g *Generator) GenerateNow(ctx context.Context, userID string, in GenerateInput) (*models.Post, error) {
	if g.ai == nil {
		return nil, ErrGenerationOff
	}
	y, m, d := g.now().UTC().Date()
	if err := g.checkDailyLimit(ctx, userID, time.Date(y, m, d, 0, 0, 0, 0, time.UTC)); err != nil {
		return nil, err
	}

	post, err := g.generate(ctx, userID, in)
	if err != nil {
		return nil, err
	}
	post.ImageURL = in.ImageURL
	if err := g.store.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("save generated post: %w", err)
	}
	return post, nil
}

func (g *Generator) checkDailyLimit(ctx context.Context, userID string, since time.Time) error {
	sub, err := g.store.GetSubscription(ctx, userID)
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	used, err := g.store.CountGeneratedSince(ctx, userID, since)
	if err != nil {
		return fmt.Errorf("count generated posts: %w", err)
	}
	if limit := LimitsFor(sub.Plan).DailyPosts; used >= limit {
		return fmt.Errorf("%w: %d of %d posts generated today", ErrLimitReached, used, limit)
	}
	return nil
}

// generate asks the model for content and shapes it into a draft post.
func (g *Generator) generate(ctx context.Context, userID string, in GenerateInput) (*models.Post, error) {
	limits := make(map[string]int, len(in.Platforms))
	for _, name := range in.Platforms {
		if n := g.registry.MaxLength(name); n > 0 {
			limits[name] = n
		}
	}
	if len(limits) == 0 {
		return nil, errors.New("no known target platforms")
	}

	content, err := g.ai.Generate(ctx, GenerateRequest{Category: in.Category, Tone: in.Tone, Limits: limits})
	if err != nil {
		return nil, err
	}

	post := &models.Post{
		UserID:   userID,
		Title:    strings.TrimSpace(content.Title),
		Body:     strings.TrimSpace(content.Body),
		Category: in.Category,
		Source:   models.SourceAI,
		Status:   models.PostStatusDraft,
	}
	for _, name := range in.Platforms {
		limit, ok := limits[name]
		if !ok {
			continue
		}
		text := strings.TrimSpace(content.Variants[name])
		if text == "" {
			text = post.Body
		}
		post.Platforms = append(post.Platforms, models.PostPlatform{
			Platform: name,
			Content:  platforms.Truncate(text, limit),
			Status:   models.PlatformStatusPending,
		})
	}
	return post, nil
}
