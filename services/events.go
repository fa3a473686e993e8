package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"postvolve/logger"
)

const (
	SubjectPostPublished = "post.published"
	SubjectPostFailed    = "post.failed"
)

type PostEvent struct {
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Platforms []string  `json:"platforms"`
	At        time.Time `json:"at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, subject string, ev PostEvent) error
}

type NatsEvents struct {
	nc *nats.Conn
}

func NewNatsEvents(nc *nats.Conn) *NatsEvents {
	return &NatsEvents{nc: nc}
}

func (p *NatsEvents) Publish(ctx context.Context, subject string, ev PostEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
	return p.nc.PublishMsg(msg)
}

// NopEvents is used when NATS_URL is not set.
type NopEvents struct{}

func (NopEvents) Publish(ctx context.Context, subject string, ev PostEvent) error {
	logger.Debug("event dropped, no broker", zap.String("subject", subject), zap.String("post_id", ev.PostID))
	return nil
}
