package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sakif/revtrack/internal/mail"
	"github.com/sakif/revtrack/internal/model"
)

// streamPublisher is the part of nats.JetStreamContext the publisher uses.
type streamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// JetStream publishes activity events to a NATS JetStream stream.
type JetStream struct {
	nc     *nats.Conn
	js     streamPublisher
	logger *slog.Logger
	now    func() time.Time
}

// NewJetStream connects to url and makes sure the activity stream exists.
func NewJetStream(ctx context.Context, url string, logger *slog.Logger) (*JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("revtrack"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connecting to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("events: getting JetStream context: %w", err)
	}

	if err := ensureStream(ctx, js); err != nil {
		nc.Close()
		return nil, err
	}

	return &JetStream{nc: nc, js: js, logger: logger, now: time.Now}, nil
}

func ensureStream(ctx context.Context, js nats.JetStreamContext) error {
	if info, err := js.StreamInfo(StreamName, nats.Context(ctx)); err == nil && info != nil {
		return nil
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{StreamSubjects},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     30 * 24 * time.Hour,
	}, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil
		}
		return fmt.Errorf("events: creating stream %s: %w", StreamName, err)
	}
	return nil
}

// PublishSyncedActivity announces one inserted activity.
func (p *JetStream) PublishSyncedActivity(ctx context.Context, provider mail.ProviderName, a *model.Activity) error {
	env, err := NewActivitySynced(provider, a, p.now())
	if err != nil {
		return err
	}
	if _, err := p.js.Publish(env.Subject, env.Payload, nats.MsgId(env.MsgID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("events: publishing %s: %w", env.Subject, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (p *JetStream) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.logger.Warn("nats drain failed", slog.String("error", err.Error()))
		p.nc.Close()
	}
}

// Nop discards every event. It is used when no NATS URL is configured.
type Nop struct{}

func (Nop) PublishSyncedActivity(context.Context, mail.ProviderName, *model.Activity) error {
	return nil
}
