package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/carbonex/internal/domain"
	"github.com/alanyoungcy/carbonex/internal/notify"
)

// Bus names for exchange events.
const (
	EventChannelPrefix = "ch:exchange:"
	EventChannelAll    = EventChannelPrefix + "*"
	EventStream        = "stream:exchange"
)

// Notifier forwards an event summary to operators.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Publisher is the production domain.EventSink: each event goes to its bus
// channel, the durable event stream and the operator notifier.
type Publisher struct {
	bus      domain.SignalBus
	notifier Notifier
	logger   *slog.Logger
}

// NewPublisher creates a Publisher. notifier may be nil.
func NewPublisher(bus domain.SignalBus, notifier Notifier, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "publisher")),
	}
}

// Envelope wraps ev in its wire form with a fresh id.
func Envelope(ev domain.Event) (domain.EventEnvelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("publisher: marshal %s: %w", ev.Type(), err)
	}
	return domain.EventEnvelope{
		ID:         uuid.NewString(),
		Type:       ev.Type(),
		AssetID:    ev.Asset(),
		OccurredAt: ev.OccurredAt(),
		Payload:    payload,
	}, nil
}

// Emit delivers ev to every destination and joins their failures. A failed
// destination does not stop delivery to the others.
func (p *Publisher) Emit(ctx context.Context, ev domain.Event) error {
	env, err := Envelope(ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("publisher: marshal envelope: %w", err)
	}

	var errs []error
	if err := p.bus.Publish(ctx, EventChannelPrefix+string(ev.Type()), data); err != nil {
		errs = append(errs, fmt.Errorf("publisher: publish: %w", err))
	}
	if err := p.bus.StreamAppend(ctx, EventStream, data); err != nil {
		errs = append(errs, fmt.Errorf("publisher: stream append: %w", err))
	}
	if p.notifier != nil {
		title, message := notify.Describe(ev)
		if err := p.notifier.Notify(ctx, string(ev.Type()), title, message); err != nil {
			errs = append(errs, fmt.Errorf("publisher: notify: %w", err))
		}
	}
	p.logger.DebugContext(ctx, "event published",
		slog.String("id", env.ID),
		slog.String("type", string(env.Type)),
		slog.String("asset_id", env.AssetID),
	)
	return errors.Join(errs...)
}

var _ domain.EventSink = (*Publisher)(nil)
