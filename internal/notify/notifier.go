// Package notify forwards exchange events to operator chat channels. Each
// Notifier fans out to its senders and filters by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify only
// forwards event types in the allowed set; NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event
// type.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends to all senders if event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	return errors.Join(errs...)
}

// Describe renders an exchange event as a notification title and body.
func Describe(ev domain.Event) (title, message string) {
	switch e := ev.(type) {
	case domain.CreditMinted:
		return "Credit minted", fmt.Sprintf("%s (%s, vintage %d, %d t) minted to %s",
			e.AssetID, e.ProjectName, e.VintageYear, e.MetricTons, e.Owner.Hex())
	case domain.ListingCreated:
		return "Listing created", fmt.Sprintf("%s listed by %s for %d", e.AssetID, e.Owner.Hex(), e.Price)
	case domain.ListingCancelled:
		return "Listing cancelled", fmt.Sprintf("%s withdrawn by %s", e.AssetID, e.Owner.Hex())
	case domain.SaleCompleted:
		return "Sale completed", fmt.Sprintf("%s sold by %s to %s for %d",
			e.AssetID, e.Seller.Hex(), e.Buyer.Hex(), e.Price)
	case domain.CreditRetired:
		return "Credit retired", fmt.Sprintf("%s retired by %s for %s", e.AssetID, e.Owner.Hex(), e.Beneficiary)
	default:
		return string(ev.Type()), ev.Asset()
	}
}
