// Package notify delivers operator alerts to chat channels. Alerts are
// filtered by event so operators only receive the classes they subscribed to.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Alert events.
const (
	EventIssuanceFailed      = "issuance_failed"
	EventSettlementFailed    = "settlement_failed"
	EventSettlementTimeout   = "settlement_timeout"
	EventDistributionCreated = "distribution_created"
	EventArchiveFailed       = "archive_failed"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// AlertSender is implemented by channels that can render an Alert's fields
// natively instead of as a text body.
type AlertSender interface {
	SendAlert(ctx context.Context, a Alert) error
}

// Alert is a structured operator notification.
type Alert struct {
	Event  string
	Title  string
	Entity string
	ID     string
	Fields map[string]string
}

// Message renders the alert body: the entity line followed by the fields in
// key order.
func (a Alert) Message() string {
	var b strings.Builder
	if a.Entity != "" {
		fmt.Fprintf(&b, "%s %s\n", a.Entity, a.ID)
	}
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, a.Fields[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

// Notifier dispatches alerts to every sender. Only events in the allowed set
// are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders and event filter.
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

// Alert sends a if its event passes the filter.
func (n *Notifier) Alert(ctx context.Context, a Alert) error {
	if len(n.events) > 0 && !n.events[a.Event] {
		n.logger.DebugContext(ctx, "notifier: event filtered out",
			slog.String("event", a.Event),
		)
		return nil
	}
	return n.dispatch(ctx, a.Title, func(s Sender) error {
		if as, ok := s.(AlertSender); ok {
			return as.SendAlert(ctx, a)
		}
		return s.Send(ctx, a.Title, a.Message())
	})
}

// NotifyAll sends a message to all senders regardless of event.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, func(s Sender) error {
		return s.Send(ctx, title, message)
	})
}

// dispatch delivers to every sender. One failing sender does not stop the
// rest; failures are combined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, title string, send func(Sender) error) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := send(s); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notifier: alert sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
