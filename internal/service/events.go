package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/proptoken/internal/domain"
	"github.com/alanyoungcy/proptoken/internal/notify"
)

// Alerter delivers operator alerts.
type Alerter interface {
	Alert(ctx context.Context, a notify.Alert) error
}

// sideEffects bundles the best-effort outputs every service writes after a
// state change. Failures are logged and never fail the operation.
type sideEffects struct {
	bus       domain.SignalBus
	audit     domain.AuditStore
	alerts    Alerter
	logger    *slog.Logger
	component string
}

func (e sideEffects) publish(ctx context.Context, channel string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.WarnContext(ctx, e.component+": marshal event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.bus.Publish(ctx, channel, data); err != nil {
		e.logger.WarnContext(ctx, e.component+": publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (e sideEffects) stream(ctx context.Context, stream string, payload any) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err == nil {
		err = e.bus.StreamAppend(ctx, stream, data)
	}
	if err != nil {
		e.logger.WarnContext(ctx, e.component+": stream append failed",
			slog.String("stream", stream),
			slog.String("error", err.Error()),
		)
	}
}

func (e sideEffects) record(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, e.component+": audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e sideEffects) alert(ctx context.Context, a notify.Alert) {
	if e.alerts == nil {
		return
	}
	if err := e.alerts.Alert(ctx, a); err != nil {
		e.logger.WarnContext(ctx, e.component+": alert failed",
			slog.String("event", a.Event),
			slog.String("error", err.Error()),
		)
	}
}
