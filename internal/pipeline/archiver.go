// Package pipeline runs background batch jobs over the ledger history.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/proptoken/internal/domain"
	"github.com/alanyoungcy/proptoken/internal/notify"
)

// Alerter delivers operator alerts.
type Alerter interface {
	Alert(ctx context.Context, a notify.Alert) error
}

// ArchiveResult counts the rows copied by one run.
type ArchiveResult struct {
	Cutoff        time.Time `json:"cutoff"`
	Transactions  int64     `json:"transactions"`
	Distributions int64     `json:"distributions"`
}

// Archiver copies settled history older than the retention window to cold
// storage on a fixed interval.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	interval      time.Duration
	alerts        Alerter
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithAlerter reports failed runs to operators.
func (a *Archiver) WithAlerter(al Alerter) *Archiver {
	a.alerts = al
	return a
}

// RunOnce archives transactions and distributions created before the
// retention cutoff.
func (a *Archiver) RunOnce(ctx context.Context) (ArchiveResult, error) {
	res := ArchiveResult{Cutoff: a.now().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)}
	a.logger.InfoContext(ctx, "archiver: run started",
		slog.Time("cutoff", res.Cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	var err error
	if res.Transactions, err = a.blobArchiver.ArchiveTransactions(ctx, res.Cutoff); err != nil {
		return res, fmt.Errorf("archiver: transactions before %s: %w", res.Cutoff.Format(time.DateOnly), err)
	}
	if res.Distributions, err = a.blobArchiver.ArchiveDistributions(ctx, res.Cutoff); err != nil {
		return res, fmt.Errorf("archiver: distributions before %s: %w", res.Cutoff.Format(time.DateOnly), err)
	}

	a.logger.InfoContext(ctx, "archiver: run complete",
		slog.Int64("transactions", res.Transactions),
		slog.Int64("distributions", res.Distributions),
	)
	return res, nil
}

// Run archives once at start and then every interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if _, err := a.RunOnce(ctx); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "archiver: run failed", slog.String("error", err.Error()))
			if a.alerts != nil {
				if alertErr := a.alerts.Alert(ctx, notify.Alert{
					Event:  notify.EventArchiveFailed,
					Title:  "Archive run failed",
					Fields: map[string]string{"error": err.Error()},
				}); alertErr != nil {
					a.logger.WarnContext(ctx, "archiver: alert failed", slog.String("error", alertErr.Error()))
				}
			}
		}

		select {
		case <-ctx.Done():
			a.logger.InfoContext(ctx, "archiver: stopped")
			return nil
		case <-ticker.C:
		}
	}
}
