package workflow

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/countersignhq/countersign/internal/notify"
	"github.com/countersignhq/countersign/model"
)

// Ledger entries outlive any realistic retry window; they only need to
// survive long enough that a replayed effect still deduplicates.
const defaultLedgerTTL = 30 * 24 * time.Hour

// Dispatcher executes notify effects: it deduplicates waves through the
// ledger, hands them to the notifier, and records sent_at on each submitter.
type Dispatcher struct {
	store    SubmissionStore
	ledger   DispatchLedger
	notifier notify.Notifier
	logger   *zap.Logger
	ttl      time.Duration
	waves    prometheus.Counter
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLedgerTTL overrides how long dispatch records are retained.
func WithLedgerTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.ttl = ttl }
}

// WithWaveCounter wires the counter incremented once per dispatched wave.
func WithWaveCounter(c prometheus.Counter) DispatcherOption {
	return func(d *Dispatcher) { d.waves = c }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	store SubmissionStore,
	ledger DispatchLedger,
	notifier notify.Notifier,
	logger *zap.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
		ttl:      defaultLedgerTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes each effect once. Effects whose wave was already sent
// are skipped; partial failures stop processing so the caller can retry the
// remainder (already-sent waves stay deduplicated).
func (d *Dispatcher) Dispatch(ctx context.Context, effects []NotifyEffect) error {
	for _, effect := range effects {
		if err := d.dispatchOne(ctx, effect); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, effect NotifyEffect) error {
	if len(effect.SubmitterIDs) == 0 {
		return nil
	}

	key := effect.Key()
	if _, found, err := d.ledger.Check(ctx, key); err != nil {
		return err
	} else if found {
		d.logger.Debug("wave already dispatched",
			zap.String("submission_id", effect.SubmissionID),
			zap.String("wave_key", key),
		)
		return nil
	}

	sub, err := d.store.Get(ctx, effect.AccountID, effect.SubmissionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var wave []*model.Submitter
	for _, id := range effect.SubmitterIDs {
		sm := sub.SubmitterByID(id)
		if sm == nil || !sm.Pending() {
			continue
		}
		wave = append(wave, sm)
	}
	if len(wave) == 0 {
		return nil
	}

	recipients := make([]model.Submitter, len(wave))
	for i, sm := range wave {
		recipients[i] = *sm
	}
	if err := d.notifier.Notify(ctx, recipients, effect.DelaySeconds); err != nil {
		return model.NewTransientDependencyError("notifier: " + err.Error())
	}

	newlySent := 0
	for _, sm := range wave {
		firstSend := sm.SentAt == nil
		sm.MarkSent(now)
		if err := d.store.UpdateSubmitter(ctx, *sm); err != nil {
			return err
		}
		sm.Version++
		if firstSend {
			sub.AppendEvent(model.EventSent, sm.ID, now)
			newlySent++
		}
	}

	// Audit trail is best effort; sent_at on the submitter is authoritative.
	if newlySent > 0 {
		if err := d.store.Update(ctx, sub); err != nil {
			d.logger.Warn("record sent events",
				zap.String("submission_id", sub.ID),
				zap.Error(err),
			)
		}
	}

	if err := d.ledger.Record(ctx, key, DispatchRecord{
		SubmissionID: effect.SubmissionID,
		SubmitterIDs: effect.SubmitterIDs,
		DispatchedAt: now,
	}, d.ttl); err != nil {
		return err
	}

	if d.waves != nil {
		d.waves.Inc()
	}
	d.logger.Info("wave dispatched",
		zap.String("submission_id", effect.SubmissionID),
		zap.Int("wave_size", len(wave)),
	)
	return nil
}
