// Package notify delivers signature-request notifications to signers. The
// core computes waves; implementations here own the actual transport.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/countersignhq/countersign/model"
)

// Notifier dispatches a wave of signature requests. Implementations must be
// safe to call concurrently and own their own retry policy.
type Notifier interface {
	Notify(ctx context.Context, wave []model.Submitter, delaySeconds int) error
}

// LogNotifier records each would-be notification in the log. It stands in
// for a mail or SMS integration in development and tests.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, wave []model.Submitter, delaySeconds int) error {
	for _, s := range wave {
		if s.Preferences.SendEmail != nil && !*s.Preferences.SendEmail {
			n.logger.Debug("notification suppressed by preference",
				zap.String("submitter_id", s.ID),
			)
			continue
		}
		n.logger.Info("signature request",
			zap.String("submission_id", s.SubmissionID),
			zap.String("submitter_id", s.ID),
			zap.String("email", s.Email),
			zap.Int("delay_seconds", delaySeconds),
		)
	}
	return nil
}
