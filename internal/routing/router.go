// Package routing decides which signers receive the next notification wave
// for a submission, based on declared role order and completion state.
package routing

import (
	"time"

	"go.uber.org/zap"

	"github.com/countersignhq/countersign/model"
)

// Router computes notification waves. It is stateless and never mutates the
// submission; callers own dispatch bookkeeping.
type Router struct {
	logger *zap.Logger
}

// NewRouter creates a Router.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{logger: logger}
}

// NextWave returns the submitters to notify now. Precedence:
//
//  1. Any role declares an explicit order: the wave is every pending
//     submitter whose role's order equals the minimum order among roles
//     that still have a pending submitter. Ties fire together.
//  2. Preserved policy: the single pending submitter of the first declared
//     role that still has one.
//  3. Otherwise every pending submitter fires at once.
//
// Archived or expired submissions yield an empty wave. The result is stable
// across calls until submitter state changes.
func (r *Router) NextWave(sub *model.Submission, now time.Time) []*model.Submitter {
	if !sub.Active(now) {
		return nil
	}

	pending := pendingByRole(sub)
	if len(pending) == 0 {
		return nil
	}

	if hasExplicitOrder(sub.TemplateSubmitters) {
		return r.orderedWave(sub, pending)
	}
	if sub.OrderPreserved() {
		for _, role := range sub.TemplateSubmitters {
			if subs := pending[role.UUID]; len(subs) > 0 {
				return subs[:1]
			}
		}
		return nil
	}

	var wave []*model.Submitter
	for _, role := range sub.TemplateSubmitters {
		wave = append(wave, pending[role.UUID]...)
	}
	return wave
}

func (r *Router) orderedWave(sub *model.Submission, pending map[string][]*model.Submitter) []*model.Submitter {
	minOrder := 0
	found := false
	for _, role := range sub.TemplateSubmitters {
		if role.Order == nil || len(pending[role.UUID]) == 0 {
			continue
		}
		if !found || *role.Order < minOrder {
			minOrder = *role.Order
			found = true
		}
	}
	if !found {
		// Ordered template whose explicitly ordered roles are all settled:
		// nothing left to sequence.
		r.logger.Debug("no ordered roles with pending submitters", zap.String("submission_id", sub.ID))
		return nil
	}

	var wave []*model.Submitter
	for _, role := range sub.TemplateSubmitters {
		if role.Order != nil && *role.Order == minOrder {
			wave = append(wave, pending[role.UUID]...)
		}
	}
	return wave
}

// pendingByRole groups submitters that still owe an action by role uuid,
// preserving declaration order within each role.
func pendingByRole(sub *model.Submission) map[string][]*model.Submitter {
	pending := make(map[string][]*model.Submitter)
	for i := range sub.Submitters {
		s := &sub.Submitters[i]
		if s.Pending() {
			pending[s.UUID] = append(pending[s.UUID], s)
		}
	}
	return pending
}

func hasExplicitOrder(roles []model.SignerRole) bool {
	for _, role := range roles {
		if role.Order != nil {
			return true
		}
	}
	return false
}
