package hitl

import (
	"fmt"
	"time"

	"planward/internal/plan"
)

// DefaultApprovalTTL is the window after which a decision lapses back to
// effectively pending.
const DefaultApprovalTTL = 24 * time.Hour

// Gate answers approval questions for plan steps, honoring decision expiry.
type Gate struct {
	store *Store
	ttl   time.Duration
	now   func() time.Time
}

// NewGate wraps a store with the given approval TTL (<=0 selects the default).
func NewGate(store *Store, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultApprovalTTL
	}
	return &Gate{store: store, ttl: ttl, now: time.Now}
}

// GateableSteps returns every step that must pass the gate: mutating actions
// and steps explicitly flagged hitl_required. A plan with none passes outright.
func GateableSteps(p plan.Plan) []plan.Step {
	var steps []plan.Step
	for _, s := range p.Steps {
		if s.HITLRequired || s.Action.Mutating() {
			steps = append(steps, s)
		}
	}
	return steps
}

// CheckApproval reports whether the step holds a current, unexpired approval.
// Pure read: it never mutates the store.
func (g *Gate) CheckApproval(planID, stepID string) (bool, error) {
	d, ok, err := g.store.Get(planID, stepID)
	if err != nil {
		return false, err
	}
	if !ok || !d.Approved {
		return false, nil
	}
	return !g.Expired(d), nil
}

// Decision exposes the raw stored decision so callers can distinguish
// never-decided from expired or rejected.
func (g *Gate) Decision(planID, stepID string) (Decision, bool, error) {
	return g.store.Get(planID, stepID)
}

// Expired reports whether an approval decision has outlived the TTL. Rejections
// expire on the same schedule, allowing a fresh decision afterwards.
func (g *Gate) Expired(d Decision) bool {
	stamp := d.ApprovedAt
	if !d.Approved {
		stamp = d.RejectedAt
	}
	decidedAt, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return true
	}
	return g.now().Sub(decidedAt) > g.ttl
}

// RecordApproval persists an approval for the step.
func (g *Gate) RecordApproval(planID, stepID, actor string) error {
	if planID == "" || stepID == "" {
		return fmt.Errorf("plan id and step id are required")
	}
	return g.store.Put(planID, stepID, Decision{
		Approved:   true,
		ApprovedAt: g.now().UTC().Format(time.RFC3339),
		ApprovedBy: actor,
	})
}

// RecordRejection persists a rejection with an optional reason.
func (g *Gate) RecordRejection(planID, stepID, actor, reason string) error {
	if planID == "" || stepID == "" {
		return fmt.Errorf("plan id and step id are required")
	}
	return g.store.Put(planID, stepID, Decision{
		Approved:   false,
		RejectedAt: g.now().UTC().Format(time.RFC3339),
		ApprovedBy: actor,
		Reason:     reason,
	})
}

// CheckAll reports the gate status for a whole plan: approved and pending
// gateable steps. Zero gateable steps means the gate passes immediately.
func (g *Gate) CheckAll(p plan.Plan) (approved []plan.Step, pending []plan.Step, err error) {
	for _, step := range GateableSteps(p) {
		ok, err := g.CheckApproval(p.PlanID, step.ID)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			approved = append(approved, step)
		} else {
			pending = append(pending, step)
		}
	}
	return approved, pending, nil
}
