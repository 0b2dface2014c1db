package server

import "context"

// Plan is the capability classification supplied by the plan service. This
// subsystem never inspects billing state beyond it.
type Plan struct {
	Name    string `json:"name"`
	IsStaff bool   `json:"is_staff"`
}

// CanSubscribe gates profile views and feed subscriptions the way the
// subscription-state check always has: pro and premiumplus plans, plus
// staff.
func (p Plan) CanSubscribe() bool {
	if p.IsStaff {
		return true
	}
	return p.Name == "pro" || p.Name == "premiumplus"
}

// PlanService is the external plan/capability collaborator.
type PlanService interface {
	PlanFor(ctx context.Context, userID string) (Plan, error)
}

// StaticPlanService serves plans from a fixed table, falling back to a
// default. Used for standalone runs and tests; production wires the real
// collaborator.
type StaticPlanService struct {
	Plans   map[string]Plan
	Default Plan
}

func (s *StaticPlanService) PlanFor(_ context.Context, userID string) (Plan, error) {
	if plan, ok := s.Plans[userID]; ok {
		return plan, nil
	}
	return s.Default, nil
}
