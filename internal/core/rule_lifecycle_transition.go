package core

import (
	"bloodlink/pkg/domain"
	"context"
	"fmt"
)

// LifecycleTransitionRule blocks request status changes that leave a terminal
// state, introduce an unknown state, or delete a terminal request.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

type lifecycleMachine struct {
	entity    domain.EntityType
	label     string
	terminal  map[string]struct{}
	valid     map[string]struct{}
	extractor func(payload domain.ChangePayload) (id string, state string, ok bool)
}

var lifecycleMachines = map[domain.EntityType]lifecycleMachine{
	domain.EntityRequest: {
		entity:   domain.EntityRequest,
		label:    "request",
		terminal: toSet(string(domain.RequestStatusFulfilled), string(domain.RequestStatusCancelled)),
		valid: toSet(
			string(domain.RequestStatusUrgent),
			string(domain.RequestStatusFulfilled),
			string(domain.RequestStatusCancelled),
		),
		extractor: func(payload domain.ChangePayload) (string, string, bool) {
			req, ok := decodeChangePayload[domain.Request](payload)
			if !ok {
				return "", "", false
			}
			return req.ID, string(req.Status), true
		},
	},
}

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (r lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		machine, ok := lifecycleMachines[change.Entity]
		if !ok {
			continue
		}

		afterID, afterState, hasAfter := machine.extractor(change.After)
		if hasAfter {
			if _, valid := machine.valid[afterState]; !valid {
				res.Violations = append(res.Violations, r.violation(machine, afterID,
					fmt.Sprintf("%s %s is set to invalid state %s", machine.label, afterID, afterState)))
				continue
			}
		}

		beforeID, beforeState, ok := machine.extractor(change.Before)
		if !ok {
			continue
		}
		if _, terminal := machine.terminal[beforeState]; !terminal {
			continue
		}
		switch {
		case change.Action == domain.ActionDelete:
			res.Violations = append(res.Violations, r.violation(machine, beforeID,
				fmt.Sprintf("cannot delete %s %s in terminal state %s", machine.label, beforeID, beforeState)))
		case hasAfter && afterState != beforeState:
			res.Violations = append(res.Violations, r.violation(machine, afterID,
				fmt.Sprintf("cannot move %s %s from terminal state %s to %s", machine.label, beforeID, beforeState, afterState)))
		}
	}
	return res, nil
}

func (lifecycleTransitionRule) violation(machine lifecycleMachine, id, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "lifecycle_transition",
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   machine.entity,
		EntityID: id,
	}
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
