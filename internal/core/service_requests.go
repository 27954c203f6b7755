package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bloodlink/pkg/domain"
)

// ErrNoMatcher is returned by Match when no orchestrator was configured.
var ErrNoMatcher = errors.New("matcher not configured")

// ErrMatchInProgress is returned by Match while another run for the same
// request has not finished.
var ErrMatchInProgress = errors.New("match already in progress")

// CreateRequest validates and persists a new urgent request with an empty fulfilment.
// Nothing is stored when validation fails.
func (s *Service) CreateRequest(ctx context.Context, requesterID, requesterName string, bloodType BloodType, units int) (Request, error) {
	var created Request
	err := s.instrument(ctx, "create_request", func(ctx context.Context) (string, error) {
		if strings.TrimSpace(requesterID) == "" {
			return "", domain.InvalidRequestError{Field: "requester_id", Reason: "must not be empty"}
		}
		if !bloodType.Valid() {
			return "", domain.InvalidRequestError{Field: "blood_type", Reason: fmt.Sprintf("unknown blood type %q", bloodType)}
		}
		if units <= 0 {
			return "", domain.InvalidRequestError{Field: "units_required", Reason: fmt.Sprintf("must be positive, got %d", units)}
		}
		now := s.now()
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateRequest(Request{
				RequesterID:   requesterID,
				RequesterName: requesterName,
				BloodType:     bloodType,
				UnitsRequired: units,
				Status:        domain.RequestStatusUrgent,
				PostedAt:      now,
				Log:           []string{domain.RequestPostedMessage},
			})
			return err
		})
		return created.ID, err
	})
	if err != nil {
		return Request{}, err
	}
	s.publish(ctx, created.RequesterID)
	return created, nil
}

// ApplyRun appends the run's messages to the request log in order and credits
// unitsContributed, clamped to the units required.
func (s *Service) ApplyRun(ctx context.Context, requestID string, events []MatchEvent, unitsContributed int) (Request, error) {
	var updated Request
	err := s.instrument(ctx, "apply_run", func(ctx context.Context) (string, error) {
		if unitsContributed < 0 {
			return requestID, domain.InvalidRequestError{Field: "units_contributed", Reason: fmt.Sprintf("must not be negative, got %d", unitsContributed)}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateRequest(requestID, func(r *Request) error {
				if r.Status.Terminal() {
					return domain.InvalidTransitionError{RequestID: r.ID, From: r.Status}
				}
				for _, ev := range events {
					r.Log = append(r.Log, ev.Message)
				}
				r.UnitsFulfilled += unitsContributed
				if r.UnitsFulfilled > r.UnitsRequired {
					r.UnitsFulfilled = r.UnitsRequired
				}
				return nil
			})
			return err
		})
		return requestID, err
	})
	if err != nil {
		return Request{}, err
	}
	s.publish(ctx, updated.RequesterID)
	return updated, nil
}

// MarkFulfilled moves an urgent request to fulfilled.
func (s *Service) MarkFulfilled(ctx context.Context, requestID string) (Request, error) {
	return s.transition(ctx, "mark_fulfilled", requestID, domain.RequestStatusFulfilled)
}

// Cancel moves an urgent request to cancelled.
func (s *Service) Cancel(ctx context.Context, requestID string) (Request, error) {
	return s.transition(ctx, "cancel_request", requestID, domain.RequestStatusCancelled)
}

func (s *Service) transition(ctx context.Context, op, requestID string, to RequestStatus) (Request, error) {
	var updated Request
	err := s.instrument(ctx, op, func(ctx context.Context) (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateRequest(requestID, func(r *Request) error {
				if r.Status.Terminal() {
					return domain.InvalidTransitionError{RequestID: r.ID, From: r.Status, To: to}
				}
				r.Status = to
				return nil
			})
			return err
		})
		return requestID, err
	})
	if err != nil {
		return Request{}, err
	}
	s.archive.write(ctx, updated)
	s.publish(ctx, updated.RequesterID)
	return updated, nil
}

// DeleteRequest removes a request that is still urgent.
func (s *Service) DeleteRequest(ctx context.Context, requestID string) error {
	var facilityID string
	err := s.instrument(ctx, "delete_request", func(ctx context.Context) (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			current, ok := tx.FindRequest(requestID)
			if !ok {
				return fmt.Errorf("request %q: %w", requestID, domain.ErrNotFound)
			}
			if current.Status.Terminal() {
				return domain.InvalidTransitionError{RequestID: requestID, From: current.Status}
			}
			facilityID = current.RequesterID
			return tx.DeleteRequest(requestID)
		})
		return requestID, err
	})
	if err != nil {
		return err
	}
	s.publish(ctx, facilityID)
	return nil
}

// GetRequest returns the stored request.
func (s *Service) GetRequest(ctx context.Context, requestID string) (Request, error) {
	var out Request
	err := s.store.View(ctx, func(v TransactionView) error {
		r, ok := v.FindRequest(requestID)
		if !ok {
			return fmt.Errorf("request %q: %w", requestID, domain.ErrNotFound)
		}
		out = r
		return nil
	})
	return out, err
}

// ListFacilityRequests returns the facility's requests, most recently posted first.
func (s *Service) ListFacilityRequests(ctx context.Context, facilityID string) ([]Request, error) {
	var out []Request
	err := s.store.View(ctx, func(v TransactionView) error {
		out = filterFacility(v.ListRequests(), facilityID)
		return nil
	})
	return out, err
}

func filterFacility(all []Request, facilityID string) []Request {
	out := make([]Request, 0, len(all))
	for _, r := range all {
		if r.RequesterID == facilityID {
			out = append(out, r)
		}
	}
	return out
}

// Match runs the configured orchestrator against the request and applies the
// result. With auto-fulfil enabled a run that leaves no shortfall also marks
// the request fulfilled.
func (s *Service) Match(ctx context.Context, requestID string) (Request, RunResult, error) {
	if s.matcher == nil {
		return Request{}, RunResult{}, ErrNoMatcher
	}
	var (
		result  RunResult
		updated Request
	)
	err := s.instrument(ctx, "match_request", func(ctx context.Context) (string, error) {
		if !s.beginMatch(requestID) {
			return requestID, fmt.Errorf("request %q: %w", requestID, ErrMatchInProgress)
		}
		defer s.endMatch(requestID)
		req, err := s.GetRequest(ctx, requestID)
		if err != nil {
			return requestID, err
		}
		if req.Status.Terminal() {
			return requestID, domain.InvalidTransitionError{RequestID: requestID, From: req.Status}
		}
		result = s.matcher.Run(ctx, req)
		updated, err = s.ApplyRun(ctx, requestID, result.Events, result.UnitsContributed())
		if err != nil {
			return requestID, err
		}
		s.logger.Info("match applied",
			"request_id", requestID,
			"units_fulfilled", updated.UnitsFulfilled,
			"shortfall", updated.Shortfall(),
		)
		if s.autoFulfill && updated.Shortfall() == 0 {
			updated, err = s.MarkFulfilled(ctx, requestID)
		}
		return requestID, err
	})
	if err != nil {
		return Request{}, result, err
	}
	return updated, result, nil
}

func (s *Service) beginMatch(requestID string) bool {
	s.matchMu.Lock()
	defer s.matchMu.Unlock()
	if _, busy := s.matching[requestID]; busy {
		return false
	}
	s.matching[requestID] = struct{}{}
	return true
}

func (s *Service) endMatch(requestID string) {
	s.matchMu.Lock()
	delete(s.matching, requestID)
	s.matchMu.Unlock()
}
