package matching

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"bloodlink/pkg/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Narration appended to the request log.
const (
	MessageInventoryCheck  = "Phase 1: Checking partner hospital network..."
	MessageDonorSearch     = "Phase 2: Searching for voluntary donors..."
	MessageDonorSkipped    = "Phase 2 skipped: request fully covered by partner hospitals."
	MessageInventoryError  = "Error: partner hospital network unavailable."
	MessageDirectoryError  = "Error: donor directory unavailable."
	MessageSearchComplete  = "Search complete."
	messageInventoryMissFn = "No %s stock available in the partner hospital network."
	messageDonorNoneFn     = "Warning: No suitable voluntary donors found for %s."
	messageDonorMatchFn    = "Success: Voluntary donor '%s' found and notified."
)

// Reserver takes inventory for a request.
type Reserver interface {
	Reserve(ctx context.Context, requestID, requestingFacility string, bt domain.BloodType, unitsNeeded int) (domain.Reservation, bool, error)
}

// DonorFinder enumerates candidate donors for a blood type.
type DonorFinder interface {
	FindDonors(ctx context.Context, bt domain.BloodType) (iter.Seq[domain.DonorCandidate], error)
}

// Sink delivers a message to a recipient. A nil error means the sink acknowledged it.
type Sink interface {
	Deliver(ctx context.Context, recipientID, requestID, message string) error
}

// Dependencies are the collaborators of an Orchestrator. Composer may be nil,
// in which case every donor receives FallbackMessage.
type Dependencies struct {
	Inventory  Reserver
	Donors     DonorFinder
	Composer   Composer
	Sink       Sink
	Ledger     domain.PersistentStore
	Facilities FacilityDirectory
}

// Orchestrator runs the inventory tier then the donor tier for one request.
type Orchestrator struct {
	deps Dependencies
	opts options
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(deps Dependencies, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Inventory == nil:
		return nil, errors.New("matching: inventory adapter required")
	case deps.Donors == nil:
		return nil, errors.New("matching: donor directory required")
	case deps.Sink == nil:
		return nil, errors.New("matching: notification sink required")
	case deps.Ledger == nil:
		return nil, errors.New("matching: delivery ledger required")
	}
	return &Orchestrator{deps: deps, opts: buildOptions(opts)}, nil
}

type runState struct {
	req    domain.Request
	need   int
	failed bool
	result domain.RunResult
}

func (r *runState) emit(phase domain.MatchPhase, units int, msg string) {
	r.result.Events = append(r.result.Events, domain.MatchEvent{Phase: phase, Message: msg, UnitsContributed: units})
}

// Run executes one matching pass. It never fails: degraded tiers are recorded
// as error events and every run ends with a complete event. Run never changes
// the request's status.
func (o *Orchestrator) Run(ctx context.Context, req domain.Request) domain.RunResult {
	started := time.Now()
	state := &runState{req: req, need: req.Shortfall()}
	ctx, span := o.opts.tracer.Start(ctx, "matching.run", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.blood_type", string(req.BloodType)),
		attribute.Int("request.units_needed", state.need),
	))
	defer span.End()

	if state.need > 0 {
		o.inventoryPhase(ctx, state)
		if state.need > 0 {
			o.donorPhase(ctx, state)
		} else {
			state.emit(domain.PhaseDonorSearchSkipped, 0, MessageDonorSkipped)
		}
	}
	state.emit(domain.PhaseComplete, 0, MessageSearchComplete)
	state.result.Shortfall = state.need

	span.SetAttributes(
		attribute.Int("match.shortfall", state.need),
		attribute.Int("match.units_contributed", state.result.UnitsContributed()),
		attribute.Int("match.donors_notified", len(state.result.Notified)),
	)
	if state.failed {
		span.SetStatus(codes.Error, "degraded run")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if o.opts.metrics != nil {
		o.opts.metrics.Observe(ctx, "match_run", !state.failed, time.Since(started))
	}
	o.opts.logger.Info("matching run complete",
		"request_id", req.ID,
		"blood_type", string(req.BloodType),
		"units_contributed", state.result.UnitsContributed(),
		"shortfall", state.need,
		"degraded", state.failed,
	)
	return state.result
}

func (o *Orchestrator) inventoryPhase(ctx context.Context, state *runState) {
	state.emit(domain.PhaseInventoryCheck, 0, MessageInventoryCheck)
	req := state.req
	reservation, found, err := o.deps.Inventory.Reserve(ctx, req.ID, req.RequesterID, req.BloodType, state.need)
	switch {
	case err != nil:
		state.failed = true
		o.opts.logger.Error("inventory tier failed", "request_id", req.ID, "error", err)
		state.emit(domain.PhaseError, 0, MessageInventoryError)
		state.emit(domain.PhaseInventoryMiss, 0, fmt.Sprintf(messageInventoryMissFn, req.BloodType))
	case found:
		state.need -= reservation.Units
		state.result.Reservation = &reservation
		label := "Success"
		if state.need > 0 {
			label = "Partial Success"
		}
		state.emit(domain.PhaseInventoryHit, reservation.Units, fmt.Sprintf("%s: %d %s of %s blood located at %s.",
			label, reservation.Units, unitWord(reservation.Units), req.BloodType, o.facilityName(reservation.FacilityID)))
	default:
		state.emit(domain.PhaseInventoryMiss, 0, fmt.Sprintf(messageInventoryMissFn, req.BloodType))
	}
}

func (o *Orchestrator) donorPhase(ctx context.Context, state *runState) {
	state.emit(domain.PhaseDonorSearch, 0, MessageDonorSearch)
	req := state.req
	candidates, err := o.deps.Donors.FindDonors(ctx, req.BloodType)
	if err != nil {
		state.failed = true
		o.opts.logger.Error("donor tier failed", "request_id", req.ID, "error", err)
		state.emit(domain.PhaseError, 0, MessageDirectoryError)
		state.emit(domain.PhaseDonorNone, 0, fmt.Sprintf(messageDonorNoneFn, req.BloodType))
		return
	}
	next, stop := iter.Pull(candidates)
	defer stop()

	matched := 0
	for state.need > 0 {
		batch := make([]domain.DonorCandidate, 0, state.need)
		for len(batch) < state.need {
			c, ok := next()
			if !ok {
				break
			}
			batch = append(batch, c)
		}
		if len(batch) == 0 {
			break
		}
		delivered := o.notifyBatch(ctx, req, batch)
		for i, c := range batch {
			if !delivered[i] {
				continue
			}
			state.emit(domain.PhaseDonorMatch, 1, fmt.Sprintf(messageDonorMatchFn, c.Name))
			state.result.Notified = append(state.result.Notified, c.ID)
			state.need--
			matched++
		}
	}
	if matched == 0 {
		state.emit(domain.PhaseDonorNone, 0, fmt.Sprintf(messageDonorNoneFn, req.BloodType))
	}
}

// notifyBatch delivers to the batch with at most the configured number of
// deliveries in flight and reports which succeeded. Once ctx is done the
// remaining candidates are not contacted.
func (o *Orchestrator) notifyBatch(ctx context.Context, req domain.Request, batch []domain.DonorCandidate) []bool {
	delivered := make([]bool, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(o.opts.concurrency, len(batch)))
	for i, c := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			delivered[i] = o.notify(gctx, req, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.opts.logger.Warn("donor batch interrupted", "request_id", req.ID, "error", err)
	}
	return delivered
}

// notify claims the (request, donor) ledger slot, delivers, and releases the
// slot again if the sink rejects the message.
func (o *Orchestrator) notify(ctx context.Context, req domain.Request, donor domain.DonorCandidate) bool {
	claimed, err := o.claim(ctx, req.ID, donor.ID)
	if err != nil {
		o.opts.logger.Error("delivery ledger unavailable", "request_id", req.ID, "donor_id", donor.ID, "error", err)
		return false
	}
	if !claimed {
		o.opts.logger.Debug("donor already notified", "request_id", req.ID, "donor_id", donor.ID)
		return false
	}

	message := o.compose(ctx, donor.Name, req.RequesterName)
	dctx, cancel := withTimeout(ctx, o.opts.deliveryTimeout)
	err = o.deps.Sink.Deliver(dctx, donor.ID, req.ID, message)
	cancel()
	if err != nil {
		o.opts.logger.Warn("donor delivery failed", "request_id", req.ID, "donor_id", donor.ID, "error", err)
		o.release(ctx, req.ID, donor.ID)
		return false
	}
	return true
}

func (o *Orchestrator) compose(ctx context.Context, donorName, requesterName string) string {
	if o.deps.Composer == nil {
		return FallbackMessage(donorName, requesterName)
	}
	cctx, cancel := withTimeout(ctx, o.opts.composerTimeout)
	defer cancel()
	text, err := o.deps.Composer.Compose(cctx, donorName, requesterName)
	if err == nil && text == "" {
		err = fmt.Errorf("%w: empty text", domain.ErrComposerUnavailable)
	}
	if err != nil {
		o.opts.logger.Warn("composer unavailable, using fallback", "donor", donorName, "error", err)
		return FallbackMessage(donorName, requesterName)
	}
	return text
}

func (o *Orchestrator) claim(ctx context.Context, requestID, donorID string) (bool, error) {
	ctx, cancel := withTimeout(ctx, o.opts.storeTimeout)
	defer cancel()
	_, err := o.deps.Ledger.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateDelivery(domain.Delivery{RequestID: requestID, DonorID: donorID})
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrConflict):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
}

func (o *Orchestrator) release(ctx context.Context, requestID, donorID string) {
	ctx, cancel := withTimeout(context.WithoutCancel(ctx), o.opts.storeTimeout)
	defer cancel()
	_, err := o.deps.Ledger.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteDelivery(requestID, donorID)
	})
	if err != nil {
		o.opts.logger.Error("delivery ledger release failed", "request_id", requestID, "donor_id", donorID, "error", err)
	}
}

func (o *Orchestrator) facilityName(id string) string {
	if o.deps.Facilities != nil {
		for _, f := range o.deps.Facilities.Facilities() {
			if f.ID == id && f.Name != "" {
				return f.Name
			}
		}
	}
	return id
}

func unitWord(n int) string {
	if n == 1 {
		return "unit"
	}
	return "units"
}
