package domain

// MatchPhase classifies one step of a matching run.
type MatchPhase string

// Match phases in the order a run may emit them.
const (
	PhaseInventoryCheck     MatchPhase = "inventory-check"
	PhaseInventoryHit       MatchPhase = "inventory-hit"
	PhaseInventoryMiss      MatchPhase = "inventory-miss"
	PhaseDonorSearch        MatchPhase = "donor-search"
	PhaseDonorSearchSkipped MatchPhase = "donor-search-skipped"
	PhaseDonorMatch         MatchPhase = "donor-match"
	PhaseDonorNone          MatchPhase = "donor-none"
	PhaseError              MatchPhase = "error"
	PhaseComplete           MatchPhase = "complete"
)

// MatchEvent is one immutable entry of a run's audit trail.
type MatchEvent struct {
	Phase            MatchPhase `json:"phase"`
	Message          string     `json:"message"`
	UnitsContributed int        `json:"units_contributed"`
}

// UnitsContributed sums the units credited by events.
func UnitsContributed(events []MatchEvent) int {
	total := 0
	for _, ev := range events {
		total += ev.UnitsContributed
	}
	return total
}

// RunResult is the outcome of one matching run.
type RunResult struct {
	Events      []MatchEvent `json:"events"`
	Shortfall   int          `json:"shortfall"`
	Reservation *Reservation `json:"reservation,omitempty"`
	// Notified lists donor ids credited in this run, in candidate order.
	Notified []string `json:"notified,omitempty"`
}

// UnitsContributed sums the units credited by the run's events.
func (r RunResult) UnitsContributed() int { return UnitsContributed(r.Events) }
