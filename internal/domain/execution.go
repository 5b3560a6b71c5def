package domain

import "time"

// ExecutionState is the phase of one dual-leg execution attempt.
type ExecutionState string

const (
	ExecStateValidating   ExecutionState = "validating"
	ExecStateSizing       ExecutionState = "sizing"
	ExecStateLegsInFlight ExecutionState = "legs_in_flight"
	ExecStateConfirmed    ExecutionState = "confirmed"
	ExecStateRollingBack  ExecutionState = "rolling_back"
	ExecStateRolledBack   ExecutionState = "rolled_back"
	// ExecStatePartialUnresolved means one leg opened and the compensating
	// close failed. Manual intervention is required; the engine never retries
	// rollback on its own.
	ExecStatePartialUnresolved ExecutionState = "partial_failure_unresolved"
)

// ExecOutcome is the tagged final result of an execution attempt, so callers
// can handle every failure mode exhaustively instead of inspecting booleans.
type ExecOutcome string

const (
	OutcomeConfirmed         ExecOutcome = "confirmed"
	OutcomeRejectedDuplicate ExecOutcome = "rejected_duplicate"
	OutcomeRejectedConfig    ExecOutcome = "rejected_config"
	OutcomeRejectedFunds     ExecOutcome = "rejected_funds"
	OutcomeFailed            ExecOutcome = "failed"
	OutcomeRolledBack        ExecOutcome = "rolled_back"
	OutcomePartialUnresolved ExecOutcome = "partial_failure_unresolved"
)

// Succeeded reports whether the attempt opened a full paired position.
func (o ExecOutcome) Succeeded() bool { return o == OutcomeConfirmed }

// LegReport records the result of one side of a dual-leg attempt.
type LegReport struct {
	Venue   string
	Side    OrderSide
	Success bool
	OrderID string
	Error   string
}

// ExecutionRecord is the durable record of one execution attempt, persisted
// to the history store for audit.
type ExecutionRecord struct {
	ID          string
	Symbol      string
	LongVenue   string
	ShortVenue  string
	Size        float64
	Collateral  float64
	Leverage    int
	EntryAPR    float64
	Outcome     ExecOutcome
	Long        LegReport
	Short       LegReport
	ElapsedMs   int64
	StartedAt   time.Time
	CompletedAt time.Time
}
