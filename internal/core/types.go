package core

import "bloodlink/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Action             = domain.Action
	Change             = domain.Change
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError

	BloodType       = domain.BloodType
	RequestStatus   = domain.RequestStatus
	Request         = domain.Request
	InventoryRecord = domain.InventoryRecord
	Identity        = domain.Identity
	Notification    = domain.Notification
	MatchEvent      = domain.MatchEvent
	RunResult       = domain.RunResult

	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

const (
	EntityRequest      = domain.EntityRequest
	EntityInventory    = domain.EntityInventory
	EntityReservation  = domain.EntityReservation
	EntityIdentity     = domain.EntityIdentity
	EntityNotification = domain.EntityNotification
	EntityDelivery     = domain.EntityDelivery
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

// NewRulesEngine constructs an engine holding rules.
func NewRulesEngine(rules ...Rule) *RulesEngine { return domain.NewRulesEngine(rules...) }
