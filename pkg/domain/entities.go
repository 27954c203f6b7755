// Package domain defines the request, inventory and donor entities, the match
// event vocabulary, and the persistence and rule contracts shared by bloodlink.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityRequest identifies a blood request record.
	EntityRequest EntityType = "request"
	// EntityInventory identifies a (facility, blood type) inventory record.
	EntityInventory EntityType = "inventory"
	// EntityReservation identifies a committed inventory reservation.
	EntityReservation EntityType = "reservation"
	// EntityIdentity identifies a registered donor, organizer or hospital account.
	EntityIdentity EntityType = "identity"
	// EntityNotification identifies an inbox notification.
	EntityNotification EntityType = "notification"
	// EntityDelivery identifies a donor notification ledger entry.
	EntityDelivery EntityType = "delivery"
)

// BloodType is the typed resource tag requested and supplied.
type BloodType string

// The eight supported blood types.
const (
	BloodTypeAPos  BloodType = "A+"
	BloodTypeANeg  BloodType = "A-"
	BloodTypeBPos  BloodType = "B+"
	BloodTypeBNeg  BloodType = "B-"
	BloodTypeABPos BloodType = "AB+"
	BloodTypeABNeg BloodType = "AB-"
	BloodTypeOPos  BloodType = "O+"
	BloodTypeONeg  BloodType = "O-"
)

var bloodTypes = []BloodType{
	BloodTypeAPos, BloodTypeANeg,
	BloodTypeBPos, BloodTypeBNeg,
	BloodTypeABPos, BloodTypeABNeg,
	BloodTypeOPos, BloodTypeONeg,
}

// BloodTypes returns the supported blood types in canonical order.
func BloodTypes() []BloodType {
	return append([]BloodType(nil), bloodTypes...)
}

// Valid reports whether b is one of the eight supported blood types.
func (b BloodType) Valid() bool {
	for _, bt := range bloodTypes {
		if b == bt {
			return true
		}
	}
	return false
}

// ParseBloodType normalises s and returns the matching BloodType.
func ParseBloodType(s string) (BloodType, error) {
	bt := BloodType(strings.ToUpper(strings.TrimSpace(s)))
	if !bt.Valid() {
		return "", InvalidRequestError{Field: "blood_type", Reason: fmt.Sprintf("unknown blood type %q", s)}
	}
	return bt, nil
}

// RequestStatus is the lifecycle state of a Request.
type RequestStatus string

// Request statuses. Fulfilled and cancelled are terminal.
const (
	RequestStatusUrgent    RequestStatus = "urgent"
	RequestStatusFulfilled RequestStatus = "fulfilled"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// Terminal reports whether no further mutation is permitted in this status.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusFulfilled || s == RequestStatusCancelled
}

// Valid reports whether s is a known request status.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusUrgent, RequestStatusFulfilled, RequestStatusCancelled:
		return true
	default:
		return false
	}
}

// RequestPostedMessage seeds the log of every new request.
const RequestPostedMessage = "Request posted. Initiating search..."

// Request is a standing demand for units of a blood type posted by a facility.
type Request struct {
	ID             string        `json:"id"`
	RequesterID    string        `json:"requester_id"`
	RequesterName  string        `json:"requester_name"`
	BloodType      BloodType     `json:"blood_type"`
	UnitsRequired  int           `json:"units_required"`
	UnitsFulfilled int           `json:"units_fulfilled"`
	Status         RequestStatus `json:"status"`
	PostedAt       time.Time     `json:"posted_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Log            []string      `json:"log"`
}

// Shortfall returns the units still unmet.
func (r Request) Shortfall() int {
	if r.UnitsFulfilled >= r.UnitsRequired {
		return 0
	}
	return r.UnitsRequired - r.UnitsFulfilled
}

// Clone returns a deep copy of the request.
func (r Request) Clone() Request {
	cp := r
	cp.Log = append([]string(nil), r.Log...)
	return cp
}

// Facility is a partner facility that may hold inventory.
type Facility struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Location string `json:"location,omitempty" yaml:"location"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint"`
}

// InventoryRecord tracks available units for one (facility, blood type) key.
type InventoryRecord struct {
	FacilityID string    `json:"facility_id"`
	BloodType  BloodType `json:"blood_type"`
	Available  int       `json:"available"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// InventoryKey returns the unique store key for a (facility, blood type) pair.
func InventoryKey(facilityID string, bt BloodType) string {
	return facilityID + "|" + string(bt)
}

// Key returns the record's unique store key.
func (r InventoryRecord) Key() string { return InventoryKey(r.FacilityID, r.BloodType) }

// Reservation records an atomic decrement of inventory attributed to a request.
type Reservation struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	FacilityID string    `json:"facility_id"`
	BloodType  BloodType `json:"blood_type"`
	Units      int       `json:"units"`
	ReservedAt time.Time `json:"reserved_at"`
}

// DonorCandidate is an immutable snapshot of a registered donor for one matching run.
type DonorCandidate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BloodType BloodType `json:"blood_type"`
	Location  string    `json:"location,omitempty"`
	Email     string    `json:"email,omitempty"`
	ChatID    int64     `json:"chat_id,omitempty"`
}

// Notification is an inbox message delivered to a recipient.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	RequestID   string    `json:"request_id,omitempty"`
	Message     string    `json:"message"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Delivery proves a donor was notified for a request. At most one exists per pair.
type Delivery struct {
	RequestID   string    `json:"request_id"`
	DonorID     string    `json:"donor_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// DeliveryKey returns the unique ledger key for a (request, donor) pair.
func DeliveryKey(requestID, donorID string) string {
	return requestID + "|" + donorID
}

// Key returns the ledger key.
func (d Delivery) Key() string { return DeliveryKey(d.RequestID, d.DonorID) }

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Action enumerates supported CRUD operations captured in a Change.
type Action string

// Change actions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes a mutation applied inside a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before ChangePayload
	After  ChangePayload
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return fmt.Sprintf("transaction blocked by rule %s: %s", v.Rule, v.Message)
		}
	}
	return "transaction blocked by rules"
}
