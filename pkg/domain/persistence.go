package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	FindRequest(id string) (Request, bool)
	CreateRequest(Request) (Request, error)
	UpdateRequest(id string, mutator func(*Request) error) (Request, error)
	DeleteRequest(id string) error
	FindInventory(facilityID string, bt BloodType) (InventoryRecord, bool)
	PutInventory(InventoryRecord) (InventoryRecord, error)
	UpdateInventory(facilityID string, bt BloodType, mutator func(*InventoryRecord) error) (InventoryRecord, error)
	CreateReservation(Reservation) (Reservation, error)
	CreateIdentity(Identity) (Identity, error)
	CreateNotification(Notification) (Notification, error)
	UpdateNotification(id string, mutator func(*Notification) error) (Notification, error)
	CreateDelivery(Delivery) (Delivery, error)
	DeleteDelivery(requestID, donorID string) error
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView
	ListReservations() []Reservation
	ListIdentities() []Identity
	FindIdentity(id string) (Identity, bool)
	ListNotifications() []Notification
	FindNotification(id string) (Notification, bool)
	ListDeliveries() []Delivery
	FindDelivery(requestID, donorID string) (Delivery, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetRequest(id string) (Request, bool)
	ListRequests() []Request
	ListInventory() []InventoryRecord
	ListIdentities() []Identity
	ListNotifications() []Notification
}
