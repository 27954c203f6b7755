// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"bloodlink/pkg/domain"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Request aliases domain.Request for in-memory persistence operations.
	Request = domain.Request
	// InventoryRecord aliases domain.InventoryRecord.
	InventoryRecord = domain.InventoryRecord
	// Reservation aliases domain.Reservation.
	Reservation = domain.Reservation
	// Identity aliases domain.Identity.
	Identity = domain.Identity
	// Notification aliases domain.Notification.
	Notification = domain.Notification
	// Delivery aliases domain.Delivery.
	Delivery = domain.Delivery
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

func mustApply(label string, err error) {
	if err != nil {
		panic(fmt.Errorf("memory store %s: %w", label, err))
	}
}

func payload[T any](value T) domain.ChangePayload {
	p, err := domain.NewChangePayloadFromValue(value)
	mustApply("encode change payload", err)
	return p
}

type memoryState struct {
	requests      map[string]Request
	inventory     map[string]InventoryRecord
	reservations  map[string]Reservation
	identities    map[string]Identity
	notifications map[string]Notification
	deliveries    map[string]Delivery
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Requests      map[string]Request         `json:"requests"`
	Inventory     map[string]InventoryRecord `json:"inventory"`
	Reservations  map[string]Reservation     `json:"reservations"`
	Identities    map[string]Identity        `json:"identities"`
	Notifications map[string]Notification    `json:"notifications"`
	Deliveries    map[string]Delivery        `json:"deliveries"`
}

func newMemoryState() memoryState {
	return memoryState{
		requests:      make(map[string]Request),
		inventory:     make(map[string]InventoryRecord),
		reservations:  make(map[string]Reservation),
		identities:    make(map[string]Identity),
		notifications: make(map[string]Notification),
		deliveries:    make(map[string]Delivery),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	clone := state.clone()
	return Snapshot{
		Requests:      clone.requests,
		Inventory:     clone.inventory,
		Reservations:  clone.reservations,
		Identities:    clone.identities,
		Notifications: clone.notifications,
		Deliveries:    clone.deliveries,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		requests:      s.Requests,
		inventory:     s.Inventory,
		reservations:  s.Reservations,
		identities:    s.Identities,
		notifications: s.Notifications,
		deliveries:    s.Deliveries,
	}
	return state.clone()
}

// migrateSnapshot fills missing buckets and drops records that violate
// invariants a newer binary relies on.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Requests == nil {
		snapshot.Requests = map[string]Request{}
	}
	if snapshot.Inventory == nil {
		snapshot.Inventory = map[string]InventoryRecord{}
	}
	if snapshot.Reservations == nil {
		snapshot.Reservations = map[string]Reservation{}
	}
	if snapshot.Identities == nil {
		snapshot.Identities = map[string]Identity{}
	}
	if snapshot.Notifications == nil {
		snapshot.Notifications = map[string]Notification{}
	}
	if snapshot.Deliveries == nil {
		snapshot.Deliveries = map[string]Delivery{}
	}

	for id, req := range snapshot.Requests {
		if req.Status == "" {
			req.Status = domain.RequestStatusUrgent
		}
		if req.UnitsFulfilled > req.UnitsRequired {
			req.UnitsFulfilled = req.UnitsRequired
		}
		snapshot.Requests[id] = req
	}
	for key, rec := range snapshot.Inventory {
		if rec.Available < 0 {
			rec.Available = 0
		}
		delete(snapshot.Inventory, key)
		snapshot.Inventory[rec.Key()] = rec
	}
	for key, d := range snapshot.Deliveries {
		if _, ok := snapshot.Requests[d.RequestID]; !ok {
			delete(snapshot.Deliveries, key)
		}
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.requests {
		cloned.requests[k] = v.Clone()
	}
	for k, v := range s.inventory {
		cloned.inventory[k] = v
	}
	for k, v := range s.reservations {
		cloned.reservations[k] = v
	}
	for k, v := range s.identities {
		cloned.identities[k] = v
	}
	for k, v := range s.notifications {
		cloned.notifications[k] = v
	}
	for k, v := range s.deliveries {
		cloned.deliveries[k] = v
	}
	return cloned
}

func (s *memoryState) nextIdentitySeq() int64 {
	var highest int64
	for _, id := range s.identities {
		if id.Seq > highest {
			highest = id.Seq
		}
	}
	return highest + 1
}

// Store provides an in-memory transactional store for the core domain.
// Transactions are serialized by a single writer lock.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the time source used to stamp records.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// CommitFunc receives the state a transaction is about to commit. It runs
// under the writer lock; a non-nil error aborts the commit.
type CommitFunc func(ctx context.Context, next Snapshot) error

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces committed state only when fn succeeds and no rule blocks.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	return s.RunInTransactionWithCommit(ctx, fn, nil)
}

// RunInTransactionWithCommit is RunInTransaction with a commit hook that must
// succeed before the transactional copy becomes visible. On hook failure the
// previous state stays in place and the hook's error is returned.
func (s *Store) RunInTransactionWithCommit(ctx context.Context, fn func(tx Transaction) error, commit CommitFunc) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if commit != nil {
		if err := commit(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(TransactionView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// Requests --------------------------------------------------------------------

func (tx *transaction) FindRequest(id string) (Request, bool) {
	r, ok := tx.state.requests[id]
	if !ok {
		return Request{}, false
	}
	return r.Clone(), true
}

func (tx *transaction) CreateRequest(r Request) (Request, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.requests[r.ID]; exists {
		return Request{}, fmt.Errorf("request %q: %w", r.ID, domain.ErrConflict)
	}
	if r.Status == "" {
		r.Status = domain.RequestStatusUrgent
	}
	if r.PostedAt.IsZero() {
		r.PostedAt = tx.now
	}
	r.UpdatedAt = tx.now
	tx.state.requests[r.ID] = r.Clone()
	tx.recordChange(Change{Entity: domain.EntityRequest, Action: domain.ActionCreate, After: payload(r)})
	return r.Clone(), nil
}

func (tx *transaction) UpdateRequest(id string, mutator func(*Request) error) (Request, error) {
	current, ok := tx.state.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("request %q: %w", id, domain.ErrNotFound)
	}
	before := current.Clone()
	current = current.Clone()
	if err := mutator(&current); err != nil {
		return Request{}, err
	}
	current.ID = id
	current.PostedAt = before.PostedAt
	current.UpdatedAt = tx.now
	tx.state.requests[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityRequest, Action: domain.ActionUpdate, Before: payload(before), After: payload(current)})
	return current.Clone(), nil
}

func (tx *transaction) DeleteRequest(id string) error {
	current, ok := tx.state.requests[id]
	if !ok {
		return fmt.Errorf("request %q: %w", id, domain.ErrNotFound)
	}
	delete(tx.state.requests, id)
	for key, d := range tx.state.deliveries {
		if d.RequestID == id {
			delete(tx.state.deliveries, key)
		}
	}
	tx.recordChange(Change{Entity: domain.EntityRequest, Action: domain.ActionDelete, Before: payload(current)})
	return nil
}

// Inventory -------------------------------------------------------------------

func (tx *transaction) FindInventory(facilityID string, bt domain.BloodType) (InventoryRecord, bool) {
	rec, ok := tx.state.inventory[domain.InventoryKey(facilityID, bt)]
	return rec, ok
}

func (tx *transaction) PutInventory(rec InventoryRecord) (InventoryRecord, error) {
	if rec.FacilityID == "" {
		return InventoryRecord{}, fmt.Errorf("inventory facility id required")
	}
	if !rec.BloodType.Valid() {
		return InventoryRecord{}, fmt.Errorf("inventory blood type %q invalid", rec.BloodType)
	}
	if rec.Available < 0 {
		return InventoryRecord{}, fmt.Errorf("inventory %s: available must be >= 0", rec.Key())
	}
	rec.UpdatedAt = tx.now
	before, existed := tx.state.inventory[rec.Key()]
	tx.state.inventory[rec.Key()] = rec
	change := Change{Entity: domain.EntityInventory, Action: domain.ActionCreate, After: payload(rec)}
	if existed {
		change.Action = domain.ActionUpdate
		change.Before = payload(before)
	}
	tx.recordChange(change)
	return rec, nil
}

func (tx *transaction) UpdateInventory(facilityID string, bt domain.BloodType, mutator func(*InventoryRecord) error) (InventoryRecord, error) {
	key := domain.InventoryKey(facilityID, bt)
	current, ok := tx.state.inventory[key]
	if !ok {
		return InventoryRecord{}, fmt.Errorf("inventory %s: %w", key, domain.ErrNotFound)
	}
	before := current
	if err := mutator(&current); err != nil {
		return InventoryRecord{}, err
	}
	current.FacilityID = facilityID
	current.BloodType = bt
	if current.Available < 0 {
		return InventoryRecord{}, fmt.Errorf("inventory %s: available must be >= 0", key)
	}
	current.UpdatedAt = tx.now
	tx.state.inventory[key] = current
	tx.recordChange(Change{Entity: domain.EntityInventory, Action: domain.ActionUpdate, Before: payload(before), After: payload(current)})
	return current, nil
}

func (tx *transaction) CreateReservation(r Reservation) (Reservation, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.reservations[r.ID]; exists {
		return Reservation{}, fmt.Errorf("reservation %q: %w", r.ID, domain.ErrConflict)
	}
	if r.Units <= 0 {
		return Reservation{}, fmt.Errorf("reservation units must be positive")
	}
	r.ReservedAt = tx.now
	tx.state.reservations[r.ID] = r
	tx.recordChange(Change{Entity: domain.EntityReservation, Action: domain.ActionCreate, After: payload(r)})
	return r, nil
}

// Identities ------------------------------------------------------------------

func (tx *transaction) CreateIdentity(i Identity) (Identity, error) {
	if i.ID == "" {
		i.ID = tx.store.newID()
	}
	if _, exists := tx.state.identities[i.ID]; exists {
		return Identity{}, fmt.Errorf("identity %q: %w", i.ID, domain.ErrConflict)
	}
	if i.RegisteredAt.IsZero() {
		i.RegisteredAt = tx.now
	}
	i.Seq = tx.state.nextIdentitySeq()
	tx.state.identities[i.ID] = i
	tx.recordChange(Change{Entity: domain.EntityIdentity, Action: domain.ActionCreate, After: payload(i)})
	return i, nil
}

// Notifications ---------------------------------------------------------------

func (tx *transaction) CreateNotification(n Notification) (Notification, error) {
	if n.ID == "" {
		n.ID = tx.store.newID()
	}
	if _, exists := tx.state.notifications[n.ID]; exists {
		return Notification{}, fmt.Errorf("notification %q: %w", n.ID, domain.ErrConflict)
	}
	n.CreatedAt = tx.now
	tx.state.notifications[n.ID] = n
	tx.recordChange(Change{Entity: domain.EntityNotification, Action: domain.ActionCreate, After: payload(n)})
	return n, nil
}

func (tx *transaction) UpdateNotification(id string, mutator func(*Notification) error) (Notification, error) {
	current, ok := tx.state.notifications[id]
	if !ok {
		return Notification{}, fmt.Errorf("notification %q: %w", id, domain.ErrNotFound)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Notification{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	tx.state.notifications[id] = current
	tx.recordChange(Change{Entity: domain.EntityNotification, Action: domain.ActionUpdate, Before: payload(before), After: payload(current)})
	return current, nil
}

// Deliveries ------------------------------------------------------------------

func (tx *transaction) CreateDelivery(d Delivery) (Delivery, error) {
	if d.RequestID == "" || d.DonorID == "" {
		return Delivery{}, fmt.Errorf("delivery requires request and donor ids")
	}
	if _, exists := tx.state.deliveries[d.Key()]; exists {
		return Delivery{}, fmt.Errorf("delivery %s: %w", d.Key(), domain.ErrConflict)
	}
	d.DeliveredAt = tx.now
	tx.state.deliveries[d.Key()] = d
	tx.recordChange(Change{Entity: domain.EntityDelivery, Action: domain.ActionCreate, After: payload(d)})
	return d, nil
}

func (tx *transaction) DeleteDelivery(requestID, donorID string) error {
	key := domain.DeliveryKey(requestID, donorID)
	current, ok := tx.state.deliveries[key]
	if !ok {
		return fmt.Errorf("delivery %s: %w", key, domain.ErrNotFound)
	}
	delete(tx.state.deliveries, key)
	tx.recordChange(Change{Entity: domain.EntityDelivery, Action: domain.ActionDelete, Before: payload(current)})
	return nil
}

// View helpers ----------------------------------------------------------------

func (v transactionView) ListRequests() []Request {
	out := make([]Request, 0, len(v.state.requests))
	for _, r := range v.state.requests {
		out = append(out, r.Clone())
	}
	sortRequests(out)
	return out
}

func (v transactionView) FindRequest(id string) (Request, bool) {
	r, ok := v.state.requests[id]
	if !ok {
		return Request{}, false
	}
	return r.Clone(), true
}

func (v transactionView) ListInventory() []InventoryRecord {
	return sortedInventory(v.state.inventory)
}

func (v transactionView) FindInventory(facilityID string, bt domain.BloodType) (InventoryRecord, bool) {
	rec, ok := v.state.inventory[domain.InventoryKey(facilityID, bt)]
	return rec, ok
}

func (v transactionView) ListReservations() []Reservation {
	out := make([]Reservation, 0, len(v.state.reservations))
	for _, r := range v.state.reservations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReservedAt.Equal(out[j].ReservedAt) {
			return out[i].ReservedAt.Before(out[j].ReservedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) ListIdentities() []Identity {
	return sortedIdentities(v.state.identities)
}

func (v transactionView) FindIdentity(id string) (Identity, bool) {
	i, ok := v.state.identities[id]
	return i, ok
}

func (v transactionView) ListNotifications() []Notification {
	return sortedNotifications(v.state.notifications)
}

func (v transactionView) FindNotification(id string) (Notification, bool) {
	n, ok := v.state.notifications[id]
	return n, ok
}

func (v transactionView) ListDeliveries() []Delivery {
	out := make([]Delivery, 0, len(v.state.deliveries))
	for _, d := range v.state.deliveries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (v transactionView) FindDelivery(requestID, donorID string) (Delivery, bool) {
	d, ok := v.state.deliveries[domain.DeliveryKey(requestID, donorID)]
	return d, ok
}

// Read helpers ---------------------------------------------------------------

// GetRequest retrieves a request by ID from committed state.
func (s *Store) GetRequest(id string) (Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.requests[id]
	if !ok {
		return Request{}, false
	}
	return r.Clone(), true
}

// ListRequests returns all requests, newest first.
func (s *Store) ListRequests() []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListRequests()
}

// ListInventory returns all inventory records ordered by key.
func (s *Store) ListInventory() []InventoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedInventory(s.state.inventory)
}

// ListIdentities returns identities in registration order.
func (s *Store) ListIdentities() []Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedIdentities(s.state.identities)
}

// ListNotifications returns notifications, newest first.
func (s *Store) ListNotifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedNotifications(s.state.notifications)
}

func sortRequests(out []Request) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].PostedAt.After(out[j].PostedAt)
		}
		return out[i].ID < out[j].ID
	})
}

func sortedInventory(in map[string]InventoryRecord) []InventoryRecord {
	out := make([]InventoryRecord, 0, len(in))
	for _, rec := range in {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func sortedIdentities(in map[string]Identity) []Identity {
	out := make([]Identity, 0, len(in))
	for _, id := range in {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func sortedNotifications(in map[string]Notification) []Notification {
	out := make([]Notification, 0, len(in))
	for _, n := range in {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
