package memory

import (
	"encoding/json"
	"fmt"
)

// Bucket names used by snapshotting backends. Each bucket holds one JSON
// encoded map from the Snapshot.
const (
	BucketRequests      = "requests"
	BucketInventory     = "inventory"
	BucketReservations  = "reservations"
	BucketIdentities    = "identities"
	BucketNotifications = "notifications"
	BucketDeliveries    = "deliveries"
)

// Buckets lists every snapshot bucket in persistence order.
func Buckets() []string {
	return []string{
		BucketRequests,
		BucketInventory,
		BucketReservations,
		BucketIdentities,
		BucketNotifications,
		BucketDeliveries,
	}
}

func (s *Snapshot) target(bucket string) (any, bool) {
	switch bucket {
	case BucketRequests:
		return &s.Requests, true
	case BucketInventory:
		return &s.Inventory, true
	case BucketReservations:
		return &s.Reservations, true
	case BucketIdentities:
		return &s.Identities, true
	case BucketNotifications:
		return &s.Notifications, true
	case BucketDeliveries:
		return &s.Deliveries, true
	default:
		return nil, false
	}
}

// EncodeBucket marshals one bucket of the snapshot.
func (s Snapshot) EncodeBucket(bucket string) ([]byte, error) {
	target, ok := s.target(bucket)
	if !ok {
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}
	data, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", bucket, err)
	}
	return data, nil
}

// DecodeBucket unmarshals payload into the named bucket. Unknown buckets are
// ignored so older binaries can read newer databases.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	target, ok := s.target(bucket)
	if !ok {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
