package matching

import (
	"context"
	"fmt"
	"iter"

	"bloodlink/pkg/domain"
)

// DonorDirectory enumerates registered donors by blood type.
type DonorDirectory struct {
	store domain.PersistentStore
	opts  options
}

// NewDonorDirectory builds a directory over the identity records in store.
func NewDonorDirectory(store domain.PersistentStore, opts ...Option) *DonorDirectory {
	return &DonorDirectory{store: store, opts: buildOptions(opts)}
}

// FindDonors returns the donors of blood type bt in registration order. The
// candidates are snapshotted when FindDonors is called and yielded one at a time.
func (d *DonorDirectory) FindDonors(ctx context.Context, bt domain.BloodType) (iter.Seq[domain.DonorCandidate], error) {
	ctx, cancel := withTimeout(ctx, d.opts.storeTimeout)
	defer cancel()

	var candidates []domain.DonorCandidate
	err := d.store.View(ctx, func(v domain.TransactionView) error {
		for _, identity := range v.ListIdentities() {
			if c, ok := identity.Candidate(); ok && c.BloodType == bt {
				candidates = append(candidates, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find donors %s: %w: %w", bt, domain.ErrStoreUnavailable, err)
	}
	return func(yield func(domain.DonorCandidate) bool) {
		for _, c := range candidates {
			if !yield(c) {
				return
			}
		}
	}, nil
}
