// Package facility provides the partner facility directory consulted by the
// inventory tier: a static list or a YAML file that reloads on change.
package facility

import (
	"errors"
	"fmt"

	"bloodlink/pkg/domain"
)

// ErrInvalidDirectory reports a malformed facility list.
var ErrInvalidDirectory = errors.New("invalid facility directory")

// Static is a fixed facility list. Order is the visiting order.
type Static []domain.Facility

// Facilities returns a copy of the list.
func (s Static) Facilities() []domain.Facility {
	return append([]domain.Facility(nil), s...)
}

// Defaults returns the built-in partner network.
func Defaults() Static {
	return Static{
		{ID: "city_hospital_id", Name: "City Hospital", Location: "Kollam", Endpoint: "https://city-hospital/api/inventory"},
		{ID: "district_clinic_id", Name: "District Clinic", Location: "Kollam", Endpoint: "https://district-clinic/api/inventory"},
	}
}

// NewStatic validates list and returns it as a directory.
func NewStatic(list []domain.Facility) (Static, error) {
	if err := Validate(list); err != nil {
		return nil, err
	}
	return Static(append([]domain.Facility(nil), list...)), nil
}

// Validate requires unique, non-empty ids and a name for every facility.
func Validate(list []domain.Facility) error {
	seen := make(map[string]struct{}, len(list))
	for i, f := range list {
		if f.ID == "" {
			return fmt.Errorf("%w: facility %d has no id", ErrInvalidDirectory, i)
		}
		if f.Name == "" {
			return fmt.Errorf("%w: facility %q has no name", ErrInvalidDirectory, f.ID)
		}
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("%w: duplicate facility id %q", ErrInvalidDirectory, f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}
