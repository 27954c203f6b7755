package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProfileKind discriminates the Profile variants in serialized form.
type ProfileKind string

// Profile kinds.
const (
	ProfileDonor     ProfileKind = "donor"
	ProfileOrganizer ProfileKind = "organizer"
	ProfileHospital  ProfileKind = "hospital"
)

// Profile is the closed set of role-specific identity data. Only the variants
// in this package implement it.
type Profile interface {
	Kind() ProfileKind
	isProfile()
}

// DonorProfile describes an individual who can be asked to donate.
type DonorProfile struct {
	BloodType BloodType `json:"blood_type"`
	Location  string    `json:"location,omitempty"`
	ChatID    int64     `json:"chat_id,omitempty"`
}

// OrganizerProfile describes a campaign organizer.
type OrganizerProfile struct {
	OrganizationName string `json:"organization_name"`
}

// HospitalProfile describes a facility account.
type HospitalProfile struct {
	HospitalName string `json:"hospital_name"`
	FacilityID   string `json:"facility_id"`
}

// Kind implements Profile.
func (DonorProfile) Kind() ProfileKind { return ProfileDonor }

// Kind implements Profile.
func (OrganizerProfile) Kind() ProfileKind { return ProfileOrganizer }

// Kind implements Profile.
func (HospitalProfile) Kind() ProfileKind { return ProfileHospital }

func (DonorProfile) isProfile()     {}
func (OrganizerProfile) isProfile() {}
func (HospitalProfile) isProfile()  {}

// Identity is a registered account. Seq breaks RegisteredAt ties and is
// assigned by the store.
type Identity struct {
	ID           string
	Username     string
	Email        string
	RegisteredAt time.Time
	Seq          int64
	Profile      Profile
}

// Candidate returns the donor snapshot for identities with a donor profile.
func (i Identity) Candidate() (DonorCandidate, bool) {
	switch p := i.Profile.(type) {
	case DonorProfile:
		return DonorCandidate{
			ID:        i.ID,
			Name:      i.Username,
			BloodType: p.BloodType,
			Location:  p.Location,
			Email:     i.Email,
			ChatID:    p.ChatID,
		}, true
	case OrganizerProfile, HospitalProfile, nil:
		return DonorCandidate{}, false
	default:
		panic(fmt.Sprintf("unhandled profile %T", p))
	}
}

// Validate checks the identity and its profile.
func (i Identity) Validate() error {
	if i.Username == "" {
		return InvalidRequestError{Field: "username", Reason: "must not be empty"}
	}
	switch p := i.Profile.(type) {
	case DonorProfile:
		if !p.BloodType.Valid() {
			return InvalidRequestError{Field: "blood_type", Reason: fmt.Sprintf("unknown blood type %q", p.BloodType)}
		}
	case OrganizerProfile:
		if p.OrganizationName == "" {
			return InvalidRequestError{Field: "organization_name", Reason: "must not be empty"}
		}
	case HospitalProfile:
		if p.FacilityID == "" {
			return InvalidRequestError{Field: "facility_id", Reason: "must not be empty"}
		}
	case nil:
		return InvalidRequestError{Field: "profile", Reason: "must be set"}
	}
	return nil
}

type identityJSON struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	Email        string          `json:"email,omitempty"`
	RegisteredAt time.Time       `json:"registered_at"`
	Seq          int64           `json:"seq"`
	Kind         ProfileKind     `json:"kind"`
	Profile      json.RawMessage `json:"profile"`
}

// MarshalJSON encodes the profile alongside a kind discriminator.
func (i Identity) MarshalJSON() ([]byte, error) {
	out := identityJSON{
		ID:           i.ID,
		Username:     i.Username,
		Email:        i.Email,
		RegisteredAt: i.RegisteredAt,
		Seq:          i.Seq,
	}
	if i.Profile != nil {
		raw, err := json.Marshal(i.Profile)
		if err != nil {
			return nil, err
		}
		out.Kind = i.Profile.Kind()
		out.Profile = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the profile variant named by the kind discriminator.
func (i *Identity) UnmarshalJSON(data []byte) error {
	var in identityJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var profile Profile
	switch in.Kind {
	case ProfileDonor:
		var p DonorProfile
		if err := json.Unmarshal(in.Profile, &p); err != nil {
			return fmt.Errorf("decode donor profile: %w", err)
		}
		profile = p
	case ProfileOrganizer:
		var p OrganizerProfile
		if err := json.Unmarshal(in.Profile, &p); err != nil {
			return fmt.Errorf("decode organizer profile: %w", err)
		}
		profile = p
	case ProfileHospital:
		var p HospitalProfile
		if err := json.Unmarshal(in.Profile, &p); err != nil {
			return fmt.Errorf("decode hospital profile: %w", err)
		}
		profile = p
	case "":
	default:
		return fmt.Errorf("unknown profile kind %q", in.Kind)
	}
	*i = Identity{
		ID:           in.ID,
		Username:     in.Username,
		Email:        in.Email,
		RegisteredAt: in.RegisteredAt,
		Seq:          in.Seq,
		Profile:      profile,
	}
	return nil
}
